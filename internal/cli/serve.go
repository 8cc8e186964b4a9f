package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/nuka-arena/internal/api"
	"github.com/nidhogg/nuka-arena/internal/feed"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	servePort     int
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API for a scenario",
	Long: `Load a scenario and expose agents, memories and the world over HTTP.

The world steps on POST /api/world/step, or automatically when an interval
is configured (simulation.step_interval_ms or --interval).

Examples:
  arena serve --scenario scenarios/combat.yaml
  arena serve -s scenarios/hunting.yaml --interval 5s --port 9090`,
	RunE: runServe,
}

func init() {
	addScenarioFlags(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (defaults to server.port)")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "step automatically at this interval")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc, err := loadScenario()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, sc, buildOptions{Resume: resume}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.runner, a.router, a.broadcaster, a.feed, a.heartbeat, logger)
	if a.graph != nil {
		handler.SetLineage(a.graph)
	}
	if a.archive != nil {
		handler.SetArchive(a.archive)
	}
	if a.pg != nil {
		handler.SetTurnReader(a.pg)
	}

	a.announce(ctx, feed.KindRunStarted,
		fmt.Sprintf("%s started", sc.Name),
		fmt.Sprintf("%s with %d agents for %d turns", sc.Environment, len(a.runner.Env().Agents()), sc.MaxTurns))

	interval := serveInterval
	if interval == 0 && cfg.Simulation.StepIntervalMs > 0 {
		interval = time.Duration(cfg.Simulation.StepIntervalMs) * time.Millisecond
	}
	if interval > 0 {
		a.runner.Start(ctx, interval)
		logger.Info("stepping automatically", zap.Duration("interval", interval))
	}

	port := servePort
	if port == 0 {
		port = cfg.Server.Port
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("arena listening", zap.Int("port", port), zap.String("run", a.runner.RunID()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down arena")
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if err := a.runner.SaveSnapshots(shutdownCtx); err != nil {
		logger.Warn("failed to save snapshots", zap.Error(err))
	}
	status := "stopped"
	if a.runner.Env().Done() {
		status = "completed"
	}
	a.finish(shutdownCtx, status)
	return nil
}
