package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/nidhogg/nuka-arena/internal/config"
	"github.com/nidhogg/nuka-arena/internal/events"
	"github.com/nidhogg/nuka-arena/internal/feed"
	"github.com/nidhogg/nuka-arena/internal/simulation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	scenarioPath string
	resume       bool
	showBoard    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario to completion",
	Long: `Run a scenario until the environment reports it is done, then save
every agent's memory.

Examples:
  arena run --scenario scenarios/combat.yaml
  arena run -s scenarios/hunting.yaml --resume
  arena run -s scenarios/combat.yaml --board`,
	RunE: runRun,
}

func init() {
	addScenarioFlags(runCmd)
	runCmd.Flags().BoolVar(&showBoard, "board", false, "print the board after every turn")
}

func addScenarioFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "path to the scenario YAML file (defaults to simulation.scenario)")
	cmd.Flags().BoolVar(&resume, "resume", false, "restore agent memories from the latest run of the same scenario")
}

// loadScenario resolves the scenario from the flag or the config.
func loadScenario() (*config.Scenario, error) {
	path := scenarioPath
	if path == "" {
		path = cfg.Simulation.Scenario
	}
	if path == "" {
		return nil, errors.New("no scenario given: pass --scenario or set simulation.scenario")
	}
	return config.LoadScenario(path)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := loadScenario()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, sc, buildOptions{Resume: resume}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.announce(ctx, feed.KindRunStarted,
		fmt.Sprintf("%s started", sc.Name),
		fmt.Sprintf("%s with %d agents for %d turns", sc.Environment, len(a.runner.Env().Agents()), sc.MaxTurns))

	out := cmd.OutOrStdout()
	for {
		ev, err := a.runner.StepOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("run interrupted", zap.Int("turn", a.runner.Env().Turn()))
				// The signal context is gone; checkpoint on a fresh one.
				if err := a.runner.SaveSnapshots(context.Background()); err != nil {
					logger.Warn("failed to save snapshots", zap.Error(err))
				}
				a.finish(context.Background(), "interrupted")
				return nil
			}
			if !errors.Is(err, simulation.ErrDone) {
				a.finish(ctx, "failed")
				return err
			}
			break
		}
		printTurn(out, ev)
		if showBoard {
			fmt.Fprintln(out, a.runner.Status().World.Board)
		}
	}

	if err := a.runner.SaveSnapshots(ctx); err != nil {
		logger.Warn("failed to save final snapshots", zap.Error(err))
	}
	a.finish(ctx, "completed")
	printSummary(cmd, a)
	return nil
}

func printTurn(out io.Writer, ev *events.TurnEvent) {
	fmt.Fprintf(out, "turn %d  %s\n", ev.Turn+1, ev.WorldTime.Format("2006-01-02 15:04"))
	for _, act := range ev.Actions {
		status := ""
		if act.Fallback {
			status = " (fallback)"
		}
		fmt.Fprintf(out, "  %-10s %s%s\n", act.Agent, act.Action, status)
	}
	for _, e := range ev.Events {
		fmt.Fprintf(out, "  * %s\n", e)
	}
	for _, in := range ev.Insights {
		fmt.Fprintf(out, "  ~ %s: %s\n", in.Agent, in.Text)
	}
}

func printSummary(cmd *cobra.Command, a *app) {
	out := cmd.OutOrStdout()
	st := a.runner.Status()
	fmt.Fprintf(out, "\nRun %s finished after %d turns\n\n", st.RunID, st.Turn)
	for _, ag := range a.runner.Engine().List() {
		info := ag.Info()
		fmt.Fprintf(out, "  %-10s %-6s memories=%d steps=%d\n",
			info.Persona.Name, info.Status, info.Memories, info.Steps)
	}
	if st.World.Board != "" {
		fmt.Fprintf(out, "\n%s\n", st.World.Board)
	}
}
