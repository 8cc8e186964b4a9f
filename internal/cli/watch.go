package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nidhogg/nuka-arena/internal/events"
	"github.com/spf13/cobra"
)

var (
	watchRun    string
	watchReplay bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the turns of a run from the Redis event stream",
	Long: `Print turns of a run as they are published.

Examples:
  arena watch --run 6f1c...
  arena watch --run 6f1c... --replay`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchRun, "run", "r", "", "run ID to follow (required)")
	watchCmd.Flags().BoolVar(&watchReplay, "replay", false, "print turns already published before following")
	_ = watchCmd.MarkFlagRequired("run")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if cfg.Database.Redis.URL == "" {
		return errors.New("watch needs database.redis.url")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := events.NewBus(cfg.Database.Redis.URL, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	out := cmd.OutOrStdout()
	if watchReplay {
		past, err := bus.Replay(ctx, watchRun)
		if err != nil {
			return err
		}
		for _, ev := range past {
			printTurn(out, ev)
			if ev.Done {
				return nil
			}
		}
	}

	fmt.Fprintf(out, "watching run %s (ctrl-c to stop)\n", watchRun)
	for ev := range bus.Subscribe(ctx, watchRun) {
		printTurn(out, ev)
		if ev.Done {
			fmt.Fprintln(out, "run finished")
			return nil
		}
	}
	return nil
}
