package cli

import (
	"context"
	"errors"
	"fmt"

	pgstore "github.com/nidhogg/nuka-arena/internal/store"
	"github.com/spf13/cobra"
)

var (
	inspectTurns    bool
	inspectMemories string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <run-id>",
	Short: "Show a recorded run from PostgreSQL",
	Long: `Show a recorded run: its status, final agent states and optionally
every turn or one agent's saved memories.

Examples:
  arena inspect 6f1c...
  arena inspect 6f1c... --turns
  arena inspect 6f1c... --memories bot_1`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectTurns, "turns", false, "print every recorded turn")
	inspectCmd.Flags().StringVarP(&inspectMemories, "memories", "m", "", "print the saved memories of this agent")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if cfg.Database.Postgres.DSN == "" {
		return errors.New("inspect needs database.postgres.dsn")
	}
	ctx := context.Background()
	runID := args[0]

	ps, err := pgstore.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		return err
	}
	defer ps.Close()

	run, err := ps.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:         %s\n", run.ID)
	fmt.Fprintf(out, "Scenario:    %s\n", run.Name)
	fmt.Fprintf(out, "Environment: %s\n", run.Environment)
	fmt.Fprintf(out, "Status:      %s\n", run.Status)
	fmt.Fprintf(out, "Started:     %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "Finished:    %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
	}

	agents, err := ps.ListAgents(ctx, runID)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	fmt.Fprintf(out, "\nAgents (%d):\n", len(agents))
	for _, info := range agents {
		fmt.Fprintf(out, "  %-10s %-6s memories=%d steps=%d model=%s\n",
			info.Persona.Name, info.Status, info.Memories, info.Steps, info.Model)
	}

	if inspectTurns {
		turns, err := ps.ListTurns(ctx, runID)
		if err != nil {
			return fmt.Errorf("list turns: %w", err)
		}
		fmt.Fprintln(out)
		for _, ev := range turns {
			printTurn(out, ev)
		}
	}

	if inspectMemories != "" {
		els, err := ps.LoadMemories(ctx, runID, inspectMemories)
		if err != nil {
			return fmt.Errorf("load memories: %w", err)
		}
		fmt.Fprintf(out, "\nMemories of %s (%d):\n", inspectMemories, len(els))
		for _, el := range els {
			fmt.Fprintf(out, "  [%s] %-10s imp=%d %s\n",
				el.CreateTime.Format("15:04"), el.Kind, el.Importance, el.Content)
		}
	}
	return nil
}
