package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"guardian/internal/guardian"
	"guardian/internal/journal"
	"guardian/internal/logging"
)

func newHistoryCommand(c *cli) *cobra.Command {
	var (
		taskID string
		kinds  []string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history [journal.db]",
		Short: "Print events persisted by an earlier run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			path := cfg.Persistence.Path
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("open journal: %w", err)
			}

			filter := journal.Filter{TaskID: taskID, Limit: limit}
			for _, kind := range kinds {
				filter.Kinds = append(filter.Kinds, guardian.EventKind(kind))
			}

			j, err := journal.Open(path, logging.NewComponentLogger("journal"))
			if err != nil {
				return err
			}
			defer j.Close()

			events, err := j.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			total, err := j.Count(cmd.Context())
			if err != nil {
				return err
			}

			writeEvents(c.out, events)
			fmt.Fprintf(c.out, "\n%s %d of %d events\n", bold("Shown:"), len(events), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Only show events for this task id")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Only show these event kinds (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most this many events (0 shows all)")
	return cmd
}
