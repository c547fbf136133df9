package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"guardian/internal/catalog"
)

func newValidateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Check a catalog or plan for structural errors and dependency cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := catalog.Load(args[0])
			if err != nil {
				return err
			}
			if err := file.Validate(); err != nil {
				return err
			}
			cat, err := file.Catalog()
			if err != nil {
				return err
			}
			edges := 0
			for _, prereqs := range cat.Dependencies {
				edges += len(prereqs)
			}
			fmt.Fprintf(c.out, "%s %s: %d tasks, %d dependencies, %d steps\n",
				green("✓"), args[0], len(cat.Tasks), edges, len(file.Steps))
			return nil
		},
	}
}
