package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"guardian/internal/catalog"
	"guardian/internal/retry"
)

const demoPlan = `
tasks:
  - key: helper
    description: Fix shared validation helper
    kind: validation-fix
    priority: high
  - key: form
    description: Update signup form to use the helper
    kind: component-fix
    depends_on: [helper]
  - key: flaky
    description: Stabilise checkout e2e test
    kind: test
steps:
  - {task: form, to: in_progress, reason: started early}
  - {task: form, to: completed, expect_error: dependency_not_met}
  - {task: helper, to: in_progress}
  - {task: helper, to: completed, files: [internal/validate/helper.go]}
  - {task: helper, to: verified, reason: reviewed}
  - {task: form, to: completed}
  - {task: flaky, to: in_progress}
  - {task: flaky, to: failed, reason: timed out on CI}
  - {task: flaky, wait: 5s}
  - {task: flaky, to: in_progress, reason: picked up after auto-retry}
`

func newDemoCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a built-in scenario on a simulated clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			file, err := catalog.Parse([]byte(demoPlan))
			if err != nil {
				return err
			}

			clock := retry.NewManualClock(time.Now())
			rt, err := newRuntime(cfg, c.out, clock)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.close(); err != nil {
					rt.logger.Warn("Shutdown: %v", err)
				}
			}()

			fmt.Fprintln(c.out, bold("Guardian demo"))
			_, results, err := catalog.Apply(cmd.Context(), rt.guardian, file, func(_ context.Context, d time.Duration) error {
				fmt.Fprintln(c.out, gray(fmt.Sprintf("... %s pass", d)))
				clock.Advance(d)
				return nil
			})
			printSteps(c.out, results)
			printTasks(c.out, rt.guardian)
			return err
		},
	}
}
