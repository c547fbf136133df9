package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"guardian/internal/catalog"
	"guardian/internal/retry"
)

func newRunCommand(c *cli) *cobra.Command {
	var (
		simulate   bool
		showEvents bool
		hold       bool
	)
	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Seed a plan's tasks and apply its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			file, err := catalog.Load(args[0])
			if err != nil {
				return err
			}

			var clock retry.Clock
			wait := catalog.SleepWaiter
			if simulate {
				manual := retry.NewManualClock(time.Now())
				clock = manual
				wait = func(_ context.Context, d time.Duration) error {
					manual.Advance(d)
					return nil
				}
			}

			rt, err := newRuntime(cfg, c.out, clock)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.close(); err != nil {
					rt.logger.Warn("Shutdown: %v", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return rt.serve(ctx, hold, func(ctx context.Context) error {
				_, results, err := catalog.Apply(ctx, rt.guardian, file, wait)
				printSteps(c.out, results)
				printTasks(c.out, rt.guardian)
				if showEvents {
					printEvents(c.out, rt.guardian)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Advance a simulated clock for waits instead of sleeping")
	cmd.Flags().BoolVar(&showEvents, "events", false, "Print the event history after the run")
	cmd.Flags().BoolVar(&hold, "hold", false, "Keep serving metrics after the plan finishes until interrupted")
	return cmd
}
