package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"guardian/internal/config"
)

type cli struct {
	v          *viper.Viper
	configPath string
	out        io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out}

	rootCmd := &cobra.Command{
		Use:           "guardian",
		Short:         "Track task lifecycles with validated transitions, dependencies and auto-retry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file")
	flags.String("log-level", "", "Log level (debug|info|warn|error)")
	flags.String("log-format", "", "Log format (text|json)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.String("journal", "", "Persist events to this SQLite file")
	flags.Bool("no-color", false, "Disable colored output")

	_ = c.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = c.v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	_ = c.v.BindPFlag("persistence.path", flags.Lookup("journal"))

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		flags := cmd.Flags()
		if flags.Changed("metrics-addr") {
			c.v.Set("metrics.enabled", true)
		}
		if flags.Changed("journal") {
			c.v.Set("guardian.persistence_enabled", true)
		}
		if noColor, _ := flags.GetBool("no-color"); noColor || !isTerminal(c.out) {
			color.NoColor = true
			lipgloss.SetColorProfile(termenv.Ascii)
			c.v.Set("notifications.console.color", false)
		}
	}

	rootCmd.AddCommand(newValidateCommand(c))
	rootCmd.AddCommand(newRunCommand(c))
	rootCmd.AddCommand(newDemoCommand(c))
	rootCmd.AddCommand(newHistoryCommand(c))
	rootCmd.AddCommand(newVersionCommand(c))

	return rootCmd
}

func (c *cli) loadConfig() (config.Config, error) {
	return config.Load(c.configPath, c.v)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
