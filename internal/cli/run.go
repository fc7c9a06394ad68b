package cli

import (
	"github.com/spf13/cobra"

	"fxvol/internal/app"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the polling loop and HTTP API",
	Long:  "Run polls the configured subjects on the scheduler interval and serves the dashboard API and payment webhook until interrupted. With --once it runs a single cycle and exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Once: runOnce})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run one evaluation cycle without the HTTP listener, then exit")
}
