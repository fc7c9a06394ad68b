package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateSubject string
	simulateVol     float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic volatility reading through the alert path",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSubject == "" {
			return errors.New("--subject is required")
		}
		if simulateVol < 0 {
			return errors.New("--vol must not be negative")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateSubject, simulateVol)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSubject, "subject", "EUR/USD", "Subject to alert on")
	simulateCmd.Flags().Float64Var(&simulateVol, "vol", 4.0, "Rolling volatility percentage")
}
