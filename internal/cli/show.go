package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"fxvol/internal/app"
)

var (
	showLimit   int
	showSubject string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent volatility snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return errors.New("--limit must be greater than zero")
		}
		return getApp().Show(cmd.Context(), app.ShowOptions{
			Limit:   showLimit,
			Subject: showSubject,
		})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of snapshots to read")
	showCmd.Flags().StringVar(&showSubject, "subject", "", "Only show this subject")
}
