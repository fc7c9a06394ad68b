package cli

import (
	"github.com/spf13/cobra"

	"fxvol/internal/accounts"
)

var tierCmd = &cobra.Command{
	Use:   "tier <email> <Free|Pro>",
	Short: "Set an account's subscription tier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := accounts.ParseTier(args[1])
		if err != nil {
			return err
		}
		return getApp().SetTier(cmd.Context(), args[0], tier)
	},
}
