package cli

import (
	"github.com/spf13/cobra"

	"fxvol/internal/app"
)

var (
	evaluateSubjects  []string
	evaluateTimeframe string
	evaluateAccount   string
	evaluateJSON      bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Fetch, score, and print the subjects once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Evaluate(cmd.Context(), app.EvaluateOptions{
			Subjects:  evaluateSubjects,
			Timeframe: evaluateTimeframe,
			Account:   evaluateAccount,
			JSON:      evaluateJSON,
		})
	},
}

func init() {
	evaluateCmd.Flags().StringSliceVar(&evaluateSubjects, "subjects", nil, "Override configured subjects (comma separated)")
	evaluateCmd.Flags().StringVar(&evaluateTimeframe, "timeframe", "", "Timeframe preset (hourly, daily, weekly, quarterly)")
	evaluateCmd.Flags().StringVar(&evaluateAccount, "account", "", "Account email whose tier gates the session breakdown")
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "Print the report as JSON")
}
