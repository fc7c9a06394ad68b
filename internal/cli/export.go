package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fxvol/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportSubjects  []string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export volatility snapshots as CSV and/or a PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseTimeFlag("from", exportFrom)
		if err != nil {
			return err
		}
		to, err := parseTimeFlag("to", exportTo)
		if err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), app.ExportOptions{
			From:      from,
			To:        to,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
			Subjects:  exportSubjects,
		})
	},
}

// parseTimeFlag accepts RFC3339 or a plain date.
func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s value %q: want RFC3339 or YYYY-MM-DD", name, value)
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start time, inclusive (RFC3339 or YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End time, exclusive (RFC3339 or YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write the volatility chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write snapshot rows")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum rows to export (defaults to config)")
	exportCmd.Flags().StringSliceVar(&exportSubjects, "subjects", nil, "Restrict to these subjects (comma separated)")
}
