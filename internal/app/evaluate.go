package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"fxvol/internal/service"
)

// Evaluate scores the subjects once and prints the dashboard table.
func (a *App) Evaluate(ctx context.Context, opts EvaluateOptions) error {
	if len(opts.Subjects) > 0 {
		a.Config.Market.Subjects = opts.Subjects
	}

	res, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer res.Close()

	svc, err := a.buildService(res, a.accountStore(res), nil, nil)
	if err != nil {
		return err
	}

	report, err := svc.Dashboard(ctx, opts.Account, opts.Timeframe)
	if err != nil {
		return err
	}
	if len(report.Rows) == 0 {
		a.Logger.Warn().Msg("no subject produced a reading")
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return writeReport(os.Stdout, report)
}

func writeReport(out io.Writer, report service.Report) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Timeframe: %s\tTier: %s\n\n", report.Timeframe, report.Tier)
	fmt.Fprintln(writer, "Subject\tVol%\tATR\tScore\tLevel\tBars\tAs of (UTC)")
	for _, row := range report.Rows {
		atr := "-"
		if row.ATR != nil {
			atr = decimal.NewFromFloat(*row.ATR).StringFixed(5)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			row.Subject,
			decimal.NewFromFloat(row.VolPct).StringFixed(3),
			atr,
			row.Score,
			row.Level,
			row.Bars,
			row.AsOf.UTC().Format("2006-01-02 15:04"),
		)
	}

	if report.Locked {
		fmt.Fprintln(writer, "\nSession breakdown requires a Pro account.")
		return writer.Flush()
	}

	subjects := make([]string, 0, len(report.Sessions))
	for subject := range report.Sessions {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	if len(subjects) > 0 {
		fmt.Fprintln(writer, "\nSubject\tSession\tAvg vol%")
	}
	for _, subject := range subjects {
		names := make([]string, 0, len(report.Sessions[subject]))
		for name := range report.Sessions[subject] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(writer, "%s\t%s\t%s\n", subject, name, decimal.NewFromFloat(report.Sessions[subject][name]).StringFixed(3))
		}
	}
	return writer.Flush()
}
