package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	res, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer res.Close()
	if res.db == nil {
		return errors.New("database not configured; cannot show snapshots")
	}

	snapshots, err := res.db.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if opts.Subject != "" {
		snapshots = filterSubjects(snapshots, []string{opts.Subject})
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSubject\tVol%\tATR\tScore\tLevel\tBars")

	for _, snap := range snapshots {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%d\n",
			snap.Bucket.UTC().Format(time.RFC3339),
			snap.Subject,
			formatFloat(snap.VolPct, 3),
			formatOptional(snap.ATR, 5),
			snap.Score,
			snap.Level,
			snap.Bars,
		)
	}

	return writer.Flush()
}
