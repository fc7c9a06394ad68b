package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"fxvol/internal/storage"
)

// Export renders snapshot history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	res, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer res.Close()
	if res.db == nil {
		return errors.New("database not configured; cannot export")
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := res.db.ListSnapshotsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	snapshots = filterSubjects(snapshots, opts.Subjects)
	if len(snapshots) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleBySubject(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

// downsampleBySubject thins each subject's series to at most max points.
// Rows arrive interleaved by bucket, so striding over them directly would
// favour whichever subjects line up with the stride.
func downsampleBySubject(snapshots []storage.Snapshot, max int) []storage.Snapshot {
	if max <= 0 {
		return snapshots
	}
	var order []string
	series := map[string][]storage.Snapshot{}
	for _, snap := range snapshots {
		if _, ok := series[snap.Subject]; !ok {
			order = append(order, snap.Subject)
		}
		series[snap.Subject] = append(series[snap.Subject], snap)
	}

	out := make([]storage.Snapshot, 0, min(len(snapshots), max*len(order)))
	for _, subject := range order {
		out = append(out, downsample(series[subject], max)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Bucket.Equal(out[j].Bucket) {
			return out[i].Bucket.Before(out[j].Bucket)
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

// filterSubjects keeps snapshots whose subject is listed; an empty list keeps all.
func filterSubjects(snapshots []storage.Snapshot, subjects []string) []storage.Snapshot {
	if len(subjects) == 0 {
		return snapshots
	}
	keep := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		keep[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	out := snapshots[:0:0]
	for _, snap := range snapshots {
		if _, ok := keep[strings.ToUpper(snap.Subject)]; ok {
			out = append(out, snap)
		}
	}
	return out
}

func writeSnapshotsCSV(path string, snapshots []storage.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "subject", "vol_pct", "atr", "score", "level", "bars"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snapshots {
		record := []string{
			snap.Bucket.Format(time.RFC3339),
			snap.Subject,
			formatFloat(snap.VolPct, 6),
			formatOptional(snap.ATR, 8),
			strconv.Itoa(snap.Score),
			snap.Level.String(),
			strconv.Itoa(snap.Bars),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeSnapshotsPNG plots one volatility line per subject.
func writeSnapshotsPNG(path string, snapshots []storage.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	type line struct {
		x []time.Time
		y []float64
	}
	lines := map[string]*line{}
	for _, snap := range snapshots {
		l, ok := lines[snap.Subject]
		if !ok {
			l = &line{}
			lines[snap.Subject] = l
		}
		l.x = append(l.x, snap.Bucket)
		l.y = append(l.y, snap.VolPct)
	}

	subjects := make([]string, 0, len(lines))
	for subject := range lines {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	series := make([]chart.Series, 0, len(subjects))
	for _, subject := range subjects {
		l := lines[subject]
		// go-chart needs two points to draw a line.
		if len(l.x) == 1 {
			l.x = append(l.x, l.x[0].Add(time.Second))
			l.y = append(l.y, l.y[0])
		}
		series = append(series, chart.TimeSeries{
			Name:    subject,
			XValues: l.x,
			YValues: l.y,
		})
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rolling volatility (%)",
			ValueFormatter: pctFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

func formatOptional(v *float64, places int32) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v, places)
}
