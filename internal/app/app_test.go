package app

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxvol/internal/accounts"
	"fxvol/internal/alerting"
	"fxvol/internal/config"
	"fxvol/internal/fetcher"
	"fxvol/internal/service"
	"fxvol/internal/storage"
	"fxvol/internal/volatility"
)

func TestDownsampleKeepsEnds(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	got := downsample(items, 5)
	assert.Equal(t, []int{0, 25, 50, 74, 99}, got)
	assert.Len(t, downsample(items, 0), 100)
	assert.Equal(t, []int{99}, downsample(items, 1))
}

func TestDownsampleBySubjectKeepsEverySubject(t *testing.T) {
	subjects := []string{"EUR/USD", "GBP/USD", "USD/JPY"}
	start := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	var snaps []storage.Snapshot
	for i := 0; i < 1000; i++ {
		for _, s := range subjects {
			snaps = append(snaps, storage.Snapshot{Bucket: start.Add(time.Duration(i) * time.Minute), Subject: s})
		}
	}

	got := downsampleBySubject(snaps, 100)
	counts := map[string]int{}
	longestRun, run := 0, 0
	for i, snap := range got {
		counts[snap.Subject]++
		if i > 0 && got[i-1].Subject == snap.Subject {
			run++
		} else {
			run = 1
		}
		longestRun = max(longestRun, run)
		if i > 0 {
			assert.False(t, snap.Bucket.Before(got[i-1].Bucket), "rows out of order at %d", i)
		}
	}
	for _, s := range subjects {
		assert.Equal(t, 100, counts[s], s)
	}
	assert.Equal(t, 1, longestRun)
	assert.Equal(t, start, got[0].Bucket)
	assert.Equal(t, start.Add(999*time.Minute), got[len(got)-1].Bucket)

	assert.Len(t, downsampleBySubject(snaps, 0), 3000)
}

func TestFilterSubjects(t *testing.T) {
	snaps := []storage.Snapshot{{Subject: "EUR/USD"}, {Subject: "GBP/USD"}, {Subject: "EUR/USD"}}
	assert.Len(t, filterSubjects(snaps, nil), 3)
	got := filterSubjects(snaps, []string{" eur/usd "})
	require.Len(t, got, 2)
	assert.Equal(t, "EUR/USD", got[1].Subject)
	assert.Len(t, snaps, 3)
}

func TestWriteSnapshotsCSV(t *testing.T) {
	atr := 0.00123
	bucket := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	snaps := []storage.Snapshot{
		{Bucket: bucket, Subject: "EUR/USD", VolPct: 2.5, ATR: &atr, Score: 82, Level: volatility.LevelHigh, Bars: 40},
		{Bucket: bucket, Subject: "GBP/USD", VolPct: 0.1, Score: 0, Level: volatility.LevelLow, Bars: 40},
	}

	path := filepath.Join(t.TempDir(), "out", "snaps.csv")
	require.NoError(t, writeSnapshotsCSV(path, snaps))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"2025-03-03T10:00:00Z", "EUR/USD", "2.500000", "0.00123000", "82", "High", "40"}, records[1])
	assert.Equal(t, "", records[2][3])
}

func TestWriteSnapshotsPNG(t *testing.T) {
	bucket := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	snaps := []storage.Snapshot{
		{Bucket: bucket, Subject: "EUR/USD", VolPct: 1.2, Level: volatility.LevelMedium},
		{Bucket: bucket.Add(time.Hour), Subject: "EUR/USD", VolPct: 1.4, Level: volatility.LevelMedium},
		{Bucket: bucket, Subject: "USD/JPY", VolPct: 0.6, Level: volatility.LevelLow},
	}
	path := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, writeSnapshotsPNG(path, snaps))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWriteReportLockedHidesSessions(t *testing.T) {
	report := service.Report{
		Timeframe: "hourly",
		Tier:      accounts.TierFree,
		Locked:    true,
		Rows:      []service.Row{{Subject: "EUR/USD", VolPct: 2.5, Score: 82, Level: volatility.LevelHigh, Bars: 40}},
	}
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, report))
	assert.Contains(t, buf.String(), "EUR/USD")
	assert.Contains(t, buf.String(), "2.500")
	assert.Contains(t, buf.String(), "requires a Pro account")

	report.Locked = false
	report.Tier = accounts.TierPro
	report.Sessions = map[string]map[string]float64{"EUR/USD": {"London": 1.75}}
	buf.Reset()
	require.NoError(t, writeReport(&buf, report))
	assert.Contains(t, buf.String(), "London")
	assert.Contains(t, buf.String(), "1.750")
}

func testConfig() *config.Config {
	return &config.Config{
		Market: config.MarketConfig{
			Provider:   "yahoo",
			Subjects:   []string{"EUR/USD"},
			Timeframe:  "hourly",
			Timeframes: fetcher.DefaultTimeframes(),
		},
		Volatility: volatility.DefaultConfig(),
		Scheduler:  config.SchedulerConfig{Workers: 2},
		Alerting:   config.AlertingConfig{Enabled: true, Mode: "level", RecordStore: "memory", MaxAttempts: 1},
	}
}

func TestBuildServiceWiresMemoryStores(t *testing.T) {
	a := NewApp(testConfig(), zerolog.Nop())
	res := &resources{}

	records, err := a.recordStore(res)
	require.NoError(t, err)
	assert.IsType(t, &alerting.MemoryStore{}, records)

	svc, err := a.buildService(res, a.accountStore(res), nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestRecordStoreRequiresBackends(t *testing.T) {
	cfg := testConfig()
	a := NewApp(cfg, zerolog.Nop())

	cfg.Alerting.RecordStore = "postgres"
	_, err := a.recordStore(&resources{})
	assert.Error(t, err)

	cfg.Alerting.RecordStore = "redis"
	_, err = a.recordStore(&resources{})
	assert.Error(t, err)
}

func TestNewSourceSelectsProvider(t *testing.T) {
	cfg := testConfig()
	a := NewApp(cfg, zerolog.Nop())
	assert.IsType(t, &fetcher.Yahoo{}, a.newSource(&resources{}))

	cfg.Market.Provider = "oanda"
	assert.IsType(t, &fetcher.OANDA{}, a.newSource(&resources{}))

	cfg.Market.Provider = "polygon"
	assert.IsType(t, &fetcher.Polygon{}, a.newSource(&resources{}))
}
