package storage

import (
	"time"

	"fxvol/internal/volatility"
)

// Snapshot is a persisted per-cycle reading for one subject.
type Snapshot struct {
	Bucket    time.Time
	Subject   string
	VolPct    float64
	ATR       *float64
	Score     int
	Level     volatility.Level
	Bars      int
	CreatedAt time.Time
}
