package alerting

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxvol/internal/volatility"
)

func newLevelPolicy(t *testing.T) (*Policy, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	p, err := NewPolicy(PolicyOptions{Mode: ModeLevel}, store, testLogger())
	require.NoError(t, err)
	return p, store
}

func TestPolicyEdgeTriggered(t *testing.T) {
	ctx := context.Background()
	p, store := newLevelPolicy(t)

	msg, err := p.Evaluate(ctx, "EUR/USD", volatility.LevelHigh, 100)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Contains(t, msg.Text, "EUR/USD")
	assert.Contains(t, msg.Text, "100")
	assert.Contains(t, msg.Text, "High")

	msg, err = p.Evaluate(ctx, "EUR/USD", volatility.LevelHigh, 100)
	require.NoError(t, err)
	assert.Nil(t, msg, "unchanged condition must not re-fire")

	require.NoError(t, p.Reset(ctx, "EUR/USD"))
	_, ok, err := store.Get(ctx, "EUR/USD")
	require.NoError(t, err)
	assert.False(t, ok)

	msg, err = p.Evaluate(ctx, "EUR/USD", volatility.LevelHigh, 97)
	require.NoError(t, err)
	assert.NotNil(t, msg, "reset must re-arm the subject")
}

func TestPolicyIgnoresNonHigh(t *testing.T) {
	ctx := context.Background()
	p, store := newLevelPolicy(t)

	for _, l := range []volatility.Level{volatility.LevelLow, volatility.LevelMedium} {
		msg, err := p.Evaluate(ctx, "GBP/USD", l, 60)
		require.NoError(t, err)
		assert.Nil(t, msg)
	}
	_, ok, err := store.Get(ctx, "GBP/USD")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPolicySubjectsIndependent(t *testing.T) {
	ctx := context.Background()
	p, _ := newLevelPolicy(t)

	a, err := p.Evaluate(ctx, "EUR/USD", volatility.LevelHigh, 90)
	require.NoError(t, err)
	b, err := p.Evaluate(ctx, "USD/JPY", volatility.LevelHigh, 90)
	require.NoError(t, err)
	assert.NotNil(t, a)
	assert.NotNil(t, b)
}

func TestPolicyScoreMode(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p, err := NewPolicy(PolicyOptions{Mode: ModeScore, ScoreThreshold: 80}, store, testLogger())
	require.NoError(t, err)

	msg, err := p.Evaluate(ctx, "EUR/USD", volatility.LevelMedium, 79)
	require.NoError(t, err)
	assert.Nil(t, msg)

	msg, err = p.Evaluate(ctx, "EUR/USD", volatility.LevelMedium, 80)
	require.NoError(t, err)
	require.NotNil(t, msg)

	rec, ok, err := store.Get(ctx, "EUR/USD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "score>=80", rec.Condition)

	msg, err = p.Evaluate(ctx, "EUR/USD", volatility.LevelHigh, 95)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestPolicyConditionChangeRefires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Swap(ctx, Record{Subject: "EUR/USD", Condition: "score>=70"})
	require.NoError(t, err)

	p, err := NewPolicy(PolicyOptions{Mode: ModeScore, ScoreThreshold: 80}, store, testLogger())
	require.NoError(t, err)
	msg, err := p.Evaluate(ctx, "EUR/USD", volatility.LevelHigh, 85)
	require.NoError(t, err)
	assert.NotNil(t, msg)
}

func TestPolicyConcurrentEvaluationFiresOnce(t *testing.T) {
	ctx := context.Background()
	p, _ := newLevelPolicy(t)

	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := p.Evaluate(ctx, "EUR/USD", volatility.LevelHigh, 100)
			if err == nil && msg != nil {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fired.Load())
}

func TestNewPolicyValidation(t *testing.T) {
	_, err := NewPolicy(PolicyOptions{Mode: ModeLevel}, nil, testLogger())
	assert.Error(t, err)
	_, err = NewPolicy(PolicyOptions{Mode: "edge"}, NewMemoryStore(), testLogger())
	assert.Error(t, err)
	_, err = NewPolicy(PolicyOptions{Mode: ModeScore, ScoreThreshold: 150}, NewMemoryStore(), testLogger())
	assert.Error(t, err)
}
