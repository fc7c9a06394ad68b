package accounts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tier, err := s.GetTier(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, TierFree, tier)

	acct, err := s.Register(ctx, " Trader@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, Account{Email: "trader@example.com", Tier: TierFree}, acct)

	require.NoError(t, s.SetTier(ctx, "trader@example.com", TierPro))
	tier, err = s.GetTier(ctx, "TRADER@example.com")
	require.NoError(t, err)
	assert.Equal(t, TierPro, tier)

	acct, err = s.Register(ctx, "trader@example.com")
	require.NoError(t, err)
	assert.Equal(t, TierPro, acct.Tier, "register must not downgrade")

	n, err := s.CountByTier(ctx, TierPro)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.SetTier(ctx, "trader@example.com", TierFree))
	n, err = s.CountByTier(ctx, TierPro)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStoreRejectsEmptyEmail(t *testing.T) {
	s := NewMemoryStore()
	assert.Error(t, s.SetTier(context.Background(), "  ", TierPro))
	_, err := s.Register(context.Background(), "")
	assert.Error(t, err)
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("PRO")
	require.NoError(t, err)
	assert.Equal(t, TierPro, tier)
	tier, err = ParseTier("free")
	require.NoError(t, err)
	assert.Equal(t, TierFree, tier)
	_, err = ParseTier("gold")
	assert.Error(t, err)
}
