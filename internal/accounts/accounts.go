package accounts

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Tier is an account's subscription entitlement.
type Tier string

const (
	TierFree Tier = "Free"
	TierPro  Tier = "Pro"
)

// ParseTier accepts tier names case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "free":
		return TierFree, nil
	case "pro":
		return TierPro, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Account is a subscriber identity.
type Account struct {
	Email string `json:"email"`
	Tier  Tier   `json:"tier"`
}

// Store maps account identifiers to tiers. Unknown accounts are Free.
type Store interface {
	GetTier(ctx context.Context, email string) (Tier, error)
	// SetTier upserts the tier; the last write wins.
	SetTier(ctx context.Context, email string, tier Tier) error
	// Register creates a Free account when none exists and returns the stored account.
	Register(ctx context.Context, email string) (Account, error)
	CountByTier(ctx context.Context, tier Tier) (int, error)
}

// NormalizeEmail lower-cases and trims an identifier.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.RWMutex
	tiers map[string]Tier
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tiers: make(map[string]Tier)}
}

func (m *MemoryStore) GetTier(_ context.Context, email string) (Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tier, ok := m.tiers[NormalizeEmail(email)]; ok {
		return tier, nil
	}
	return TierFree, nil
}

func (m *MemoryStore) SetTier(_ context.Context, email string, tier Tier) error {
	key := NormalizeEmail(email)
	if key == "" {
		return fmt.Errorf("account email is required")
	}
	m.mu.Lock()
	m.tiers[key] = tier
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Register(_ context.Context, email string) (Account, error) {
	key := NormalizeEmail(email)
	if key == "" {
		return Account{}, fmt.Errorf("account email is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tier, ok := m.tiers[key]
	if !ok {
		tier = TierFree
		m.tiers[key] = tier
	}
	return Account{Email: key, Tier: tier}, nil
}

func (m *MemoryStore) CountByTier(_ context.Context, tier Tier) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.tiers {
		if t == tier {
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
