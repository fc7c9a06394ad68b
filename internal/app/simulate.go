package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"fxvol/internal/accounts"
	"fxvol/internal/storage"
)

// SimulateAlert pushes a synthetic volatility reading through the alert policy
// and the configured notification channels.
func (a *App) SimulateAlert(ctx context.Context, subject string, volPct float64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	res, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer res.Close()

	svc, err := a.buildService(res, accounts.NewMemoryStore(), nil, nil)
	if err != nil {
		return err
	}

	fired, err := svc.AlertVolatility(ctx, subject, volPct)
	if err != nil {
		return err
	}
	if fired {
		fmt.Fprintf(os.Stdout, "alert fired for %s\n", subject)
	} else {
		fmt.Fprintf(os.Stdout, "no alert for %s (below threshold or already fired)\n", subject)
	}
	return nil
}

// SetTier assigns a subscription tier by hand, as the payment webhook would.
func (a *App) SetTier(ctx context.Context, email string, tier accounts.Tier) error {
	res, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer res.Close()
	if res.db == nil {
		return errors.New("database not configured; tiers are not persisted")
	}
	if err := res.db.SetTier(ctx, email, tier); err != nil {
		return err
	}
	a.Logger.Info().Str("email", accounts.NormalizeEmail(email)).Str("tier", string(tier)).Msg("tier updated")
	return nil
}

// Migrate applies the embedded schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := storage.Migrate(ctx, pool)
	if err != nil {
		return err
	}
	for _, name := range applied {
		fmt.Fprintln(os.Stdout, "applied", name)
	}
	return nil
}
