package schedule

import "context"

// Repository persists the single schedule configuration row and its
// blackout dates.
type Repository interface {
	// Load returns the stored configuration, including blackouts.
	Load(ctx context.Context) (Config, error)
	// Save replaces slot length, timezone and working hours and bumps the version.
	Save(ctx context.Context, cfg Config) (Config, error)
	AddBlackout(ctx context.Context, b Blackout) (Config, error)
	RemoveBlackout(ctx context.Context, date string) (Config, error)
}
