package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// UpdateRequest replaces the weekly template. Blackouts are managed separately.
type UpdateRequest struct {
	SlotMinutes int            `json:"slot_minutes"`
	Timezone    string         `json:"timezone"`
	Hours       []WorkingHours `json:"hours"`
}

// Service implements the administrator workflow over the schedule
// configuration. It is also the source of the current Config for bookings.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "schedule").Logger()}
}

// Current returns the stored configuration, or DefaultConfig when nothing
// has been saved yet.
func (s *Service) Current(ctx context.Context) (Config, error) {
	return s.repo.Load(ctx)
}

func (s *Service) Update(ctx context.Context, req UpdateRequest) (Config, error) {
	cur, err := s.repo.Load(ctx)
	if err != nil {
		return Config{}, err
	}

	next := cur
	next.SlotMinutes = req.SlotMinutes
	next.Timezone = req.Timezone
	if next.Timezone == "" {
		next.Timezone = DefaultTimezone
	}
	next.Hours = req.Hours
	if next.Hours == nil {
		next.Hours = []WorkingHours{}
	}
	if err := next.Validate(); err != nil {
		return Config{}, err
	}

	saved, err := s.repo.Save(ctx, next)
	if err != nil {
		return Config{}, err
	}
	s.logger.Info().
		Int("version", saved.Version).
		Int("slot_minutes", saved.SlotMinutes).
		Str("timezone", saved.Timezone).
		Int("weekdays", len(saved.Hours)).
		Msg("schedule updated")
	return saved, nil
}

func (s *Service) AddBlackout(ctx context.Context, b Blackout) (Config, error) {
	if _, err := time.Parse(DateLayout, b.Date); err != nil {
		return Config{}, fmt.Errorf("%w: blackout date %q is not YYYY-MM-DD", ErrInvalidConfig, b.Date)
	}
	cfg, err := s.repo.AddBlackout(ctx, b)
	if err != nil {
		return Config{}, err
	}
	s.logger.Info().Str("date", b.Date).Int("version", cfg.Version).Msg("blackout date added")
	return cfg, nil
}

func (s *Service) RemoveBlackout(ctx context.Context, date string) (Config, error) {
	cfg, err := s.repo.RemoveBlackout(ctx, date)
	if err != nil {
		return Config{}, err
	}
	s.logger.Info().Str("date", date).Int("version", cfg.Version).Msg("blackout date removed")
	return cfg, nil
}
