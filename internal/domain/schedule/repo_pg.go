package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/easybook/easybook/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) Load(ctx context.Context) (Config, error) {
	return r.load(ctx, db.Conn(ctx, r.pool))
}

func (r *repoPG) load(ctx context.Context, q db.Querier) (Config, error) {
	cfg := DefaultConfig()
	var hours []byte
	err := q.QueryRow(ctx, `
		SELECT slot_minutes, timezone, hours, version, updated_at
		FROM schedule_config WHERE id = 1`).
		Scan(&cfg.SlotMinutes, &cfg.Timezone, &hours, &cfg.Version, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("load schedule config: %w", err)
	}
	if err := json.Unmarshal(hours, &cfg.Hours); err != nil {
		return Config{}, fmt.Errorf("decode working hours: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT blackout_date, COALESCE(reason, '') FROM blackout_dates ORDER BY blackout_date`)
	if err != nil {
		return Config{}, fmt.Errorf("load blackout dates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			d      time.Time
			reason string
		)
		if err := rows.Scan(&d, &reason); err != nil {
			return Config{}, fmt.Errorf("scan blackout date: %w", err)
		}
		cfg.Blackouts = append(cfg.Blackouts, Blackout{Date: d.Format(DateLayout), Reason: reason})
	}
	if err := rows.Err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (r *repoPG) Save(ctx context.Context, cfg Config) (Config, error) {
	hours, err := json.Marshal(cfg.Hours)
	if err != nil {
		return Config{}, fmt.Errorf("encode working hours: %w", err)
	}

	var out Config
	err = db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO schedule_config (id, slot_minutes, timezone, hours, version, updated_at)
			VALUES (1, $1, $2, $3, 1, NOW())
			ON CONFLICT (id) DO UPDATE SET
				slot_minutes = EXCLUDED.slot_minutes,
				timezone = EXCLUDED.timezone,
				hours = EXCLUDED.hours,
				version = schedule_config.version + 1,
				updated_at = NOW()`,
			cfg.SlotMinutes, cfg.Timezone, hours); err != nil {
			return fmt.Errorf("save schedule config: %w", err)
		}
		out, err = r.load(ctx, tx)
		return err
	})
	return out, err
}

func (r *repoPG) AddBlackout(ctx context.Context, b Blackout) (Config, error) {
	day, err := time.Parse(DateLayout, b.Date)
	if err != nil {
		return Config{}, fmt.Errorf("%w: blackout date %q is not YYYY-MM-DD", ErrInvalidConfig, b.Date)
	}
	var out Config
	err = db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO blackout_dates (blackout_date, reason) VALUES ($1, NULLIF($2, ''))
			ON CONFLICT (blackout_date) DO UPDATE SET reason = EXCLUDED.reason`,
			day, b.Reason); err != nil {
			return fmt.Errorf("insert blackout date: %w", err)
		}
		if err := bumpVersion(ctx, tx); err != nil {
			return err
		}
		var err error
		out, err = r.load(ctx, tx)
		return err
	})
	return out, err
}

func (r *repoPG) RemoveBlackout(ctx context.Context, date string) (Config, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrBlackoutNotFound, date)
	}
	var out Config
	err = db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM blackout_dates WHERE blackout_date = $1`, day)
		if err != nil {
			return fmt.Errorf("delete blackout date: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrBlackoutNotFound, date)
		}
		if err := bumpVersion(ctx, tx); err != nil {
			return err
		}
		out, err = r.load(ctx, tx)
		return err
	})
	return out, err
}

// bumpVersion invalidates availability cached under the previous version.
func bumpVersion(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO schedule_config (id, version, updated_at) VALUES (1, 1, NOW())
		ON CONFLICT (id) DO UPDATE SET version = schedule_config.version + 1, updated_at = NOW()`)
	if err != nil {
		return fmt.Errorf("bump schedule version: %w", err)
	}
	return nil
}
