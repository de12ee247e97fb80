package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/easybook/easybook/internal/domain/schedule"
	"github.com/easybook/easybook/internal/platform/db"
)

const apptCols = `id, client_id, slot_date, start_time, end_time, status, note,
	cancelled_at, cancelled_by, created_at, updated_at`

var apptColumns = []any{
	"id", "client_id", "slot_date", "start_time", "end_time", "status", "note",
	"cancelled_at", "cancelled_by", "created_at", "updated_at",
}

var pg = goqu.Dialect("postgres")

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a    Appointment
		date time.Time
	)
	err := row.Scan(&a.ID, &a.ClientID, &date, &a.StartTime, &a.EndTime, &a.Status, &a.Note,
		&a.CancelledAt, &a.CancelledBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.SlotDate = date.Format(schedule.DateLayout)
	return &a, nil
}

// dateLockKey serializes bookings per calendar date.
func dateLockKey(date string) string {
	return "easybook:appointments:" + date
}

func (r *repoPG) CreateIfFree(ctx context.Context, a *Appointment) error {
	day, err := time.Parse(schedule.DateLayout, a.SlotDate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSlotRequest, err)
	}

	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dateLockKey(a.SlotDate)); err != nil {
			return fmt.Errorf("lock date %s: %w", a.SlotDate, err)
		}

		var taken bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE status = 'confirmed' AND slot_date = $1
				  AND start_time < $3 AND end_time > $2
			)`, day, a.StartTime, a.EndTime).Scan(&taken)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if taken {
			return fmt.Errorf("%w: %s %s", ErrConflict, a.SlotDate, a.StartTime.Format(schedule.ClockLayout))
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO appointments (id, client_id, slot_date, start_time, end_time, status, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at`,
			a.ID, a.ClientID, day, a.StartTime, a.EndTime, a.Status, a.Note,
		).Scan(&a.CreatedAt, &a.UpdatedAt)
		switch {
		case db.IsUniqueViolation(err):
			return fmt.Errorf("%w: %s %s", ErrConflict, a.SlotDate, a.StartTime.Format(schedule.ClockLayout))
		case db.IsForeignKeyViolation(err):
			return fmt.Errorf("%w: %s", ErrUnknownClient, a.ClientID)
		case err != nil:
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *repoPG) Cancel(ctx context.Context, id, by uuid.UUID, at time.Time) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled', cancelled_at = $2, cancelled_by = $3, updated_at = $2
		WHERE id = $1 AND status = 'confirmed'
		RETURNING `+apptCols, id, at, by))
	if errors.Is(err, pgx.ErrNoRows) {
		// Unknown, or cancelled by someone else in the meantime.
		return r.GetByID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	return a, nil
}

func (r *repoPG) ListConfirmed(ctx context.Context, from, to string) ([]*Appointment, error) {
	fromDay, err := time.Parse(schedule.DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	toDay, err := time.Parse(schedule.DateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE status = 'confirmed' AND slot_date BETWEEN $1 AND $2
		ORDER BY start_time`, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("list confirmed appointments: %w", err)
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// searchWhere translates f into goqu conditions. Dates are validated by the
// service before reaching the repository.
func searchWhere(f Filter) []exp.Expression {
	var where []exp.Expression
	if f.ClientID != nil {
		where = append(where, goqu.C("client_id").Eq(f.ClientID.String()))
	}
	if f.Status != "" {
		where = append(where, goqu.C("status").Eq(f.Status))
	}
	if d, err := time.Parse(schedule.DateLayout, f.From); err == nil {
		where = append(where, goqu.C("slot_date").Gte(d))
	}
	if d, err := time.Parse(schedule.DateLayout, f.To); err == nil {
		where = append(where, goqu.C("slot_date").Lte(d))
	}
	return where
}

func buildSearch(f Filter, limit, offset int) (query string, args []any, countQuery string, countArgs []any, err error) {
	base := pg.From("appointments").Where(searchWhere(f)...).Prepared(true)

	countQuery, countArgs, err = base.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("build count query: %w", err)
	}

	ds := base.Select(apptColumns...).Order(goqu.C("start_time").Desc(), goqu.C("id").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	if offset > 0 {
		ds = ds.Offset(uint(offset))
	}
	query, args, err = ds.ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("build search query: %w", err)
	}
	return query, args, countQuery, countArgs, nil
}

func (r *repoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	query, args, countQuery, countArgs, err := buildSearch(f, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search appointments: %w", err)
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
