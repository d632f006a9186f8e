package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
)

const uniqueViolation = "23505"

type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores bookings in Postgres. Slot uniqueness is
// enforced by the bookings_active_slot partial unique index.
type PostgresRepository struct {
	db  pgxDB
	loc *time.Location
}

// NewPostgresRepository creates a repository backed by a pgx pool. Dates
// read back are placed in loc.
func NewPostgresRepository(pool *pgxpool.Pool, loc *time.Location) *PostgresRepository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return newPostgresRepositoryWithDB(pool, loc)
}

func newPostgresRepositoryWithDB(db pgxDB, loc *time.Location) *PostgresRepository {
	if loc == nil {
		loc = time.Local
	}
	return &PostgresRepository{db: db, loc: loc}
}

const bookingColumns = `id::text, customer_id, service_type, service_id, staff_id,
	to_char(booking_date, 'YYYY-MM-DD'), to_char(booking_time, 'HH24:MI'),
	status, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, b *Booking) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO bookings (id, customer_id, service_type, service_id, staff_id,
			booking_date, booking_time, status, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6::date, $7::time, $8, $9, $9)
		ON CONFLICT DO NOTHING`,
		b.ID.String(), b.CustomerID, b.ServiceType.String(), b.ServiceID, b.StaffID,
		calendar.FormatDate(b.Date), b.Time.String(), string(b.Status), b.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrSlotTaken
		}
		return fmt.Errorf("bookings: insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotTaken
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1::uuid`, id.String())
	b, err := r.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("booking", id)
		}
		return nil, fmt.Errorf("bookings: get: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) OccupiedTimes(ctx context.Context, staffID int64, date time.Time) ([]calendar.Clock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT to_char(booking_time, 'HH24:MI')
		FROM bookings
		WHERE staff_id = $1 AND booking_date = $2::date AND status = ANY($3)
		ORDER BY booking_time`,
		staffID, calendar.FormatDate(date), statusStrings(ActiveStatuses),
	)
	if err != nil {
		return nil, fmt.Errorf("bookings: occupied times: %w", err)
	}
	defer rows.Close()

	var times []calendar.Clock
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("bookings: scan occupied time: %w", err)
		}
		c, err := calendar.ParseClock(raw)
		if err != nil {
			return nil, fmt.Errorf("bookings: occupied time %q: %w", raw, err)
		}
		times = append(times, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate occupied times: %w", err)
	}
	return times, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, at time.Time) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE bookings SET status = $3, updated_at = $4
		WHERE id = $1::uuid AND status = ANY($2)
		RETURNING `+bookingColumns,
		id.String(), statusStrings(from), string(to), at,
	)
	b, err := r.scan(row)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bookings: update status: %w", err)
	}
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrTransition
}

func (r *PostgresRepository) ExpirePending(ctx context.Context, createdBefore, at time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE bookings SET status = $3, updated_at = $2
		WHERE status = $4 AND created_at < $1
		RETURNING id::text`,
		createdBefore, at, string(StatusExpired), string(StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("bookings: expire pending: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("bookings: scan expired id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("bookings: expired id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate expired: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepository) scan(row pgx.Row) (*Booking, error) {
	var (
		b                 Booking
		id, serviceType   string
		day, clock, state string
	)
	if err := row.Scan(&id, &b.CustomerID, &serviceType, &b.ServiceID, &b.StaffID, &day, &clock, &state, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if b.ServiceType, err = catalog.ParseServiceType(serviceType); err != nil {
		return nil, err
	}
	if b.Date, err = calendar.ParseDate(day, r.loc); err != nil {
		return nil, err
	}
	if b.Time, err = calendar.ParseClock(clock); err != nil {
		return nil, err
	}
	b.Status = Status(state)
	return &b, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
