package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/calendar"
)

type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository reads the catalog from Postgres.
type PostgresRepository struct {
	db pgxDB
}

// NewPostgresRepository creates a repository backed by a pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithDB(db pgxDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectServices = `
	SELECT s.id, s.service_type, s.name, s.price_cents, s.duration_minutes,
	       COALESCE(array_agg(ss.staff_id ORDER BY ss.staff_id) FILTER (WHERE ss.staff_id IS NOT NULL), '{}')
	FROM services s
	LEFT JOIN service_staff ss ON ss.service_id = s.id`

func (r *PostgresRepository) ListServices(ctx context.Context) ([]Service, error) {
	rows, err := r.db.Query(ctx, selectServices+` GROUP BY s.id ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	return collectServices(rows)
}

func (r *PostgresRepository) ServicesByType(ctx context.Context, t ServiceType) ([]Service, error) {
	rows, err := r.db.Query(ctx, selectServices+` WHERE s.service_type = $1 GROUP BY s.id ORDER BY s.id`, t.String())
	if err != nil {
		return nil, fmt.Errorf("catalog: list services by type: %w", err)
	}
	return collectServices(rows)
}

func (r *PostgresRepository) GetService(ctx context.Context, id int64) (*Service, error) {
	rows, err := r.db.Query(ctx, selectServices+` WHERE s.id = $1 GROUP BY s.id`, id)
	if err != nil {
		return nil, fmt.Errorf("catalog: get service: %w", err)
	}
	services, err := collectServices(rows)
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, apperr.NotFound("service", id)
	}
	return &services[0], nil
}

func collectServices(rows pgx.Rows) ([]Service, error) {
	defer rows.Close()
	var out []Service
	for rows.Next() {
		var (
			svc     Service
			rawType string
		)
		if err := rows.Scan(&svc.ID, &rawType, &svc.Name, &svc.PriceCents, &svc.DurationMinutes, &svc.StaffIDs); err != nil {
			return nil, fmt.Errorf("catalog: scan service: %w", err)
		}
		t, err := ParseServiceType(rawType)
		if err != nil {
			return nil, err
		}
		svc.Type = t
		out = append(out, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate services: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListStaff(ctx context.Context) ([]Staff, error) {
	rows, err := r.db.Query(ctx, `SELECT id, first_name, last_name, email, phone FROM staff ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list staff: %w", err)
	}
	defer rows.Close()
	var out []Staff
	for rows.Next() {
		var s Staff
		if err := rows.Scan(&s.ID, &s.FirstName, &s.LastName, &s.Email, &s.Phone); err != nil {
			return nil, fmt.Errorf("catalog: scan staff: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate staff: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetStaff(ctx context.Context, id int64) (*Staff, error) {
	var s Staff
	err := r.db.QueryRow(ctx, `SELECT id, first_name, last_name, email, phone FROM staff WHERE id = $1`, id).
		Scan(&s.ID, &s.FirstName, &s.LastName, &s.Email, &s.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("staff", id)
		}
		return nil, fmt.Errorf("catalog: get staff: %w", err)
	}
	return &s, nil
}

const selectAvailability = `
	SELECT staff_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
	FROM staff_availability`

func (r *PostgresRepository) Availability(ctx context.Context, staffID int64, weekday time.Weekday) (*Availability, error) {
	row := r.db.QueryRow(ctx, selectAvailability+` WHERE staff_id = $1 AND day_of_week = $2`, staffID, int(weekday))
	a, err := scanAvailability(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: get availability: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) StaffAvailability(ctx context.Context, staffID int64) ([]Availability, error) {
	rows, err := r.db.Query(ctx, selectAvailability+` WHERE staff_id = $1 ORDER BY day_of_week`, staffID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list availability: %w", err)
	}
	defer rows.Close()
	var out []Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan availability: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate availability: %w", err)
	}
	return out, nil
}

func scanAvailability(row pgx.Row) (*Availability, error) {
	var (
		a          Availability
		day        int
		start, end string
	)
	if err := row.Scan(&a.StaffID, &day, &start, &end); err != nil {
		return nil, err
	}
	var err error
	if a.Start, err = calendar.ParseClock(start); err != nil {
		return nil, err
	}
	if a.End, err = calendar.ParseClock(end); err != nil {
		return nil, err
	}
	a.Weekday = time.Weekday(day)
	return &a, nil
}

// UpsertCustomer returns the customer with in.Email, creating it when absent.
// Existing customers keep their stored names.
func (r *PostgresRepository) UpsertCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var c Customer
	err := r.db.QueryRow(ctx, `
		INSERT INTO customers (first_name, last_name, email, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, first_name, last_name, email, phone, created_at`,
		in.FirstName, in.LastName, in.Email, in.Phone,
	).Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("catalog: upsert customer: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	var c Customer
	err := r.db.QueryRow(ctx, `SELECT id, first_name, last_name, email, phone, created_at FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("customer", id)
		}
		return nil, fmt.Errorf("catalog: get customer: %w", err)
	}
	return &c, nil
}

// Import writes a seed into Postgres in one transaction. Existing rows with
// the same ids are replaced.
func (r *PostgresRepository) Import(ctx context.Context, seed *Seed) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("catalog: begin import: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, s := range seed.Staff {
		if _, err = tx.Exec(ctx, `
			INSERT INTO staff (id, first_name, last_name, email, phone)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
				email = EXCLUDED.email, phone = EXCLUDED.phone`,
			s.ID, s.FirstName, s.LastName, s.Email, s.Phone); err != nil {
			return fmt.Errorf("catalog: import staff %d: %w", s.ID, err)
		}
	}
	for _, a := range seed.Availability {
		if _, err = tx.Exec(ctx, `
			INSERT INTO staff_availability (staff_id, day_of_week, start_time, end_time)
			VALUES ($1, $2, $3::time, $4::time)
			ON CONFLICT (staff_id, day_of_week) DO UPDATE SET start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time`,
			a.StaffID, int(a.Weekday), a.Start.String(), a.End.String()); err != nil {
			return fmt.Errorf("catalog: import availability for staff %d: %w", a.StaffID, err)
		}
	}
	for _, svc := range seed.Services {
		if _, err = tx.Exec(ctx, `
			INSERT INTO services (id, service_type, name, price_cents, duration_minutes)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET service_type = EXCLUDED.service_type, name = EXCLUDED.name,
				price_cents = EXCLUDED.price_cents, duration_minutes = EXCLUDED.duration_minutes`,
			svc.ID, svc.Type.String(), svc.Name, svc.PriceCents, svc.DurationMinutes); err != nil {
			return fmt.Errorf("catalog: import service %d: %w", svc.ID, err)
		}
		if _, err = tx.Exec(ctx, `DELETE FROM service_staff WHERE service_id = $1`, svc.ID); err != nil {
			return fmt.Errorf("catalog: reset staff for service %d: %w", svc.ID, err)
		}
		for _, staffID := range svc.StaffIDs {
			if _, err = tx.Exec(ctx, `INSERT INTO service_staff (service_id, staff_id) VALUES ($1, $2)`, svc.ID, staffID); err != nil {
				return fmt.Errorf("catalog: link staff %d to service %d: %w", staffID, svc.ID, err)
			}
		}
	}
	for _, c := range seed.Customers {
		if _, err = r.upsertCustomerTx(ctx, tx, c); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("catalog: commit import: %w", err)
	}
	return nil
}

func (r *PostgresRepository) upsertCustomerTx(ctx context.Context, tx pgx.Tx, in CustomerInput) (int64, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO customers (first_name, last_name, email, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id`,
		in.FirstName, in.LastName, in.Email, in.Phone).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("catalog: import customer %s: %w", in.Email, err)
	}
	return id, nil
}
