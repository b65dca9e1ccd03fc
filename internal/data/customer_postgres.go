package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS customers (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	contact TEXT NOT NULL UNIQUE,
	product TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	sentiment TEXT NOT NULL DEFAULT '',
	reply_text TEXT NOT NULL DEFAULT '',
	reply_at BIGINT NOT NULL DEFAULT 0,
	request_sent_at BIGINT NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	failure_count INTEGER NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	version BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_customers_status ON customers(status);
ALTER TABLE customers ADD COLUMN IF NOT EXISTS conversation_id TEXT NOT NULL DEFAULT '';
CREATE TABLE IF NOT EXISTS campaign_leases (
	name TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	expires_at BIGINT NOT NULL
);
`

// pgCustomerRepo implements the Customer repository on PostgreSQL.
// Used when several runners share one customer table.
type pgCustomerRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresCustomerRepo connects to dsn and ensures the schema exists
func NewPostgresCustomerRepo(ctx context.Context, dsn string) (repo.CustomerRepo, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}
	return &pgCustomerRepo{pool: pool, now: time.Now}, nil
}

func (r *pgCustomerRepo) ListPending(ctx context.Context) ([]*domain.Customer, error) {
	return r.List(ctx, domain.ListFilter{Statuses: domain.InFlightStatuses})
}

func (r *pgCustomerRepo) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers`
	var args []any
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, statuses)
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var out []*domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *pgCustomerRepo) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	c, err := scanCustomer(r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// CommitStatus locks the row with SELECT ... FOR UPDATE so concurrent runners serialize on it
func (r *pgCustomerRepo) CommitStatus(ctx context.Context, u domain.StatusUpdate) (*domain.Customer, error) {
	var next *domain.Customer
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := scanCustomer(tx.QueryRow(ctx,
			`SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, u.CustomerID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("customer %d: %w", u.CustomerID, domain.ErrCustomerNotFound)
		}
		if err != nil {
			return err
		}

		noop, err := cur.CheckUpdate(u)
		if err != nil {
			return err
		}
		if noop {
			next = cur
			return nil
		}

		next = cur.Apply(u)
		_, err = tx.Exec(ctx, `
			UPDATE customers SET status = $1, sentiment = $2, reply_text = $3, reply_at = $4, request_sent_at = $5,
				last_error = $6, failure_count = $7, updated_at = $8, version = $9, conversation_id = $11
			WHERE id = $10
		`,
			string(next.Status),
			string(next.Sentiment),
			next.ReplyText,
			toMillis(next.ReplyAt),
			toMillis(next.RequestSentAt),
			next.LastError,
			next.FailureCount,
			toMillis(next.UpdatedAt),
			next.Version,
			next.ID,
			next.Conversation,
		)
		if err != nil {
			return fmt.Errorf("update customer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (r *pgCustomerRepo) Add(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	now := toMillis(r.now())
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO customers (name, contact, product, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $5, 1)
		RETURNING id
	`, c.Name, c.Contact, c.Product, string(domain.StatusPending), now).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("contact %s: %w", c.Contact, domain.ErrDuplicateContact)
		}
		return nil, fmt.Errorf("insert customer: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *pgCustomerRepo) Reset(ctx context.Context, id int64) (*domain.Customer, error) {
	var next *domain.Customer
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := scanCustomer(tx.QueryRow(ctx,
			`SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("customer %d: %w", id, domain.ErrCustomerNotFound)
		}
		if err != nil {
			return err
		}

		next = cur.Reset(r.now())
		_, err = tx.Exec(ctx, `
			UPDATE customers SET status = $1, sentiment = '', reply_text = '', reply_at = 0, request_sent_at = 0,
				last_error = '', failure_count = 0, conversation_id = '', updated_at = $2, version = $3
			WHERE id = $4
		`, string(next.Status), toMillis(next.UpdatedAt), next.Version, id)
		if err != nil {
			return fmt.Errorf("reset customer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (r *pgCustomerRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %d: %w", id, domain.ErrCustomerNotFound)
	}
	return nil
}

func (r *pgCustomerRepo) Stats(ctx context.Context) (*domain.Stats, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, sentiment, COUNT(*)::bigint FROM customers GROUP BY status, sentiment`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := domain.NewStats()
	for rows.Next() {
		var status, sentiment string
		var n int64
		if err := rows.Scan(&status, &sentiment, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.Add(domain.Status(status), domain.Sentiment(sentiment), int(n))
	}
	return stats, rows.Err()
}

func (r *pgCustomerRepo) AcquireRunLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := r.now()
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_leases (name, owner, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE campaign_leases.owner = EXCLUDED.owner OR campaign_leases.expires_at < $4
	`, campaignLeaseName, owner, toMillis(now.Add(ttl)), toMillis(now))
	if err != nil {
		return false, fmt.Errorf("acquire run lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgCustomerRepo) ReleaseRunLease(ctx context.Context, owner string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM campaign_leases WHERE name = $1 AND owner = $2`, campaignLeaseName, owner); err != nil {
		return fmt.Errorf("release run lease: %w", err)
	}
	return nil
}

func (r *pgCustomerRepo) Close() error {
	r.pool.Close()
	return nil
}
