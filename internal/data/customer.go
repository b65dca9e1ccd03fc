package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"

	_ "modernc.org/sqlite"
)

const customerColumns = `id, name, contact, product, status, sentiment, reply_text, reply_at,
	request_sent_at, last_error, failure_count, created_at, updated_at, version, conversation_id`

// campaignLeaseName is the single row of the run lease table
const campaignLeaseName = "campaign"

// customerRepo implements the Customer repository on SQLite
type customerRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCustomerRepo creates a SQLite customer repository
func NewSQLiteCustomerRepo(dbPath string) (repo.CustomerRepo, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; transactions below rely on it
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			contact TEXT NOT NULL UNIQUE,
			product TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			sentiment TEXT NOT NULL DEFAULT '',
			reply_text TEXT NOT NULL DEFAULT '',
			reply_at INTEGER NOT NULL DEFAULT 0,
			request_sent_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_customers_status ON customers(status)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	// Add failure_count and conversation_id columns (if not exists) - for database migration
	_, _ = db.Exec(`ALTER TABLE customers ADD COLUMN failure_count INTEGER NOT NULL DEFAULT 0`)
	_, _ = db.Exec(`ALTER TABLE customers ADD COLUMN conversation_id TEXT NOT NULL DEFAULT ''`)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS campaign_leases (
			name TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create lease table: %w", err)
	}

	return &customerRepo{db: db, now: time.Now}, nil
}

// ListPending lists customers a run should pick up, oldest first
func (r *customerRepo) ListPending(ctx context.Context) ([]*domain.Customer, error) {
	return r.List(ctx, domain.ListFilter{Statuses: domain.InFlightStatuses})
}

// List lists customers
func (r *customerRepo) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers`
	var args []any
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []*domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", err)
	}
	return customers, nil
}

// GetByID gets a customer by id
func (r *customerRepo) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// CommitStatus writes a versioned status update in one transaction
func (r *customerRepo) CommitStatus(ctx context.Context, u domain.StatusUpdate) (*domain.Customer, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanCustomer(tx.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, u.CustomerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %d: %w", u.CustomerID, domain.ErrCustomerNotFound)
	}
	if err != nil {
		return nil, err
	}

	noop, err := cur.CheckUpdate(u)
	if err != nil {
		return nil, err
	}
	if noop {
		return cur, nil
	}

	next := cur.Apply(u)
	res, err := tx.ExecContext(ctx, `
		UPDATE customers SET status = ?, sentiment = ?, reply_text = ?, reply_at = ?, request_sent_at = ?,
			last_error = ?, failure_count = ?, conversation_id = ?, updated_at = ?, version = ?
		WHERE id = ? AND version = ?
	`,
		string(next.Status),
		string(next.Sentiment),
		next.ReplyText,
		toMillis(next.ReplyAt),
		toMillis(next.RequestSentAt),
		next.LastError,
		next.FailureCount,
		next.Conversation,
		toMillis(next.UpdatedAt),
		next.Version,
		next.ID,
		cur.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, fmt.Errorf("%w: customer %d changed during commit", domain.ErrVersionConflict, u.CustomerID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return next, nil
}

// Add inserts a customer at Pending
func (r *customerRepo) Add(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (name, contact, product, status, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
	`, c.Name, c.Contact, c.Product, string(domain.StatusPending), toMillis(now), toMillis(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("contact %s: %w", c.Contact, domain.ErrDuplicateContact)
		}
		return nil, fmt.Errorf("failed to insert customer: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read customer id: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Reset puts a customer back at Pending
func (r *customerRepo) Reset(ctx context.Context, id int64) (*domain.Customer, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanCustomer(tx.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %d: %w", id, domain.ErrCustomerNotFound)
	}
	if err != nil {
		return nil, err
	}

	next := cur.Reset(r.now())
	_, err = tx.ExecContext(ctx, `
		UPDATE customers SET status = ?, sentiment = '', reply_text = '', reply_at = 0, request_sent_at = 0,
			last_error = '', failure_count = 0, conversation_id = '', updated_at = ?, version = ?
		WHERE id = ?
	`, string(next.Status), toMillis(next.UpdatedAt), next.Version, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reset customer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return next, nil
}

// Delete deletes a customer
func (r *customerRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("customer %d: %w", id, domain.ErrCustomerNotFound)
	}
	return nil
}

// Stats counts customers by status and sentiment
func (r *customerRepo) Stats(ctx context.Context) (*domain.Stats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, sentiment, COUNT(*) FROM customers GROUP BY status, sentiment
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := domain.NewStats()
	for rows.Next() {
		var status, sentiment string
		var n int
		if err := rows.Scan(&status, &sentiment, &n); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.Add(domain.Status(status), domain.Sentiment(sentiment), n)
	}
	return stats, rows.Err()
}

// AcquireRunLease takes or extends the run lease in one upsert
func (r *customerRepo) AcquireRunLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_leases (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE campaign_leases.owner = excluded.owner OR campaign_leases.expires_at < ?
	`, campaignLeaseName, owner, toMillis(now.Add(ttl)), toMillis(now))
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lease result: %w", err)
	}
	return n == 1, nil
}

// ReleaseRunLease deletes the lease row if owner holds it
func (r *customerRepo) ReleaseRunLease(ctx context.Context, owner string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM campaign_leases WHERE name = ? AND owner = ?`, campaignLeaseName, owner)
	if err != nil {
		return fmt.Errorf("failed to release run lease: %w", err)
	}
	return nil
}

// Close closes the database
func (r *customerRepo) Close() error {
	return r.db.Close()
}

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	var status, sentiment string
	var replyAt, requestSentAt, createdAt, updatedAt int64
	err := row.Scan(
		&c.ID, &c.Name, &c.Contact, &c.Product, &status, &sentiment, &c.ReplyText, &replyAt,
		&requestSentAt, &c.LastError, &c.FailureCount, &createdAt, &updatedAt, &c.Version, &c.Conversation,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan customer: %w", err)
	}

	if c.Status, err = domain.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("customer %d: %w", c.ID, err)
	}
	if c.Sentiment, err = domain.ParseSentiment(sentiment); err != nil {
		return nil, fmt.Errorf("customer %d: %w", c.ID, err)
	}
	c.ReplyAt = fromMillis(replyAt)
	c.RequestSentAt = fromMillis(requestSentAt)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

// Timestamps are stored as unix milliseconds, 0 meaning unset
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
