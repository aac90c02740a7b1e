package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/crm-core/internal/auth"
	"github.com/nerrad567/crm-core/internal/infrastructure/database"
)

// SQL is the durable adapter over SQLite or Postgres.
//
// Connection-class failures are returned as ErrUnavailable and reported
// to the failure hook so the selector stops choosing the durable store.
type SQL struct {
	db      *database.DB
	now     func() time.Time
	logger  *slog.Logger
	onReady func(context.Context, *SQL) error

	onFailure atomic.Pointer[func(error)]

	readyMu sync.Mutex
	ready   atomic.Bool

	identities *sqlIdentities
	contacts   *sqlRepo[Contact]
	companies  *sqlRepo[Company]
	deals      *sqlRepo[Deal]
	campaigns  *sqlRepo[Campaign]
	tickets    *sqlRepo[Ticket]
}

// SQLOption configures the durable adapter.
type SQLOption func(*SQL)

// WithSQLClock sets the clock used for record timestamps.
func WithSQLClock(now func() time.Time) SQLOption {
	return func(s *SQL) {
		s.now = now
	}
}

// WithSQLLogger sets the logger.
func WithSQLLogger(l *slog.Logger) SQLOption {
	return func(s *SQL) {
		s.logger = l
	}
}

// WithOnReady registers a hook run once, after the first successful
// ping has applied migrations. Admin seeding hangs off it.
func WithOnReady(fn func(context.Context, *SQL) error) SQLOption {
	return func(s *SQL) {
		s.onReady = fn
	}
}

// NewSQL wraps an open database. Nothing is executed until Ping.
func NewSQL(db *database.DB, opts ...SQLOption) *SQL {
	s := &SQL{
		db:     db,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.identities = &sqlIdentities{sqlRepo: &sqlRepo[auth.Identity]{s: s, sc: identitySchema}}
	s.contacts = &sqlRepo[Contact]{s: s, sc: contactSchema}
	s.companies = &sqlRepo[Company]{s: s, sc: companySchema}
	s.deals = &sqlRepo[Deal]{s: s, sc: dealSchema}
	s.campaigns = &sqlRepo[Campaign]{s: s, sc: campaignSchema}
	s.tickets = &sqlRepo[Ticket]{s: s, sc: ticketSchema}
	return s
}

// Mode implements Adapter.
func (s *SQL) Mode() Mode { return ModeDurable }

// Identities implements Adapter.
func (s *SQL) Identities() IdentityRepository { return s.identities }

// Contacts implements Adapter.
func (s *SQL) Contacts() Repository[Contact] { return s.contacts }

// Companies implements Adapter.
func (s *SQL) Companies() Repository[Company] { return s.companies }

// Deals implements Adapter.
func (s *SQL) Deals() Repository[Deal] { return s.deals }

// Campaigns implements Adapter.
func (s *SQL) Campaigns() Repository[Campaign] { return s.campaigns }

// Tickets implements Adapter.
func (s *SQL) Tickets() Repository[Ticket] { return s.tickets }

// Ping checks the store is reachable. The first successful ping also
// applies pending migrations and runs the OnReady hook; until both succeed
// Ping keeps failing so the store is never used half-initialised.
func (s *SQL) Ping(ctx context.Context) error {
	if err := s.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if s.ready.Load() {
		return nil
	}

	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	if s.ready.Load() {
		return nil
	}
	if err := s.db.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: migrating: %w", ErrUnavailable, err)
	}
	if s.onReady != nil {
		if err := s.onReady(ctx, s); err != nil {
			return fmt.Errorf("%w: ready hook: %w", ErrUnavailable, err)
		}
	}
	s.ready.Store(true)
	s.logger.Info("durable store ready", "driver", s.db.Driver())
	return nil
}

// notifyOnFailure sets the hook told about connection-class failures.
func (s *SQL) notifyOnFailure(fn func(error)) {
	s.onFailure.Store(&fn)
}

// classify maps a driver error onto the store's sentinels.
func (s *SQL) classify(op string, err error) error {
	switch {
	case database.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case database.IsUnavailable(err):
		if fn := s.onFailure.Load(); fn != nil {
			(*fn)(err)
		}
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// lower folds column the way asciiLower does. Postgres LOWER() folds
// Unicode under most collations, so it is pinned to "C".
func (s *SQL) lower(column string) string {
	if s.db.Driver() == database.DriverPostgres {
		return "LOWER(" + column + ` COLLATE "C")`
	}
	return "LOWER(" + column + ")"
}

func (s *SQL) stamp() time.Time {
	return Stamp(s.now())
}

// sqlRepo implements Repository for one kind.
type sqlRepo[T any] struct {
	s  *SQL
	sc *schema[T]
}

func (r *sqlRepo[T]) findOne(ctx context.Context, op, where string, arg any) (*T, error) {
	query := "SELECT " + r.sc.selectColumns() + " FROM " + r.sc.table + " WHERE " + where + " = ?"
	item, err := r.sc.scan(r.s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.sc.notFound
	}
	if err != nil {
		return nil, r.s.classify(op, err)
	}
	return item, nil
}

func (r *sqlRepo[T]) FindByID(ctx context.Context, id string) (*T, error) {
	return r.findOne(ctx, "finding "+r.sc.kind, "id", id)
}

func (r *sqlRepo[T]) Create(ctx context.Context, item *T) error {
	if err := r.sc.check(item); err != nil {
		return err
	}
	values, err := r.sc.values(item)
	if err != nil {
		return err
	}

	id := r.sc.newID(item)
	now := r.s.stamp()

	cols := "id, " + strings.Join(r.sc.columns, ", ") + ", created_at, updated_at"
	args := make([]any, 0, len(values)+3)
	args = append(args, id)
	args = append(args, values...)
	args = append(args, formatStamp(now), formatStamp(now))

	query := "INSERT INTO " + r.sc.table + " (" + cols + ") VALUES (" + placeholders(len(args)) + ")"
	if _, err := r.s.db.ExecContext(ctx, query, args...); err != nil {
		return r.s.classify("creating "+r.sc.kind, err)
	}

	_, created, updated := r.sc.meta(item)
	*created, *updated = now, now
	return nil
}

func (r *sqlRepo[T]) Update(ctx context.Context, item *T) error {
	if err := r.sc.check(item); err != nil {
		return err
	}
	values, err := r.sc.values(item)
	if err != nil {
		return err
	}

	id, _, _ := r.sc.meta(item)
	now := r.s.stamp()

	sets := make([]string, 0, len(r.sc.columns)+1)
	args := make([]any, 0, len(values)+2)
	for i, col := range r.sc.columns {
		if !r.sc.updatable(col) {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, values[i])
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatStamp(now), *id)

	query := "UPDATE " + r.sc.table + " SET " + strings.Join(sets, ", ") +
		" WHERE id = ? RETURNING " + r.sc.selectColumns()
	stored, err := r.sc.scan(r.s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return r.sc.notFound
	}
	if err != nil {
		return r.s.classify("updating "+r.sc.kind, err)
	}

	*item = *stored
	return nil
}

func (r *sqlRepo[T]) Delete(ctx context.Context, id string) error {
	res, err := r.s.db.ExecContext(ctx, "DELETE FROM "+r.sc.table+" WHERE id = ?", id)
	if err != nil {
		return r.s.classify("deleting "+r.sc.kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return r.s.classify("deleting "+r.sc.kind, err)
	}
	if n == 0 {
		return r.sc.notFound
	}
	return nil
}

func (r *sqlRepo[T]) List(ctx context.Context, q ListQuery) (*ListResult[T], error) {
	cq, err := r.sc.compile(q)
	if err != nil {
		return nil, err
	}
	where, args := cq.where(r.s.lower)
	op := "listing " + r.sc.kind

	result := &ListResult[T]{Items: []T{}, Skip: cq.skip, Limit: cq.limit}
	if err := r.s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.sc.table+where, args...).Scan(&result.Total); err != nil {
		return nil, r.s.classify(op, err)
	}

	query := "SELECT " + r.sc.selectColumns() + " FROM " + r.sc.table + where +
		" ORDER BY created_at, id LIMIT ? OFFSET ?"
	rows, err := r.s.db.QueryContext(ctx, query, append(args, cq.limit, cq.skip)...)
	if err != nil {
		return nil, r.s.classify(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := r.sc.scan(rows)
		if err != nil {
			return nil, r.s.classify(op, err)
		}
		result.Items = append(result.Items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.classify(op, err)
	}
	return result, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// sqlIdentities adds the identity lookups.
type sqlIdentities struct {
	*sqlRepo[auth.Identity]
}

func (r *sqlIdentities) FindByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	return r.findOne(ctx, "finding identity by email", "email", auth.NormalizeEmail(email))
}

func (r *sqlIdentities) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, r.s.classify("counting identities", err)
	}
	return n, nil
}

// sessionWrite runs a single-statement update against one identity row.
// Zero affected rows is returned as miss.
func (r *sqlIdentities) sessionWrite(ctx context.Context, op string, miss error, query string, args ...any) error {
	res, err := r.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return r.s.classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return r.s.classify(op, err)
	}
	if n == 0 {
		return miss
	}
	return nil
}

func (r *sqlIdentities) RecordLogin(ctx context.Context, id, passwordHash string, at time.Time, ref string) error {
	return r.sessionWrite(ctx, "recording login", auth.ErrStaleIdentity,
		"UPDATE users SET last_login_at = ?, refresh_token_ref = ? WHERE id = ? AND is_active = 1 AND password_hash = ?",
		formatStamp(at), ref, id, passwordHash)
}

func (r *sqlIdentities) SwapRefreshRef(ctx context.Context, id, expected, next string) error {
	return r.sessionWrite(ctx, "rotating refresh reference", auth.ErrStaleIdentity,
		"UPDATE users SET refresh_token_ref = ? WHERE id = ? AND is_active = 1 AND refresh_token_ref = ?",
		next, id, expected)
}

func (r *sqlIdentities) ClearRefreshRef(ctx context.Context, id string) error {
	return r.sessionWrite(ctx, "clearing refresh reference", r.sc.notFound,
		"UPDATE users SET refresh_token_ref = '' WHERE id = ?", id)
}
