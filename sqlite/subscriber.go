package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/quantonganh/bulletin"
)

const subscriberColumns = `id, email, name, status, subscribed_categories, frequency,
	confirmation_token, confirmation_expires_at, unsubscribe_token, last_sent_at,
	ip, user_agent, referrer, created_at, updated_at, confirmed_at, unsubscribed_at`

var sortColumns = map[string]string{
	"createdAt":  "created_at",
	"email":      "email",
	"name":       "name",
	"status":     "status",
	"lastSentAt": "last_sent_at",
}

type subscriberStore struct {
	db *DB
}

// NewSubscriberStore returns a subscriber store backed by SQLite
func NewSubscriberStore(db *DB) bulletin.SubscriberStore {
	return &subscriberStore{
		db: db,
	}
}

// FindByEmail finds a subscriber by its normalized email
func (ss *subscriberStore) FindByEmail(ctx context.Context, email string) (*bulletin.Subscriber, error) {
	return ss.findOne(ctx, "sqlite.FindByEmail", "email = ?", bulletin.NormalizeEmail(email))
}

// FindByConfirmationToken finds a pending subscriber whose confirmation token has not expired at now
func (ss *subscriberStore) FindByConfirmationToken(ctx context.Context, token string, now time.Time) (*bulletin.Subscriber, error) {
	if token == "" {
		return nil, notFound("sqlite.FindByConfirmationToken")
	}
	return ss.findOne(ctx, "sqlite.FindByConfirmationToken",
		"confirmation_token = ? AND status = ? AND confirmation_expires_at > ?",
		token, bulletin.StatusPending, now.UTC())
}

// FindByUnsubscribeToken finds a subscriber by its unsubscribe token
func (ss *subscriberStore) FindByUnsubscribeToken(ctx context.Context, token string) (*bulletin.Subscriber, error) {
	if token == "" {
		return nil, notFound("sqlite.FindByUnsubscribeToken")
	}
	return ss.findOne(ctx, "sqlite.FindByUnsubscribeToken", "unsubscribe_token = ?", token)
}

func (ss *subscriberStore) findOne(ctx context.Context, op, where string, args ...interface{}) (*bulletin.Subscriber, error) {
	row := ss.db.sqlDB.QueryRowContext(ctx, "SELECT "+subscriberColumns+" FROM subscribers WHERE "+where, args...)
	s, err := scanSubscriber(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(op)
		}
		return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: fmt.Errorf("failed to find subscriber: %w", err)}
	}
	return s, nil
}

// FindActive finds active subscribers, optionally restricted to one frequency
func (ss *subscriberStore) FindActive(ctx context.Context, frequency bulletin.Frequency) ([]bulletin.Subscriber, error) {
	where := "status = ?"
	args := []interface{}{bulletin.StatusActive}
	switch {
	case frequency == bulletin.DefaultFrequency:
		where += " AND frequency IN (?, '')"
		args = append(args, string(frequency))
	case frequency != "":
		where += " AND frequency = ?"
		args = append(args, string(frequency))
	}

	return ss.query(ctx, "sqlite.FindActive", "SELECT "+subscriberColumns+" FROM subscribers WHERE "+where+" ORDER BY id", args...)
}

// List returns one page of subscribers and the total count of matching subscribers
func (ss *subscriberStore) List(ctx context.Context, opts bulletin.ListOptions) ([]bulletin.Subscriber, int, error) {
	const op = "sqlite.List"

	opts.Normalize()

	where := "1 = 1"
	var args []interface{}
	if opts.Status != "" {
		where = "status = ?"
		args = append(args, opts.Status)
	}

	var total int
	if err := ss.db.sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM subscribers WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: fmt.Errorf("failed to count subscribers: %w", err)}
	}

	query := fmt.Sprintf("SELECT %s FROM subscribers WHERE %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?",
		subscriberColumns, where, sortColumns[opts.SortBy], strings.ToUpper(opts.SortOrder), strings.ToUpper(opts.SortOrder))
	subscribers, err := ss.query(ctx, op, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, 0, err
	}

	return subscribers, total, nil
}

func (ss *subscriberStore) query(ctx context.Context, op, query string, args ...interface{}) ([]bulletin.Subscriber, error) {
	rows, err := ss.db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: fmt.Errorf("failed to query subscribers: %w", err)}
	}
	defer rows.Close()

	var subscribers []bulletin.Subscriber
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: fmt.Errorf("failed to scan row: %w", err)}
		}
		subscribers = append(subscribers, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: err}
	}

	return subscribers, nil
}

// Insert inserts a new subscriber
func (ss *subscriberStore) Insert(ctx context.Context, s *bulletin.Subscriber) error {
	const op = "sqlite.Insert"

	now := ss.db.Now().UTC()
	s.Email = bulletin.NormalizeEmail(s.Email)
	s.CreatedAt = now
	s.UpdatedAt = now

	categories, err := json.Marshal(nonNil(s.SubscribedCategories))
	if err != nil {
		return &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: err}
	}

	result, err := ss.db.sqlDB.ExecContext(ctx, `INSERT INTO subscribers (
		email, name, status, subscribed_categories, frequency,
		confirmation_token, confirmation_expires_at, unsubscribe_token, last_sent_at,
		ip, user_agent, referrer, created_at, updated_at, confirmed_at, unsubscribed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Email, s.Name, s.Status, string(categories), string(s.Preferences.Frequency),
		nullString(s.ConfirmationToken), nullTime(s.ConfirmationExpiresAt), nullString(s.UnsubscribeToken), nullTime(s.LastSentAt),
		s.Metadata.IP, s.Metadata.UserAgent, s.Metadata.Referrer, s.CreatedAt, s.UpdatedAt, nullTime(s.ConfirmedAt), nullTime(s.UnsubscribedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &bulletin.Error{Code: bulletin.ErrConflict, Op: op, Message: "Subscriber already exists."}
		}
		return &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: fmt.Errorf("failed to insert: %w", err)}
	}

	id, err := result.LastInsertId()
	if err != nil {
		return &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: err}
	}
	s.ID = int(id)

	return nil
}

// Update replaces a stored subscriber
func (ss *subscriberStore) Update(ctx context.Context, s *bulletin.Subscriber) error {
	const op = "sqlite.Update"

	if s.ID == 0 {
		return &bulletin.Error{Code: bulletin.ErrInvalid, Op: op, Message: "Subscriber has no ID."}
	}

	s.UpdatedAt = ss.db.Now().UTC()
	categories, err := json.Marshal(nonNil(s.SubscribedCategories))
	if err != nil {
		return &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: err}
	}

	_, err = ss.db.sqlDB.ExecContext(ctx, `UPDATE subscribers SET
		email = ?, name = ?, status = ?, subscribed_categories = ?, frequency = ?,
		confirmation_token = ?, confirmation_expires_at = ?, unsubscribe_token = ?, last_sent_at = ?,
		ip = ?, user_agent = ?, referrer = ?, updated_at = ?, confirmed_at = ?, unsubscribed_at = ?
	WHERE id = ?`,
		bulletin.NormalizeEmail(s.Email), s.Name, s.Status, string(categories), string(s.Preferences.Frequency),
		nullString(s.ConfirmationToken), nullTime(s.ConfirmationExpiresAt), nullString(s.UnsubscribeToken), nullTime(s.LastSentAt),
		s.Metadata.IP, s.Metadata.UserAgent, s.Metadata.Referrer, s.UpdatedAt, nullTime(s.ConfirmedAt), nullTime(s.UnsubscribedAt),
		s.ID)
	if err != nil {
		return &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: fmt.Errorf("failed to update: %w", err)}
	}

	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscriber(row scanner) (*bulletin.Subscriber, error) {
	var (
		s                                   bulletin.Subscriber
		categories, frequency               string
		confirmationToken, unsubscribeToken sql.NullString
		confirmationExpiresAt, lastSentAt   sql.NullTime
		confirmedAt, unsubscribedAt         sql.NullTime
	)
	err := row.Scan(&s.ID, &s.Email, &s.Name, &s.Status, &categories, &frequency,
		&confirmationToken, &confirmationExpiresAt, &unsubscribeToken, &lastSentAt,
		&s.Metadata.IP, &s.Metadata.UserAgent, &s.Metadata.Referrer, &s.CreatedAt, &s.UpdatedAt, &confirmedAt, &unsubscribedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(categories), &s.SubscribedCategories); err != nil {
		return nil, fmt.Errorf("invalid subscribed categories: %w", err)
	}
	if len(s.SubscribedCategories) == 0 {
		s.SubscribedCategories = nil
	}
	s.Preferences.Frequency = bulletin.Frequency(frequency)
	s.ConfirmationToken = confirmationToken.String
	s.UnsubscribeToken = unsubscribeToken.String
	s.ConfirmationExpiresAt = timePtr(confirmationExpiresAt)
	s.LastSentAt = timePtr(lastSentAt)
	s.ConfirmedAt = timePtr(confirmedAt)
	s.UnsubscribedAt = timePtr(unsubscribedAt)

	return &s, nil
}

func nonNil(categories []string) []string {
	if categories == nil {
		return []string{}
	}
	return categories
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func notFound(op string) error {
	return &bulletin.Error{Code: bulletin.ErrNotFound, Op: op, Message: "Subscriber not found."}
}
