package bolt

import (
	"context"
	"sort"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/q"
	"github.com/go-errors/errors"

	"github.com/quantonganh/bulletin"
)

type subscriberStore struct {
	db *DB
}

// NewSubscriberStore returns a subscriber store backed by storm
func NewSubscriberStore(db *DB) bulletin.SubscriberStore {
	return &subscriberStore{
		db: db,
	}
}

// FindByEmail finds a subscriber by its normalized email
func (ss *subscriberStore) FindByEmail(ctx context.Context, email string) (*bulletin.Subscriber, error) {
	return ss.findOne("bolt.FindByEmail", "Email", bulletin.NormalizeEmail(email))
}

// FindByConfirmationToken finds a pending subscriber whose confirmation token has not expired at now
func (ss *subscriberStore) FindByConfirmationToken(ctx context.Context, token string, now time.Time) (*bulletin.Subscriber, error) {
	const op = "bolt.FindByConfirmationToken"

	s, err := ss.findOne(op, "ConfirmationToken", token)
	if err != nil {
		return nil, err
	}

	if s.Status != bulletin.StatusPending || s.ConfirmationExpiresAt == nil || !s.ConfirmationExpiresAt.After(now) {
		return nil, notFound(op)
	}

	return s, nil
}

// FindByUnsubscribeToken finds a subscriber by its unsubscribe token
func (ss *subscriberStore) FindByUnsubscribeToken(ctx context.Context, token string) (*bulletin.Subscriber, error) {
	return ss.findOne("bolt.FindByUnsubscribeToken", "UnsubscribeToken", token)
}

func (ss *subscriberStore) findOne(op, field, value string) (*bulletin.Subscriber, error) {
	if value == "" {
		return nil, notFound(op)
	}

	var s bulletin.Subscriber
	if err := ss.db.stormDB.One(field, value, &s); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return nil, notFound(op)
		}
		return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: errors.Errorf("failed to find by %s: %v", field, err)}
	}

	return &s, nil
}

// FindActive finds active subscribers, optionally restricted to one frequency
func (ss *subscriberStore) FindActive(ctx context.Context, frequency bulletin.Frequency) ([]bulletin.Subscriber, error) {
	matchers := []q.Matcher{q.Eq("Status", bulletin.StatusActive)}
	if frequency != "" {
		matchers = append(matchers, frequencyMatcher(frequency))
	}

	var subscribers []bulletin.Subscriber
	if err := ss.db.stormDB.Select(matchers...).OrderBy("ID").Find(&subscribers); err != nil && !errors.Is(err, storm.ErrNotFound) {
		return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: "bolt.FindActive", Err: errors.Errorf("failed to find active subscribers: %v", err)}
	}

	return subscribers, nil
}

// frequencyMatcher matches subscribers by preferred frequency.
// Subscribers without a preference get the default frequency.
func frequencyMatcher(frequency bulletin.Frequency) q.Matcher {
	return q.NewFieldMatcher("Preferences", preferenceMatcher(frequency))
}

type preferenceMatcher bulletin.Frequency

func (m preferenceMatcher) MatchField(v interface{}) (bool, error) {
	p, ok := v.(bulletin.Preferences)
	if !ok {
		return false, nil
	}
	f := p.Frequency
	if f == "" {
		f = bulletin.DefaultFrequency
	}
	return f == bulletin.Frequency(m), nil
}

// List returns one page of subscribers and the total count of matching subscribers
func (ss *subscriberStore) List(ctx context.Context, opts bulletin.ListOptions) ([]bulletin.Subscriber, int, error) {
	opts.Normalize()

	var matchers []q.Matcher
	if opts.Status != "" {
		matchers = append(matchers, q.Eq("Status", opts.Status))
	}

	var subscribers []bulletin.Subscriber
	if err := ss.db.stormDB.Select(matchers...).Find(&subscribers); err != nil && !errors.Is(err, storm.ErrNotFound) {
		return nil, 0, &bulletin.Error{Code: bulletin.ErrInternal, Op: "bolt.List", Err: errors.Errorf("failed to list subscribers: %v", err)}
	}

	sortSubscribers(subscribers, opts.SortBy, opts.SortOrder == "desc")

	total := len(subscribers)
	start := opts.Offset()
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	return subscribers[start:end], total, nil
}

func sortSubscribers(subscribers []bulletin.Subscriber, sortBy string, desc bool) {
	less := func(a, b *bulletin.Subscriber) bool {
		switch sortBy {
		case "email":
			return a.Email < b.Email
		case "name":
			return a.Name < b.Name
		case "status":
			return a.Status < b.Status
		case "lastSentAt":
			return timeOrZero(a.LastSentAt).Before(timeOrZero(b.LastSentAt))
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}

	sort.SliceStable(subscribers, func(i, j int) bool {
		if desc {
			return less(&subscribers[j], &subscribers[i])
		}
		return less(&subscribers[i], &subscribers[j])
	})
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// Insert inserts a new subscriber into stormDB
func (ss *subscriberStore) Insert(ctx context.Context, s *bulletin.Subscriber) error {
	const op = "bolt.Insert"

	now := ss.db.Now()
	s.Email = bulletin.NormalizeEmail(s.Email)
	s.CreatedAt = now
	s.UpdatedAt = now
	if err := ss.db.stormDB.Save(s); err != nil {
		if errors.Is(err, storm.ErrAlreadyExists) {
			return &bulletin.Error{Code: bulletin.ErrConflict, Op: op, Message: "Subscriber already exists."}
		}
		return &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: errors.Errorf("failed to save: %v", err)}
	}

	return nil
}

// Update replaces a stored subscriber
func (ss *subscriberStore) Update(ctx context.Context, s *bulletin.Subscriber) error {
	const op = "bolt.Update"

	if s.ID == 0 {
		return &bulletin.Error{Code: bulletin.ErrInvalid, Op: op, Message: "Subscriber has no ID."}
	}

	s.UpdatedAt = ss.db.Now()
	if err := ss.db.stormDB.Save(s); err != nil {
		return &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: errors.Errorf("failed to save: %v", err)}
	}

	return nil
}

func notFound(op string) error {
	return &bulletin.Error{Code: bulletin.ErrNotFound, Op: op, Message: "Subscriber not found."}
}
