package bulletin

import (
	"context"
	"strings"
	"time"
)

// Subscriber status
const (
	StatusPending      = "pending"
	StatusActive       = "active"
	StatusUnsubscribed = "unsubscribed"
	StatusBounced      = "bounced"
)

// Frequency is how often a subscriber wants to receive the newsletter.
type Frequency string

// Supported frequencies
const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// DefaultFrequency is used when a subscriber does not choose one.
const DefaultFrequency = FrequencyWeekly

// Subscriber represents a newsletter subscriber
type Subscriber struct {
	ID                    int         `json:"id" storm:"id,increment"`
	Email                 string      `json:"email" storm:"unique"`
	Name                  string      `json:"name,omitempty"`
	Status                string      `json:"status" storm:"index"`
	SubscribedCategories  []string    `json:"subscribedCategories"`
	Preferences           Preferences `json:"preferences"`
	ConfirmationToken     string      `json:"-" storm:"unique"`
	ConfirmationExpiresAt *time.Time  `json:"-"`
	UnsubscribeToken      string      `json:"-" storm:"unique"`
	LastSentAt            *time.Time  `json:"lastSentAt,omitempty"`
	Metadata              Metadata    `json:"metadata"`
	CreatedAt             time.Time   `json:"createdAt" storm:"index"`
	UpdatedAt             time.Time   `json:"updatedAt"`
	ConfirmedAt           *time.Time  `json:"confirmedAt,omitempty"`
	UnsubscribedAt        *time.Time  `json:"unsubscribedAt,omitempty"`
}

// Preferences holds the delivery preferences of a subscriber
type Preferences struct {
	Frequency Frequency `json:"frequency" validate:"omitempty,oneof=daily weekly monthly"`
}

// Metadata records where a subscription came from. It is kept for audit only.
type Metadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

// WantsAllCategories reports whether the subscriber has no category preference.
func (s *Subscriber) WantsAllCategories() bool {
	return len(s.SubscribedCategories) == 0
}

// FollowsAny reports whether the subscriber should receive content from any of categories.
func (s *Subscriber) FollowsAny(categories []string) bool {
	if s.WantsAllCategories() {
		return true
	}
	for _, c := range categories {
		if s.Follows(c) {
			return true
		}
	}
	return false
}

// Follows reports whether category is one of the subscriber's categories.
func (s *Subscriber) Follows(category string) bool {
	if s.WantsAllCategories() {
		return true
	}
	for _, c := range s.SubscribedCategories {
		if c == category {
			return true
		}
	}
	return false
}

// NormalizeEmail returns the lookup key of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SubscriberStore persists subscribers.
// Finders return an error with code ErrNotFound when nothing matches.
type SubscriberStore interface {
	FindByEmail(ctx context.Context, email string) (*Subscriber, error)
	FindByConfirmationToken(ctx context.Context, token string, now time.Time) (*Subscriber, error)
	FindByUnsubscribeToken(ctx context.Context, token string) (*Subscriber, error)
	FindActive(ctx context.Context, frequency Frequency) ([]Subscriber, error)
	List(ctx context.Context, opts ListOptions) ([]Subscriber, int, error)
	Insert(ctx context.Context, s *Subscriber) error
	Update(ctx context.Context, s *Subscriber) error
}

// ListOptions filters and pages the admin subscriber list
type ListOptions struct {
	Status    string
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// List defaults and bounds
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Sortable subscriber fields, keyed by their API name.
var SortFields = map[string]string{
	"createdAt":  "CreatedAt",
	"email":      "Email",
	"name":       "Name",
	"status":     "Status",
	"lastSentAt": "LastSentAt",
}

// Normalize fills defaults and clamps the paging options.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = DefaultPageLimit
	}
	if o.Limit > MaxPageLimit {
		o.Limit = MaxPageLimit
	}
	if _, ok := SortFields[o.SortBy]; !ok {
		o.SortBy = "createdAt"
	}
	if o.SortOrder != "asc" {
		o.SortOrder = "desc"
	}
}

// Offset returns the number of records to skip for the current page.
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// SubscriptionService is the interface that wraps the subscriber lifecycle
type SubscriptionService interface {
	Subscribe(ctx context.Context, req *SubscriptionRequest) (*Subscriber, error)
	Confirm(ctx context.Context, token string) (*Subscriber, error)
	Unsubscribe(ctx context.Context, token string) (*Subscriber, error)
	UnsubscribeByEmail(ctx context.Context, email string) (*Subscriber, error)
	ListSubscribers(ctx context.Context, opts ListOptions) (*SubscriberPage, error)
}

// SubscriptionRequest is the body of a subscribe request
type SubscriptionRequest struct {
	Email       string       `json:"email" validate:"required,email"`
	Name        string       `json:"name" validate:"max=100"`
	Categories  []string     `json:"categories" validate:"dive,required"`
	Preferences *Preferences `json:"preferences"`
	Metadata    Metadata     `json:"-"`
}

// SubscriptionResponse is the acknowledgement returned to end users
type SubscriptionResponse struct {
	Message string `json:"message"`
}

// SubscriberPage is one page of the admin subscriber list
type SubscriberPage struct {
	Subscribers []Subscriber `json:"subscribers"`
	Pagination  Pagination   `json:"pagination"`
}

// Pagination describes a page
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NewPagination computes the page count for total records.
func NewPagination(opts ListOptions, total int) Pagination {
	pages := 0
	if opts.Limit > 0 {
		pages = (total + opts.Limit - 1) / opts.Limit
	}
	return Pagination{
		Page:  opts.Page,
		Limit: opts.Limit,
		Total: total,
		Pages: pages,
	}
}

// TokenIssuer generates confirmation and unsubscribe tokens.
type TokenIssuer interface {
	IssueConfirmationToken(now time.Time) (string, time.Time, error)
	IssueUnsubscribeToken() (string, error)
}
