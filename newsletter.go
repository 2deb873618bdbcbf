package bulletin

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is a rendered email
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// MailGateway delivers a message. A returned error means the delivery failed.
type MailGateway interface {
	Send(ctx context.Context, m *Message) error
}

// Renderer turns subscribers and articles into messages.
type Renderer interface {
	Confirmation(s *Subscriber) (*Message, error)
	Newsletter(s *Subscriber, articles []Article, test bool) (*Message, error)
}

// RunType is the kind of a dispatch run
type RunType string

// Run types. Scheduled run types match the subscriber frequencies.
const (
	RunDaily   = RunType(FrequencyDaily)
	RunWeekly  = RunType(FrequencyWeekly)
	RunMonthly = RunType(FrequencyMonthly)
	RunTest    RunType = "test"
	RunManual  RunType = "manual"
)

// ScheduledRunTypes are the run types a periodic trigger fires on every tick.
var ScheduledRunTypes = []RunType{RunDaily, RunWeekly, RunMonthly}

// ParseRunType parses a run type given to a scheduled trigger.
func ParseRunType(s string) (RunType, error) {
	switch rt := RunType(strings.ToLower(strings.TrimSpace(s))); rt {
	case RunDaily, RunWeekly, RunMonthly, RunTest:
		return rt, nil
	default:
		return "", Errorf(ErrInvalid, "Unknown run type %q.", s)
	}
}

// Selector narrows the articles and subscribers of a dispatch.
type Selector struct {
	ArticleIDs     []string
	Categories     []string
	Frequency      Frequency
	PublishedSince time.Time
}

// Plan is the candidate set of a dispatch
type Plan struct {
	RunType     RunType
	Articles    []Article
	Subscribers []Subscriber
}

// SendRequest is the body of an admin manual send
type SendRequest struct {
	Categories []string `json:"categories" validate:"dive,required"`
	ArticleIDs []string `json:"newsIds" validate:"dive,required"`
	TestEmail  string   `json:"testEmail" validate:"omitempty,email"`
}

// OutcomeStatus is the result of a dispatch for one subscriber
type OutcomeStatus string

// Outcome statuses
const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome records what happened to one subscriber in a dispatch
type Outcome struct {
	Email    string        `json:"email"`
	Status   OutcomeStatus `json:"status"`
	Articles int           `json:"articles"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
}

// DispatchReport aggregates the outcomes of a dispatch
type DispatchReport struct {
	ID         string    `json:"id"`
	RunType    RunType   `json:"runType"`
	Sent       int       `json:"sent"`
	Errors     int       `json:"errors"`
	Skipped    int       `json:"skipped"`
	Total      int       `json:"total"`
	Outcomes   []Outcome `json:"outcomes"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Record adds an outcome and updates the counters.
func (r *DispatchReport) Record(o Outcome) {
	switch o.Status {
	case OutcomeSent:
		r.Sent++
	case OutcomeFailed:
		r.Errors++
		if o.Err != nil && o.Error == "" {
			o.Error = o.Err.Error()
		}
	case OutcomeSkipped:
		r.Skipped++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Summary is the short form of a report returned to admins
type Summary struct {
	Sent    int `json:"sent"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Summary returns the counters of the report.
func (r *DispatchReport) Summary() Summary {
	return Summary{
		Sent:    r.Sent,
		Errors:  r.Errors,
		Skipped: r.Skipped,
		Total:   r.Total,
	}
}

// DispatchService is the interface that wraps newsletter planning and delivery
type DispatchService interface {
	Plan(ctx context.Context, sel Selector) (*Plan, error)
	Dispatch(ctx context.Context, plan *Plan) (*DispatchReport, error)
	Send(ctx context.Context, req *SendRequest) (*DispatchReport, error)
	RunScheduled(ctx context.Context, runType RunType, now time.Time) (*DispatchReport, error)
}

// ConfirmationURL returns the link that activates a pending subscription.
func ConfirmationURL(baseURL, token string) string {
	return fmt.Sprintf("%s/newsletter/confirm/%s", strings.TrimRight(baseURL, "/"), token)
}

// UnsubscribeURL returns the link that ends a subscription.
func UnsubscribeURL(baseURL, token string) string {
	return fmt.Sprintf("%s/newsletter/unsubscribe/%s", strings.TrimRight(baseURL, "/"), token)
}

// ArticleURL returns the public link of an article on the website.
func ArticleURL(siteURL, id string) string {
	return fmt.Sprintf("%s/news/%s", strings.TrimRight(siteURL, "/"), id)
}
