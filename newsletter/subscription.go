package newsletter

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/quantonganh/bulletin"
	"github.com/quantonganh/bulletin/metrics"
)

// SubscriptionService manages the subscriber lifecycle:
// pending on subscribe, active on confirm, unsubscribed on unsubscribe.
type SubscriptionService struct {
	store    bulletin.SubscriberStore
	tokens   bulletin.TokenIssuer
	renderer bulletin.Renderer
	gateway  bulletin.MailGateway
	validate *validator.Validate

	// Now returns the current time. It is replaced in tests.
	Now func() time.Time
}

// NewSubscriptionService returns new subscription service
func NewSubscriptionService(store bulletin.SubscriberStore, tokens bulletin.TokenIssuer, renderer bulletin.Renderer, gateway bulletin.MailGateway) *SubscriptionService {
	return &SubscriptionService{
		store:    store,
		tokens:   tokens,
		renderer: renderer,
		gateway:  gateway,
		validate: newValidator(),
		Now:      time.Now,
	}
}

// Subscribe creates or reuses the subscriber of req.Email in pending state and
// sends a confirmation email. An active subscriber gets ErrAlreadySubscribed.
func (ss *SubscriptionService) Subscribe(ctx context.Context, req *bulletin.SubscriptionRequest) (*bulletin.Subscriber, error) {
	const op = "newsletter.Subscribe"

	if err := ss.validate.Struct(req); err != nil {
		return nil, validationError(op, err)
	}

	logger := zerolog.Ctx(ctx)
	email := bulletin.NormalizeEmail(req.Email)

	s, err := ss.store.FindByEmail(ctx, email)
	isNew := false
	switch {
	case err == nil:
		if s.Status == bulletin.StatusActive {
			return nil, bulletin.ErrAlreadySubscribed
		}
	case bulletin.ErrorCode(err) == bulletin.ErrNotFound:
		isNew = true
		s = &bulletin.Subscriber{
			Email: email,
			Preferences: bulletin.Preferences{
				Frequency: bulletin.DefaultFrequency,
			},
		}
	default:
		return nil, err
	}

	now := ss.Now()
	token, expiresAt, err := ss.tokens.IssueConfirmationToken(now)
	if err != nil {
		return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: err}
	}
	s.Status = bulletin.StatusPending
	s.ConfirmationToken = token
	s.ConfirmationExpiresAt = &expiresAt

	if s.UnsubscribeToken == "" {
		if s.UnsubscribeToken, err = ss.tokens.IssueUnsubscribeToken(); err != nil {
			return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: err}
		}
	}

	applyRequest(s, req)

	if isNew {
		logger.Info().Str("email", email).Msg("Saving new subscriber")
		err = ss.store.Insert(ctx, s)
	} else {
		logger.Info().Str("email", email).Str("status", s.Status).Msg("Resubscribing existing subscriber")
		err = ss.store.Update(ctx, s)
	}
	if err != nil {
		return nil, err
	}
	metrics.SubscriptionEvents.WithLabelValues(metrics.EventSubscribed).Inc()

	// The record stays pending when the email cannot be sent; subscribing again issues a new link.
	if err := ss.sendConfirmation(ctx, s); err != nil {
		logger.Error().Err(err).Str("email", email).Msg("Failed to send confirmation email")
		sentry.CaptureException(err)
	}

	return s, nil
}

func applyRequest(s *bulletin.Subscriber, req *bulletin.SubscriptionRequest) {
	if name := strings.TrimSpace(req.Name); name != "" {
		s.Name = name
	}
	if req.Categories != nil {
		s.SubscribedCategories = req.Categories
	}
	if req.Preferences != nil && req.Preferences.Frequency != "" {
		s.Preferences.Frequency = req.Preferences.Frequency
	}
	if req.Metadata != (bulletin.Metadata{}) {
		s.Metadata = req.Metadata
	}
}

func (ss *SubscriptionService) sendConfirmation(ctx context.Context, s *bulletin.Subscriber) error {
	msg, err := ss.renderer.Confirmation(s)
	if err != nil {
		return err
	}
	return ss.gateway.Send(ctx, msg)
}

// Confirm activates the pending subscriber holding an unexpired token.
// The token is erased, so replaying it fails.
func (ss *SubscriptionService) Confirm(ctx context.Context, token string) (*bulletin.Subscriber, error) {
	now := ss.Now()
	s, err := ss.store.FindByConfirmationToken(ctx, token, now)
	if err != nil {
		if bulletin.ErrorCode(err) == bulletin.ErrNotFound {
			return nil, bulletin.ErrInvalidOrExpiredToken
		}
		return nil, err
	}

	s.Status = bulletin.StatusActive
	s.ConfirmationToken = ""
	s.ConfirmationExpiresAt = nil
	s.ConfirmedAt = &now
	if err := ss.store.Update(ctx, s); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("email", s.Email).Msg("Subscription confirmed")
	metrics.SubscriptionEvents.WithLabelValues(metrics.EventConfirmed).Inc()

	return s, nil
}

// Unsubscribe ends the subscription holding the unsubscribe token.
// Unsubscribe tokens never expire and unsubscribing twice succeeds.
func (ss *SubscriptionService) Unsubscribe(ctx context.Context, token string) (*bulletin.Subscriber, error) {
	s, err := ss.store.FindByUnsubscribeToken(ctx, token)
	if err != nil {
		if bulletin.ErrorCode(err) == bulletin.ErrNotFound {
			return nil, bulletin.ErrInvalidToken
		}
		return nil, err
	}

	return ss.unsubscribe(ctx, s)
}

// UnsubscribeByEmail ends a subscription on behalf of an admin
func (ss *SubscriptionService) UnsubscribeByEmail(ctx context.Context, email string) (*bulletin.Subscriber, error) {
	s, err := ss.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	return ss.unsubscribe(ctx, s)
}

func (ss *SubscriptionService) unsubscribe(ctx context.Context, s *bulletin.Subscriber) (*bulletin.Subscriber, error) {
	if s.Status == bulletin.StatusUnsubscribed {
		return s, nil
	}

	now := ss.Now()
	s.Status = bulletin.StatusUnsubscribed
	s.ConfirmationToken = ""
	s.ConfirmationExpiresAt = nil
	s.UnsubscribedAt = &now
	if err := ss.store.Update(ctx, s); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("email", s.Email).Msg("Unsubscribed")
	metrics.SubscriptionEvents.WithLabelValues(metrics.EventUnsubscribed).Inc()

	return s, nil
}

// ListSubscribers returns one page of subscribers for the admin list
func (ss *SubscriptionService) ListSubscribers(ctx context.Context, opts bulletin.ListOptions) (*bulletin.SubscriberPage, error) {
	opts.Normalize()

	subscribers, total, err := ss.store.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	if subscribers == nil {
		subscribers = []bulletin.Subscriber{}
	}

	return &bulletin.SubscriberPage{
		Subscribers: subscribers,
		Pagination:  bulletin.NewPagination(opts, total),
	}, nil
}
