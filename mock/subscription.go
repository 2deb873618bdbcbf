package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/quantonganh/bulletin"
)

// SubscriberStore is a mock of bulletin.SubscriberStore
type SubscriberStore struct {
	mock.Mock
}

func (m *SubscriberStore) FindByEmail(ctx context.Context, email string) (*bulletin.Subscriber, error) {
	args := m.Called(ctx, email)
	return subscriber(args, 0), args.Error(1)
}

func (m *SubscriberStore) FindByConfirmationToken(ctx context.Context, token string, now time.Time) (*bulletin.Subscriber, error) {
	args := m.Called(ctx, token, now)
	return subscriber(args, 0), args.Error(1)
}

func (m *SubscriberStore) FindByUnsubscribeToken(ctx context.Context, token string) (*bulletin.Subscriber, error) {
	args := m.Called(ctx, token)
	return subscriber(args, 0), args.Error(1)
}

func (m *SubscriberStore) FindActive(ctx context.Context, frequency bulletin.Frequency) ([]bulletin.Subscriber, error) {
	args := m.Called(ctx, frequency)
	subscribers, _ := args.Get(0).([]bulletin.Subscriber)
	return subscribers, args.Error(1)
}

func (m *SubscriberStore) List(ctx context.Context, opts bulletin.ListOptions) ([]bulletin.Subscriber, int, error) {
	args := m.Called(ctx, opts)
	subscribers, _ := args.Get(0).([]bulletin.Subscriber)
	return subscribers, args.Int(1), args.Error(2)
}

func (m *SubscriberStore) Insert(ctx context.Context, s *bulletin.Subscriber) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *SubscriberStore) Update(ctx context.Context, s *bulletin.Subscriber) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

// SubscriptionService is a mock of bulletin.SubscriptionService
type SubscriptionService struct {
	mock.Mock
}

func (m *SubscriptionService) Subscribe(ctx context.Context, req *bulletin.SubscriptionRequest) (*bulletin.Subscriber, error) {
	args := m.Called(ctx, req)
	return subscriber(args, 0), args.Error(1)
}

func (m *SubscriptionService) Confirm(ctx context.Context, token string) (*bulletin.Subscriber, error) {
	args := m.Called(ctx, token)
	return subscriber(args, 0), args.Error(1)
}

func (m *SubscriptionService) Unsubscribe(ctx context.Context, token string) (*bulletin.Subscriber, error) {
	args := m.Called(ctx, token)
	return subscriber(args, 0), args.Error(1)
}

func (m *SubscriptionService) UnsubscribeByEmail(ctx context.Context, email string) (*bulletin.Subscriber, error) {
	args := m.Called(ctx, email)
	return subscriber(args, 0), args.Error(1)
}

func (m *SubscriptionService) ListSubscribers(ctx context.Context, opts bulletin.ListOptions) (*bulletin.SubscriberPage, error) {
	args := m.Called(ctx, opts)
	page, _ := args.Get(0).(*bulletin.SubscriberPage)
	return page, args.Error(1)
}

func subscriber(args mock.Arguments, i int) *bulletin.Subscriber {
	s, _ := args.Get(i).(*bulletin.Subscriber)
	return s
}
