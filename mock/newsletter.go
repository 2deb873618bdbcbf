package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/quantonganh/bulletin"
)

// ArticleStore is a mock of bulletin.ArticleStore
type ArticleStore struct {
	mock.Mock
}

func (m *ArticleStore) FindPublished(ctx context.Context, filter bulletin.ArticleFilter) ([]bulletin.Article, error) {
	args := m.Called(ctx, filter)
	articles, _ := args.Get(0).([]bulletin.Article)
	return articles, args.Error(1)
}

func (m *ArticleStore) Save(ctx context.Context, a *bulletin.Article) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

// MailGateway is a mock of bulletin.MailGateway
type MailGateway struct {
	mock.Mock
}

func (m *MailGateway) Send(ctx context.Context, msg *bulletin.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// DispatchService is a mock of bulletin.DispatchService
type DispatchService struct {
	mock.Mock
}

func (m *DispatchService) Plan(ctx context.Context, sel bulletin.Selector) (*bulletin.Plan, error) {
	args := m.Called(ctx, sel)
	plan, _ := args.Get(0).(*bulletin.Plan)
	return plan, args.Error(1)
}

func (m *DispatchService) Dispatch(ctx context.Context, plan *bulletin.Plan) (*bulletin.DispatchReport, error) {
	args := m.Called(ctx, plan)
	return report(args), args.Error(1)
}

func (m *DispatchService) Send(ctx context.Context, req *bulletin.SendRequest) (*bulletin.DispatchReport, error) {
	args := m.Called(ctx, req)
	return report(args), args.Error(1)
}

func (m *DispatchService) RunScheduled(ctx context.Context, runType bulletin.RunType, now time.Time) (*bulletin.DispatchReport, error) {
	args := m.Called(ctx, runType, now)
	return report(args), args.Error(1)
}

func report(args mock.Arguments) *bulletin.DispatchReport {
	r, _ := args.Get(0).(*bulletin.DispatchReport)
	return r
}

// QueueService is a mock of bulletin.QueueService
type QueueService struct {
	mock.Mock
}

func (m *QueueService) Consume(ctx context.Context, topic string) (<-chan []byte, error) {
	args := m.Called(ctx, topic)
	ch, _ := args.Get(0).(chan []byte)
	return ch, args.Error(1)
}
