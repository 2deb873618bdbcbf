package newsletter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quantonganh/bulletin"
	"github.com/quantonganh/bulletin/bolt"
	bmock "github.com/quantonganh/bulletin/mock"
	"github.com/quantonganh/bulletin/pkg/token"
)

func TestPlan_CategoryTargeting(t *testing.T) {
	ctx := context.Background()

	articles := new(bmock.ArticleStore)
	articles.On("FindPublished", mock.Anything, bulletin.ArticleFilter{Categories: []string{"A"}}).
		Return([]bulletin.Article{{ID: "1", Category: "A", Status: bulletin.ArticlePublished}}, nil)

	subscribers := new(bmock.SubscriberStore)
	subscribers.On("FindActive", mock.Anything, bulletin.Frequency("")).Return([]bulletin.Subscriber{
		{Email: "b@example.com", SubscribedCategories: []string{"B"}},
		{Email: "all@example.com"},
		{Email: "ab@example.com", SubscribedCategories: []string{"B", "A"}},
	}, nil)

	d := NewDispatcher(subscribers, articles, newRenderer(), new(bmock.MailGateway))
	plan, err := d.Plan(ctx, bulletin.Selector{Categories: []string{"A"}})
	require.NoError(t, err)
	assert.Equal(t, bulletin.RunManual, plan.RunType)
	assert.Len(t, plan.Articles, 1)
	assert.Equal(t, []string{"all@example.com", "ab@example.com"}, emails(plan.Subscribers))
}

func TestPlan_ArticleSelection(t *testing.T) {
	since := monday.Add(-ScheduledWindow)
	tests := []struct {
		name   string
		sel    bulletin.Selector
		filter bulletin.ArticleFilter
	}{
		{
			name:   "explicit ids win over categories",
			sel:    bulletin.Selector{ArticleIDs: []string{"1", "2"}, Categories: []string{"A"}},
			filter: bulletin.ArticleFilter{IDs: []string{"1", "2"}},
		},
		{
			name:   "categories",
			sel:    bulletin.Selector{Categories: []string{"A"}},
			filter: bulletin.ArticleFilter{Categories: []string{"A"}},
		},
		{
			name:   "most recent",
			sel:    bulletin.Selector{},
			filter: bulletin.ArticleFilter{Limit: MaxArticles},
		},
		{
			name:   "scheduled window",
			sel:    bulletin.Selector{Frequency: bulletin.FrequencyWeekly, PublishedSince: since},
			filter: bulletin.ArticleFilter{Limit: MaxArticles, Since: since},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			articles := new(bmock.ArticleStore)
			articles.On("FindPublished", mock.Anything, tt.filter).Return([]bulletin.Article{{ID: "1", Category: "A"}}, nil)

			subscribers := new(bmock.SubscriberStore)
			subscribers.On("FindActive", mock.Anything, tt.sel.Frequency).Return([]bulletin.Subscriber{{Email: "a@example.com"}}, nil)

			d := NewDispatcher(subscribers, articles, newRenderer(), new(bmock.MailGateway))
			_, err := d.Plan(context.Background(), tt.sel)
			require.NoError(t, err)
			articles.AssertExpectations(t)
			subscribers.AssertExpectations(t)
		})
	}
}

func TestPlan_NoEligible(t *testing.T) {
	ctx := context.Background()

	articles := new(bmock.ArticleStore)
	articles.On("FindPublished", mock.Anything, mock.Anything).Return([]bulletin.Article{}, nil).Once()
	subscribers := new(bmock.SubscriberStore)

	d := NewDispatcher(subscribers, articles, newRenderer(), new(bmock.MailGateway))
	_, err := d.Plan(ctx, bulletin.Selector{})
	assert.ErrorIs(t, err, bulletin.ErrNoEligibleContent)
	assert.True(t, bulletin.NoEligible(err))
	subscribers.AssertNotCalled(t, "FindActive", mock.Anything, mock.Anything)

	articles.On("FindPublished", mock.Anything, mock.Anything).Return([]bulletin.Article{{ID: "1", Category: "A"}}, nil)
	subscribers.On("FindActive", mock.Anything, mock.Anything).Return([]bulletin.Subscriber{
		{Email: "b@example.com", SubscribedCategories: []string{"B"}},
	}, nil)

	_, err = d.Plan(ctx, bulletin.Selector{Categories: []string{"A"}})
	assert.ErrorIs(t, err, bulletin.ErrNoEligibleRecipients)
	assert.True(t, bulletin.NoEligible(err))
}

type dispatchFixture struct {
	db          *bolt.DB
	subscribers bulletin.SubscriberStore
	articles    bulletin.ArticleStore
	gateway     *bmock.MailGateway
	dispatcher  *Dispatcher
	now         time.Time
}

func newDispatchFixture(t *testing.T, gateway *bmock.MailGateway) *dispatchFixture {
	f := &dispatchFixture{
		db:      openDB(t),
		gateway: gateway,
		now:     monday,
	}
	f.subscribers = bolt.NewSubscriberStore(f.db)
	f.articles = bolt.NewArticleStore(f.db)
	f.dispatcher = NewDispatcher(f.subscribers, f.articles, newRenderer(), gateway)
	f.dispatcher.Now = func() time.Time { return f.now }

	return f
}

func (f *dispatchFixture) addSubscriber(t *testing.T, s bulletin.Subscriber) {
	t.Helper()

	if s.Status == "" {
		s.Status = bulletin.StatusActive
	}
	if s.UnsubscribeToken == "" {
		tok, err := token.Generate()
		require.NoError(t, err)
		s.UnsubscribeToken = tok
	}
	require.NoError(t, f.subscribers.Insert(context.Background(), &s))
}

func (f *dispatchFixture) addArticle(t *testing.T, a bulletin.Article) {
	t.Helper()

	if a.Status == "" {
		a.Status = bulletin.ArticlePublished
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = f.now.Add(-time.Hour)
	}
	require.NoError(t, f.articles.Save(context.Background(), &a))
}

func TestDispatch_FailureDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()

	gateway := new(bmock.MailGateway)
	gateway.On("Send", mock.Anything, mock.MatchedBy(func(m *bulletin.Message) bool {
		return m.To == "b@example.com"
	})).Return(errors.New("550 mailbox unavailable"))
	gateway.On("Send", mock.Anything, mock.Anything).Return(nil)

	f := newDispatchFixture(t, gateway)
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		f.addSubscriber(t, bulletin.Subscriber{Email: email})
	}
	f.addArticle(t, bulletin.Article{ID: "1", Title: "Match day", Content: "We **won**.", Category: "sports"})

	plan, err := f.dispatcher.Plan(ctx, bulletin.Selector{})
	require.NoError(t, err)

	report, err := f.dispatcher.Dispatch(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 3, report.Total)
	assert.NotEmpty(t, report.ID)
	gateway.AssertNumberOfCalls(t, "Send", 3)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, bulletin.OutcomeSent, report.Outcomes[0].Status)
	assert.Equal(t, bulletin.OutcomeFailed, report.Outcomes[1].Status)
	assert.Equal(t, "550 mailbox unavailable", report.Outcomes[1].Error)
	assert.Error(t, report.Outcomes[1].Err)
	assert.Equal(t, bulletin.OutcomeSent, report.Outcomes[2].Status)

	for email, sent := range map[string]bool{"a@example.com": true, "b@example.com": false, "c@example.com": true} {
		s, err := f.subscribers.FindByEmail(ctx, email)
		require.NoError(t, err)
		if sent {
			require.NotNil(t, s.LastSentAt, email)
			assert.True(t, s.LastSentAt.Equal(f.now), email)
		} else {
			assert.Nil(t, s.LastSentAt, email)
		}
	}
}

func TestDispatch_PersonalizesByCategory(t *testing.T) {
	ctx := context.Background()

	var sent []*bulletin.Message
	f := newDispatchFixture(t, recordingGateway(&sent))
	f.addSubscriber(t, bulletin.Subscriber{Email: "sports@example.com", Name: "Sam", SubscribedCategories: []string{"sports"}})
	f.addSubscriber(t, bulletin.Subscriber{Email: "music@example.com", SubscribedCategories: []string{"music"}})
	f.addSubscriber(t, bulletin.Subscriber{Email: "all@example.com"})
	f.addArticle(t, bulletin.Article{ID: "1", Title: "Match day", Category: "sports"})
	f.addArticle(t, bulletin.Article{ID: "2", Title: "Open day", Category: "events", PublishedAt: f.now.Add(-2 * time.Hour)})

	plan, err := f.dispatcher.Plan(ctx, bulletin.Selector{})
	require.NoError(t, err)

	report, err := f.dispatcher.Dispatch(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, 1, report.Skipped)

	require.Len(t, sent, 2)
	assert.Equal(t, "sports@example.com", sent[0].To)
	assert.Equal(t, "Club News: Match day", sent[0].Subject)
	assert.Contains(t, sent[0].Text, "Sam")
	assert.NotContains(t, sent[0].Text, "Open day")
	assert.Equal(t, "all@example.com", sent[1].To)
	assert.Equal(t, "Club News newsletter: 2 new articles", sent[1].Subject)
	assert.Contains(t, sent[1].Text, "there")

	music, err := f.subscribers.FindByEmail(ctx, "music@example.com")
	require.NoError(t, err)
	assert.Nil(t, music.LastSentAt)

	sports, err := f.subscribers.FindByEmail(ctx, "sports@example.com")
	require.NoError(t, err)
	require.Len(t, sports.UnsubscribeToken, 64)
	assert.Contains(t, sent[0].HTML, "https://api.example.com/newsletter/unsubscribe/"+sports.UnsubscribeToken)
	assert.Contains(t, sent[0].Text, "https://api.example.com/newsletter/unsubscribe/"+sports.UnsubscribeToken)
}

func TestDispatch_KeepsUnsubscribeDuringBatch(t *testing.T) {
	ctx := context.Background()

	var sent []*bulletin.Message
	f := newDispatchFixture(t, recordingGateway(&sent))
	f.addSubscriber(t, bulletin.Subscriber{Email: "a@example.com"})
	f.addArticle(t, bulletin.Article{ID: "1", Title: "Match day", Category: "sports"})

	plan, err := f.dispatcher.Plan(ctx, bulletin.Selector{})
	require.NoError(t, err)

	s, err := f.subscribers.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	s.Status = bulletin.StatusUnsubscribed
	require.NoError(t, f.subscribers.Update(ctx, s))

	_, err = f.dispatcher.Dispatch(ctx, plan)
	require.NoError(t, err)

	s, err = f.subscribers.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, bulletin.StatusUnsubscribed, s.Status)
	assert.NotNil(t, s.LastSentAt)
}

func TestSend_TestMode(t *testing.T) {
	ctx := context.Background()

	var sent []*bulletin.Message
	articles := new(bmock.ArticleStore)
	articles.On("FindPublished", mock.Anything, bulletin.ArticleFilter{Categories: []string{"sports"}}).
		Return([]bulletin.Article{{ID: "1", Title: "Match day", Category: "sports"}}, nil)
	subscribers := new(bmock.SubscriberStore)

	d := NewDispatcher(subscribers, articles, newRenderer(), recordingGateway(&sent))
	report, err := d.Send(ctx, &bulletin.SendRequest{Categories: []string{"sports"}, TestEmail: "Editor@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, bulletin.RunTest, report.RunType)
	assert.Equal(t, bulletin.Summary{Sent: 1, Total: 1}, report.Summary())

	require.Len(t, sent, 1)
	assert.Equal(t, "editor@example.com", sent[0].To)
	assert.Equal(t, "[TEST] Club News: Match day", sent[0].Subject)
	assert.Contains(t, sent[0].HTML, "https://api.example.com/newsletter/unsubscribe/"+TestUnsubscribeToken)
	assert.Empty(t, subscribers.Calls)
}

func TestSend_InvalidTestEmail(t *testing.T) {
	d := NewDispatcher(new(bmock.SubscriberStore), new(bmock.ArticleStore), newRenderer(), new(bmock.MailGateway))
	_, err := d.Send(context.Background(), &bulletin.SendRequest{TestEmail: "nope"})
	assert.Equal(t, bulletin.ErrInvalid, bulletin.ErrorCode(err))
	assert.Equal(t, "Invalid email address.", bulletin.ErrorMessage(err))
}

func TestEndToEnd_AllCategoriesSubscriberGetsCategorySend(t *testing.T) {
	ctx := context.Background()

	var sent []*bulletin.Message
	gateway := recordingGateway(&sent)
	f := newDispatchFixture(t, gateway)
	f.addArticle(t, bulletin.Article{ID: "1", Title: "Match day", Category: "sports"})

	subscriptions := NewSubscriptionService(f.subscribers, token.NewIssuer(0), newRenderer(), gateway)
	subscriptions.Now = func() time.Time { return f.now }

	s, err := subscriptions.Subscribe(ctx, &bulletin.SubscriptionRequest{Email: "a@example.com", Categories: []string{}})
	require.NoError(t, err)
	_, err = subscriptions.Confirm(ctx, s.ConfirmationToken)
	require.NoError(t, err)

	report, err := f.dispatcher.Send(ctx, &bulletin.SendRequest{Categories: []string{"sports"}})
	require.NoError(t, err)
	assert.Equal(t, bulletin.RunManual, report.RunType)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 0, report.Errors)

	require.Len(t, sent, 2)
	assert.Equal(t, "a@example.com", sent[1].To)
	assert.Contains(t, sent[1].Text, "Match day")
}

func TestEndToEnd_NoContentDoesNotSend(t *testing.T) {
	ctx := context.Background()

	gateway := new(bmock.MailGateway)
	f := newDispatchFixture(t, gateway)
	f.addSubscriber(t, bulletin.Subscriber{Email: "a@example.com"})
	f.addArticle(t, bulletin.Article{ID: "draft", Title: "Draft", Category: "sports", Status: bulletin.ArticleDraft})

	_, err := f.dispatcher.Send(ctx, &bulletin.SendRequest{ArticleIDs: []string{}, Categories: []string{}})
	assert.ErrorIs(t, err, bulletin.ErrNoEligibleContent)
	gateway.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestRunScheduled(t *testing.T) {
	ctx := context.Background()

	var sent []*bulletin.Message
	f := newDispatchFixture(t, recordingGateway(&sent))
	f.addSubscriber(t, bulletin.Subscriber{Email: "daily@example.com", Preferences: bulletin.Preferences{Frequency: bulletin.FrequencyDaily}})
	f.addSubscriber(t, bulletin.Subscriber{Email: "weekly@example.com"})
	f.addSubscriber(t, bulletin.Subscriber{Email: "monthly@example.com", Preferences: bulletin.Preferences{Frequency: bulletin.FrequencyMonthly}})
	f.addArticle(t, bulletin.Article{ID: "new", Title: "New", Category: "sports", PublishedAt: monday.Add(-24 * time.Hour)})
	f.addArticle(t, bulletin.Article{ID: "old", Title: "Old", Category: "sports", PublishedAt: monday.Add(-8 * 24 * time.Hour)})

	tuesday := monday.Add(24 * time.Hour)
	report, err := f.dispatcher.RunScheduled(ctx, bulletin.RunWeekly, tuesday)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.Empty(t, sent)

	report, err = f.dispatcher.RunScheduled(ctx, bulletin.RunWeekly, monday)
	require.NoError(t, err)
	assert.Equal(t, bulletin.RunWeekly, report.RunType)
	assert.Equal(t, 1, report.Sent)
	require.Len(t, sent, 1)
	assert.Equal(t, "weekly@example.com", sent[0].To)
	assert.Equal(t, "Club News: New", sent[0].Subject)

	report, err = f.dispatcher.RunScheduled(ctx, bulletin.RunDaily, tuesday)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, "daily@example.com", sent[1].To)

	// The 4th of March is not the configured day of month.
	report, err = f.dispatcher.RunScheduled(ctx, bulletin.RunMonthly, monday)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.Len(t, sent, 2)

	_, err = f.dispatcher.RunScheduled(ctx, bulletin.RunDaily, monday.Add(30*24*time.Hour))
	assert.ErrorIs(t, err, bulletin.ErrNoEligibleContent)

	_, err = f.dispatcher.RunScheduled(ctx, "hourly", monday)
	assert.Equal(t, bulletin.ErrInvalid, bulletin.ErrorCode(err))
}

func TestRunScheduled_TestRun(t *testing.T) {
	ctx := context.Background()

	var sent []*bulletin.Message
	f := newDispatchFixture(t, recordingGateway(&sent))
	f.addArticle(t, bulletin.Article{ID: "1", Title: "Match day", Category: "sports"})

	_, err := f.dispatcher.RunScheduled(ctx, bulletin.RunTest, monday)
	assert.Equal(t, bulletin.ErrInvalid, bulletin.ErrorCode(err))

	f.dispatcher.TestEmail = "editor@example.com"
	report, err := f.dispatcher.RunScheduled(ctx, bulletin.RunTest, monday)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	require.Len(t, sent, 1)
	assert.Equal(t, "editor@example.com", sent[0].To)
}

func emails(subscribers []bulletin.Subscriber) []string {
	result := make([]string, 0, len(subscribers))
	for _, s := range subscribers {
		result = append(result, s.Email)
	}
	return result
}
