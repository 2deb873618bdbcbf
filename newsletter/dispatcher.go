package newsletter

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	uuid "github.com/satori/go.uuid"

	"github.com/quantonganh/bulletin"
	"github.com/quantonganh/bulletin/metrics"
)

const (
	// MaxArticles caps a dispatch that names neither articles nor categories.
	MaxArticles = 10

	// ScheduledWindow is how far back scheduled runs look for articles.
	ScheduledWindow = 7 * 24 * time.Hour

	// TestUnsubscribeToken is embedded in test sends. It never resolves to a subscriber.
	TestUnsubscribeToken = "test"
)

// Dispatcher plans and sends newsletters
type Dispatcher struct {
	subscribers bulletin.SubscriberStore
	articles    bulletin.ArticleStore
	renderer    bulletin.Renderer
	gateway     bulletin.MailGateway
	validate    *validator.Validate

	Schedule  Schedule
	TestEmail string

	// Now returns the current time. It is replaced in tests.
	Now func() time.Time
}

// NewDispatcher returns new dispatcher
func NewDispatcher(subscribers bulletin.SubscriberStore, articles bulletin.ArticleStore, renderer bulletin.Renderer, gateway bulletin.MailGateway) *Dispatcher {
	return &Dispatcher{
		subscribers: subscribers,
		articles:    articles,
		renderer:    renderer,
		gateway:     gateway,
		validate:    newValidator(),
		Schedule:    DefaultSchedule,
		Now:         time.Now,
	}
}

// Plan selects the candidate articles and subscribers of a dispatch.
//
// Articles come from sel.ArticleIDs if set, else from sel.Categories, else the
// MaxArticles most recent. Subscribers are active ones; when sel names
// categories, a subscriber is kept if it follows all categories or any of them.
func (d *Dispatcher) Plan(ctx context.Context, sel bulletin.Selector) (*bulletin.Plan, error) {
	articles, err := d.findArticles(ctx, sel)
	if err != nil {
		return nil, err
	}

	active, err := d.subscribers.FindActive(ctx, sel.Frequency)
	if err != nil {
		return nil, err
	}

	subscribers := active
	if len(sel.Categories) > 0 {
		subscribers = make([]bulletin.Subscriber, 0, len(active))
		for _, s := range active {
			if s.FollowsAny(sel.Categories) {
				subscribers = append(subscribers, s)
			}
		}
	}
	if len(subscribers) == 0 {
		return nil, bulletin.ErrNoEligibleRecipients
	}

	runType := bulletin.RunManual
	if sel.Frequency != "" {
		runType = bulletin.RunType(sel.Frequency)
	}

	return &bulletin.Plan{
		RunType:     runType,
		Articles:    articles,
		Subscribers: subscribers,
	}, nil
}

func (d *Dispatcher) findArticles(ctx context.Context, sel bulletin.Selector) ([]bulletin.Article, error) {
	filter := bulletin.ArticleFilter{
		Since: sel.PublishedSince,
	}
	switch {
	case len(sel.ArticleIDs) > 0:
		filter.IDs = sel.ArticleIDs
	case len(sel.Categories) > 0:
		filter.Categories = sel.Categories
	default:
		filter.Limit = MaxArticles
	}

	articles, err := d.articles.FindPublished(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return nil, bulletin.ErrNoEligibleContent
	}

	return articles, nil
}

// Dispatch sends the plan's articles to each subscriber in turn.
// A failed delivery is recorded in the report and never stops the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, plan *bulletin.Plan) (*bulletin.DispatchReport, error) {
	report := d.newReport(plan.RunType)
	report.Total = len(plan.Subscribers)

	zerolog.Ctx(ctx).Info().
		Str("run_id", report.ID).
		Str("run_type", string(plan.RunType)).
		Int("articles", len(plan.Articles)).
		Int("subscribers", report.Total).
		Msg("Starting dispatch")

	for i := range plan.Subscribers {
		report.Record(d.deliver(ctx, &plan.Subscribers[i], plan.Articles, false))
	}

	d.finish(ctx, report)

	return report, nil
}

// Send runs an admin triggered dispatch. With a test email, exactly one
// message goes to that address and no subscriber is touched.
func (d *Dispatcher) Send(ctx context.Context, req *bulletin.SendRequest) (*bulletin.DispatchReport, error) {
	const op = "newsletter.Send"

	if err := d.validate.Struct(req); err != nil {
		return nil, validationError(op, err)
	}

	sel := bulletin.Selector{
		ArticleIDs: req.ArticleIDs,
		Categories: req.Categories,
	}
	if req.TestEmail != "" {
		return d.sendTest(ctx, sel, req.TestEmail)
	}

	plan, err := d.Plan(ctx, sel)
	if err != nil {
		return nil, err
	}

	return d.Dispatch(ctx, plan)
}

// RunScheduled runs one scheduled dispatch as of now.
// A run type that is not due returns an empty report.
func (d *Dispatcher) RunScheduled(ctx context.Context, runType bulletin.RunType, now time.Time) (*bulletin.DispatchReport, error) {
	since := now.Add(-ScheduledWindow)

	switch runType {
	case bulletin.RunTest:
		if d.TestEmail == "" {
			return nil, bulletin.Errorf(bulletin.ErrInvalid, "No test email is configured.")
		}
		return d.sendTest(ctx, bulletin.Selector{PublishedSince: since}, d.TestEmail)
	case bulletin.RunDaily, bulletin.RunWeekly, bulletin.RunMonthly:
	default:
		return nil, bulletin.Errorf(bulletin.ErrInvalid, "Unknown run type %q.", runType)
	}

	if !d.Schedule.Due(runType, now) {
		zerolog.Ctx(ctx).Debug().Str("run_type", string(runType)).Msg("Run type is not due")
		report := d.newReport(runType)
		report.FinishedAt = report.StartedAt
		return report, nil
	}

	plan, err := d.Plan(ctx, bulletin.Selector{
		Frequency:      bulletin.Frequency(runType),
		PublishedSince: since,
	})
	if err != nil {
		return nil, err
	}

	return d.Dispatch(ctx, plan)
}

func (d *Dispatcher) sendTest(ctx context.Context, sel bulletin.Selector, email string) (*bulletin.DispatchReport, error) {
	articles, err := d.findArticles(ctx, sel)
	if err != nil {
		return nil, err
	}

	s := &bulletin.Subscriber{
		Email:            bulletin.NormalizeEmail(email),
		Status:           bulletin.StatusActive,
		UnsubscribeToken: TestUnsubscribeToken,
	}

	report := d.newReport(bulletin.RunTest)
	report.Total = 1
	report.Record(d.deliver(ctx, s, articles, true))
	d.finish(ctx, report)

	return report, nil
}

// deliver sends the subscriber's share of articles. Test deliveries are not recorded on the subscriber.
func (d *Dispatcher) deliver(ctx context.Context, s *bulletin.Subscriber, articles []bulletin.Article, test bool) bulletin.Outcome {
	logger := zerolog.Ctx(ctx)

	personal := personalize(s, articles)
	outcome := bulletin.Outcome{
		Email:    s.Email,
		Articles: len(personal),
	}
	if len(personal) == 0 {
		outcome.Status = bulletin.OutcomeSkipped
		return outcome
	}

	msg, err := d.renderer.Newsletter(s, personal, test)
	if err == nil {
		err = d.gateway.Send(ctx, msg)
	}
	if err != nil {
		logger.Warn().Err(err).Str("email", s.Email).Msg("Failed to deliver newsletter")
		outcome.Status = bulletin.OutcomeFailed
		outcome.Err = err
		return outcome
	}

	outcome.Status = bulletin.OutcomeSent
	if !test {
		if err := d.markSent(ctx, s); err != nil {
			logger.Error().Err(err).Str("email", s.Email).Msg("Failed to record last sent time")
			sentry.CaptureException(err)
		}
	}

	return outcome
}

// markSent re-reads the subscriber so that changes made while the batch runs are kept.
func (d *Dispatcher) markSent(ctx context.Context, s *bulletin.Subscriber) error {
	current, err := d.subscribers.FindByEmail(ctx, s.Email)
	if err != nil {
		return err
	}

	now := d.Now()
	current.LastSentAt = &now
	if err := d.subscribers.Update(ctx, current); err != nil {
		return err
	}
	s.LastSentAt = current.LastSentAt

	return nil
}

// personalize keeps the articles of the subscriber's categories.
func personalize(s *bulletin.Subscriber, articles []bulletin.Article) []bulletin.Article {
	if s.WantsAllCategories() {
		return articles
	}

	result := make([]bulletin.Article, 0, len(articles))
	for _, a := range articles {
		if s.Follows(a.Category) {
			result = append(result, a)
		}
	}
	return result
}

func (d *Dispatcher) newReport(runType bulletin.RunType) *bulletin.DispatchReport {
	return &bulletin.DispatchReport{
		ID:        uuid.NewV4().String(),
		RunType:   runType,
		Outcomes:  []bulletin.Outcome{},
		StartedAt: d.Now(),
	}
}

func (d *Dispatcher) finish(ctx context.Context, report *bulletin.DispatchReport) {
	report.FinishedAt = d.Now()

	kind := metricKind(report.RunType)
	metrics.Dispatches.WithLabelValues(kind).Inc()
	metrics.Deliveries.WithLabelValues(kind, string(bulletin.OutcomeSent)).Add(float64(report.Sent))
	metrics.Deliveries.WithLabelValues(kind, string(bulletin.OutcomeFailed)).Add(float64(report.Errors))
	metrics.Deliveries.WithLabelValues(kind, string(bulletin.OutcomeSkipped)).Add(float64(report.Skipped))

	zerolog.Ctx(ctx).Info().
		Str("run_id", report.ID).
		Str("run_type", string(report.RunType)).
		Int("sent", report.Sent).
		Int("errors", report.Errors).
		Int("skipped", report.Skipped).
		Int("total", report.Total).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Dispatch finished")
}

func metricKind(runType bulletin.RunType) string {
	switch runType {
	case bulletin.RunManual:
		return metrics.KindManual
	case bulletin.RunTest:
		return metrics.KindTest
	default:
		return metrics.KindScheduled
	}
}
