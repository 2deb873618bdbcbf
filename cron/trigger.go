package cron

import (
	"context"
	"encoding/json"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/quantonganh/bulletin"
)

// DefaultSpec fires every day at 08:00.
const DefaultSpec = "0 8 * * *"

// Trigger runs scheduled dispatches, either periodically or on queue messages.
type Trigger struct {
	dispatcher bulletin.DispatchService
	cron       *cronlib.Cron
	logger     zerolog.Logger

	// Now returns the current time. It is replaced in tests.
	Now func() time.Time
}

// NewTrigger returns new trigger
func NewTrigger(dispatcher bulletin.DispatchService, logger zerolog.Logger) *Trigger {
	l := cronLogger{logger: logger}
	return &Trigger{
		dispatcher: dispatcher,
		cron: cronlib.New(
			cronlib.WithLogger(l),
			cronlib.WithChain(
				cronlib.Recover(l),
				cronlib.SkipIfStillRunning(l),
			),
		),
		logger: logger,
		Now:    time.Now,
	}
}

// Schedule runs every scheduled run type on each tick of spec
func (t *Trigger) Schedule(spec string) error {
	if spec == "" {
		spec = DefaultSpec
	}

	if _, err := t.cron.AddFunc(spec, func() {
		_ = t.RunAll(context.Background(), t.Now())
	}); err != nil {
		return errors.Wrapf(err, "invalid cron spec %q", spec)
	}

	return nil
}

// Start starts the scheduler in its own goroutine
func (t *Trigger) Start() {
	t.cron.Start()
}

// Stop stops the scheduler and waits for a running dispatch to finish
func (t *Trigger) Stop() {
	<-t.cron.Stop().Done()
}

// RunAll runs daily, weekly and monthly dispatches in turn.
// It returns the first failure after trying all of them.
func (t *Trigger) RunAll(ctx context.Context, now time.Time) error {
	var firstErr error
	for _, runType := range bulletin.ScheduledRunTypes {
		if _, err := t.Run(ctx, runType, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run runs one scheduled dispatch. A run with no eligible content or
// recipients returns a nil report and a nil error.
func (t *Trigger) Run(ctx context.Context, runType bulletin.RunType, now time.Time) (*bulletin.DispatchReport, error) {
	logger := t.logger.With().Str("run_type", string(runType)).Logger()
	ctx = logger.WithContext(ctx)

	report, err := t.dispatcher.RunScheduled(ctx, runType, now)
	if err != nil {
		if bulletin.NoEligible(err) {
			logger.Info().Msg(bulletin.ErrorMessage(err))
			return nil, nil
		}
		logger.Error().Err(err).Msg("Scheduled dispatch failed")
		sentry.CaptureException(err)
		return nil, err
	}

	if report.Total > 0 {
		logger.Info().
			Int("sent", report.Sent).
			Int("errors", report.Errors).
			Int("skipped", report.Skipped).
			Msg("Scheduled dispatch done")
	}

	return report, nil
}

// Listen runs the dispatch named by each message published to topic.
// It returns when ctx is done or the queue closes.
func (t *Trigger) Listen(ctx context.Context, queue bulletin.QueueService, topic string) error {
	if topic == "" {
		topic = bulletin.DispatchTopic
	}

	messages, err := queue.Consume(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "failed to consume %s", topic)
	}
	t.logger.Info().Str("topic", topic).Msg("Listening for dispatch commands")

	for {
		select {
		case <-ctx.Done():
			return nil
		case body, ok := <-messages:
			if !ok {
				return nil
			}
			t.handle(ctx, body)
		}
	}
}

func (t *Trigger) handle(ctx context.Context, body []byte) {
	var cmd bulletin.DispatchCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		t.logger.Warn().Err(err).Bytes("body", body).Msg("Ignoring malformed dispatch command")
		return
	}

	runType, err := bulletin.ParseRunType(cmd.RunType)
	if err != nil {
		t.logger.Warn().Str("run_type", cmd.RunType).Msg("Ignoring unknown run type")
		return
	}

	_, _ = t.Run(ctx, runType, t.Now())
}

// cronLogger adapts zerolog to the cron.Logger interface
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Interface("values", keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Interface("values", keysAndValues).Msg(msg)
}
