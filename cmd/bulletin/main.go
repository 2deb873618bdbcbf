package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/quantonganh/bulletin"
	"github.com/quantonganh/bulletin/bolt"
	"github.com/quantonganh/bulletin/cron"
	"github.com/quantonganh/bulletin/http"
	"github.com/quantonganh/bulletin/mailer"
	"github.com/quantonganh/bulletin/metrics"
	"github.com/quantonganh/bulletin/newsletter"
	"github.com/quantonganh/bulletin/pkg/token"
	"github.com/quantonganh/bulletin/rabbitmq"
	"github.com/quantonganh/bulletin/sqlite"
)

func main() {
	dispatch := flag.String("dispatch", "", "run one dispatch of the given type (daily, weekly, monthly or test) and exit")
	publish := flag.Bool("publish", false, "with -dispatch, publish the run to the message queue instead of running it here")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	config, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn: config.Sentry.DSN,
	}); err != nil {
		logger.Fatal().Err(err).Msg("sentry.Init")
	}
	defer sentry.Flush(2 * time.Second)

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()

	if *dispatch != "" {
		code := runOnce(ctx, config, logger, *dispatch, *publish)
		sentry.Flush(2 * time.Second)
		os.Exit(code)
	}

	metrics.Init()

	a := newApp(config, logger)

	if err := a.Run(ctx); err != nil {
		_ = a.Close()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	<-ctx.Done()

	if err := a.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*bulletin.Config, error) {
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("bulletin")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("db.type", "bolt")
	viper.SetDefault("db.path", "bulletin.db")
	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("http.domain", "")
	viper.SetDefault("http.baseurl", "")
	viper.SetDefault("smtp.host", "localhost")
	viper.SetDefault("smtp.port", 25)
	viper.SetDefault("smtp.username", "")
	viper.SetDefault("smtp.password", "")
	viper.SetDefault("newsletter.from", "")
	viper.SetDefault("newsletter.product.name", "Bulletin")
	viper.SetDefault("newsletter.product.link", "")
	viper.SetDefault("newsletter.product.copyright", "")
	viper.SetDefault("newsletter.confirmation.ttl", token.DefaultTTL)
	viper.SetDefault("newsletter.schedule.cron", cron.DefaultSpec)
	viper.SetDefault("newsletter.schedule.weekday", "monday")
	viper.SetDefault("newsletter.schedule.monthday", 1)
	viper.SetDefault("newsletter.pace.persecond", 0)
	viper.SetDefault("newsletter.test.email", "")
	viper.SetDefault("admin.jwt.secret", "")
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("amqp.url", "")
	viper.SetDefault("amqp.topic", bulletin.DispatchTopic)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "viper.ReadInConfig")
		}
	}

	var config *bulletin.Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "viper.Unmarshal")
	}

	return config, nil
}

// openStores opens the configured database and returns its stores
func openStores(config *bulletin.Config) (bulletin.Database, bulletin.SubscriberStore, bulletin.ArticleStore, error) {
	switch config.DB.Type {
	case "", "bolt":
		db := bolt.NewDB(config.DB.Path)
		if err := db.Open(); err != nil {
			return nil, nil, nil, err
		}
		return db, bolt.NewSubscriberStore(db), bolt.NewArticleStore(db), nil
	case "sqlite":
		db := sqlite.NewDB(config.DB.Path)
		if err := db.Open(); err != nil {
			return nil, nil, nil, err
		}
		return db, sqlite.NewSubscriberStore(db), sqlite.NewArticleStore(db), nil
	default:
		return nil, nil, nil, errors.Errorf("unknown database type %q", config.DB.Type)
	}
}

func newDispatcher(config *bulletin.Config, subscribers bulletin.SubscriberStore, articles bulletin.ArticleStore, renderer bulletin.Renderer, gateway bulletin.MailGateway) (*newsletter.Dispatcher, error) {
	schedule, err := newsletter.ParseSchedule(config.Newsletter.Schedule.Weekday, config.Newsletter.Schedule.MonthDay)
	if err != nil {
		return nil, err
	}

	d := newsletter.NewDispatcher(subscribers, articles, renderer, gateway)
	d.Schedule = schedule
	d.TestEmail = config.Newsletter.Test.Email

	return d, nil
}

func newRenderer(config *bulletin.Config, serverURL string) *mailer.Renderer {
	baseURL := config.HTTP.BaseURL
	if baseURL == "" {
		baseURL = serverURL
	}
	siteURL := config.Newsletter.Product.Link
	if siteURL == "" {
		siteURL = baseURL
	}

	r := mailer.NewRenderer(config.Newsletter.Product.Name, siteURL, baseURL)
	if config.Newsletter.Product.Copyright != "" {
		r.Copyright = config.Newsletter.Product.Copyright
	}
	if config.Newsletter.Confirmation.TTL > 0 {
		r.ConfirmationTTL = config.Newsletter.Confirmation.TTL
	}
	return r
}

// publicURL returns the absolute URL that email links point to when no
// server is listening: http.baseurl, else https on http.domain.
func publicURL(config *bulletin.Config) (string, error) {
	if config.HTTP.BaseURL != "" {
		return strings.TrimRight(config.HTTP.BaseURL, "/"), nil
	}
	if config.HTTP.Domain != "" {
		return "https://" + config.HTTP.Domain, nil
	}
	return "", errors.New("http.baseurl or http.domain must be set to build email links")
}

// runOnce runs or publishes a single dispatch and returns the exit code.
// Finding nothing to send is not a failure.
func runOnce(ctx context.Context, config *bulletin.Config, logger zerolog.Logger, kind string, publish bool) int {
	runType, err := bulletin.ParseRunType(kind)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid run type")
		return 2
	}

	if publish {
		if err := publishRun(ctx, config, runType); err != nil {
			logger.Error().Err(err).Msg("Failed to publish dispatch")
			return 1
		}
		logger.Info().Str("run_type", string(runType)).Msg("Dispatch published")
		return 0
	}

	serverURL, err := publicURL(config)
	if err != nil {
		logger.Error().Err(err).Msg("Cannot build links")
		return 1
	}

	db, subscribers, articles, err := openStores(config)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open database")
		return 1
	}
	defer db.Close()

	dispatcher, err := newDispatcher(config, subscribers, articles, newRenderer(config, serverURL), mailer.NewSMTPGateway(config))
	if err != nil {
		logger.Error().Err(err).Msg("Invalid schedule")
		return 1
	}

	report, err := cron.NewTrigger(dispatcher, logger).Run(ctx, runType, time.Now())
	if err != nil {
		return 1
	}
	if report != nil {
		_ = json.NewEncoder(os.Stdout).Encode(report.Summary())
		if report.Errors > 0 {
			return 1
		}
	}

	return 0
}

func publishRun(ctx context.Context, config *bulletin.Config, runType bulletin.RunType) error {
	if config.AMQP.URL == "" {
		return errors.New("amqp.url is not configured")
	}

	queue, err := rabbitmq.NewQueueService(config.AMQP.URL)
	if err != nil {
		return err
	}
	defer queue.Close()

	body, err := json.Marshal(bulletin.DispatchCommand{RunType: string(runType)})
	if err != nil {
		return errors.Wrap(err, "json.Marshal")
	}

	return queue.Publish(ctx, config.AMQP.Topic, body)
}

type app struct {
	config     *bulletin.Config
	logger     zerolog.Logger
	db         bulletin.Database
	httpServer *http.Server
	trigger    *cron.Trigger
	queue      *rabbitmq.QueueService
}

func newApp(config *bulletin.Config, logger zerolog.Logger) *app {
	httpServer := http.NewServer(logger)
	httpServer.Addr = config.HTTP.Addr
	httpServer.Domain = config.HTTP.Domain
	httpServer.JWTSecret = config.Admin.JWT.Secret

	return &app{
		config:     config,
		logger:     logger,
		httpServer: httpServer,
	}
}

func (a *app) Run(ctx context.Context) error {
	db, subscribers, articles, err := openStores(a.config)
	if err != nil {
		return err
	}
	a.db = db

	if err := a.httpServer.Open(); err != nil {
		return err
	}

	renderer := newRenderer(a.config, a.httpServer.URL())
	gateway := mailer.NewSMTPGateway(a.config)

	dispatcher, err := newDispatcher(a.config, subscribers, articles, renderer, gateway)
	if err != nil {
		return err
	}

	a.httpServer.SubscriptionService = newsletter.NewSubscriptionService(subscribers, token.NewIssuer(a.config.Newsletter.Confirmation.TTL), renderer, gateway)
	a.httpServer.DispatchService = dispatcher
	a.httpServer.Pages = renderer

	a.trigger = cron.NewTrigger(dispatcher, a.logger)
	if err := a.trigger.Schedule(a.config.Newsletter.Schedule.Cron); err != nil {
		return err
	}
	a.trigger.Start()

	if a.config.AMQP.URL != "" {
		a.queue, err = rabbitmq.NewQueueService(a.config.AMQP.URL)
		if err != nil {
			return err
		}
		go func() {
			if err := a.trigger.Listen(ctx, a.queue, a.config.AMQP.Topic); err != nil {
				a.logger.Error().Err(err).Msg("Dispatch listener stopped")
				sentry.CaptureException(err)
			}
		}()
	}

	a.logger.Info().Str("url", a.httpServer.URL()).Str("db", a.config.DB.Type).Msg("Server started")

	return nil
}

func (a *app) Close() error {
	if a.trigger != nil {
		a.trigger.Stop()
	}

	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			return err
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Close(); err != nil {
			return err
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return err
		}
	}

	return nil
}
