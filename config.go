package bulletin

import "time"

// Config represents the main config
type Config struct {
	DB struct {
		Type string // "bolt" or "sqlite"
		Path string
	}

	HTTP struct {
		Addr    string
		Domain  string
		BaseURL string
	}

	SMTP struct {
		Host     string
		Port     int
		Username string
		Password string
	}

	Newsletter struct {
		From    string
		Product struct {
			Name      string
			Link      string
			Copyright string
		}
		Confirmation struct {
			TTL time.Duration
		}
		Schedule struct {
			Cron     string
			Weekday  string
			MonthDay int
		}
		Pace struct {
			PerSecond float64
		}
		Test struct {
			Email string
		}
	}

	Admin struct {
		JWT struct {
			Secret string
		}
	}

	Sentry struct {
		DSN string
	}

	AMQP struct {
		URL   string
		Topic string
	}
}
