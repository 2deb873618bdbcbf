package mailer

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/quantonganh/bulletin"
)

// Sender delivers gomail messages. *gomail.Dialer implements it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Gateway sends messages over SMTP
type Gateway struct {
	from    string
	sender  Sender
	limiter *rate.Limiter
}

// NewGateway returns a gateway sending from the given address through sender.
// perSecond > 0 paces deliveries to at most that many messages per second.
func NewGateway(from string, sender Sender, perSecond float64) *Gateway {
	g := &Gateway{
		from:   from,
		sender: sender,
	}
	if perSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}

	return g
}

// NewSMTPGateway returns a gateway that dials the SMTP server described by config
func NewSMTPGateway(config *bulletin.Config) *Gateway {
	d := gomail.NewDialer(config.SMTP.Host, config.SMTP.Port, config.SMTP.Username, config.SMTP.Password)
	return NewGateway(config.Newsletter.From, d, config.Newsletter.Pace.PerSecond)
}

// Send sends m, waiting for the pacing limiter first
func (g *Gateway) Send(ctx context.Context, m *bulletin.Message) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "limiter.Wait")
		}
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", g.from)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/plain", m.Text)
	if m.HTML != "" {
		msg.AddAlternative("text/html", m.HTML)
	}

	if err := g.sender.DialAndSend(msg); err != nil {
		return errors.Errorf("failed to send mail to %s: %v", m.To, err)
	}

	return nil
}
