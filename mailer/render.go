package mailer

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matcornic/hermes/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/quantonganh/bulletin"
	"github.com/quantonganh/bulletin/pkg/token"
)

const (
	excerptLength = 200
	genericName   = "there"
	testPrefix    = "[TEST] "
)

var (
	markdown  = goldmark.New(goldmark.WithExtensions(extension.GFM))
	stripTags = bluemonday.StripTagsPolicy()
)

// Renderer renders newsletter emails with hermes
type Renderer struct {
	productName string
	baseURL     string
	siteURL     string

	// Copyright is the footer of every email and page.
	Copyright string

	// ConfirmationTTL is how long a confirmation link stays valid.
	ConfirmationTTL time.Duration
}

// NewRenderer returns a renderer.
// baseURL is where this service is reachable, siteURL is the public website.
func NewRenderer(productName, siteURL, baseURL string) *Renderer {
	return &Renderer{
		productName:     productName,
		baseURL:         baseURL,
		siteURL:         siteURL,
		Copyright:       fmt.Sprintf("Copyright © %d %s. All rights reserved.", time.Now().Year(), productName),
		ConfirmationTTL: token.DefaultTTL,
	}
}

func (r *Renderer) generator() *hermes.Hermes {
	return &hermes.Hermes{
		Product: hermes.Product{
			Name:      r.productName,
			Link:      r.siteURL,
			Copyright: r.Copyright,
		},
	}
}

// Confirmation renders the double opt-in email
func (r *Renderer) Confirmation(s *bulletin.Subscriber) (*bulletin.Message, error) {
	email := hermes.Email{
		Body: hermes.Body{
			Name: displayName(s),
			Intros: []string{
				fmt.Sprintf("Welcome to %s", r.productName),
				"Please confirm your email address to start receiving our newsletter.",
			},
			Actions: []hermes.Action{
				{
					Instructions: fmt.Sprintf("This link expires in %s.", humanDuration(r.ConfirmationTTL)),
					Button: hermes.Button{
						Color: "#22BC66",
						Text:  "Confirm your subscription",
						Link:  bulletin.ConfirmationURL(r.baseURL, s.ConfirmationToken),
					},
				},
			},
			Outros: []string{
				"If you did not subscribe, you can safely ignore this email.",
			},
		},
	}

	return r.message(s.Email, "Confirm subscription", email)
}

// Newsletter renders a digest of articles personalized for s
func (r *Renderer) Newsletter(s *bulletin.Subscriber, articles []bulletin.Article, test bool) (*bulletin.Message, error) {
	if len(articles) == 0 {
		return nil, errors.New("no articles to render")
	}

	actions := make([]hermes.Action, 0, len(articles)+1)
	for _, a := range articles {
		text, err := Excerpt(a.Content, excerptLength)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to render article %s", a.ID)
		}
		actions = append(actions, hermes.Action{
			Instructions: fmt.Sprintf("%s. %s", a.Title, text),
			Button: hermes.Button{
				Color: "#3869D4",
				Text:  "Read more",
				Link:  bulletin.ArticleURL(r.siteURL, a.ID),
			},
		})
	}

	unsubscribeURL := bulletin.UnsubscribeURL(r.baseURL, s.UnsubscribeToken)
	actions = append(actions, hermes.Action{
		Instructions: "No longer want to receive these emails?",
		Button: hermes.Button{
			Color: "#999999",
			Text:  "Unsubscribe",
			Link:  unsubscribeURL,
		},
	})

	email := hermes.Email{
		Body: hermes.Body{
			Name: displayName(s),
			Intros: []string{
				fmt.Sprintf("Here is what's new at %s.", r.productName),
			},
			Actions: actions,
			Outros: []string{
				fmt.Sprintf("You can unsubscribe at any time: %s", unsubscribeURL),
			},
		},
	}

	subject := fmt.Sprintf("%s newsletter: %d new articles", r.productName, len(articles))
	if len(articles) == 1 {
		subject = fmt.Sprintf("%s: %s", r.productName, articles[0].Title)
	}
	if test {
		subject = testPrefix + subject
	}

	return r.message(s.Email, subject, email)
}

// Page renders a standalone acknowledgement page
func (r *Renderer) Page(title string, intros ...string) (string, error) {
	page, err := r.generator().GenerateHTML(hermes.Email{
		Body: hermes.Body{
			Title:  title,
			Intros: intros,
		},
	})
	if err != nil {
		return "", errors.Errorf("failed to generate HTML page: %v", err)
	}

	return page, nil
}

func (r *Renderer) message(to, subject string, email hermes.Email) (*bulletin.Message, error) {
	body, err := r.generator().GenerateHTML(email)
	if err != nil {
		return nil, errors.Errorf("failed to generate HTML email: %v", err)
	}

	text, err := r.generator().GeneratePlainText(email)
	if err != nil {
		return nil, errors.Errorf("failed to generate plain text email: %v", err)
	}

	return &bulletin.Message{
		To:      to,
		Subject: subject,
		Text:    text,
		HTML:    body,
	}, nil
}

// humanDuration formats whole hours as hours and anything shorter as minutes.
func humanDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	}
	if m := int(d.Round(time.Minute) / time.Minute); m != 1 {
		return fmt.Sprintf("%d minutes", m)
	}
	return "1 minute"
}

func displayName(s *bulletin.Subscriber) string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	return genericName
}

// Excerpt renders markdown content to plain text and cuts it to at most n runes.
func Excerpt(content string, n int) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", err
	}

	text := html.UnescapeString(stripTags.Sanitize(buf.String()))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text, nil
	}

	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n])) + "…", nil
}
