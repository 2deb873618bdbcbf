package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantonganh/bulletin"
	"github.com/quantonganh/bulletin/pkg/token"
)

func TestOpenStores(t *testing.T) {
	for _, dbType := range []string{"bolt", "sqlite"} {
		t.Run(dbType, func(t *testing.T) {
			config := &bulletin.Config{}
			config.DB.Type = dbType
			config.DB.Path = filepath.Join(t.TempDir(), "bulletin.db")

			db, subscribers, articles, err := openStores(config)
			require.NoError(t, err)
			defer db.Close()

			assert.NotNil(t, subscribers)
			assert.NotNil(t, articles)
		})
	}

	config := &bulletin.Config{}
	config.DB.Type = "postgres"
	_, _, _, err := openStores(config)
	assert.Error(t, err)
}

func TestNewDispatcher(t *testing.T) {
	config := &bulletin.Config{}
	config.Newsletter.Schedule.Weekday = "friday"
	config.Newsletter.Test.Email = "editor@example.com"

	d, err := newDispatcher(config, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "editor@example.com", d.TestEmail)
	assert.Equal(t, 1, d.Schedule.MonthDay)

	config.Newsletter.Schedule.Weekday = "someday"
	_, err = newDispatcher(config, nil, nil, nil, nil)
	assert.Equal(t, bulletin.ErrInvalid, bulletin.ErrorCode(err))
}

func TestNewRenderer(t *testing.T) {
	config := &bulletin.Config{}
	config.Newsletter.Product.Name = "Bulletin"

	r := newRenderer(config, "http://localhost:8080")
	page, err := r.Page("Done", "All set.")
	require.NoError(t, err)
	assert.Contains(t, page, "All set.")
	assert.Equal(t, token.DefaultTTL, r.ConfirmationTTL)

	config.Newsletter.Product.Copyright = "© Bulletin Ltd"
	config.Newsletter.Confirmation.TTL = 2 * time.Hour
	r = newRenderer(config, "http://localhost:8080")
	assert.Equal(t, "© Bulletin Ltd", r.Copyright)
	assert.Equal(t, 2*time.Hour, r.ConfirmationTTL)

	msg, err := r.Confirmation(&bulletin.Subscriber{Email: "a@example.com", ConfirmationToken: "abc"})
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "http://localhost:8080/newsletter/confirm/abc")
	assert.Contains(t, msg.Text, "This link expires in 2 hours.")
}

func TestPublicURL(t *testing.T) {
	config := &bulletin.Config{}
	_, err := publicURL(config)
	assert.Error(t, err)

	config.HTTP.Domain = "news.example.com"
	u, err := publicURL(config)
	require.NoError(t, err)
	assert.Equal(t, "https://news.example.com", u)

	config.HTTP.BaseURL = "https://api.example.com/"
	u, err = publicURL(config)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", u)
}

func TestRunOnce_RequiresAbsoluteLinks(t *testing.T) {
	config := &bulletin.Config{}
	config.DB.Path = filepath.Join(t.TempDir(), "bulletin.db")

	code := runOnce(context.Background(), config, zerolog.Nop(), "weekly", false)
	assert.Equal(t, 1, code)
	assert.NoFileExists(t, config.DB.Path)

	assert.Equal(t, 2, runOnce(context.Background(), config, zerolog.Nop(), "hourly", false))
}
