package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantonganh/bulletin"
)

func openDB(t *testing.T) *DB {
	t.Helper()

	db := NewDB(filepath.Join(t.TempDir(), "bulletin.sqlite"))
	require.NoError(t, db.Open())
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.migrate())

	var n int
	require.NoError(t, db.sqlDB.QueryRow(`SELECT COUNT(*) FROM migrations`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSubscriberStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSubscriberStore(openDB(t))

	now := time.Now().UTC()
	expiresAt := now.Add(24 * time.Hour)
	s := &bulletin.Subscriber{
		Email:                 "Foo@Example.com",
		Name:                  "Foo",
		Status:                bulletin.StatusPending,
		SubscribedCategories:  []string{"sports", "events"},
		Preferences:           bulletin.Preferences{Frequency: bulletin.FrequencyDaily},
		ConfirmationToken:     "confirm-token",
		ConfirmationExpiresAt: &expiresAt,
		UnsubscribeToken:      "unsubscribe-token",
		Metadata:              bulletin.Metadata{IP: "10.0.0.1", UserAgent: "curl"},
	}
	require.NoError(t, store.Insert(ctx, s))
	require.NotZero(t, s.ID)

	found, err := store.FindByConfirmationToken(ctx, "confirm-token", now)
	require.NoError(t, err)
	assert.Equal(t, "foo@example.com", found.Email)
	assert.Equal(t, []string{"sports", "events"}, found.SubscribedCategories)
	assert.Equal(t, bulletin.FrequencyDaily, found.Preferences.Frequency)
	assert.Equal(t, "10.0.0.1", found.Metadata.IP)
	require.NotNil(t, found.ConfirmationExpiresAt)
	assert.WithinDuration(t, expiresAt, *found.ConfirmationExpiresAt, time.Millisecond)

	_, err = store.FindByConfirmationToken(ctx, "confirm-token", now.Add(25*time.Hour))
	assert.Equal(t, bulletin.ErrNotFound, bulletin.ErrorCode(err))

	found.Status = bulletin.StatusActive
	found.ConfirmationToken = ""
	found.ConfirmationExpiresAt = nil
	require.NoError(t, store.Update(ctx, found))

	_, err = store.FindByConfirmationToken(ctx, "confirm-token", now)
	assert.Equal(t, bulletin.ErrNotFound, bulletin.ErrorCode(err))

	found, err = store.FindByUnsubscribeToken(ctx, "unsubscribe-token")
	require.NoError(t, err)
	assert.Equal(t, bulletin.StatusActive, found.Status)
	assert.Empty(t, found.ConfirmationToken)
	assert.Nil(t, found.ConfirmationExpiresAt)

	err = store.Insert(ctx, &bulletin.Subscriber{Email: "foo@example.com", Status: bulletin.StatusPending, UnsubscribeToken: "other"})
	assert.Equal(t, bulletin.ErrConflict, bulletin.ErrorCode(err))
}

func TestSubscriberStore_FindActiveAndList(t *testing.T) {
	ctx := context.Background()
	store := NewSubscriberStore(openDB(t))

	for _, s := range []*bulletin.Subscriber{
		{Email: "a@example.com", Status: bulletin.StatusActive, UnsubscribeToken: "a"},
		{Email: "b@example.com", Status: bulletin.StatusActive, UnsubscribeToken: "b", Preferences: bulletin.Preferences{Frequency: bulletin.FrequencyMonthly}},
		{Email: "c@example.com", Status: bulletin.StatusUnsubscribed, UnsubscribeToken: "c"},
	} {
		require.NoError(t, store.Insert(ctx, s))
	}

	weekly, err := store.FindActive(ctx, bulletin.FrequencyWeekly)
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.Equal(t, "a@example.com", weekly[0].Email)
	assert.Nil(t, weekly[0].SubscribedCategories)

	all, err := store.FindActive(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	page, total, err := store.List(ctx, bulletin.ListOptions{SortBy: "email", SortOrder: "asc", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "a@example.com", page[0].Email)

	page, total, err = store.List(ctx, bulletin.ListOptions{Status: bulletin.StatusUnsubscribed})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, "c@example.com", page[0].Email)
}

func TestArticleStore_FindPublished(t *testing.T) {
	ctx := context.Background()
	store := NewArticleStore(openDB(t))

	now := time.Now().UTC()
	for _, a := range []*bulletin.Article{
		{ID: "1", Title: "Old", Category: "sports", Status: bulletin.ArticlePublished, PublishedAt: now.Add(-10 * 24 * time.Hour)},
		{ID: "2", Title: "New", Category: "sports", Status: bulletin.ArticlePublished, PublishedAt: now.Add(-time.Hour)},
		{ID: "3", Title: "Talk", Category: "events", Status: bulletin.ArticlePublished, PublishedAt: now.Add(-2 * time.Hour)},
		{ID: "4", Title: "Draft", Category: "sports", Status: bulletin.ArticleDraft, PublishedAt: now},
	} {
		require.NoError(t, store.Save(ctx, a))
	}

	articles, err := store.FindPublished(ctx, bulletin.ArticleFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "1"}, ids(articles))

	articles, err = store.FindPublished(ctx, bulletin.ArticleFilter{IDs: []string{"4", "1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(articles))

	articles, err = store.FindPublished(ctx, bulletin.ArticleFilter{Categories: []string{"sports"}, Since: now.Add(-7 * 24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(articles))

	articles, err = store.FindPublished(ctx, bulletin.ArticleFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(articles))

	require.NoError(t, store.Save(ctx, &bulletin.Article{ID: "2", Title: "New", Category: "sports", Status: bulletin.ArticleArchived, PublishedAt: now}))
	articles, err = store.FindPublished(ctx, bulletin.ArticleFilter{Categories: []string{"sports"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(articles))
}

func ids(articles []bulletin.Article) []string {
	result := make([]string, 0, len(articles))
	for _, a := range articles {
		result = append(result, a.ID)
	}
	return result
}
