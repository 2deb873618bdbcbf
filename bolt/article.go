package bolt

import (
	"context"
	"sort"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/q"
	"github.com/go-errors/errors"

	"github.com/quantonganh/bulletin"
)

type articleStore struct {
	db *DB
}

// NewArticleStore returns an article store backed by storm
func NewArticleStore(db *DB) bulletin.ArticleStore {
	return &articleStore{
		db: db,
	}
}

// FindPublished finds published articles matching filter, newest first
func (as *articleStore) FindPublished(ctx context.Context, filter bulletin.ArticleFilter) ([]bulletin.Article, error) {
	matchers := []q.Matcher{q.Eq("Status", bulletin.ArticlePublished)}
	switch {
	case len(filter.IDs) > 0:
		matchers = append(matchers, q.In("ID", filter.IDs))
	case len(filter.Categories) > 0:
		matchers = append(matchers, q.In("Category", filter.Categories))
	}

	var articles []bulletin.Article
	if err := as.db.stormDB.Select(matchers...).Find(&articles); err != nil && !errors.Is(err, storm.ErrNotFound) {
		return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: "bolt.FindPublished", Err: errors.Errorf("failed to find articles: %v", err)}
	}

	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})

	result := make([]bulletin.Article, 0, len(articles))
	for _, a := range articles {
		if !filter.Since.IsZero() && a.PublishedAt.Before(filter.Since) {
			continue
		}
		result = append(result, a)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}

	return result, nil
}

// Save inserts or replaces an article
func (as *articleStore) Save(ctx context.Context, a *bulletin.Article) error {
	if a.ID == "" {
		return &bulletin.Error{Code: bulletin.ErrInvalid, Op: "bolt.SaveArticle", Message: "Article has no ID."}
	}

	if err := as.db.stormDB.Save(a); err != nil {
		return &bulletin.Error{Code: bulletin.ErrInternal, Op: "bolt.SaveArticle", Err: errors.Errorf("failed to save: %v", err)}
	}

	return nil
}
