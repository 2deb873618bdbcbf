package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantonganh/bulletin"
)

type articleStore struct {
	db *DB
}

// NewArticleStore returns an article store backed by SQLite
func NewArticleStore(db *DB) bulletin.ArticleStore {
	return &articleStore{
		db: db,
	}
}

// FindPublished finds published articles matching filter, newest first
func (as *articleStore) FindPublished(ctx context.Context, filter bulletin.ArticleFilter) ([]bulletin.Article, error) {
	const op = "sqlite.FindPublished"

	where := []string{"status = ?"}
	args := []interface{}{bulletin.ArticlePublished}
	switch {
	case len(filter.IDs) > 0:
		where = append(where, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	case len(filter.Categories) > 0:
		where = append(where, "category IN ("+placeholders(len(filter.Categories))+")")
		for _, c := range filter.Categories {
			args = append(args, c)
		}
	}
	if !filter.Since.IsZero() {
		where = append(where, "published_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := "SELECT id, title, content, category, status, published_at FROM articles WHERE " +
		strings.Join(where, " AND ") + " ORDER BY published_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := as.db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: fmt.Errorf("failed to query articles: %w", err)}
	}
	defer rows.Close()

	articles := make([]bulletin.Article, 0)
	for rows.Next() {
		var a bulletin.Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Content, &a.Category, &a.Status, &a.PublishedAt); err != nil {
			return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: fmt.Errorf("failed to scan row: %w", err)}
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: err}
	}

	return articles, nil
}

// Save inserts or replaces an article
func (as *articleStore) Save(ctx context.Context, a *bulletin.Article) error {
	const op = "sqlite.SaveArticle"

	if a.ID == "" {
		return &bulletin.Error{Code: bulletin.ErrInvalid, Op: op, Message: "Article has no ID."}
	}

	_, err := as.db.sqlDB.ExecContext(ctx, `INSERT INTO articles (id, title, content, category, status, published_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			category = excluded.category,
			status = excluded.status,
			published_at = excluded.published_at`,
		a.ID, a.Title, a.Content, a.Category, a.Status, a.PublishedAt.UTC())
	if err != nil {
		return &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: fmt.Errorf("failed to save: %w", err)}
	}

	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
