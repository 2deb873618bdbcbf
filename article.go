package bulletin

import (
	"context"
	"time"
)

// Article status
const (
	ArticleDraft     = "draft"
	ArticlePublished = "published"
	ArticleArchived  = "archived"
)

// Article is a news item of the website. The newsletter only reads them.
type Article struct {
	ID          string    `json:"id" storm:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Category    string    `json:"category" storm:"index"`
	Status      string    `json:"status" storm:"index"`
	PublishedAt time.Time `json:"publishedAt" storm:"index"`
}

// ArticleFilter selects published articles.
// IDs takes precedence over Categories; a zero Limit means no limit.
type ArticleFilter struct {
	IDs        []string
	Categories []string
	Since      time.Time
	Limit      int
}

// ArticleStore reads articles. FindPublished returns only published articles,
// newest first, and an empty slice when nothing matches.
type ArticleStore interface {
	FindPublished(ctx context.Context, filter ArticleFilter) ([]Article, error)
	Save(ctx context.Context, a *Article) error
}
