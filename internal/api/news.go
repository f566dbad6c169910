package api

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// NewsCategory is a news rubric.
type NewsCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Article is a published news article.
type Article struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	Content      string       `json:"content"`
	Category     NewsCategory `json:"category"`
	Author       User         `json:"author"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CommentCount int          `json:"comment_count"`
	LikesCount   int          `json:"likes_count"`
	IsLiked      bool         `json:"is_liked_by_current_user"`
}

// Comment is one node of an article's reply tree. The backend serves a flat
// list with Parent references; the news store assembles the tree.
type Comment struct {
	ID         int64     `json:"id"`
	Article    int64     `json:"article"`
	Author     User      `json:"author"`
	Content    string    `json:"content"`
	Parent     *int64    `json:"parent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LikesCount int       `json:"likes_count"`
	IsLiked    bool      `json:"is_liked_by_current_user"`

	// Replies is populated client-side, ordered by creation time ascending.
	Replies []*Comment `json:"replies,omitempty"`
}

// CommentRequest is the add-comment request body.
type CommentRequest struct {
	Article int64  `json:"article"`
	Content string `json:"content"`
	Parent  *int64 `json:"parent,omitempty"`
}

// ArticleFilter narrows an article listing.
type ArticleFilter struct {
	CategorySlug string
	Search       string
	Ordering     string
}

// Articles lists published articles.
func (c *Client) Articles(ctx context.Context, filter ArticleFilter) ([]Article, error) {
	q := url.Values{}
	if filter.CategorySlug != "" {
		q.Set("category__slug", filter.CategorySlug)
	}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.Ordering != "" {
		q.Set("ordering", filter.Ordering)
	}

	var articles []Article
	err := c.get(ctx, "/api/news/articles/", q, &articles)
	return articles, err
}

// Article fetches one article by id.
func (c *Client) Article(ctx context.Context, id int64) (Article, error) {
	var a Article
	err := c.get(ctx, fmt.Sprintf("/api/news/articles/%d/", id), nil, &a)
	return a, err
}

// ArticleComments lists the comments of an article as a flat list.
func (c *Client) ArticleComments(ctx context.Context, articleID int64) ([]Comment, error) {
	q := url.Values{}
	q.Set("article", fmt.Sprintf("%d", articleID))

	var comments []Comment
	err := c.get(ctx, "/api/news/comments/", q, &comments)
	return comments, err
}

// AddComment creates a comment (optionally a reply) and returns it.
func (c *Client) AddComment(ctx context.Context, req CommentRequest) (Comment, error) {
	var created Comment
	err := c.post(ctx, "/api/news/comments/", req, &created)
	return created, err
}

// LikeArticle likes an article and returns its updated representation.
func (c *Client) LikeArticle(ctx context.Context, id int64) (Article, error) {
	var a Article
	err := c.post(ctx, fmt.Sprintf("/api/news/articles/%d/like/", id), nil, &a)
	return a, err
}

// UnlikeArticle removes an article like. A 404 means the like was already
// gone; callers treat that as success.
func (c *Client) UnlikeArticle(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/api/news/articles/%d/like/", id))
}

// LikeComment likes a comment and returns its updated representation.
func (c *Client) LikeComment(ctx context.Context, id int64) (Comment, error) {
	var cm Comment
	err := c.post(ctx, fmt.Sprintf("/api/news/comments/%d/like/", id), nil, &cm)
	return cm, err
}

// UnlikeComment removes a comment like; 404 means already unliked.
func (c *Client) UnlikeComment(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/api/news/comments/%d/like/", id))
}
