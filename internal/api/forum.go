package api

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// ForumCategory groups topics.
type ForumCategory struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	TopicCount  int    `json:"topic_count"`
}

// Topic is a forum thread. Listings serve a trimmed shape; the detail view
// carries the first post and counters.
type Topic struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Category   string    `json:"category"`
	Author     User      `json:"author"`
	CreatedAt  time.Time `json:"created_at"`
	PostCount  int       `json:"post_count"`
	LastPostAt time.Time `json:"last_post_at"`
	IsPinned   bool      `json:"is_pinned"`
	IsClosed   bool      `json:"is_closed"`
}

// Post is one node of a topic's reply tree.
type Post struct {
	ID         int64     `json:"id"`
	Topic      int64     `json:"topic"`
	Author     User      `json:"author"`
	Content    string    `json:"content"`
	Parent     *int64    `json:"parent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LikesCount int       `json:"likes_count"`
	IsLiked    bool      `json:"is_liked_by_current_user"`

	// Replies is populated client-side, ordered by creation time ascending.
	Replies []*Post `json:"replies,omitempty"`
}

// TopicRequest creates a topic with its opening post.
type TopicRequest struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

// PostRequest creates a post (optionally a reply).
type PostRequest struct {
	Topic   int64  `json:"topic"`
	Content string `json:"content"`
	Parent  *int64 `json:"parent,omitempty"`
}

// ForumCategories lists all forum categories.
func (c *Client) ForumCategories(ctx context.Context) ([]ForumCategory, error) {
	var cats []ForumCategory
	err := c.get(ctx, "/api/forum/categories/", nil, &cats)
	return cats, err
}

// ForumCategory fetches one category by slug.
func (c *Client) ForumCategory(ctx context.Context, slug string) (ForumCategory, error) {
	var cat ForumCategory
	err := c.get(ctx, "/api/forum/categories/"+url.PathEscape(slug)+"/", nil, &cat)
	return cat, err
}

// Topics lists the topics of a category.
func (c *Client) Topics(ctx context.Context, categorySlug, search, ordering string) ([]Topic, error) {
	q := url.Values{}
	q.Set("category__slug", categorySlug)
	if search != "" {
		q.Set("search", search)
	}
	if ordering != "" {
		q.Set("ordering", ordering)
	}

	var topics []Topic
	err := c.get(ctx, "/api/forum/topics/", q, &topics)
	return topics, err
}

// Topic fetches one topic by id.
func (c *Client) Topic(ctx context.Context, id int64) (Topic, error) {
	var t Topic
	err := c.get(ctx, fmt.Sprintf("/api/forum/topics/%d/", id), nil, &t)
	return t, err
}

// TopicPosts lists a topic's posts as a flat list.
func (c *Client) TopicPosts(ctx context.Context, topicID int64) ([]Post, error) {
	q := url.Values{}
	q.Set("topic", fmt.Sprintf("%d", topicID))

	var posts []Post
	err := c.get(ctx, "/api/forum/posts/", q, &posts)
	return posts, err
}

// CreateTopic creates a topic and returns it.
func (c *Client) CreateTopic(ctx context.Context, req TopicRequest) (Topic, error) {
	var t Topic
	err := c.post(ctx, "/api/forum/topics/", req, &t)
	return t, err
}

// CreatePost creates a post and returns it.
func (c *Client) CreatePost(ctx context.Context, req PostRequest) (Post, error) {
	var p Post
	err := c.post(ctx, "/api/forum/posts/", req, &p)
	return p, err
}

// LikePost likes a post and returns its updated representation.
func (c *Client) LikePost(ctx context.Context, id int64) (Post, error) {
	var p Post
	err := c.post(ctx, fmt.Sprintf("/api/forum/posts/%d/like/", id), nil, &p)
	return p, err
}

// UnlikePost removes a post like; 404 means already unliked.
func (c *Client) UnlikePost(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/api/forum/posts/%d/like/", id))
}
