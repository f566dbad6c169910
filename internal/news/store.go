// Package news holds the article list, the article in view with its comment
// tree, and the optimistic like toggles.
package news

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"campus/internal/api"
	"campus/internal/optimistic"
)

// Store is the news state container.
type Store struct {
	log *slog.Logger
	api *api.Client

	mu             sync.Mutex
	articles       []api.Article
	current        *api.Article
	comments       []*api.Comment // roots, newest first; replies oldest first
	loadingList    bool
	loadingArticle bool
	errList        string
	errArticle     string

	articleLikes optimistic.Gate
	commentLikes optimistic.Gate
}

// New wires the store.
func New(log *slog.Logger, client *api.Client) *Store {
	return &Store{log: log, api: client}
}

// FetchArticles loads the article listing for the given filter.
func (s *Store) FetchArticles(ctx context.Context, filter api.ArticleFilter) error {
	s.mu.Lock()
	if s.loadingList {
		s.mu.Unlock()
		return nil
	}
	s.loadingList = true
	s.errList = ""
	s.mu.Unlock()

	articles, err := s.api.Articles(ctx, filter)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingList = false
	if err != nil {
		s.errList = api.Normalize(err)
		return err
	}
	s.articles = articles
	return nil
}

// FetchArticle loads one article and its comment tree.
func (s *Store) FetchArticle(ctx context.Context, id int64) error {
	s.mu.Lock()
	if s.loadingArticle {
		s.mu.Unlock()
		return nil
	}
	s.loadingArticle = true
	s.errArticle = ""
	s.current = nil
	s.comments = nil
	s.mu.Unlock()

	article, err := s.api.Article(ctx, id)
	if err != nil {
		s.mu.Lock()
		s.loadingArticle = false
		s.errArticle = api.Normalize(err)
		s.mu.Unlock()
		return err
	}

	flat, err := s.api.ArticleComments(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingArticle = false
	s.current = &article
	if err != nil {
		// The article itself is usable; surface the comments failure only.
		s.errArticle = api.Normalize(err)
		return err
	}
	s.comments = buildTree(flat)
	return nil
}

// AddComment creates a comment or reply and refreshes the tree.
func (s *Store) AddComment(ctx context.Context, content string, parent *int64) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil
	}
	articleID := s.current.ID
	s.mu.Unlock()

	if _, err := s.api.AddComment(ctx, api.CommentRequest{Article: articleID, Content: content, Parent: parent}); err != nil {
		s.mu.Lock()
		s.errArticle = api.Normalize(err)
		s.mu.Unlock()
		return err
	}

	flat, err := s.api.ArticleComments(ctx, articleID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errArticle = api.Normalize(err)
		return err
	}
	s.comments = buildTree(flat)
	if s.current != nil && s.current.ID == articleID {
		s.current.CommentCount = len(flat)
	}
	if idx := s.indexOfArticleLocked(articleID); idx >= 0 {
		s.articles[idx].CommentCount = len(flat)
	}
	return nil
}

// ToggleArticleLike flips the like on an article, optimistically. A second
// toggle while the first is in flight is dropped.
func (s *Store) ToggleArticleLike(ctx context.Context, id int64) error {
	s.mu.Lock()
	liked, ok := s.articleLikedLocked(id)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if liked {
		return optimistic.Run(ctx, &s.articleLikes, id, optimistic.Op{
			Apply:           func() { s.setArticleLiked(id, false) },
			Call:            func(ctx context.Context) error { return s.api.UnlikeArticle(ctx, id) },
			SwallowNotFound: true,
			Rollback:        func() { s.setArticleLiked(id, true) },
		})
	}

	var updated api.Article
	return optimistic.Run(ctx, &s.articleLikes, id, optimistic.Op{
		Apply: func() { s.setArticleLiked(id, true) },
		Call: func(ctx context.Context) error {
			var err error
			updated, err = s.api.LikeArticle(ctx, id)
			return err
		},
		Reconcile: func() { s.replaceArticle(updated) },
		Rollback:  func() { s.setArticleLiked(id, false) },
	})
}

// ToggleCommentLike flips the like on a comment in the current tree.
func (s *Store) ToggleCommentLike(ctx context.Context, id int64) error {
	s.mu.Lock()
	node := findComment(s.comments, id)
	if node == nil {
		s.mu.Unlock()
		return nil
	}
	liked := node.IsLiked
	s.mu.Unlock()

	if liked {
		return optimistic.Run(ctx, &s.commentLikes, id, optimistic.Op{
			Apply:           func() { s.setCommentLiked(id, false) },
			Call:            func(ctx context.Context) error { return s.api.UnlikeComment(ctx, id) },
			SwallowNotFound: true,
			Rollback:        func() { s.setCommentLiked(id, true) },
		})
	}

	var updated api.Comment
	return optimistic.Run(ctx, &s.commentLikes, id, optimistic.Op{
		Apply: func() { s.setCommentLiked(id, true) },
		Call: func(ctx context.Context) error {
			var err error
			updated, err = s.api.LikeComment(ctx, id)
			return err
		},
		Reconcile: func() { s.reconcileComment(updated) },
		Rollback:  func() { s.setCommentLiked(id, false) },
	})
}

// Articles returns a copy of the article listing.
func (s *Store) Articles() []api.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Article, len(s.articles))
	copy(out, s.articles)
	return out
}

// Current returns a copy of the article in view, or nil.
func (s *Store) Current() *api.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	out := *s.current
	return &out
}

// Comments returns the root comments of the article in view. Callers treat
// the tree as read-only.
func (s *Store) Comments() []*api.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*api.Comment, len(s.comments))
	copy(out, s.comments)
	return out
}

// ListError returns the last listing error message, or "".
func (s *Store) ListError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errList
}

// ArticleError returns the last article-view error message, or "".
func (s *Store) ArticleError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errArticle
}

// Reset drops all state; used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles = nil
	s.current = nil
	s.comments = nil
	s.errList = ""
	s.errArticle = ""
}

func (s *Store) articleLikedLocked(id int64) (liked, ok bool) {
	if s.current != nil && s.current.ID == id {
		return s.current.IsLiked, true
	}
	if idx := s.indexOfArticleLocked(id); idx >= 0 {
		return s.articles[idx].IsLiked, true
	}
	return false, false
}

// setArticleLiked adjusts the like flag and counter in both the listing and
// the article in view.
func (s *Store) setArticleLiked(id int64, liked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.ID == id {
		applyLike(&s.current.IsLiked, &s.current.LikesCount, liked)
	}
	if idx := s.indexOfArticleLocked(id); idx >= 0 {
		applyLike(&s.articles[idx].IsLiked, &s.articles[idx].LikesCount, liked)
	}
}

func (s *Store) replaceArticle(a api.Article) {
	if a.ID == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.ID == a.ID {
		a.CommentCount = s.current.CommentCount
		*s.current = a
	}
	if idx := s.indexOfArticleLocked(a.ID); idx >= 0 {
		s.articles[idx] = a
	}
}

func (s *Store) setCommentLiked(id int64, liked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node := findComment(s.comments, id); node != nil {
		applyLike(&node.IsLiked, &node.LikesCount, liked)
	}
}

func (s *Store) reconcileComment(c api.Comment) {
	if c.ID == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if node := findComment(s.comments, c.ID); node != nil {
		node.IsLiked = c.IsLiked
		node.LikesCount = c.LikesCount
	}
}

func (s *Store) indexOfArticleLocked(id int64) int {
	for i := range s.articles {
		if s.articles[i].ID == id {
			return i
		}
	}
	return -1
}

func applyLike(isLiked *bool, count *int, liked bool) {
	if *isLiked == liked {
		return
	}
	*isLiked = liked
	if liked {
		*count++
	} else if *count > 0 {
		*count--
	}
}

// buildTree assembles the reply tree from the backend's flat list. Roots are
// ordered newest first, replies oldest first. A reply whose parent is missing
// is promoted to a root rather than dropped.
func buildTree(flat []api.Comment) []*api.Comment {
	nodes := make(map[int64]*api.Comment, len(flat))
	order := make([]*api.Comment, 0, len(flat))
	for i := range flat {
		c := flat[i]
		c.Replies = nil
		nodes[c.ID] = &c
		order = append(order, &c)
	}

	var roots []*api.Comment
	for _, c := range order {
		if c.Parent != nil {
			if parent, ok := nodes[*c.Parent]; ok {
				parent.Replies = append(parent.Replies, c)
				continue
			}
		}
		roots = append(roots, c)
	}

	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].CreatedAt.After(roots[j].CreatedAt)
	})
	for _, c := range order {
		sort.SliceStable(c.Replies, func(i, j int) bool {
			return c.Replies[i].CreatedAt.Before(c.Replies[j].CreatedAt)
		})
	}
	return roots
}

// findComment walks the tree depth-first for a comment id.
func findComment(roots []*api.Comment, id int64) *api.Comment {
	for _, c := range roots {
		if c.ID == id {
			return c
		}
		if found := findComment(c.Replies, id); found != nil {
			return found
		}
	}
	return nil
}
