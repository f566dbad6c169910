// Package forum holds the category and topic listings, the topic in view
// with its post tree, and the optimistic post-like toggle.
package forum

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"campus/internal/api"
	"campus/internal/optimistic"
)

// Store is the forum state container.
type Store struct {
	log *slog.Logger
	api *api.Client

	mu              sync.Mutex
	categories      []api.ForumCategory
	currentCategory *api.ForumCategory
	topics          []api.Topic
	currentTopic    *api.Topic
	posts           []*api.Post // roots, oldest first; replies oldest first
	loading         bool
	errMsg          string

	postLikes optimistic.Gate
}

// New wires the store.
func New(log *slog.Logger, client *api.Client) *Store {
	return &Store{log: log, api: client}
}

// FetchCategories loads all categories.
func (s *Store) FetchCategories(ctx context.Context) error {
	cats, err := s.api.ForumCategories(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errMsg = api.Normalize(err)
		return err
	}
	s.categories = cats
	s.errMsg = ""
	return nil
}

// FetchTopics loads one category and its topics, pinned first then by last
// activity.
func (s *Store) FetchTopics(ctx context.Context, categorySlug, search, ordering string) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()

	cat, err := s.api.ForumCategory(ctx, categorySlug)
	if err != nil {
		s.mu.Lock()
		s.loading = false
		s.errMsg = api.Normalize(err)
		s.mu.Unlock()
		return err
	}

	topics, err := s.api.Topics(ctx, categorySlug, search, ordering)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.errMsg = api.Normalize(err)
		return err
	}
	s.currentCategory = &cat
	s.topics = topics
	sortTopics(s.topics)
	return nil
}

// FetchTopic loads one topic and its post tree.
func (s *Store) FetchTopic(ctx context.Context, id int64) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.errMsg = ""
	s.currentTopic = nil
	s.posts = nil
	s.mu.Unlock()

	topic, err := s.api.Topic(ctx, id)
	if err != nil {
		s.mu.Lock()
		s.loading = false
		s.errMsg = api.Normalize(err)
		s.mu.Unlock()
		return err
	}

	flat, err := s.api.TopicPosts(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	s.currentTopic = &topic
	if err != nil {
		s.errMsg = api.Normalize(err)
		return err
	}
	s.posts = buildTree(flat)
	return nil
}

// CreateTopic opens a thread and puts it into the listing.
func (s *Store) CreateTopic(ctx context.Context, req api.TopicRequest) (api.Topic, error) {
	topic, err := s.api.CreateTopic(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errMsg = api.Normalize(err)
		return api.Topic{}, err
	}
	s.errMsg = ""
	if s.currentCategory != nil && s.currentCategory.Slug == req.Category {
		s.topics = append(s.topics, topic)
		sortTopics(s.topics)
		s.currentCategory.TopicCount++
	}
	return topic, nil
}

// CreatePost replies to the topic in view and refreshes the tree.
func (s *Store) CreatePost(ctx context.Context, content string, parent *int64) error {
	s.mu.Lock()
	if s.currentTopic == nil {
		s.mu.Unlock()
		return nil
	}
	topicID := s.currentTopic.ID
	s.mu.Unlock()

	if _, err := s.api.CreatePost(ctx, api.PostRequest{Topic: topicID, Content: content, Parent: parent}); err != nil {
		s.mu.Lock()
		s.errMsg = api.Normalize(err)
		s.mu.Unlock()
		return err
	}

	flat, err := s.api.TopicPosts(ctx, topicID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errMsg = api.Normalize(err)
		return err
	}
	s.posts = buildTree(flat)
	if s.currentTopic != nil && s.currentTopic.ID == topicID {
		s.currentTopic.PostCount = len(flat)
	}
	return nil
}

// TogglePostLike flips the like on a post, optimistically.
func (s *Store) TogglePostLike(ctx context.Context, id int64) error {
	s.mu.Lock()
	node := findPost(s.posts, id)
	if node == nil {
		s.mu.Unlock()
		return nil
	}
	liked := node.IsLiked
	s.mu.Unlock()

	if liked {
		return optimistic.Run(ctx, &s.postLikes, id, optimistic.Op{
			Apply:           func() { s.setPostLiked(id, false) },
			Call:            func(ctx context.Context) error { return s.api.UnlikePost(ctx, id) },
			SwallowNotFound: true,
			Rollback:        func() { s.setPostLiked(id, true) },
		})
	}

	var updated api.Post
	return optimistic.Run(ctx, &s.postLikes, id, optimistic.Op{
		Apply: func() { s.setPostLiked(id, true) },
		Call: func(ctx context.Context) error {
			var err error
			updated, err = s.api.LikePost(ctx, id)
			return err
		},
		Reconcile: func() { s.reconcilePost(updated) },
		Rollback:  func() { s.setPostLiked(id, false) },
	})
}

// Categories returns a copy of the category list.
func (s *Store) Categories() []api.ForumCategory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.ForumCategory, len(s.categories))
	copy(out, s.categories)
	return out
}

// Topics returns a copy of the topic listing.
func (s *Store) Topics() []api.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Topic, len(s.topics))
	copy(out, s.topics)
	return out
}

// CurrentTopic returns a copy of the topic in view, or nil.
func (s *Store) CurrentTopic() *api.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTopic == nil {
		return nil
	}
	out := *s.currentTopic
	return &out
}

// Posts returns the root posts of the topic in view. Callers treat the tree
// as read-only.
func (s *Store) Posts() []*api.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*api.Post, len(s.posts))
	copy(out, s.posts)
	return out
}

// Err returns the last error message, or "".
func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Reset drops all state; used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = nil
	s.currentCategory = nil
	s.topics = nil
	s.currentTopic = nil
	s.posts = nil
	s.errMsg = ""
}

func (s *Store) setPostLiked(id int64, liked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node := findPost(s.posts, id)
	if node == nil || node.IsLiked == liked {
		return
	}
	node.IsLiked = liked
	if liked {
		node.LikesCount++
	} else if node.LikesCount > 0 {
		node.LikesCount--
	}
}

func (s *Store) reconcilePost(p api.Post) {
	if p.ID == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if node := findPost(s.posts, p.ID); node != nil {
		node.IsLiked = p.IsLiked
		node.LikesCount = p.LikesCount
	}
}

// sortTopics orders pinned topics first, then by last post time descending.
func sortTopics(topics []api.Topic) {
	sort.SliceStable(topics, func(i, j int) bool {
		if topics[i].IsPinned != topics[j].IsPinned {
			return topics[i].IsPinned
		}
		return topics[i].LastPostAt.After(topics[j].LastPostAt)
	})
}

// buildTree assembles the reply tree from the backend's flat list. Roots and
// replies are both ordered oldest first; an orphaned reply is promoted to a
// root.
func buildTree(flat []api.Post) []*api.Post {
	nodes := make(map[int64]*api.Post, len(flat))
	order := make([]*api.Post, 0, len(flat))
	for i := range flat {
		p := flat[i]
		p.Replies = nil
		nodes[p.ID] = &p
		order = append(order, &p)
	}

	var roots []*api.Post
	for _, p := range order {
		if p.Parent != nil {
			if parent, ok := nodes[*p.Parent]; ok {
				parent.Replies = append(parent.Replies, p)
				continue
			}
		}
		roots = append(roots, p)
	}

	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].CreatedAt.Before(roots[j].CreatedAt)
	})
	for _, p := range order {
		sort.SliceStable(p.Replies, func(i, j int) bool {
			return p.Replies[i].CreatedAt.Before(p.Replies[j].CreatedAt)
		})
	}
	return roots
}

func findPost(roots []*api.Post, id int64) *api.Post {
	for _, p := range roots {
		if p.ID == id {
			return p
		}
		if found := findPost(p.Replies, id); found != nil {
			return found
		}
	}
	return nil
}
