// Package schedule holds the current user's timetable.
package schedule

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"campus/internal/api"
)

// Store is the schedule state container.
type Store struct {
	log *slog.Logger
	api *api.Client

	mu      sync.Mutex
	lessons []api.Lesson // start time ascending
	loading bool
	errMsg  string
}

// New wires the store.
func New(log *slog.Logger, client *api.Client) *Store {
	return &Store{log: log, api: client}
}

// Fetch loads the lessons for the given inclusive date range ("2006-01-02";
// empty strings mean unbounded).
func (s *Store) Fetch(ctx context.Context, startDate, endDate string) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()

	lessons, err := s.api.MySchedule(ctx, startDate, endDate)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.errMsg = api.Normalize(err)
		return err
	}
	s.lessons = lessons
	sort.SliceStable(s.lessons, func(i, j int) bool {
		return s.lessons[i].StartTime.Before(s.lessons[j].StartTime)
	})
	return nil
}

// Lessons returns a copy of the fetched lessons, earliest first.
func (s *Store) Lessons() []api.Lesson {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Lesson, len(s.lessons))
	copy(out, s.lessons)
	return out
}

// GroupedByDay buckets the lessons per calendar day ("2006-01-02" keys, in
// the lesson's own location); lessons within a day keep their time order.
func (s *Store) GroupedByDay() map[string][]api.Lesson {
	s.mu.Lock()
	defer s.mu.Unlock()
	grouped := make(map[string][]api.Lesson)
	for _, lesson := range s.lessons {
		day := lesson.StartTime.Format("2006-01-02")
		grouped[day] = append(grouped[day], lesson)
	}
	return grouped
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
	s.lessons = nil
	s.errMsg = ""
}
