package schedule

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus/internal/api"
	"campus/internal/metrics"
)

type tokens struct{}

func (tokens) AccessToken() string         { return "tok" }
func (tokens) RefreshToken() string        { return "ref" }
func (tokens) SetTokens(_, _ string) error { return nil }

func TestFetchAndGroupByDay(t *testing.T) {
	day1 := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 9, 2, 10, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/schedule/my-schedule/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025-09-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2025-09-07", r.URL.Query().Get("end_date"))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode([]api.Lesson{
			{ID: 2, Subject: "Physics", StartTime: day1.Add(2 * time.Hour), EndTime: day1.Add(3 * time.Hour)},
			{ID: 3, Subject: "History", StartTime: day2, EndTime: day2.Add(time.Hour)},
			{ID: 1, Subject: "Math", StartTime: day1, EndTime: day1.Add(time.Hour)},
		}))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	log := slog.New(slog.DiscardHandler)
	client := api.NewClient(api.Config{
		BaseURL: srv.URL,
		Tokens:  tokens{},
		Logger:  log,
		Metrics: metrics.New(),
		Timeout: 5 * time.Second,
	})
	s := New(log, client)

	require.NoError(t, s.Fetch(context.Background(), "2025-09-01", "2025-09-07"))

	lessons := s.Lessons()
	require.Len(t, lessons, 3)
	assert.Equal(t, int64(1), lessons[0].ID, "earliest first")
	assert.Equal(t, int64(2), lessons[1].ID)
	assert.Equal(t, int64(3), lessons[2].ID)

	grouped := s.GroupedByDay()
	require.Len(t, grouped, 2)
	require.Len(t, grouped["2025-09-01"], 2)
	assert.Equal(t, "Math", grouped["2025-09-01"][0].Subject)
	assert.Equal(t, "Physics", grouped["2025-09-01"][1].Subject)
	require.Len(t, grouped["2025-09-02"], 1)
}
