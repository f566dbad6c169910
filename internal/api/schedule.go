package api

import (
	"context"
	"net/url"
	"time"
)

// Lesson is one schedule entry for the current user.
type Lesson struct {
	ID        int64     `json:"id"`
	Subject   string    `json:"subject"`
	Teacher   string    `json:"teacher"`
	Classroom string    `json:"classroom"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// MySchedule lists the current user's lessons, optionally bounded by date
// (inclusive, "2006-01-02" format; empty strings mean unbounded).
func (c *Client) MySchedule(ctx context.Context, startDate, endDate string) ([]Lesson, error) {
	q := url.Values{}
	if startDate != "" {
		q.Set("start_date", startDate)
	}
	if endDate != "" {
		q.Set("end_date", endDate)
	}

	var lessons []Lesson
	err := c.get(ctx, "/api/schedule/my-schedule/", q, &lessons)
	return lessons, err
}
