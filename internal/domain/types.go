package domain

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPosted    Status = "posted"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusPosted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusPosted, StatusFailed:
		return true
	}
	return false
}

// Post is a queued social post. ScheduledTime is kept as the persisted
// ISO-8601 text so that an unparsable value loaded from a snapshot can be
// failed at processing time instead of blocking the load.
type Post struct {
	ID            string     `json:"id"`
	Content       string     `json:"content"`
	ScheduledTime string     `json:"scheduledTime"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	PostedAt      *time.Time `json:"postedAt,omitempty"`
	PublishedID   string     `json:"publishedId,omitempty"`
	Error         string     `json:"error,omitempty"`
	Simulated     bool       `json:"simulated,omitempty"`
}

// DueAt parses ScheduledTime.
func (p Post) DueAt() (time.Time, error) {
	return ParseTime(p.ScheduledTime)
}

// MarkPosted moves a scheduled post to Posted using a successful result.
func (p *Post) MarkPosted(res DeliveryResult) error {
	if p.Status != StatusScheduled {
		return fmt.Errorf("post %s: cannot move from %s to %s", p.ID, p.Status, StatusPosted)
	}
	at := res.PostedAt
	p.Status = StatusPosted
	p.PostedAt = &at
	p.PublishedID = res.PublishedID
	p.Simulated = res.Simulated
	return nil
}

// MarkFailed moves a scheduled post to Failed with the given reason.
func (p *Post) MarkFailed(reason string) error {
	if p.Status != StatusScheduled {
		return fmt.Errorf("post %s: cannot move from %s to %s", p.ID, p.Status, StatusFailed)
	}
	p.Status = StatusFailed
	p.Error = reason
	return nil
}

// DeliveryResult is what a publisher reports for a single publish call.
type DeliveryResult struct {
	Success     bool      `json:"success"`
	PublishedID string    `json:"publishedId,omitempty"`
	Content     string    `json:"content,omitempty"`
	PostedAt    time.Time `json:"postedAt"`
	Simulated   bool      `json:"simulated"`
	Error       string    `json:"error,omitempty"`
}
