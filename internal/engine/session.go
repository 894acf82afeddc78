package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"oeetrack/internal/calendar"
	"oeetrack/internal/ingest"
	"oeetrack/internal/model"
	"oeetrack/internal/overrides"
)

var ErrNoSession = errors.New("no data in memory")

// Session is one ingested month: its events plus the override table. It is
// immutable once published; mutators return a new version and leave the
// receiver untouched, so a reader holding a *Session always sees a stable
// input set.
type Session struct {
	ID        uuid.UUID
	Version   int64
	Month     calendar.Month
	Location  *time.Location
	Source    string
	Events    []model.UsageEvent
	Channels  []string
	Overrides overrides.Map
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewSession(month calendar.Month, loc *time.Location, source string, batch ingest.Batch, now time.Time) *Session {
	if loc == nil {
		loc = time.UTC
	}
	return &Session{
		ID:        uuid.New(),
		Version:   1,
		Month:     month,
		Location:  loc,
		Source:    source,
		Events:    batch.Events,
		Channels:  batch.Channels,
		Overrides: overrides.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) next(now time.Time) *Session {
	out := *s
	out.Version++
	out.Overrides = s.Overrides.Clone()
	out.UpdatedAt = now
	return &out
}

func (s *Session) WithOverride(channelID string, action overrides.Action, now time.Time) *Session {
	out := s.next(now)
	out.Overrides.Set(channelID, action)
	return out
}

// WithoutBonus drops every Bonus override and reports how many were removed.
func (s *Session) WithoutBonus(now time.Time) (*Session, int) {
	out := s.next(now)
	removed := out.Overrides.ClearBonus()
	return out, removed
}

type SessionInfo struct {
	ID        string            `json:"id"`
	Version   int64             `json:"version"`
	Year      int               `json:"year"`
	Month     int               `json:"month"`
	Days      int               `json:"days_in_month"`
	Source    string            `json:"source,omitempty"`
	Events    int               `json:"events"`
	Channels  []string          `json:"channels"`
	Overrides []overrides.Entry `json:"overrides"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (s *Session) Info() SessionInfo {
	channels := s.Channels
	if channels == nil {
		channels = []string{}
	}
	return SessionInfo{
		ID:        s.ID.String(),
		Version:   s.Version,
		Year:      s.Month.Year,
		Month:     int(s.Month.Month),
		Days:      s.Month.Days(),
		Source:    s.Source,
		Events:    len(s.Events),
		Channels:  channels,
		Overrides: s.Overrides.Entries(ingest.ChannelLess),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
