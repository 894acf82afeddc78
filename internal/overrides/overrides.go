// Package overrides holds the administrative per-channel directives that
// take precedence over event-derived day statuses.
package overrides

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Action string

const (
	None                  Action = ""
	ForceUp               Action = "FORCE_UP"
	ForceStandardCalendar Action = "FORCE_STANDARD_CALENDAR"
	ForceQualityHold      Action = "FORCE_QUALITY_HOLD"
	ForcePause            Action = "FORCE_PAUSE"
	Ignore                Action = "IGNORE"
	Bonus                 Action = "BONUS"
	// Restore is a directive only: it clears the channel's action.
	Restore Action = "RESTORE"
)

var ErrUnknownAction = errors.New("unknown override action")

// actionNames is matched after upper-casing and mapping '-' and ' ' to '_'.
// Longer spellings come first so a prefix never shadows a full name.
var actionNames = []struct {
	name   string
	action Action
}{
	{"FORCE_STANDARD_CALENDAR", ForceStandardCalendar},
	{"FORCE_QUALITY_HOLD", ForceQualityHold},
	{"SET_IGNORE", Ignore},
	{"FORCE_PAUSE", ForcePause},
	{"SET_BONUS", Bonus},
	{"FORCE_STD", ForceStandardCalendar},
	{"FORCE_UP", ForceUp},
	{"FORCE_PQ", ForceQualityHold},
	{"FORCE_PP", ForcePause},
	{"RESTORE", Restore},
	{"SET_UP", ForceUp},
	{"IGNORE", Ignore},
	{"BONUS", Bonus},
	{"NONE", Restore},
}

func ParseAction(s string) (Action, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if key == "" {
		return None, fmt.Errorf("%w: empty", ErrUnknownAction)
	}
	for _, entry := range actionNames {
		if key == entry.name {
			return entry.action, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Map is the override table: at most one action per channel id. The zero
// value is ready to use. Map is not safe for concurrent mutation; the engine
// copies it on write.
type Map struct {
	actions map[string]Action
}

func New() Map {
	return Map{actions: make(map[string]Action)}
}

func (m Map) Get(channelID string) Action {
	return m.actions[channelID]
}

// Set overwrites the channel's action. Restore and None delete it. Since a
// channel holds a single action, setting Ignore clears Bonus and vice versa.
func (m *Map) Set(channelID string, action Action) {
	if m.actions == nil {
		m.actions = make(map[string]Action)
	}
	if action == Restore || action == None {
		delete(m.actions, channelID)
		return
	}
	m.actions[channelID] = action
}

// ClearBonus drops every Bonus entry and leaves the others alone.
func (m *Map) ClearBonus() int {
	removed := 0
	for id, action := range m.actions {
		if action == Bonus {
			delete(m.actions, id)
			removed++
		}
	}
	return removed
}

func (m Map) Clone() Map {
	out := Map{actions: make(map[string]Action, len(m.actions))}
	for id, action := range m.actions {
		out.actions[id] = action
	}
	return out
}

func (m Map) Len() int {
	return len(m.actions)
}

type Entry struct {
	ChannelID string `json:"channel_id"`
	Action    Action `json:"action"`
}

// Entries lists the table ordered by channel id.
func (m Map) Entries(less func(a, b string) bool) []Entry {
	out := make([]Entry, 0, len(m.actions))
	for id, action := range m.actions {
		out = append(out, Entry{ChannelID: id, Action: action})
	}
	if less == nil {
		less = func(a, b string) bool { return a < b }
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].ChannelID, out[j].ChannelID) })
	return out
}
