package model

import (
	"fmt"
	"time"
)

// ReferenceChannelID identifies the synthetic baseline channel. It always
// sorts before the physical channels.
const ReferenceChannelID = "iDevice"

type DayStatus string

const (
	StatusUP    DayStatus = "UP"
	StatusSD    DayStatus = "SD"
	StatusPP    DayStatus = "PP"
	StatusPQ    DayStatus = "PQ"
	StatusBlank DayStatus = "BLANK"
)

type UsageEvent struct {
	ChannelID string    `json:"channel_id"`
	Start     time.Time `json:"start"`
	Stop      time.Time `json:"stop"`
}

type Counts struct {
	UP    int `json:"UP"`
	SD    int `json:"SD"`
	PP    int `json:"PP"`
	PQ    int `json:"PQ"`
	Blank int `json:"BLANK"`
}

func (c *Counts) Add(s DayStatus) {
	switch s {
	case StatusUP:
		c.UP++
	case StatusSD:
		c.SD++
	case StatusPP:
		c.PP++
	case StatusPQ:
		c.PQ++
	default:
		c.Blank++
	}
}

func (c Counts) Get(s DayStatus) int {
	switch s {
	case StatusUP:
		return c.UP
	case StatusSD:
		return c.SD
	case StatusPP:
		return c.PP
	case StatusPQ:
		return c.PQ
	default:
		return c.Blank
	}
}

func (c Counts) Total() int {
	return c.UP + c.SD + c.PP + c.PQ + c.Blank
}

func Tally(statuses []DayStatus) Counts {
	var c Counts
	for _, s := range statuses {
		c.Add(s)
	}
	return c
}

type ChannelStats struct {
	Availability float64 `json:"availability"`
	PctUP        float64 `json:"pct_up"`
	PctPQ        float64 `json:"pct_pq"`
}

type ChannelRecord struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	DailyStatuses []DayStatus  `json:"days"`
	Counts        Counts       `json:"counts"`
	Override      string       `json:"override,omitempty"`
	Ignored       bool         `json:"is_ignored"`
	Bonus         bool         `json:"is_bonus"`
	Extra         bool         `json:"is_extra"`
	Included      bool         `json:"is_included"`
	Rank          int          `json:"rank,omitempty"`
	Stats         ChannelStats `json:"stats"`
}

// DisplayName renders a canonical channel id the way reports show it.
func DisplayName(id string) string {
	if id == ReferenceChannelID {
		return id
	}
	var n int
	if _, err := fmt.Sscanf(id, "%d", &n); err != nil {
		return id
	}
	return fmt.Sprintf("Circuit%03d", n)
}

// RawAverages are the unrounded means fed to the availability formula.
type RawAverages struct {
	UP float64
	SD float64
	PP float64
	PQ float64
}

type Medias struct {
	UP                 int         `json:"up_days"`
	SD                 int         `json:"sd_days"`
	PP                 int         `json:"pp_days"`
	PQ                 int         `json:"pq_days"`
	DaysInMonth        int         `json:"days_in_month"`
	ChannelsConsidered int         `json:"channels_considered"`
	Raw                RawAverages `json:"-" bson:"-"`
}

type KPI struct {
	Availability float64 `json:"availability" bson:"availability"`
	Performance  float64 `json:"performance" bson:"performance"`
	Quality      float64 `json:"quality" bson:"quality"`
	OEE          float64 `json:"oee" bson:"oee"`
}

type KPIInputs struct {
	Year           int     `json:"year"`
	Month          int     `json:"month"`
	TestsRequested float64 `json:"tests_requested"`
	TestsExecuted  float64 `json:"tests_executed"`
	ReportsEmitted float64 `json:"reports_emitted"`
	ReportsOnTime  float64 `json:"reports_on_time"`
	TotalCapacity  int     `json:"total_capacity"`
	// FixedSlotLimit is optional: nil selects the configured limit, while an
	// explicit 0 demotes every channel in use.
	FixedSlotLimit *int `json:"fixed_slot_limit,omitempty"`
}

type MonthlyAggregate struct {
	Year     int             `json:"year"`
	Month    int             `json:"month"`
	Details  []ChannelRecord `json:"details"`
	Medias   Medias          `json:"medias"`
	KPI      KPI             `json:"kpi"`
	Extras   []string        `json:"extras"`
	Capacity CapacityPolicy  `json:"capacity"`
}

type CapacityPolicy struct {
	TotalCapacity  int `json:"total_capacity"`
	FixedSlotLimit int `json:"fixed_slot_limit"`
}

type ExtrasReport struct {
	FixedSlotLimit int      `json:"fixed_slot_limit"`
	Candidates     int      `json:"candidates"`
	Count          int      `json:"count"`
	SDDays         int      `json:"sd_days"`
	PPDays         int      `json:"pp_days"`
	IDs            []string `json:"ids"`
}

type SnapshotRow struct {
	ID     string      `json:"id" bson:"id"`
	Days   []DayStatus `json:"days" bson:"days"`
	Status string      `json:"status" bson:"status"`
}

type Snapshot struct {
	Key     string        `json:"key" bson:"_id"`
	Month   int           `json:"month" bson:"month"`
	Year    int           `json:"year" bson:"year"`
	KPI     KPI           `json:"kpi" bson:"kpi"`
	Medias  Medias        `json:"medias" bson:"medias"`
	Grid    []SnapshotRow `json:"grid" bson:"grid"`
	SavedAt time.Time     `json:"saved_at" bson:"saved_at"`
}

func SnapshotKey(month, year int) string {
	return fmt.Sprintf("%d_%d", month, year)
}

// KPISummary is the latest computed result for one month.
type KPISummary struct {
	Key                string    `json:"key"`
	Year               int       `json:"year"`
	Month              int       `json:"month"`
	KPI                KPI       `json:"kpi"`
	Medias             Medias    `json:"medias"`
	Extras             int       `json:"extras"`
	ChannelsConsidered int       `json:"channels_considered"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type AuditEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	SessionID string            `json:"session_id,omitempty"`
	Month     string            `json:"month,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}
