package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"oeetrack/internal/model"
)

// dedupeSet drops usage intervals repeated across sheets. Exports often
// carry the same run in a per-rack sheet and in a summary sheet.
type dedupeSet struct {
	items map[string]struct{}
}

func newDedupeSet() *dedupeSet {
	return &dedupeSet{items: make(map[string]struct{})}
}

func (d *dedupeSet) Seen(ev model.UsageEvent) bool {
	key := hashEvent(ev)
	if _, ok := d.items[key]; ok {
		return true
	}
	d.items[key] = struct{}{}
	return false
}

func hashEvent(ev model.UsageEvent) string {
	parts := []string{
		ev.ChannelID,
		ev.Start.UTC().Format(time.RFC3339Nano),
		ev.Stop.UTC().Format(time.RFC3339Nano),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
