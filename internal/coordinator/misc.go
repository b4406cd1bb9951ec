package coordinator

import "time"

// nowRFC3339Nano stamps a write with the same timestamp format
// internal/storage uses for last-write-wins resolution, so a row's
// wire-level timestamp and its on-disk timestamp always compare
// consistently.
func nowRFC3339Nano() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
