package project

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// StartPurgeJob schedules a recurring sweep that drops cache entries older
// than maxAge, on the given cron instance (spec.md §4.4, "cadence 5 min,
// purge entries older than 1 hour"). The returned EntryID can be used with
// c.Remove to cancel it. Sharing one cron.Cron across project's purge job
// and capability's health-check cadence avoids a per-component ticker.
func StartPurgeJob(c *cron.Cron, cache *Cache, interval, maxAge time.Duration) (cron.EntryID, error) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 60 * time.Minute
	}

	spec := durationToCron(interval)
	return c.AddFunc(spec, func() {
		purged := cache.Purge(maxAge)
		if purged > 0 {
			log.Printf("[project] purged %d stale cache entries", purged)
		}
	})
}

// durationToCron renders a duration as a robfig/cron "@every" spec, which
// accepts a Go duration string directly.
func durationToCron(d time.Duration) string {
	return "@every " + d.String()
}
