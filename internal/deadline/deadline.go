// Package deadline provides absolute phase deadlines derived from a
// relative timeout budget. A non-positive budget disables expiry entirely.
package deadline

import "time"

// Deadline is an absolute point in time after which a timed phase is
// considered failed. The zero value never expires.
type Deadline struct {
	at    time.Time
	armed bool
}

// Start captures the current time plus budget. A budget <= 0 returns an
// unarmed Deadline whose Expired is always false.
func Start(budget time.Duration) Deadline {
	if budget <= 0 {
		return Deadline{}
	}
	return Deadline{at: time.Now().Add(budget), armed: true}
}

// Expired reports whether the current time is strictly past the deadline.
func (d Deadline) Expired() bool {
	return d.armed && time.Now().After(d.at)
}
