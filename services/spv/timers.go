package spv

import (
	"time"
)

// Clock returns the current time. Tests replace it to move time forward.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// maintenanceTimer is one periodic maintenance task of the network loop.
type maintenanceTimer struct {
	name     string
	interval time.Duration
	lastFire time.Time
	fire     func(now, lastFire time.Time)
}

// maintenanceTimers are polled once per loop iteration, in order.
type maintenanceTimers []*maintenanceTimer

// poll fires every timer whose interval has passed since it last fired. A timer receives
// the time it previously fired.
func (t maintenanceTimers) poll(now time.Time) {
	for _, timer := range t {
		if !now.After(timer.lastFire.Add(timer.interval)) {
			continue
		}

		lastFire := timer.lastFire
		timer.lastFire = now
		timer.fire(now, lastFire)
	}
}
