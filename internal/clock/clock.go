// Package clock abstracts wall time and one-shot timers so that timer-driven
// code can run against virtual time in tests.
package clock

import "time"

// Timer is a pending callback. Stop reports whether it prevented the call.
type Timer interface {
	Stop() bool
}

// Clock supplies the current time and schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
