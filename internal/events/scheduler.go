package events

import "time"

// Timer is a cancelable scheduled task handle.
type Timer interface {
	Stop() bool
}

// Scheduler defers work, standing in for the wall clock so reconnect timing
// is testable.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NewScheduler returns the wall-clock scheduler.
func NewScheduler() Scheduler {
	return realScheduler{}
}
