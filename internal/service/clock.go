package service

import "time"

// Clock schedules poll ticks. Tests substitute a manual implementation.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f once, d from now, on a goroutine of its choosing.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from running. It reports false if the call
	// already ran or was stopped.
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock backed by the time package.
var SystemClock Clock = systemClock{}
