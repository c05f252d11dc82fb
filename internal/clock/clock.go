package clock

import "time"

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Fixed always reports the same instant. Tests advance it by assignment.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time { return f.T }
