package clock

import "time"

// SystemClock reads the wall clock in UTC. It is the default Clock for the
// naming cache and carte authenticator.
type SystemClock struct{}

func NewSystemClock() SystemClock { return SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now().UTC() }
