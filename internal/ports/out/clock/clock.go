package clock

import "time"

// Clock tells the naming cache and carte authenticator what time it is.
// Tests substitute a manual clock to drive TTLs and validity windows.
type Clock interface {
	Now() time.Time
}
