package discovery

import (
	"net"
	"time"
)

// pollInterval bounds how often the finder's blocking UDP read rechecks
// cancellation.
const pollInterval = 50 * time.Millisecond

func deadlineNow() time.Time {
	return time.Now().Add(pollInterval)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
