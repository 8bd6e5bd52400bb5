package client

import (
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Observer receives upload events. Part events arrive from several goroutines
// at once, so implementations must be safe for concurrent use.
type Observer interface {
	// OnPartProgress reports bytes sent so far in the current attempt of a part.
	// A retried part starts again from zero.
	OnPartProgress(partNumber int, bytesSent int64)

	// OnPartRetry reports that attempt of partNumber failed and will be retried.
	OnPartRetry(partNumber, attempt int, err error)

	// OnProgress reports bytes acknowledged by the store out of total.
	OnProgress(acknowledged, total int64)

	// OnSessionStatusChanged reports the session's status as the client sees it.
	OnSessionStatusChanged(sessionID string, status uploadtypes.Status)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnPartProgress(int, int64)                         {}
func (NopObserver) OnPartRetry(int, int, error)                       {}
func (NopObserver) OnProgress(int64, int64)                           {}
func (NopObserver) OnSessionStatusChanged(string, uploadtypes.Status) {}

var _ Observer = NopObserver{}
