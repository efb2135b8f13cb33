package audio

import (
	"context"
	"time"
)

// Player starts playback of a clip.
//
// Implementations must be safe for concurrent use, although the coordinator
// plays one clip at a time.
type Player interface {
	// Play begins output and returns once the first buffer has been handed
	// to the device, so the caller can treat the return as "playback
	// started". The supplied ctx governs only the start-up.
	Play(ctx context.Context, clip *Clip) (Playback, error)
}

// Playback is a clip in flight.
type Playback interface {
	// Wait blocks until playback finishes, is stopped, or ctx is done.
	Wait(ctx context.Context) error

	// Stop cuts playback short. Safe to call more than once and after
	// playback has finished.
	Stop()

	// Started returns when the first buffer reached the device.
	Started() time.Time
}
