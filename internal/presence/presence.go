// Package presence holds the read-time window computations for online status
// and typing indicators. Both are derived on every read instead of swept by a
// background job, so a client that vanishes without an offline signal (tab
// crash, network loss) reads as offline once its window lapses.
package presence

import (
	"time"

	"github.com/chatsync/internal/model"
)

const (
	// OnlineWindow is how long after the last heartbeat a user still reads
	// as online. The stored flag alone is never trusted.
	OnlineWindow = 30 * time.Second

	// TypingTimeout is how long a typing flag stays visible without renewal.
	TypingTimeout = 2 * time.Second
)

// IsUserOnline computes effective presence: the stored flag must be set AND the
// last activity must fall inside the online window.
func IsUserOnline(online bool, lastActiveAt *time.Time, now time.Time) bool {
	return online && lastActiveAt != nil && now.Sub(*lastActiveAt) < OnlineWindow
}

// EffectiveTyping applies the typing window to a stored slot: an expired slot
// reads as not typing even though the stored flag may still say true. The
// stored state is never mutated.
func EffectiveTyping(t *model.TypingState, now time.Time) *model.TypingState {
	if t == nil {
		return nil
	}
	out := *t
	if out.IsTyping && now.Sub(out.UpdatedAt) >= TypingTimeout {
		out.IsTyping = false
	}
	return &out
}
