package presence

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Tracker keeps an ephemeral userID -> online marker with a sliding expiry.
// Entries are refreshed by SetOnline at connect and on every ping frame and
// fall out on their own once the TTL elapses. Presence is a best-effort
// signal: a stale or missing entry is read as offline, never as an error.
type Tracker struct {
	online *expirable.LRU[int, time.Time]
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		online: expirable.NewLRU[int, time.Time](0, nil, ttl),
	}
}

// SetOnline marks the user online for one TTL window from now.
func (t *Tracker) SetOnline(userID int) {
	t.online.Add(userID, time.Now())
}

// IsOnline reports whether the user's marker has not yet expired.
func (t *Tracker) IsOnline(userID int) bool {
	_, ok := t.online.Get(userID)
	return ok
}

// ClearOnline proactively drops the marker, ahead of TTL expiry.
func (t *Tracker) ClearOnline(userID int) {
	t.online.Remove(userID)
}
