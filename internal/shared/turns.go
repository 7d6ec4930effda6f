package shared

import "sync"

// TurnLocks serializes the dialogue turns of each user across transports.
type TurnLocks struct {
	locks sync.Map // int64 -> *sync.Mutex
}

// TryLock claims the turn of userID. It returns false when another turn of
// the same user is still running.
func (t *TurnLocks) TryLock(userID int64) (unlock func(), ok bool) {
	lock, _ := t.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}
