package session

import (
	"sync"
	"time"

	"chatwire/pkg/models"
)

type typingEntry struct {
	userName string
	expires  time.Time
}

// typingTracker holds live typing indicators for all sessions. Entries
// expire through the coordinator's single sweep ticker; there are no
// per-entry timers.
type typingTracker struct {
	sink EventSink
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]map[string]typingEntry // sessionID -> userID -> entry
}

func newTypingTracker(sink EventSink, ttl time.Duration) *typingTracker {
	return &typingTracker{
		sink:    sink,
		ttl:     ttl,
		entries: make(map[string]map[string]typingEntry),
	}
}

// refresh starts or extends the indicator and relays user_typing to every
// other attached connection. The originator never hears its own echo.
func (t *typingTracker) refresh(sessionID string, actor models.Identity) {
	t.mu.Lock()
	m := t.entries[sessionID]
	if m == nil {
		m = make(map[string]typingEntry)
		t.entries[sessionID] = m
	}
	m[actor.ID] = typingEntry{userName: actor.Name, expires: time.Now().Add(t.ttl)}
	t.mu.Unlock()

	t.sink.Broadcast(sessionID, event(models.EvUserTyping, models.UserTypingData{
		SessionID: sessionID,
		UserID:    actor.ID,
		UserName:  actor.Name,
	}), actor.ID)
}

// stop clears the indicator immediately. Idempotent: when nothing was
// live, nothing is emitted.
func (t *typingTracker) stop(sessionID, userID string) {
	t.mu.Lock()
	m := t.entries[sessionID]
	_, live := m[userID]
	if live {
		delete(m, userID)
		if len(m) == 0 {
			delete(t.entries, sessionID)
		}
	}
	t.mu.Unlock()

	if live {
		t.sink.Broadcast(sessionID, event(models.EvTypingStopped, models.TypingStoppedData{
			SessionID: sessionID,
			UserID:    userID,
		}), userID)
	}
}

// clearSession drops every indicator of a closing session, emitting the
// stop for each so other devices do not show a typing ghost.
func (t *typingTracker) clearSession(sessionID string) {
	t.mu.Lock()
	m := t.entries[sessionID]
	cleared := make([]string, 0, len(m))
	for uid := range m {
		cleared = append(cleared, uid)
	}
	delete(t.entries, sessionID)
	t.mu.Unlock()

	for _, uid := range cleared {
		t.sink.Broadcast(sessionID, event(models.EvTypingStopped, models.TypingStoppedData{
			SessionID: sessionID,
			UserID:    uid,
		}), uid)
	}
}

// sweep expires stale entries and emits typing_stopped for each, so an
// indicator cannot stick after an ungraceful disconnect.
func (t *typingTracker) sweep(now time.Time) {
	t.mu.Lock()
	var fired []models.TypingStoppedData
	for sid, m := range t.entries {
		for uid, e := range m {
			if now.After(e.expires) {
				delete(m, uid)
				fired = append(fired, models.TypingStoppedData{SessionID: sid, UserID: uid})
			}
		}
		if len(m) == 0 {
			delete(t.entries, sid)
		}
	}
	t.mu.Unlock()

	for _, f := range fired {
		t.sink.Broadcast(f.SessionID, event(models.EvTypingStopped, f), f.UserID)
	}
}

// active reports whether the user currently shows as typing. Test hook.
func (t *typingTracker) active(sessionID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[sessionID][userID]
	return ok
}
