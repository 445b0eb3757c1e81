package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
)

// session is one live authenticated connection.
type session struct {
	ID   string // random per-connection id
	Conn *websocket.Conn
}

// registry maps a principal id to its single live session. Binding a new
// session for an id that already has one evicts the old session.
type registry struct {
	m sync.Map // principalID(string) -> *session
}

// bind installs s as the current session for id and returns the session it
// replaced, if any.
func (r *registry) bind(id string, s *session) *session {
	prev, loaded := r.m.Swap(id, s)
	if !loaded {
		return nil
	}
	old, _ := prev.(*session)
	return old
}

// unbind removes s only if it is still the current session for id. A stale
// unbind (the principal already reconnected) is a no-op.
func (r *registry) unbind(id string, s *session) bool {
	return r.m.CompareAndDelete(id, s)
}

// get returns the current session for id.
func (r *registry) get(id string) (*session, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		return nil, false
	}
	s, _ := v.(*session)
	return s, s != nil
}

// each calls fn for every bound principal.
func (r *registry) each(fn func(id string, s *session)) {
	r.m.Range(func(k, v any) bool {
		if s, ok := v.(*session); ok && s != nil {
			fn(k.(string), s)
		}
		return true
	})
}

// count walks the map; registries stay small enough for this to be cheap.
func (r *registry) count() int {
	n := 0
	r.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
