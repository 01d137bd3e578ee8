package server

import (
	"net"

	"github.com/google/uuid"

	"termchat/logger"
	"termchat/protocol"
)

// Session is one accepted connection. Only the loop goroutine reads or
// writes its fields, except conn which the reader goroutine reads from.
type Session struct {
	slot    int
	traceID string
	conn    net.Conn
	framer  *protocol.Framer
	log     *logger.Logger

	authenticated bool
	username      string
}

func (sess *Session) displayName() string {
	if sess.authenticated {
		return sess.username
	}
	return "(not logged in)"
}

// sessionTable is a fixed-capacity slot array. A free slot is nil.
type sessionTable struct {
	slots []*Session
	count int
}

func newSessionTable(capacity int) *sessionTable {
	return &sessionTable{slots: make([]*Session, capacity)}
}

// add places conn in the lowest free slot. It reports false when the table
// is full.
func (t *sessionTable) add(conn net.Conn, bufferSize int, log *logger.Logger) (*Session, bool) {
	for i, cur := range t.slots {
		if cur != nil {
			continue
		}

		traceID := uuid.NewString()
		sess := &Session{
			slot:    i,
			traceID: traceID,
			conn:    conn,
			framer:  protocol.NewFramer(bufferSize),
			log:     log.WithPrefix(traceID[:8]),
		}
		t.slots[i] = sess
		t.count++
		return sess, true
	}
	return nil, false
}

func (t *sessionTable) remove(sess *Session) {
	if !t.owns(sess) {
		return
	}
	t.slots[sess.slot] = nil
	t.count--
}

// owns reports whether sess still occupies its slot. A dropped session's
// slot may already hold a newer connection.
func (t *sessionTable) owns(sess *Session) bool {
	return sess != nil && sess.slot < len(t.slots) && t.slots[sess.slot] == sess
}

func (t *sessionTable) len() int {
	return t.count
}

// each calls fn for every session in slot order. fn may remove sessions.
func (t *sessionTable) each(fn func(*Session)) {
	for _, sess := range t.snapshot() {
		fn(sess)
	}
}

func (t *sessionTable) snapshot() []*Session {
	out := make([]*Session, 0, t.count)
	for _, sess := range t.slots {
		if sess != nil {
			out = append(out, sess)
		}
	}
	return out
}

func (t *sessionTable) authenticated() []*Session {
	var out []*Session
	for _, sess := range t.slots {
		if sess != nil && sess.authenticated {
			out = append(out, sess)
		}
	}
	return out
}

// byUsername finds the logged-in session of username.
func (t *sessionTable) byUsername(username string) *Session {
	for _, sess := range t.slots {
		if sess != nil && sess.authenticated && sess.username == username {
			return sess
		}
	}
	return nil
}

func (t *sessionTable) online(username string) bool {
	return t.byUsername(username) != nil
}
