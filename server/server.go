// Package server runs the chat service: a single event loop owns every
// session, frames their input, dispatches commands against the store and
// writes all responses and notifications.
package server

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"termchat/logger"
	"termchat/protocol"
	"termchat/store"
)

// readChunk is the size of a single socket read.
const readChunk = 1024

type Config struct {
	Addr            string
	MaxClients      int
	InputBufferSize int
	WriteTimeout    time.Duration
}

// EventLogger receives one call per user action. Results are never
// inspected.
type EventLogger interface {
	Register(user string, ok bool)
	Login(user string, ok bool)
	Logout(user string)
	Friend(user, action, target string)
	Group(user, action, details string)
	Message(from, to, kind string)
}

type Server struct {
	store  store.Store
	config Config
	log    *logger.Logger
	events EventLogger

	// owned by the loop goroutine
	sessions *sessionTable

	listener net.Listener
	inbox    chan event
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type eventKind int

const (
	evAccept eventKind = iota
	evData
	evClosed
	evCall
)

// event is everything the loop reacts to. Reader and accept goroutines only
// move bytes and never touch session state.
type event struct {
	kind eventKind
	conn net.Conn
	sess *Session
	data []byte
	err  error
	call func()
}

func New(st store.Store, config Config, log *logger.Logger, events EventLogger) *Server {
	if config.MaxClients <= 0 {
		config.MaxClients = 1024
	}
	if config.InputBufferSize <= 0 {
		config.InputBufferSize = protocol.DefaultBufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	if events == nil {
		events = nopEvents{}
	}

	return &Server{
		store:    st,
		config:   config,
		log:      log,
		events:   events,
		sessions: newSessionTable(config.MaxClients),
		inbox:    make(chan event, 64),
		done:     make(chan struct{}),
	}
}

// Listen binds the listening socket without serving it.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Addr is the bound listener address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the event loop until Stop or Shutdown. It returns once every
// connection goroutine has exited.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server: Serve called before Listen")
	}

	s.log.Info("chat server listening on %s (max clients %d)", s.listener.Addr(), s.config.MaxClients)

	s.wg.Add(1)
	go s.acceptLoop()

	s.loop()
	s.wg.Wait()
	// the accept goroutine may have queued one more conn after the loop
	// drained
	s.drain()
	return nil
}

// Stop closes the listener and every session without notice.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
	})
}

// Shutdown tells every session why the server is going away, then stops.
func (s *Server) Shutdown(reason string) {
	if reason == "" {
		reason = "maintenance"
	}
	s.log.Info("shutting down: %s", reason)

	s.do(func() {
		s.sessions.each(func(sess *Session) {
			s.sendLine(sess, "[Server] Shutting down: "+reason)
		})
	})
	s.Stop()
}

// GetStats reports the open connections and the logged-in users.
func (s *Server) GetStats() string {
	var stats string
	ok := s.do(func() {
		var users []string
		for _, sess := range s.sessions.authenticated() {
			users = append(users, sess.username)
		}
		stats = "connections=" + strconv.Itoa(s.sessions.len()) + ",users=" + strings.Join(users, ";")
	})
	if !ok {
		return "connections=0,users="
	}
	return stats
}

// post hands ev to the loop. It fails once the server is stopping.
func (s *Server) post(ev event) bool {
	select {
	case s.inbox <- ev:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the loop goroutine and waits for it.
func (s *Server) do(fn func()) bool {
	finished := make(chan struct{})
	if !s.post(event{kind: evCall, call: func() {
		fn()
		close(finished)
	}}) {
		return false
	}

	select {
	case <-finished:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("error accepting connection: %v", err)
			select {
			case <-s.done:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		if !s.post(event{kind: evAccept, conn: conn}) {
			conn.Close()
			return
		}
	}
}

func (s *Server) readLoop(sess *Session) {
	defer s.wg.Done()

	buf := make([]byte, readChunk)
	for {
		n, err := sess.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !s.post(event{kind: evData, sess: sess, data: data}) {
				return
			}
		}
		if err != nil {
			s.post(event{kind: evClosed, sess: sess, err: err})
			return
		}
	}
}

func (s *Server) loop() {
	for {
		select {
		case ev := <-s.inbox:
			s.handleEvent(ev)
		case <-s.done:
			s.sessions.each(func(sess *Session) {
				s.sessions.remove(sess)
				sess.conn.Close()
			})
			s.drain()
			return
		}
	}
}

// drain closes connections accepted but not yet registered when the loop
// stopped.
func (s *Server) drain() {
	for {
		select {
		case ev := <-s.inbox:
			if ev.kind == evAccept {
				ev.conn.Close()
			}
		default:
			return
		}
	}
}

func (s *Server) handleEvent(ev event) {
	switch ev.kind {
	case evAccept:
		s.accept(ev.conn)

	case evData:
		// events of a session that was already dropped are stale
		if !s.sessions.owns(ev.sess) {
			return
		}
		s.receive(ev.sess, ev.data)

	case evClosed:
		if !s.sessions.owns(ev.sess) {
			return
		}
		ev.sess.log.Debug("connection closed: %v", ev.err)
		s.disconnect(ev.sess)

	case evCall:
		ev.call()
	}
}

func (s *Server) accept(conn net.Conn) {
	sess, ok := s.sessions.add(conn, s.config.InputBufferSize, s.log)
	if !ok {
		s.log.Warn("session table full, rejecting %s", conn.RemoteAddr())
		conn.Close()
		return
	}

	sess.log.Info("new client connected from %s", conn.RemoteAddr())

	s.wg.Add(1)
	go s.readLoop(sess)
}

func (s *Server) receive(sess *Session, data []byte) {
	if err := sess.framer.Append(data); err != nil {
		sess.log.Warn("%v for %s, disconnecting", err, sess.displayName())
		s.disconnect(sess)
		return
	}

	for s.sessions.owns(sess) {
		line, ok := sess.framer.PopLine()
		if !ok {
			return
		}
		s.dispatch(sess, line)
	}
}

// disconnect releases the slot and closes the socket. Logged-in users are
// announced as having left.
func (s *Server) disconnect(sess *Session) {
	if !s.sessions.owns(sess) {
		return
	}

	s.sessions.remove(sess)
	sess.conn.Close()

	if sess.authenticated {
		sess.log.Info("client %s disconnected", sess.username)
		s.events.Logout(sess.username)
		s.broadcast("[Server] "+sess.username+" left the chat", nil, everyone{})
		return
	}
	sess.log.Info("client disconnected")
}

// sendLine writes one newline-terminated line to sess.
func (s *Server) sendLine(sess *Session, line string) {
	s.sendRaw(sess, line+"\n")
}

// sendRaw writes text as is. A failed write closes the socket; the reader
// then reports the close and the session is dropped through the loop.
func (s *Server) sendRaw(sess *Session, text string) {
	sess.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if _, err := sess.conn.Write([]byte(text)); err != nil {
		sess.log.Warn("error writing to connection: %v", err)
		sess.conn.Close()
	}
}

type nopEvents struct{}

func (nopEvents) Register(string, bool)          {}
func (nopEvents) Login(string, bool)             {}
func (nopEvents) Logout(string)                  {}
func (nopEvents) Friend(string, string, string)  {}
func (nopEvents) Group(string, string, string)   {}
func (nopEvents) Message(string, string, string) {}
