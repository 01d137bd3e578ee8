package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"termchat/filelock"
)

// EventLog appends one line per user action:
//
//	[2006-01-02 15:04:05] [alice] LOGIN SUCCESS
//
// Every write opens the file, takes an exclusive lock, appends and closes,
// so several servers can share one event log. Write failures are ignored.
type EventLog struct {
	path string
	now  func() time.Time
}

// NewEventLog returns an event log appending to path. An empty path
// disables it.
func NewEventLog(path string) (*EventLog, error) {
	if path == "" {
		return &EventLog{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	return &EventLog{path: path, now: time.Now}, nil
}

func (e *EventLog) Path() string {
	return e.path
}

func result(ok bool) string {
	if ok {
		return "SUCCESS"
	}
	return "FAILED"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (e *EventLog) Register(user string, ok bool) {
	e.write(user, "REGISTER "+result(ok))
}

func (e *EventLog) Login(user string, ok bool) {
	e.write(user, "LOGIN "+result(ok))
}

func (e *EventLog) Logout(user string) {
	e.write(user, "LOGOUT")
}

// Friend records FRIEND_<action>, e.g. FRIEND_REQUEST or FRIEND_ACCEPT.
func (e *EventLog) Friend(user, action, target string) {
	e.write(user, "FRIEND_"+action+" "+orUnknown(target))
}

// Group records GROUP_<action> followed by free-form details.
func (e *EventLog) Group(user, action, details string) {
	e.write(user, "GROUP_"+action+" "+details)
}

// Message records MESSAGE_<kind> to=<to>, kind being PRIVATE, OFFLINE,
// BROADCAST or GROUP.
func (e *EventLog) Message(from, to, kind string) {
	e.write(from, "MESSAGE_"+kind+" to="+orUnknown(to))
}

func (e *EventLog) write(user, action string) {
	if e.path == "" {
		return
	}

	line := fmt.Sprintf("[%s] [%s] %s\n", e.now().Format("2006-01-02 15:04:05"), orUnknown(user), action)

	f, err := os.OpenFile(e.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	if err := filelock.Lock(f, filelock.Exclusive); err != nil {
		return
	}
	defer filelock.Unlock(f)

	f.WriteString(line)
}
