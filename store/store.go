// Package store holds the durable records of the chat service: accounts,
// friend edges, groups with their memberships, and the offline mailbox.
//
// Every operation is a self-contained transaction. Read-only queries take a
// shared lock on the collection, mutations take an exclusive lock for the
// whole read, validate, rewrite sequence, so a failed mutation leaves the
// collection untouched.
package store

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"termchat/models"
)

const (
	MinUsernameLen  = 3
	MaxUsernameLen  = 49
	MinPasswordLen  = 4
	MaxPasswordLen  = 99
	MaxGroupNameLen = 100
)

var (
	ErrInvalid         = errors.New("invalid argument")
	ErrUserExists      = errors.New("username already exists")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFriend   = errors.New("already friends")
	ErrAlreadyPending  = errors.New("request already pending")
	ErrIncomingPending = errors.New("incoming request pending")
	ErrNotMember       = errors.New("not a group member")
	ErrAlreadyMember   = errors.New("already a group member")
	ErrNotOwner        = errors.New("not the group owner")
	ErrRemoveSelf      = errors.New("owner cannot remove themselves")
)

// Store is implemented by the flat-file backend in this package and by the
// SQLite backend in package db.
type Store interface {
	Register(username, password string) error
	CheckLogin(username, password string) (bool, error)
	AccountExists(username string) (bool, error)

	AddFriendRequest(from, to string) error
	AcceptFriendRequest(me, from string) error
	RejectFriendRequest(me, from string) error
	Unfriend(me, other string) error
	Friends(me string) ([]string, error)
	FriendRequests(me string) ([]string, error)

	CreateGroup(creator, name string) (string, error)
	AddGroupMember(groupID, username, addedBy string) error
	RemoveGroupMember(groupID, username, removedBy string) error
	LeaveGroup(groupID, username string) error
	IsGroupMember(groupID, username string) (bool, error)
	GroupMembers(groupID string) ([]models.Membership, error)
	UserGroups(username string) ([]models.UserGroup, error)

	SaveOfflineMessage(to, from, body string) error
	// DeliverOfflineMessages hands every message queued for username to
	// deliver and removes it, whatever deliver does with it.
	DeliverOfflineMessages(username string, deliver func(models.OfflineMessage)) (int, error)

	Close() error
}

// Options are shared by all backends.
type Options struct {
	// HashPasswords stores new accounts with a bcrypt hash instead of the
	// clear-text password.
	HashPasswords bool
}

// IsToken reports whether s can be stored as a single record field: non-empty,
// no whitespace, no field delimiter.
func IsToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || r == '|' {
			return false
		}
	}
	return true
}

func ValidUsername(username string) bool {
	return IsToken(username) && len(username) >= MinUsernameLen && len(username) <= MaxUsernameLen
}

func ValidPassword(password string) bool {
	if len(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return false
	}
	return !strings.ContainsFunc(password, unicode.IsSpace)
}

func ValidGroupName(name string) bool {
	if name == "" || len(name) > MaxGroupNameLen {
		return false
	}
	return !strings.ContainsAny(name, "|\r\n")
}

// HashPassword returns the value stored in an account row.
func HashPassword(password string, opts Options) (string, error) {
	if !opts.HashPasswords {
		return password, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "store.HashPassword")
	}
	return string(hashed), nil
}

// PasswordMatches compares a stored account password with a login attempt.
// Rows written with HashPasswords carry a bcrypt hash, older rows clear text.
func PasswordMatches(stored, given string) bool {
	if _, err := bcrypt.Cost([]byte(stored)); err == nil {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return stored == given
}
