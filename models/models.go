package models

import "time"

type FriendStatus string

const (
	FriendPending  FriendStatus = "PENDING"
	FriendAccepted FriendStatus = "FRIEND"
)

type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleMember Role = "MEMBER"
)

type Account struct {
	Username string
	Password string // clear text or bcrypt hash, see config password_hash
}

// FriendEdge is PENDING from A (requester) to B (target), or FRIEND with
// A and B in canonical order.
type FriendEdge struct {
	A      string
	B      string
	Status FriendStatus
}

type Group struct {
	ID      string
	Name    string
	Creator string
}

type Membership struct {
	GroupID  string
	Username string
	Role     Role
}

// UserGroup is a membership row joined with its group name.
type UserGroup struct {
	GroupID string
	Name    string
	Role    Role
}

type OfflineMessage struct {
	To        string
	From      string
	Timestamp time.Time
	Body      string
}

// CanonicalPair orders two usernames lexicographically.
func CanonicalPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}
