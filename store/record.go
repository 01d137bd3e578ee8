package store

import (
	"strconv"
	"strings"
	"time"

	"termchat/models"
)

// Record layouts, one per line:
//
//	accounts.txt         username password
//	friends.txt          userA|userB|PENDING or FRIEND
//	groups.txt           group_id|name|creator
//	group_members.txt    group_id|username|OWNER or MEMBER
//	offline_messages.txt to|from|unix_timestamp|escaped_body

func parseAccount(line string) (models.Account, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return models.Account{}, false
	}
	return models.Account{Username: fields[0], Password: fields[1]}, true
}

func formatAccount(a models.Account) string {
	return a.Username + " " + a.Password
}

func parseFriend(line string) (models.FriendEdge, bool) {
	parts := strings.Split(line, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return models.FriendEdge{}, false
	}

	status := models.FriendStatus(parts[2])
	if status != models.FriendPending && status != models.FriendAccepted {
		return models.FriendEdge{}, false
	}
	return models.FriendEdge{A: parts[0], B: parts[1], Status: status}, true
}

func formatFriend(e models.FriendEdge) string {
	return e.A + "|" + e.B + "|" + string(e.Status)
}

// samePair reports whether e connects x and y in either direction.
func samePair(e models.FriendEdge, x, y string) bool {
	a, b := models.CanonicalPair(e.A, e.B)
	lo, hi := models.CanonicalPair(x, y)
	return a == lo && b == hi
}

func parseGroup(line string) (models.Group, bool) {
	parts := strings.Split(line, "|")
	if len(parts) != 3 || parts[0] == "" {
		return models.Group{}, false
	}
	return models.Group{ID: parts[0], Name: parts[1], Creator: parts[2]}, true
}

func formatGroup(g models.Group) string {
	return g.ID + "|" + g.Name + "|" + g.Creator
}

func parseMember(line string) (models.Membership, bool) {
	parts := strings.Split(line, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return models.Membership{}, false
	}
	return models.Membership{GroupID: parts[0], Username: parts[1], Role: models.Role(parts[2])}, true
}

func formatMember(m models.Membership) string {
	return m.GroupID + "|" + m.Username + "|" + string(m.Role)
}

func parseOffline(line string) (models.OfflineMessage, bool) {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 {
		return models.OfflineMessage{}, false
	}

	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return models.OfflineMessage{}, false
	}

	return models.OfflineMessage{
		To:        parts[0],
		From:      parts[1],
		Timestamp: time.Unix(ts, 0),
		Body:      unescapeBody(parts[3]),
	}, true
}

func formatOffline(m models.OfflineMessage) string {
	return m.To + "|" + m.From + "|" + strconv.FormatInt(m.Timestamp.Unix(), 10) + "|" + escapeBody(m.Body)
}

// escapeBody protects the field delimiter and drops line breaks.
func escapeBody(s string) string {
	var result strings.Builder

	for _, r := range s {
		switch r {
		case '|':
			result.WriteString("\\|")
		case '\\':
			result.WriteString("\\\\")
		case '\n', '\r':
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

func unescapeBody(s string) string {
	var result strings.Builder
	escape := false

	for _, r := range s {
		if escape {
			if r != '|' && r != '\\' {
				// not an escape we produce, keep it as written
				result.WriteRune('\\')
			}
			result.WriteRune(r)
			escape = false
			continue
		}

		if r == '\\' {
			escape = true
			continue
		}

		result.WriteRune(r)
	}

	// trailing lone backslash
	if escape {
		result.WriteRune('\\')
	}

	return result.String()
}
