package store

import (
	"fmt"

	"github.com/pkg/errors"

	"termchat/models"
)

const groupIDAttempts = 10

// newGroupID is the creation time in seconds followed by three random digits.
func (s *FileStore) newGroupID() string {
	return fmt.Sprintf("G%d%03d", s.now().Unix(), s.randFn(1000))
}

// CreateGroup appends the group row and then the creator's OWNER row. A
// failure between the two appends leaves a group without members.
func (s *FileStore) CreateGroup(creator, name string) (string, error) {
	if !IsToken(creator) || !ValidGroupName(name) {
		return "", ErrInvalid
	}
	if err := s.requireAccount(creator); err != nil {
		return "", err
	}

	var gid string
	err := s.groups.update(func(lines []string) ([]string, bool, error) {
		taken := make(map[string]struct{}, len(lines))
		for _, line := range lines {
			if g, ok := parseGroup(line); ok {
				taken[g.ID] = struct{}{}
			}
		}

		for i := 0; i < groupIDAttempts; i++ {
			id := s.newGroupID()
			if _, dup := taken[id]; !dup {
				gid = id
				break
			}
		}
		if gid == "" {
			return nil, false, errors.New("store: no free group id")
		}

		return append(lines, formatGroup(models.Group{ID: gid, Name: name, Creator: creator})), true, nil
	})
	if err != nil {
		return "", err
	}

	owner := models.Membership{GroupID: gid, Username: creator, Role: models.RoleOwner}
	if err := s.members.append(formatMember(owner)); err != nil {
		return "", errors.Wrapf(err, "store: group %s has no owner", gid)
	}
	return gid, nil
}

func (s *FileStore) AddGroupMember(groupID, username, addedBy string) error {
	if !IsToken(groupID) || !IsToken(username) || !IsToken(addedBy) {
		return ErrInvalid
	}
	if err := s.requireAccount(username); err != nil {
		return err
	}

	return s.members.update(func(lines []string) ([]string, bool, error) {
		var owner, member bool
		for _, line := range lines {
			m, ok := parseMember(line)
			if !ok || m.GroupID != groupID {
				continue
			}
			if m.Username == addedBy && m.Role == models.RoleOwner {
				owner = true
			}
			if m.Username == username {
				member = true
			}
		}

		if !owner {
			return nil, false, ErrNotOwner
		}
		if member {
			return nil, false, ErrAlreadyMember
		}

		row := models.Membership{GroupID: groupID, Username: username, Role: models.RoleMember}
		return append(lines, formatMember(row)), true, nil
	})
}

// RemoveGroupMember deletes a MEMBER row. OWNER rows are never matched, so an
// owner cannot be removed by anyone.
func (s *FileStore) RemoveGroupMember(groupID, username, removedBy string) error {
	if !IsToken(groupID) || !IsToken(username) || !IsToken(removedBy) {
		return ErrInvalid
	}
	if username == removedBy {
		return ErrRemoveSelf
	}

	return s.members.update(func(lines []string) ([]string, bool, error) {
		next := make([]string, 0, len(lines))
		var owner, found bool
		for _, line := range lines {
			m, ok := parseMember(line)
			if ok && m.GroupID == groupID {
				if m.Username == removedBy && m.Role == models.RoleOwner {
					owner = true
				}
				if m.Username == username && m.Role != models.RoleOwner {
					found = true
					continue
				}
			}
			next = append(next, line)
		}

		if !owner {
			return nil, false, ErrNotOwner
		}
		if !found {
			return nil, false, ErrNotMember
		}
		return next, true, nil
	})
}

// LeaveGroup removes the caller's own row whatever its role, so an owner who
// leaves leaves the group without one.
func (s *FileStore) LeaveGroup(groupID, username string) error {
	if !IsToken(groupID) || !IsToken(username) {
		return ErrInvalid
	}

	return s.members.update(func(lines []string) ([]string, bool, error) {
		next := make([]string, 0, len(lines))
		found := false
		for _, line := range lines {
			if m, ok := parseMember(line); ok && m.GroupID == groupID && m.Username == username {
				found = true
				continue
			}
			next = append(next, line)
		}
		if !found {
			return nil, false, ErrNotMember
		}
		return next, true, nil
	})
}

func (s *FileStore) IsGroupMember(groupID, username string) (bool, error) {
	if !IsToken(groupID) || !IsToken(username) {
		return false, nil
	}

	found := false
	err := s.members.view(func(line string) bool {
		if m, ok := parseMember(line); ok && m.GroupID == groupID && m.Username == username {
			found = true
			return false
		}
		return true
	})
	return found, err
}

func (s *FileStore) GroupMembers(groupID string) ([]models.Membership, error) {
	var out []models.Membership
	err := s.members.view(func(line string) bool {
		if m, ok := parseMember(line); ok && m.GroupID == groupID {
			out = append(out, m)
		}
		return true
	})
	return out, err
}

// UserGroups resolves the name of every group username belongs to. Groups
// whose row is missing are reported as "Unknown".
func (s *FileStore) UserGroups(username string) ([]models.UserGroup, error) {
	names := make(map[string]string)
	err := s.groups.view(func(line string) bool {
		if g, ok := parseGroup(line); ok {
			names[g.ID] = g.Name
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	var out []models.UserGroup
	err = s.members.view(func(line string) bool {
		m, ok := parseMember(line)
		if !ok || m.Username != username {
			return true
		}
		name, known := names[m.GroupID]
		if !known {
			name = "Unknown"
		}
		out = append(out, models.UserGroup{GroupID: m.GroupID, Name: name, Role: m.Role})
		return true
	})
	return out, err
}
