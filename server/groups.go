package server

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"termchat/protocol"
	"termchat/store"
)

func (s *Server) handleCreateGroup(sess *Session, cmd *protocol.Command) {
	name := strings.TrimSpace(cmd.Rest())
	if name == "" {
		s.sendLine(sess, "Usage: CREATEGROUP <name>")
		return
	}
	if !store.ValidGroupName(name) {
		s.sendLine(sess, "Invalid group name")
		return
	}

	gid, err := s.store.CreateGroup(sess.username, name)
	switch {
	case err == nil:
		s.sendLine(sess, "Group created: "+gid)
		s.events.Group(sess.username, "CREATE", gid+" "+name)
	case errors.Is(err, store.ErrInvalid):
		s.sendLine(sess, "Invalid group name")
	default:
		sess.log.Error("create group %q: %v", name, err)
		s.sendLine(sess, "Create group failed")
	}
}

func (s *Server) handleAddMember(sess *Session, cmd *protocol.Command) {
	gid, user := cmd.Next(), cmd.Next()
	if gid == "" || user == "" {
		s.sendLine(sess, "Usage: ADDMEMBER <group_id> <user>")
		return
	}

	err := s.store.AddGroupMember(gid, user, sess.username)
	switch {
	case err == nil:
		s.sendLine(sess, fmt.Sprintf("Added %s to group %s", user, gid))
		s.notify(user, fmt.Sprintf("[Server] You were added to group %s by %s", gid, sess.username))
		s.events.Group(sess.username, "ADD_MEMBER", gid+" "+user)
	case errors.Is(err, store.ErrNotOwner):
		s.sendLine(sess, "Only the group owner can add members")
	case errors.Is(err, store.ErrAlreadyMember):
		s.sendLine(sess, "User is already a member")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalid):
		s.sendLine(sess, "User does not exist")
	default:
		sess.log.Error("add %s to %s: %v", user, gid, err)
		s.sendLine(sess, "Add member failed")
	}
}

func (s *Server) handleRemoveMember(sess *Session, cmd *protocol.Command) {
	gid, user := cmd.Next(), cmd.Next()
	if gid == "" || user == "" {
		s.sendLine(sess, "Usage: REMOVEMEMBER <group_id> <user>")
		return
	}
	if user == sess.username {
		s.sendLine(sess, "Cannot remove yourself. Use LEAVEGROUP <group_id>")
		return
	}

	err := s.store.RemoveGroupMember(gid, user, sess.username)
	switch {
	case err == nil:
		s.sendLine(sess, fmt.Sprintf("Removed %s from group %s", user, gid))
		s.notify(user, fmt.Sprintf("[Server] You were removed from group %s by %s", gid, sess.username))
		s.events.Group(sess.username, "REMOVE_MEMBER", gid+" "+user)
	case errors.Is(err, store.ErrRemoveSelf):
		s.sendLine(sess, "Cannot remove yourself. Use LEAVEGROUP <group_id>")
	case errors.Is(err, store.ErrNotOwner):
		s.sendLine(sess, "Only the group owner can remove members")
	case errors.Is(err, store.ErrNotMember), errors.Is(err, store.ErrInvalid):
		s.sendLine(sess, "User is not a member of this group")
	default:
		sess.log.Error("remove %s from %s: %v", user, gid, err)
		s.sendLine(sess, "Remove member failed")
	}
}

// handleLeaveGroup removes the caller's membership whatever the role. An
// owner who leaves leaves the group ownerless.
func (s *Server) handleLeaveGroup(sess *Session, cmd *protocol.Command) {
	gid := cmd.Next()
	if gid == "" {
		s.sendLine(sess, "Usage: LEAVEGROUP <group_id>")
		return
	}

	err := s.store.LeaveGroup(gid, sess.username)
	switch {
	case err == nil:
		s.sendLine(sess, "You left group "+gid)
		s.events.Group(sess.username, "LEAVE", gid)

		members, err := s.groupFilter(gid)
		if err != nil {
			sess.log.Warn("notify group %s: %v", gid, err)
			return
		}
		s.broadcast(fmt.Sprintf("[Group %s] %s left the group", gid, sess.username), sess, members)
	case errors.Is(err, store.ErrNotMember), errors.Is(err, store.ErrInvalid):
		s.sendLine(sess, "You are not a member of this group")
	default:
		sess.log.Error("leave %s: %v", gid, err)
		s.sendLine(sess, "Leave group failed")
	}
}

// requireMember answers sess and returns false unless it belongs to gid.
func (s *Server) requireMember(sess *Session, gid, failure string) bool {
	ok, err := s.store.IsGroupMember(gid, sess.username)
	if err != nil {
		sess.log.Error("member check %s: %v", gid, err)
		s.sendLine(sess, failure)
		return false
	}
	if !ok {
		s.sendLine(sess, "You are not a member of this group")
	}
	return ok
}

func (s *Server) handleGroupMessage(sess *Session, cmd *protocol.Command) {
	gid := cmd.Next()
	msg := cmd.Rest()
	if gid == "" || msg == "" {
		s.sendLine(sess, "Usage: GROUPMSG <group_id> <message>")
		return
	}
	if len(msg) > s.maxMessageLen() {
		s.sendLine(sess, "Message too long")
		return
	}

	if !s.requireMember(sess, gid, "Group message failed") {
		return
	}

	members, err := s.groupFilter(gid)
	if err != nil {
		sess.log.Error("load group %s: %v", gid, err)
		s.sendLine(sess, "Group message failed")
		return
	}

	n := s.broadcast(fmt.Sprintf("[Group %s] %s: %s", gid, sess.username, msg), sess, members)
	s.sendLine(sess, fmt.Sprintf("Message delivered to %d member(s)", n))
	s.events.Message(sess.username, gid, "GROUP")
}

func (s *Server) handleListGroups(sess *Session) {
	groups, err := s.store.UserGroups(sess.username)
	if err != nil {
		sess.log.Error("list groups: %v", err)
		s.sendLine(sess, "Failed to load groups")
		return
	}

	items := make([]string, len(groups))
	for i, g := range groups {
		items[i] = fmt.Sprintf("%s: %s (%s)", g.GroupID, g.Name, g.Role)
	}
	s.sendRaw(sess, protocol.FormatList("Your Groups", items))
}

func (s *Server) handleGroupInfo(sess *Session, cmd *protocol.Command) {
	gid := cmd.Next()
	if gid == "" {
		s.sendLine(sess, "Usage: GROUPINFO <group_id>")
		return
	}

	if !s.requireMember(sess, gid, "Failed to load group members") {
		return
	}

	members, err := s.store.GroupMembers(gid)
	if err != nil {
		sess.log.Error("load group %s: %v", gid, err)
		s.sendLine(sess, "Failed to load group members")
		return
	}

	items := make([]string, len(members))
	for i, m := range members {
		items[i] = fmt.Sprintf("%s (%s)", m.Username, m.Role)
	}
	s.sendRaw(sess, protocol.FormatList("Group Members", items))
}
