package server

import (
	"github.com/pkg/errors"

	"termchat/protocol"
	"termchat/store"
)

// friendTarget reads the single username argument of a friend verb and
// answers the usage and length errors itself.
func (s *Server) friendTarget(sess *Session, cmd *protocol.Command, verb string) (string, bool) {
	target := cmd.Next()
	if target == "" {
		s.sendLine(sess, "Usage: "+verb+" <user>")
		return "", false
	}
	if len(target) > store.MaxUsernameLen {
		s.sendLine(sess, "Username too long")
		return "", false
	}
	return target, true
}

func (s *Server) handleAddFriend(sess *Session, cmd *protocol.Command) {
	target, ok := s.friendTarget(sess, cmd, "ADDFRIEND")
	if !ok {
		return
	}
	if target == sess.username {
		s.sendLine(sess, "Cannot add yourself")
		return
	}

	err := s.store.AddFriendRequest(sess.username, target)
	switch {
	case err == nil:
		s.sendLine(sess, "Friend request sent")
		s.notify(target, "[Server] Friend request from "+sess.username)
		s.events.Friend(sess.username, "REQUEST", target)
	case errors.Is(err, store.ErrAlreadyFriend):
		s.sendLine(sess, "Already friends")
	case errors.Is(err, store.ErrAlreadyPending):
		s.sendLine(sess, "Request already sent")
	case errors.Is(err, store.ErrIncomingPending):
		s.sendLine(sess, "They already sent you a request. Use ACCEPT <user>")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalid):
		s.sendLine(sess, "User does not exist")
	default:
		sess.log.Error("add friend %s: %v", target, err)
		s.sendLine(sess, "Add friend failed")
	}
}

func (s *Server) handleAccept(sess *Session, cmd *protocol.Command) {
	from, ok := s.friendTarget(sess, cmd, "ACCEPT")
	if !ok {
		return
	}

	err := s.store.AcceptFriendRequest(sess.username, from)
	switch {
	case err == nil:
		s.sendLine(sess, "Friend request accepted")
		s.notify(from, "[Server] "+sess.username+" accepted your friend request")
		s.events.Friend(sess.username, "ACCEPT", from)
	case errors.Is(err, store.ErrAlreadyFriend):
		s.sendLine(sess, "Already friends")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalid):
		s.sendLine(sess, "No request from that user")
	default:
		sess.log.Error("accept %s: %v", from, err)
		s.sendLine(sess, "Accept failed")
	}
}

func (s *Server) handleReject(sess *Session, cmd *protocol.Command) {
	from, ok := s.friendTarget(sess, cmd, "REJECT")
	if !ok {
		return
	}

	err := s.store.RejectFriendRequest(sess.username, from)
	switch {
	case err == nil:
		s.sendLine(sess, "Friend request rejected")
		s.events.Friend(sess.username, "REJECT", from)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalid):
		s.sendLine(sess, "No request from that user")
	default:
		sess.log.Error("reject %s: %v", from, err)
		s.sendLine(sess, "Reject failed")
	}
}

func (s *Server) handleUnfriend(sess *Session, cmd *protocol.Command) {
	other, ok := s.friendTarget(sess, cmd, "UNFRIEND")
	if !ok {
		return
	}

	err := s.store.Unfriend(sess.username, other)
	switch {
	case err == nil:
		s.sendLine(sess, "Unfriended "+other)
		s.notify(other, "[Server] "+sess.username+" removed you from friends")
		s.events.Friend(sess.username, "REMOVE", other)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalid):
		s.sendLine(sess, "You are not friends with that user")
	default:
		sess.log.Error("unfriend %s: %v", other, err)
		s.sendLine(sess, "Unfriend failed")
	}
}

func (s *Server) handleRequests(sess *Session) {
	requesters, err := s.store.FriendRequests(sess.username)
	if err != nil {
		sess.log.Error("list friend requests: %v", err)
		s.sendLine(sess, "Failed to load friend requests")
		return
	}

	items := make([]string, len(requesters))
	for i, u := range requesters {
		items[i] = "from " + u
	}
	s.sendRaw(sess, protocol.FormatList("Friend requests", items))
}

func (s *Server) handleFriends(sess *Session) {
	friends, err := s.store.Friends(sess.username)
	if err != nil {
		sess.log.Error("list friends: %v", err)
		s.sendLine(sess, "Failed to load friends")
		return
	}

	items := make([]string, len(friends))
	for i, u := range friends {
		status := "OFFLINE"
		if s.sessions.online(u) {
			status = "ONLINE"
		}
		items[i] = u + " (" + status + ")"
	}
	s.sendRaw(sess, protocol.FormatList("Friends", items))
}
