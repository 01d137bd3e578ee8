package server

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"termchat/models"
	"termchat/protocol"
	"termchat/store"
)

// protectedVerbs answer "Login first" to sessions that are not logged in.
var protectedVerbs = map[string]bool{
	"LIST":         true,
	"MSG":          true,
	"MSGTO":        true,
	"ADDFRIEND":    true,
	"ACCEPT":       true,
	"REJECT":       true,
	"UNFRIEND":     true,
	"REQUESTS":     true,
	"FRIENDS":      true,
	"CREATEGROUP":  true,
	"ADDMEMBER":    true,
	"REMOVEMEMBER": true,
	"LEAVEGROUP":   true,
	"GROUPMSG":     true,
	"LISTGROUPS":   true,
	"GROUPINFO":    true,
}

func (s *Server) dispatch(sess *Session, line string) {
	cmd, ok := protocol.ParseCommand(line)
	if !ok {
		return
	}

	// arguments are not logged, they may hold a password
	sess.log.Debug("received %s", cmd.Verb)

	if protectedVerbs[cmd.Verb] && !sess.authenticated {
		s.sendLine(sess, "Login first")
		return
	}

	switch cmd.Verb {
	case "PING":
		s.sendLine(sess, "PONG")
	case "HELP":
		s.handleHelp(sess)
	case "REGISTER":
		s.handleRegister(sess, &cmd)
	case "LOGIN":
		s.handleLogin(sess, &cmd)
	case "LOGOUT":
		s.handleLogout(sess)
	case "LIST":
		s.handleList(sess)
	case "MSG":
		s.handleBroadcast(sess, &cmd)
	case "MSGTO":
		s.handlePrivateMessage(sess, &cmd)
	case "ADDFRIEND":
		s.handleAddFriend(sess, &cmd)
	case "ACCEPT":
		s.handleAccept(sess, &cmd)
	case "REJECT":
		s.handleReject(sess, &cmd)
	case "UNFRIEND":
		s.handleUnfriend(sess, &cmd)
	case "REQUESTS":
		s.handleRequests(sess)
	case "FRIENDS":
		s.handleFriends(sess)
	case "CREATEGROUP":
		s.handleCreateGroup(sess, &cmd)
	case "ADDMEMBER":
		s.handleAddMember(sess, &cmd)
	case "REMOVEMEMBER":
		s.handleRemoveMember(sess, &cmd)
	case "LEAVEGROUP":
		s.handleLeaveGroup(sess, &cmd)
	case "GROUPMSG":
		s.handleGroupMessage(sess, &cmd)
	case "LISTGROUPS":
		s.handleListGroups(sess)
	case "GROUPINFO":
		s.handleGroupInfo(sess, &cmd)
	default:
		s.sendLine(sess, "Unknown command")
	}
}

// maxMessageLen leaves room for the "[PM from user] " style prefixes
// within one input buffer.
func (s *Server) maxMessageLen() int {
	return s.config.InputBufferSize - 100
}

func (s *Server) handleHelp(sess *Session) {
	commands := []string{
		"REGISTER <user> <password>",
		"LOGIN <user> <password>",
		"LOGOUT",
		"LIST",
		"MSG <message>",
		"MSGTO <user> <message>",
		"ADDFRIEND <user>",
		"ACCEPT <user>",
		"REJECT <user>",
		"UNFRIEND <user>",
		"REQUESTS",
		"FRIENDS",
		"CREATEGROUP <name>",
		"ADDMEMBER <group_id> <user>",
		"REMOVEMEMBER <group_id> <user>",
		"LEAVEGROUP <group_id>",
		"GROUPMSG <group_id> <message>",
		"LISTGROUPS",
		"GROUPINFO <group_id>",
		"PING",
		"HELP",
	}

	s.sendRaw(sess, "=== Commands ===\n"+strings.Join(commands, "\n")+"\n")
}

func (s *Server) handleRegister(sess *Session, cmd *protocol.Command) {
	username, password := cmd.Next(), cmd.Next()

	if username == "" || password == "" {
		s.sendLine(sess, "Register FAIL: missing username or password")
		return
	}
	if len(username) > store.MaxUsernameLen {
		s.sendLine(sess, "Register FAIL: username too long")
		return
	}

	err := s.store.Register(username, password)
	s.events.Register(username, err == nil)

	switch {
	case err == nil:
		sess.log.Info("registered %s", username)
		s.sendLine(sess, "Register OK")
	case errors.Is(err, store.ErrUserExists):
		s.sendLine(sess, "Register FAIL: username already exists")
	case errors.Is(err, store.ErrInvalid):
		s.sendLine(sess, "Register FAIL: invalid username or password")
	default:
		sess.log.Error("register %s: %v", username, err)
		s.sendLine(sess, "Register FAIL")
	}
}

func (s *Server) handleLogin(sess *Session, cmd *protocol.Command) {
	if sess.authenticated {
		s.sendLine(sess, "Already logged in")
		return
	}

	username, password := cmd.Next(), cmd.Next()

	if username == "" || password == "" {
		s.sendLine(sess, "Login FAIL: missing username or password")
		return
	}
	if len(username) > store.MaxUsernameLen {
		s.sendLine(sess, "Login FAIL: username too long")
		return
	}
	if s.sessions.online(username) {
		s.sendLine(sess, "Login FAIL: user already logged in")
		return
	}

	valid, err := s.store.CheckLogin(username, password)
	if err != nil {
		sess.log.Error("login %s: %v", username, err)
	}
	s.events.Login(username, valid)
	if !valid {
		s.sendLine(sess, "Login FAIL")
		return
	}

	sess.authenticated = true
	sess.username = username
	sess.log = s.log.WithPrefix(sess.traceID[:8] + ":" + username)
	sess.log.Info("logged in")

	s.sendLine(sess, "Login OK")
	s.deliverOffline(sess)
	s.broadcast("[Server] "+username+" joined the chat", sess, everyone{})
}

// deliverOffline drains the mailbox of a session that just logged in. A
// message counts as delivered once handed to the socket, whatever the write
// outcome.
func (s *Server) deliverOffline(sess *Session) {
	n, err := s.store.DeliverOfflineMessages(sess.username, func(m models.OfflineMessage) {
		s.sendLine(sess, fmt.Sprintf("[Offline PM from %s] %s", m.From, m.Body))
	})
	if err != nil {
		sess.log.Error("offline delivery: %v", err)
	}
	if n > 0 {
		s.sendLine(sess, fmt.Sprintf("[Server] You have %d offline message(s)", n))
	}
}

func (s *Server) handleLogout(sess *Session) {
	if !sess.authenticated {
		s.sendLine(sess, "Not logged in")
		return
	}

	username := sess.username
	s.broadcast("[Server] "+username+" left the chat", sess, everyone{})
	s.events.Logout(username)
	sess.log.Info("logged out")

	sess.authenticated = false
	sess.username = ""
	sess.log = s.log.WithPrefix(sess.traceID[:8])

	s.sendLine(sess, "Logged out")
}

// handleList lists the other logged-in users.
func (s *Server) handleList(sess *Session) {
	var users []string
	for _, other := range s.sessions.authenticated() {
		if other != sess {
			users = append(users, other.username)
		}
	}
	s.sendRaw(sess, protocol.FormatList("Online users", users))
}

func (s *Server) handleBroadcast(sess *Session, cmd *protocol.Command) {
	msg := cmd.Rest()
	if msg == "" {
		return
	}
	if len(msg) > s.maxMessageLen() {
		s.sendLine(sess, "Message too long")
		return
	}

	s.broadcast("["+sess.username+"] "+msg, nil, everyone{})
	s.events.Message(sess.username, "ALL", "BROADCAST")
}

func (s *Server) handlePrivateMessage(sess *Session, cmd *protocol.Command) {
	target := cmd.Next()
	msg := cmd.Rest()

	if target == "" || msg == "" {
		s.sendLine(sess, "Usage: MSGTO <user> <message>")
		return
	}
	if target == sess.username {
		s.sendLine(sess, "Cannot send message to yourself")
		return
	}
	if len(msg) > s.maxMessageLen() {
		s.sendLine(sess, "Message too long")
		return
	}

	if s.notify(target, fmt.Sprintf("[PM from %s] %s", sess.username, msg)) {
		s.sendLine(sess, fmt.Sprintf("[PM to %s] %s", target, msg))
		s.events.Message(sess.username, target, "PRIVATE")
		return
	}

	exists, err := s.store.AccountExists(target)
	if err != nil {
		sess.log.Error("lookup %s: %v", target, err)
		s.sendLine(sess, "Failed to save offline message")
		return
	}
	if !exists {
		s.sendLine(sess, "User does not exist")
		return
	}

	if err := s.store.SaveOfflineMessage(target, sess.username, msg); err != nil {
		sess.log.Error("save offline message for %s: %v", target, err)
		s.sendLine(sess, "Failed to save offline message")
		return
	}
	s.sendLine(sess, "Message saved (user offline)")
	s.events.Message(sess.username, target, "OFFLINE")
}
