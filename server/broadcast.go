package server

import "termchat/models"

// recipientFilter narrows a broadcast to the users it accepts.
type recipientFilter interface {
	accept(username string) bool
}

type everyone struct{}

func (everyone) accept(string) bool { return true }

// groupMembers accepts the members of one group as loaded when the
// broadcast started.
type groupMembers map[string]struct{}

func (g groupMembers) accept(username string) bool {
	_, ok := g[username]
	return ok
}

// groupFilter loads the member set of groupID once per broadcast.
func (s *Server) groupFilter(groupID string) (groupMembers, error) {
	members, err := s.store.GroupMembers(groupID)
	if err != nil {
		return nil, err
	}
	return newGroupMembers(members), nil
}

func newGroupMembers(members []models.Membership) groupMembers {
	set := make(groupMembers, len(members))
	for _, m := range members {
		set[m.Username] = struct{}{}
	}
	return set
}

// broadcast writes line to every logged-in session except exclude that
// filter accepts, and returns how many sessions it was written to.
func (s *Server) broadcast(line string, exclude *Session, filter recipientFilter) int {
	delivered := 0
	for _, sess := range s.sessions.authenticated() {
		if sess == exclude || !filter.accept(sess.username) {
			continue
		}
		s.sendLine(sess, line)
		delivered++
	}
	return delivered
}

// notify pushes line to username if they are online. It reports whether
// they were.
func (s *Server) notify(username, line string) bool {
	sess := s.sessions.byUsername(username)
	if sess == nil {
		return false
	}
	s.sendLine(sess, line)
	return true
}
