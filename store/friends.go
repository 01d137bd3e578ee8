package store

import "termchat/models"

func (s *FileStore) requireAccount(username string) error {
	exists, err := s.AccountExists(username)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func validPair(me, other string) bool {
	return IsToken(me) && IsToken(other) && me != other
}

// AddFriendRequest records a PENDING edge from -> to.
func (s *FileStore) AddFriendRequest(from, to string) error {
	if !validPair(from, to) {
		return ErrInvalid
	}
	if err := s.requireAccount(to); err != nil {
		return err
	}

	return s.friends.update(func(lines []string) ([]string, bool, error) {
		var friends, pending, incoming bool
		for _, line := range lines {
			e, ok := parseFriend(line)
			if !ok {
				continue
			}
			switch {
			case e.Status == models.FriendAccepted && samePair(e, from, to):
				friends = true
			case e.Status == models.FriendPending && e.A == from && e.B == to:
				pending = true
			case e.Status == models.FriendPending && e.A == to && e.B == from:
				incoming = true
			}
		}

		switch {
		case friends:
			return nil, false, ErrAlreadyFriend
		case pending:
			return nil, false, ErrAlreadyPending
		case incoming:
			return nil, false, ErrIncomingPending
		}

		edge := models.FriendEdge{A: from, B: to, Status: models.FriendPending}
		return append(lines, formatFriend(edge)), true, nil
	})
}

// AcceptFriendRequest replaces the PENDING edge from -> me in place with a
// canonical FRIEND edge.
func (s *FileStore) AcceptFriendRequest(me, from string) error {
	if !validPair(me, from) {
		return ErrInvalid
	}
	if err := s.requireAccount(from); err != nil {
		return err
	}

	return s.friends.update(func(lines []string) ([]string, bool, error) {
		lo, hi := models.CanonicalPair(me, from)
		friend := formatFriend(models.FriendEdge{A: lo, B: hi, Status: models.FriendAccepted})

		next := make([]string, 0, len(lines))
		var friends, found bool
		for _, line := range lines {
			e, ok := parseFriend(line)
			switch {
			case !ok:
			case e.Status == models.FriendAccepted && samePair(e, me, from):
				friends = true
			case e.Status == models.FriendPending && e.A == from && e.B == me:
				found = true
				line = friend
			}
			next = append(next, line)
		}

		if friends {
			return nil, false, ErrAlreadyFriend
		}
		if !found {
			return nil, false, ErrNotFound
		}
		return next, true, nil
	})
}

// RejectFriendRequest deletes the PENDING edge from -> me.
func (s *FileStore) RejectFriendRequest(me, from string) error {
	if !validPair(me, from) {
		return ErrInvalid
	}
	if err := s.requireAccount(from); err != nil {
		return err
	}

	return s.friends.update(func(lines []string) ([]string, bool, error) {
		next, removed := dropLines(lines, func(e models.FriendEdge) bool {
			return e.Status == models.FriendPending && e.A == from && e.B == me
		})
		if !removed {
			return nil, false, ErrNotFound
		}
		return next, true, nil
	})
}

// Unfriend deletes the FRIEND edge between me and other.
func (s *FileStore) Unfriend(me, other string) error {
	if !validPair(me, other) {
		return ErrInvalid
	}

	return s.friends.update(func(lines []string) ([]string, bool, error) {
		next, removed := dropLines(lines, func(e models.FriendEdge) bool {
			return e.Status == models.FriendAccepted && samePair(e, me, other)
		})
		if !removed {
			return nil, false, ErrNotFound
		}
		return next, true, nil
	})
}

func dropLines(lines []string, match func(models.FriendEdge) bool) ([]string, bool) {
	next := make([]string, 0, len(lines))
	removed := false
	for _, line := range lines {
		if e, ok := parseFriend(line); ok && match(e) {
			removed = true
			continue
		}
		next = append(next, line)
	}
	return next, removed
}

// Friends lists the other party of every FRIEND edge touching me.
func (s *FileStore) Friends(me string) ([]string, error) {
	var out []string
	err := s.friends.view(func(line string) bool {
		e, ok := parseFriend(line)
		if !ok || e.Status != models.FriendAccepted {
			return true
		}
		switch me {
		case e.A:
			out = append(out, e.B)
		case e.B:
			out = append(out, e.A)
		}
		return true
	})
	return out, err
}

// FriendRequests lists the requesters of PENDING edges addressed to me.
func (s *FileStore) FriendRequests(me string) ([]string, error) {
	var out []string
	err := s.friends.view(func(line string) bool {
		if e, ok := parseFriend(line); ok && e.Status == models.FriendPending && e.B == me {
			out = append(out, e.A)
		}
		return true
	})
	return out, err
}
