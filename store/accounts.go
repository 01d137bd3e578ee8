package store

import "termchat/models"

func (s *FileStore) Register(username, password string) error {
	if !ValidUsername(username) || !ValidPassword(password) {
		return ErrInvalid
	}

	stored, err := HashPassword(password, s.opts)
	if err != nil {
		return err
	}

	return s.accounts.update(func(lines []string) ([]string, bool, error) {
		for _, line := range lines {
			if a, ok := parseAccount(line); ok && a.Username == username {
				return nil, false, ErrUserExists
			}
		}
		return append(lines, formatAccount(models.Account{Username: username, Password: stored})), true, nil
	})
}

func (s *FileStore) CheckLogin(username, password string) (bool, error) {
	if !ValidUsername(username) || !ValidPassword(password) {
		return false, nil
	}

	matched := false
	err := s.accounts.view(func(line string) bool {
		a, ok := parseAccount(line)
		if !ok || a.Username != username {
			return true
		}
		matched = PasswordMatches(a.Password, password)
		return false
	})
	return matched, err
}

func (s *FileStore) AccountExists(username string) (bool, error) {
	if !IsToken(username) || len(username) > MaxUsernameLen {
		return false, nil
	}

	found := false
	err := s.accounts.view(func(line string) bool {
		if a, ok := parseAccount(line); ok && a.Username == username {
			found = true
			return false
		}
		return true
	})
	return found, err
}
