package store

import "termchat/models"

func (s *FileStore) SaveOfflineMessage(to, from, body string) error {
	if !IsToken(to) || !IsToken(from) {
		return ErrInvalid
	}

	msg := models.OfflineMessage{To: to, From: from, Timestamp: s.now(), Body: body}
	return s.mailbox.append(formatOffline(msg))
}

// DeliverOfflineMessages drains username's messages in one transaction. The
// remaining records keep their order and bytes.
func (s *FileStore) DeliverOfflineMessages(username string, deliver func(models.OfflineMessage)) (int, error) {
	count := 0
	err := s.mailbox.update(func(lines []string) ([]string, bool, error) {
		keep := make([]string, 0, len(lines))
		for _, line := range lines {
			msg, ok := parseOffline(line)
			if !ok || msg.To != username {
				keep = append(keep, line)
				continue
			}
			deliver(msg)
			count++
		}
		return keep, count > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
