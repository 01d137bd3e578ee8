package db

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"termchat/models"
	"termchat/store"
)

func (db *DB) SaveOfflineMessage(to, from, body string) error {
	if !store.IsToken(to) || !store.IsToken(from) {
		return store.ErrInvalid
	}

	_, err := db.conn.Exec(
		"INSERT INTO offline_messages (recipient, sender, timestamp, body) VALUES (?, ?, ?, ?)",
		to, from, db.now().Unix(), body,
	)
	return errors.Wrap(err, "db: save offline message")
}

// DeliverOfflineMessages removes the queued messages of username in one
// transaction and hands them to deliver in insertion order once it commits.
func (db *DB) DeliverOfflineMessages(username string, deliver func(models.OfflineMessage)) (int, error) {
	var messages []models.OfflineMessage
	err := db.tx(func(tx *sql.Tx) error {
		rows, err := tx.Query(
			"SELECT id, sender, timestamp, body FROM offline_messages WHERE recipient = ? ORDER BY id",
			username,
		)
		if err != nil {
			return errors.Wrap(err, "db: load offline messages")
		}

		var lastID int64
		for rows.Next() {
			m := models.OfflineMessage{To: username}
			var ts int64
			if err := rows.Scan(&lastID, &m.From, &ts, &m.Body); err != nil {
				rows.Close()
				return errors.Wrap(err, "db: load offline messages")
			}
			m.Timestamp = time.Unix(ts, 0)
			messages = append(messages, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "db: load offline messages")
		}
		if len(messages) == 0 {
			return nil
		}

		if _, err := tx.Exec(
			"DELETE FROM offline_messages WHERE recipient = ? AND id <= ?",
			username, lastID,
		); err != nil {
			return errors.Wrap(err, "db: drain offline messages")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, m := range messages {
		deliver(m)
	}
	return len(messages), nil
}
