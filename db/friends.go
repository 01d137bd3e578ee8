package db

import (
	"database/sql"

	"github.com/pkg/errors"

	"termchat/models"
	"termchat/store"
)

func validPair(me, other string) bool {
	return store.IsToken(me) && store.IsToken(other) && me != other
}

// edge loads the single row for the unordered pair {a, b}.
func edge(tx *sql.Tx, a, b string) (models.FriendEdge, bool, error) {
	lo, hi := models.CanonicalPair(a, b)

	var e models.FriendEdge
	var status string
	err := tx.QueryRow(
		"SELECT requester, target, status FROM friendships WHERE pair_lo = ? AND pair_hi = ?",
		lo, hi,
	).Scan(&e.A, &e.B, &status)
	if err == sql.ErrNoRows {
		return e, false, nil
	}
	if err != nil {
		return e, false, errors.Wrap(err, "db: load friendship")
	}
	e.Status = models.FriendStatus(status)
	return e, true, nil
}

func (db *DB) AddFriendRequest(from, to string) error {
	if !validPair(from, to) {
		return store.ErrInvalid
	}

	return db.tx(func(tx *sql.Tx) error {
		if err := requireAccount(tx, to); err != nil {
			return err
		}

		e, found, err := edge(tx, from, to)
		if err != nil {
			return err
		}
		if found {
			switch {
			case e.Status == models.FriendAccepted:
				return store.ErrAlreadyFriend
			case e.A == from:
				return store.ErrAlreadyPending
			default:
				return store.ErrIncomingPending
			}
		}

		lo, hi := models.CanonicalPair(from, to)
		_, err = tx.Exec(
			"INSERT INTO friendships (requester, target, status, pair_lo, pair_hi) VALUES (?, ?, ?, ?, ?)",
			from, to, string(models.FriendPending), lo, hi,
		)
		return errors.Wrap(err, "db: add friend request")
	})
}

func (db *DB) AcceptFriendRequest(me, from string) error {
	if !validPair(me, from) {
		return store.ErrInvalid
	}

	return db.tx(func(tx *sql.Tx) error {
		if err := requireAccount(tx, from); err != nil {
			return err
		}

		e, found, err := edge(tx, me, from)
		if err != nil {
			return err
		}
		if found && e.Status == models.FriendAccepted {
			return store.ErrAlreadyFriend
		}
		if !found || e.A != from {
			return store.ErrNotFound
		}

		lo, hi := models.CanonicalPair(me, from)
		_, err = tx.Exec(
			"UPDATE friendships SET requester = ?, target = ?, status = ? WHERE pair_lo = ? AND pair_hi = ?",
			lo, hi, string(models.FriendAccepted), lo, hi,
		)
		return errors.Wrap(err, "db: accept friend request")
	})
}

func (db *DB) RejectFriendRequest(me, from string) error {
	if !validPair(me, from) {
		return store.ErrInvalid
	}

	return db.tx(func(tx *sql.Tx) error {
		if err := requireAccount(tx, from); err != nil {
			return err
		}
		return deleteOne(tx,
			"DELETE FROM friendships WHERE requester = ? AND target = ? AND status = ?",
			from, me, string(models.FriendPending),
		)
	})
}

func (db *DB) Unfriend(me, other string) error {
	if !validPair(me, other) {
		return store.ErrInvalid
	}

	lo, hi := models.CanonicalPair(me, other)
	return db.tx(func(tx *sql.Tx) error {
		return deleteOne(tx,
			"DELETE FROM friendships WHERE pair_lo = ? AND pair_hi = ? AND status = ?",
			lo, hi, string(models.FriendAccepted),
		)
	})
}

// deleteOne runs a DELETE and maps "nothing deleted" to store.ErrNotFound.
func deleteOne(tx *sql.Tx, query string, args ...any) error {
	result, err := tx.Exec(query, args...)
	if err != nil {
		return errors.Wrap(err, "db: delete")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "db: delete")
	}

	if rowsAffected == 0 {
		return store.ErrNotFound
	}

	return nil
}

func (db *DB) Friends(me string) ([]string, error) {
	return db.column(
		`SELECT CASE WHEN requester = ? THEN target ELSE requester END
		FROM friendships
		WHERE status = ? AND (requester = ? OR target = ?)
		ORDER BY id`,
		me, string(models.FriendAccepted), me, me,
	)
}

func (db *DB) FriendRequests(me string) ([]string, error) {
	return db.column(
		"SELECT requester FROM friendships WHERE target = ? AND status = ? ORDER BY id",
		me, string(models.FriendPending),
	)
}

func (db *DB) column(query string, args ...any) ([]string, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "db: query")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errors.Wrap(err, "db: scan")
		}
		out = append(out, s)
	}

	return out, rows.Err()
}
