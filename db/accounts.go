package db

import (
	"database/sql"

	"github.com/pkg/errors"

	"termchat/store"
)

func (db *DB) Register(username, password string) error {
	if !store.ValidUsername(username) || !store.ValidPassword(password) {
		return store.ErrInvalid
	}

	stored, err := store.HashPassword(password, db.opts)
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(
		"INSERT INTO accounts (username, password, created_at) VALUES (?, ?, ?)",
		username, stored, db.now().Unix(),
	)
	if isConstraint(err) {
		return store.ErrUserExists
	}
	return errors.Wrap(err, "db: register")
}

func (db *DB) CheckLogin(username, password string) (bool, error) {
	if !store.ValidUsername(username) || !store.ValidPassword(password) {
		return false, nil
	}

	var stored string
	err := db.conn.QueryRow("SELECT password FROM accounts WHERE username = ?", username).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "db: check login")
	}

	return store.PasswordMatches(stored, password), nil
}

func (db *DB) AccountExists(username string) (bool, error) {
	return accountExists(db.conn, username)
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func accountExists(q queryRower, username string) (bool, error) {
	var count int
	err := q.QueryRow("SELECT COUNT(*) FROM accounts WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "db: account exists")
	}
	return count > 0, nil
}

func requireAccount(q queryRower, username string) error {
	exists, err := accountExists(q, username)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}
