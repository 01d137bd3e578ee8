// Package db is the SQLite implementation of store.Store.
package db

import (
	"database/sql"
	"math/rand"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"termchat/store"
)

type DB struct {
	conn *sql.DB
	opts store.Options

	now    func() time.Time
	randFn func(n int) int
}

var _ store.Store = (*DB)(nil)

func New(path string, opts store.Options) (*DB, error) {
	// immediate transactions take the write lock up front, so two
	// read-then-write transactions never deadlock on upgrade
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, errors.Wrapf(err, "db: open %s", path)
	}

	db := &DB{conn: conn, opts: opts, now: time.Now, randFn: rand.Intn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friendships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			requester TEXT NOT NULL,
			target TEXT NOT NULL,
			status TEXT NOT NULL,
			pair_lo TEXT NOT NULL,
			pair_hi TEXT NOT NULL,
			UNIQUE(pair_lo, pair_hi)
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			creator TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id TEXT NOT NULL,
			username TEXT NOT NULL,
			role TEXT NOT NULL,
			UNIQUE(group_id, username)
		)`,
		`CREATE TABLE IF NOT EXISTS offline_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recipient TEXT NOT NULL,
			sender TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_friendships_target ON friendships(target, status)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(username)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_recipient ON offline_messages(recipient, id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return errors.Wrap(err, "db: init schema")
		}
	}

	return db.migrate()
}

// migrate adds columns introduced after the first schema.
func (db *DB) migrate() error {
	if !db.columnExists("accounts", "created_at") {
		// SQLite doesn't support parameters in ALTER TABLE
		if _, err := db.conn.Exec("ALTER TABLE accounts ADD COLUMN created_at INTEGER NOT NULL DEFAULT 0"); err != nil {
			return errors.Wrap(err, "db: migrate accounts.created_at")
		}
	}
	if !db.columnExists("groups", "created_at") {
		if _, err := db.conn.Exec("ALTER TABLE groups ADD COLUMN created_at INTEGER NOT NULL DEFAULT 0"); err != nil {
			return errors.Wrap(err, "db: migrate groups.created_at")
		}
	}
	return nil
}

func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// tx runs fn in one transaction and rolls back on any error.
func (db *DB) tx(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return errors.Wrap(err, "db: begin")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "db: commit")
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
