package db

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"termchat/models"
	"termchat/store"
)

const groupIDAttempts = 10

func (db *DB) newGroupID() string {
	return fmt.Sprintf("G%d%03d", db.now().Unix(), db.randFn(1000))
}

// CreateGroup inserts the group and its OWNER row in one transaction.
func (db *DB) CreateGroup(creator, name string) (string, error) {
	if !store.IsToken(creator) || !store.ValidGroupName(name) {
		return "", store.ErrInvalid
	}

	var gid string
	err := db.tx(func(tx *sql.Tx) error {
		if err := requireAccount(tx, creator); err != nil {
			return err
		}

		for i := 0; i < groupIDAttempts && gid == ""; i++ {
			id := db.newGroupID()
			var count int
			if err := tx.QueryRow("SELECT COUNT(*) FROM groups WHERE id = ?", id).Scan(&count); err != nil {
				return errors.Wrap(err, "db: create group")
			}
			if count == 0 {
				gid = id
			}
		}
		if gid == "" {
			return errors.New("db: no free group id")
		}

		if _, err := tx.Exec(
			"INSERT INTO groups (id, name, creator, created_at) VALUES (?, ?, ?, ?)",
			gid, name, creator, db.now().Unix(),
		); err != nil {
			return errors.Wrap(err, "db: create group")
		}

		_, err := tx.Exec(
			"INSERT INTO group_members (group_id, username, role) VALUES (?, ?, ?)",
			gid, creator, string(models.RoleOwner),
		)
		return errors.Wrap(err, "db: create group owner")
	})
	if err != nil {
		return "", err
	}
	return gid, nil
}

func isOwner(tx *sql.Tx, groupID, username string) (bool, error) {
	var count int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM group_members WHERE group_id = ? AND username = ? AND role = ?",
		groupID, username, string(models.RoleOwner),
	).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "db: owner check")
	}
	return count > 0, nil
}

func (db *DB) AddGroupMember(groupID, username, addedBy string) error {
	if !store.IsToken(groupID) || !store.IsToken(username) || !store.IsToken(addedBy) {
		return store.ErrInvalid
	}

	return db.tx(func(tx *sql.Tx) error {
		if err := requireAccount(tx, username); err != nil {
			return err
		}

		owner, err := isOwner(tx, groupID, addedBy)
		if err != nil {
			return err
		}
		if !owner {
			return store.ErrNotOwner
		}

		_, err = tx.Exec(
			"INSERT INTO group_members (group_id, username, role) VALUES (?, ?, ?)",
			groupID, username, string(models.RoleMember),
		)
		if isConstraint(err) {
			return store.ErrAlreadyMember
		}
		return errors.Wrap(err, "db: add group member")
	})
}

func (db *DB) RemoveGroupMember(groupID, username, removedBy string) error {
	if !store.IsToken(groupID) || !store.IsToken(username) || !store.IsToken(removedBy) {
		return store.ErrInvalid
	}
	if username == removedBy {
		return store.ErrRemoveSelf
	}

	return db.tx(func(tx *sql.Tx) error {
		owner, err := isOwner(tx, groupID, removedBy)
		if err != nil {
			return err
		}
		if !owner {
			return store.ErrNotOwner
		}

		err = deleteOne(tx,
			"DELETE FROM group_members WHERE group_id = ? AND username = ? AND role <> ?",
			groupID, username, string(models.RoleOwner),
		)
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrNotMember
		}
		return err
	})
}

// LeaveGroup removes the caller's row whatever its role.
func (db *DB) LeaveGroup(groupID, username string) error {
	if !store.IsToken(groupID) || !store.IsToken(username) {
		return store.ErrInvalid
	}

	return db.tx(func(tx *sql.Tx) error {
		err := deleteOne(tx,
			"DELETE FROM group_members WHERE group_id = ? AND username = ?",
			groupID, username,
		)
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrNotMember
		}
		return err
	})
}

func (db *DB) IsGroupMember(groupID, username string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM group_members WHERE group_id = ? AND username = ?",
		groupID, username,
	).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "db: member check")
	}
	return count > 0, nil
}

func (db *DB) GroupMembers(groupID string) ([]models.Membership, error) {
	rows, err := db.conn.Query(
		"SELECT group_id, username, role FROM group_members WHERE group_id = ? ORDER BY id",
		groupID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "db: group members")
	}
	defer rows.Close()

	var members []models.Membership
	for rows.Next() {
		var m models.Membership
		var role string
		if err := rows.Scan(&m.GroupID, &m.Username, &role); err != nil {
			return nil, errors.Wrap(err, "db: group members")
		}
		m.Role = models.Role(role)
		members = append(members, m)
	}

	return members, rows.Err()
}

func (db *DB) UserGroups(username string) ([]models.UserGroup, error) {
	rows, err := db.conn.Query(
		`SELECT m.group_id, COALESCE(g.name, 'Unknown'), m.role
		FROM group_members m
		LEFT JOIN groups g ON g.id = m.group_id
		WHERE m.username = ?
		ORDER BY m.id`,
		username,
	)
	if err != nil {
		return nil, errors.Wrap(err, "db: user groups")
	}
	defer rows.Close()

	var groups []models.UserGroup
	for rows.Next() {
		var g models.UserGroup
		var role string
		if err := rows.Scan(&g.GroupID, &g.Name, &role); err != nil {
			return nil, errors.Wrap(err, "db: user groups")
		}
		g.Role = models.Role(role)
		groups = append(groups, g)
	}

	return groups, rows.Err()
}
