package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termchat/models"
	"termchat/store"
	"termchat/store/storetest"
)

func newTestDB(t *testing.T, opts store.Options) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "chat.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts store.Options) store.Store {
		return newTestDB(t, opts)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")

	db, err := New(path, store.Options{})
	require.NoError(t, err)
	require.NoError(t, db.Register("alice", "secret"))
	require.NoError(t, db.Close())

	db, err = New(path, store.Options{})
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.columnExists("accounts", "created_at"))
	ok, err := db.CheckLogin("alice", "secret")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGroupIDCollisionRetries(t *testing.T) {
	db := newTestDB(t, store.Options{})
	require.NoError(t, db.Register("alice", "secret"))

	now := time.Unix(1700000000, 0)
	db.now = func() time.Time { return now }
	rolls := []int{7, 7, 8}
	db.randFn = func(int) int {
		n := rolls[0]
		if len(rolls) > 1 {
			rolls = rolls[1:]
		}
		return n
	}

	first, err := db.CreateGroup("alice", "one")
	require.NoError(t, err)
	second, err := db.CreateGroup("alice", "two")
	require.NoError(t, err)

	assert.Equal(t, "G1700000000007", first)
	assert.Equal(t, "G1700000000008", second)
}

func TestFailedTransactionLeavesNoRows(t *testing.T) {
	db := newTestDB(t, store.Options{})
	require.NoError(t, db.Register("alice", "secret"))

	_, err := db.CreateGroup("ghost", "team")
	assert.ErrorIs(t, err, store.ErrNotFound)

	var count int
	require.NoError(t, db.conn.QueryRow("SELECT COUNT(*) FROM groups").Scan(&count))
	assert.Zero(t, count)
}

func TestMailboxDeliversAfterCommit(t *testing.T) {
	db := newTestDB(t, store.Options{})
	require.NoError(t, db.SaveOfflineMessage("bob", "alice", "one"))
	require.NoError(t, db.SaveOfflineMessage("bob", "alice", "two"))
	require.NoError(t, db.SaveOfflineMessage("carol", "alice", "three"))

	var bodies []string
	n, err := db.DeliverOfflineMessages("bob", func(m models.OfflineMessage) {
		var queued int
		require.NoError(t, db.conn.QueryRow(
			"SELECT COUNT(*) FROM offline_messages WHERE recipient = ?", "bob",
		).Scan(&queued))
		assert.Zero(t, queued, "messages are handed out only after the delete commits")
		bodies = append(bodies, m.Body)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"one", "two"}, bodies)

	var left int
	require.NoError(t, db.conn.QueryRow("SELECT COUNT(*) FROM offline_messages").Scan(&left))
	assert.Equal(t, 1, left)
}
