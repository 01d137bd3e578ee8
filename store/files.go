package store

import (
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const (
	AccountsFile     = "accounts.txt"
	FriendsFile      = "friends.txt"
	GroupsFile       = "groups.txt"
	GroupMembersFile = "group_members.txt"
	MailboxFile      = "offline_messages.txt"
)

// FileStore keeps each collection in its own flat file under one directory.
// Files are locked per transaction, so several processes may share a
// directory safely.
type FileStore struct {
	dir      string
	opts     Options
	accounts table
	friends  table
	groups   table
	members  table
	mailbox  table

	now    func() time.Time
	randFn func(n int) int
}

var _ Store = (*FileStore)(nil)

func Open(dir string, opts Options) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "store: create data directory %s", dir)
	}

	return &FileStore{
		dir:      dir,
		opts:     opts,
		accounts: table{path: filepath.Join(dir, AccountsFile)},
		friends:  table{path: filepath.Join(dir, FriendsFile)},
		groups:   table{path: filepath.Join(dir, GroupsFile)},
		members:  table{path: filepath.Join(dir, GroupMembersFile)},
		mailbox:  table{path: filepath.Join(dir, MailboxFile)},
		now:      time.Now,
		randFn:   rand.Intn,
	}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

// Close is a no-op: no file stays open between transactions.
func (s *FileStore) Close() error {
	return nil
}
