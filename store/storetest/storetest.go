// Package storetest is a behaviour suite shared by every store.Store
// implementation.
package storetest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termchat/models"
	"termchat/store"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T, opts store.Options) store.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore) })
	t.Run("ConcurrentRegister", func(t *testing.T) { testConcurrentRegister(t, newStore) })
	t.Run("HashedPasswords", func(t *testing.T) { testHashedPasswords(t, newStore) })
	t.Run("FriendLifecycle", func(t *testing.T) { testFriendLifecycle(t, newStore) })
	t.Run("FriendConflicts", func(t *testing.T) { testFriendConflicts(t, newStore) })
	t.Run("RejectAndUnfriend", func(t *testing.T) { testRejectAndUnfriend(t, newStore) })
	t.Run("Groups", func(t *testing.T) { testGroups(t, newStore) })
	t.Run("OwnerProtection", func(t *testing.T) { testOwnerProtection(t, newStore) })
	t.Run("OwnerLeaves", func(t *testing.T) { testOwnerLeaves(t, newStore) })
	t.Run("Mailbox", func(t *testing.T) { testMailbox(t, newStore) })
	t.Run("MailboxEscaping", func(t *testing.T) { testMailboxEscaping(t, newStore) })
}

func registered(t *testing.T, s store.Store, users ...string) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, s.Register(u, "secret"))
	}
}

func testAccounts(t *testing.T, newStore Factory) {
	s := newStore(t, store.Options{})

	require.NoError(t, s.Register("alice", "secret"))
	assert.ErrorIs(t, s.Register("alice", "other"), store.ErrUserExists)

	for _, tc := range []struct{ user, pass string }{
		{"al", "secret"},
		{"has space", "secret"},
		{"pi|pe", "secret"},
		{"bob", "abc"},
		{"bob", "with space"},
		{"", ""},
	} {
		assert.ErrorIs(t, s.Register(tc.user, tc.pass), store.ErrInvalid, "%q/%q", tc.user, tc.pass)
	}

	ok, err := s.CheckLogin("alice", "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CheckLogin("alice", "other")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CheckLogin("nobody", "secret")
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := s.AccountExists("alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.AccountExists("bob")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testConcurrentRegister(t *testing.T, newStore Factory) {
	s := newStore(t, store.Options{})

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Register("racer", fmt.Sprintf("pass%d", i))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, store.ErrUserExists)
	}
	assert.Equal(t, 1, succeeded)
}

func testHashedPasswords(t *testing.T, newStore Factory) {
	s := newStore(t, store.Options{HashPasswords: true})

	require.NoError(t, s.Register("alice", "secret"))

	ok, err := s.CheckLogin("alice", "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CheckLogin("alice", "Secret")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testFriendLifecycle(t *testing.T, newStore Factory) {
	s := newStore(t, store.Options{})
	registered(t, s, "bob", "alice")

	require.NoError(t, s.AddFriendRequest("bob", "alice"))

	requests, err := s.FriendRequests("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, requests)

	requests, err = s.FriendRequests("bob")
	require.NoError(t, err)
	assert.Empty(t, requests)

	require.NoError(t, s.AcceptFriendRequest("alice", "bob"))

	friends, err := s.Friends("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, friends)

	friends, err = s.Friends("bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, friends)

	requests, err = s.FriendRequests("alice")
	require.NoError(t, err)
	assert.Empty(t, requests)

	// a FRIEND edge is found from either side, whatever order it was written in
	assert.ErrorIs(t, s.AddFriendRequest("alice", "bob"), store.ErrAlreadyFriend)
	assert.ErrorIs(t, s.AddFriendRequest("bob", "alice"), store.ErrAlreadyFriend)
	assert.ErrorIs(t, s.AcceptFriendRequest("bob", "alice"), store.ErrAlreadyFriend)
}

func testFriendConflicts(t *testing.T, newStore Factory) {
	s := newStore(t, store.Options{})
	registered(t, s, "alice", "bob")

	assert.ErrorIs(t, s.AddFriendRequest("alice", "alice"), store.ErrInvalid)
	assert.ErrorIs(t, s.AddFriendRequest("alice", "ghost"), store.ErrNotFound)

	require.NoError(t, s.AddFriendRequest("alice", "bob"))
	assert.ErrorIs(t, s.AddFriendRequest("alice", "bob"), store.ErrAlreadyPending)
	assert.ErrorIs(t, s.AddFriendRequest("bob", "alice"), store.ErrIncomingPending)

	requests, err := s.FriendRequests("bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, requests, "no duplicate pending edge")

	// only the addressee can accept
	assert.ErrorIs(t, s.AcceptFriendRequest("alice", "bob"), store.ErrNotFound)
	assert.ErrorIs(t, s.AcceptFriendRequest("bob", "ghost"), store.ErrNotFound)
}

func testRejectAndUnfriend(t *testing.T, newStore Factory) {
	s := newStore(t, store.Options{})
	registered(t, s, "alice", "bob", "carol")

	require.NoError(t, s.AddFriendRequest("alice", "bob"))
	assert.ErrorIs(t, s.RejectFriendRequest("alice", "bob"), store.ErrNotFound)
	require.NoError(t, s.RejectFriendRequest("bob", "alice"))
	assert.ErrorIs(t, s.RejectFriendRequest("bob", "alice"), store.ErrNotFound)

	requests, err := s.FriendRequests("bob")
	require.NoError(t, err)
	assert.Empty(t, requests)

	// a rejected request can be sent again
	require.NoError(t, s.AddFriendRequest("alice", "bob"))
	require.NoError(t, s.AcceptFriendRequest("bob", "alice"))
	require.NoError(t, s.AddFriendRequest("carol", "alice"))

	assert.ErrorIs(t, s.Unfriend("alice", "carol"), store.ErrNotFound, "pending is not friendship")
	require.NoError(t, s.Unfriend("alice", "bob"))
	assert.ErrorIs(t, s.Unfriend("bob", "alice"), store.ErrNotFound)

	friends, err := s.Friends("bob")
	require.NoError(t, err)
	assert.Empty(t, friends)

	requests, err = s.FriendRequests("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, requests, "unrelated edges survive")
}

func testGroups(t *testing.T, newStore Factory) {
	s := newStore(t, store.Options{})
	registered(t, s, "alice", "bob", "carol")

	_, err := s.CreateGroup("alice", "")
	assert.ErrorIs(t, err, store.ErrInvalid)
	_, err = s.CreateGroup("alice", "a|b")
	assert.ErrorIs(t, err, store.ErrInvalid)
	_, err = s.CreateGroup("ghost", "team")
	assert.ErrorIs(t, err, store.ErrNotFound)

	gid, err := s.CreateGroup("alice", "team chat")
	require.NoError(t, err)
	require.NotEmpty(t, gid)

	other, err := s.CreateGroup("bob", "other")
	require.NoError(t, err)
	assert.NotEqual(t, gid, other)

	require.NoError(t, s.AddGroupMember(gid, "bob", "alice"))
	assert.ErrorIs(t, s.AddGroupMember(gid, "bob", "alice"), store.ErrAlreadyMember)
	assert.ErrorIs(t, s.AddGroupMember(gid, "carol", "bob"), store.ErrNotOwner)
	assert.ErrorIs(t, s.AddGroupMember(gid, "ghost", "alice"), store.ErrNotFound)

	member, err := s.IsGroupMember(gid, "bob")
	require.NoError(t, err)
	assert.True(t, member)

	member, err = s.IsGroupMember(gid, "carol")
	require.NoError(t, err)
	assert.False(t, member)

	members, err := s.GroupMembers(gid)
	require.NoError(t, err)
	assert.Equal(t, []models.Membership{
		{GroupID: gid, Username: "alice", Role: models.RoleOwner},
		{GroupID: gid, Username: "bob", Role: models.RoleMember},
	}, members)

	groups, err := s.UserGroups("bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.UserGroup{
		{GroupID: gid, Name: "team chat", Role: models.RoleMember},
		{GroupID: other, Name: "other", Role: models.RoleOwner},
	}, groups)

	require.NoError(t, s.RemoveGroupMember(gid, "bob", "alice"))
	assert.ErrorIs(t, s.RemoveGroupMember(gid, "bob", "alice"), store.ErrNotMember)

	require.NoError(t, s.AddGroupMember(gid, "carol", "alice"))
	require.NoError(t, s.LeaveGroup(gid, "carol"))
	assert.ErrorIs(t, s.LeaveGroup(gid, "carol"), store.ErrNotMember)

	members, err = s.GroupMembers(gid)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func testOwnerProtection(t *testing.T, newStore Factory) {
	s := newStore(t, store.Options{})
	registered(t, s, "alice", "bob")

	gid, err := s.CreateGroup("alice", "team")
	require.NoError(t, err)
	require.NoError(t, s.AddGroupMember(gid, "bob", "alice"))

	assert.ErrorIs(t, s.RemoveGroupMember(gid, "alice", "alice"), store.ErrRemoveSelf)
	assert.ErrorIs(t, s.RemoveGroupMember(gid, "alice", "bob"), store.ErrNotOwner)

	members, err := s.GroupMembers(gid)
	require.NoError(t, err)
	owners := 0
	for _, m := range members {
		if m.Role == models.RoleOwner {
			owners++
			assert.Equal(t, "alice", m.Username)
		}
	}
	assert.Equal(t, 1, owners)
}

func testOwnerLeaves(t *testing.T, newStore Factory) {
	s := newStore(t, store.Options{})
	registered(t, s, "alice", "bob")

	gid, err := s.CreateGroup("alice", "team")
	require.NoError(t, err)
	require.NoError(t, s.AddGroupMember(gid, "bob", "alice"))

	require.NoError(t, s.LeaveGroup(gid, "alice"))

	members, err := s.GroupMembers(gid)
	require.NoError(t, err)
	assert.Equal(t, []models.Membership{{GroupID: gid, Username: "bob", Role: models.RoleMember}}, members)
	assert.ErrorIs(t, s.AddGroupMember(gid, "alice", "bob"), store.ErrNotOwner)
}

func testMailbox(t *testing.T, newStore Factory) {
	s := newStore(t, store.Options{})
	registered(t, s, "alice", "bob", "carol")

	require.NoError(t, s.SaveOfflineMessage("bob", "alice", "first"))
	require.NoError(t, s.SaveOfflineMessage("carol", "alice", "for carol"))
	require.NoError(t, s.SaveOfflineMessage("bob", "carol", "second"))

	var got []models.OfflineMessage
	n, err := s.DeliverOfflineMessages("bob", func(m models.OfflineMessage) {
		got = append(got, m)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].From)
	assert.Equal(t, "first", got[0].Body)
	assert.Equal(t, "carol", got[1].From)
	assert.Equal(t, "second", got[1].Body)
	assert.False(t, got[0].Timestamp.IsZero())

	n, err = s.DeliverOfflineMessages("bob", func(models.OfflineMessage) {
		t.Fatal("message delivered twice")
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	got = nil
	n, err = s.DeliverOfflineMessages("carol", func(m models.OfflineMessage) {
		got = append(got, m)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "for carol", got[0].Body)
}

func testMailboxEscaping(t *testing.T, newStore Factory) {
	s := newStore(t, store.Options{})
	registered(t, s, "alice", "bob")

	require.NoError(t, s.SaveOfflineMessage("bob", "alice", `a|b\c|`))

	var got []string
	_, err := s.DeliverOfflineMessages("bob", func(m models.OfflineMessage) {
		got = append(got, m.Body)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`a|b\c|`}, got)
}
