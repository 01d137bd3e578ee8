package server

import (
	"bufio"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termchat/logger"
	"termchat/store"
)

const testTimeout = 5 * time.Second

// setupTestServer starts a server on a loopback port backed by a fresh
// flat-file store.
func setupTestServer(t *testing.T, config Config) (*Server, *store.FileStore) {
	t.Helper()

	st, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)

	return startServer(t, st, config), st
}

// startServer serves st on a loopback port until the test ends.
func startServer(t *testing.T, st store.Store, config Config) *Server {
	t.Helper()

	config.Addr = "127.0.0.1:0"
	srv := New(st, config, logger.Discard(), nil)
	require.NoError(t, srv.Listen())

	stopped := make(chan struct{})
	go func() {
		srv.Serve()
		close(stopped)
	}()

	t.Cleanup(func() {
		srv.Stop()
		select {
		case <-stopped:
		case <-time.After(testTimeout):
			t.Error("server did not stop")
		}
	})

	return srv
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

// sendRequest writes one command line.
func (c *testClient) sendRequest(line string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(testTimeout))
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

// readResponse reads one line without its terminator.
func (c *testClient) readResponse() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err, "partial line %q", line)
	return strings.TrimSuffix(line, "\n")
}

func (c *testClient) expect(lines ...string) {
	c.t.Helper()
	for _, want := range lines {
		assert.Equal(c.t, want, c.readResponse())
	}
}

func (c *testClient) roundTrip(request string, response ...string) {
	c.t.Helper()
	c.sendRequest(request)
	c.expect(response...)
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, err := c.reader.ReadString('\n')
	require.Error(c.t, err)
	if netErr, ok := err.(net.Error); ok {
		assert.False(c.t, netErr.Timeout(), "connection was not closed")
	}
}

// login registers and logs in a user on a fresh connection.
func login(t *testing.T, srv *Server, username string) *testClient {
	t.Helper()
	c := dial(t, srv)
	c.roundTrip("REGISTER "+username+" secret", "Register OK")
	c.roundTrip("LOGIN "+username+" secret", "Login OK")
	return c
}

func TestPing(t *testing.T) {
	srv, _ := setupTestServer(t, Config{})
	c := dial(t, srv)

	c.roundTrip("PING", "PONG")
	c.roundTrip("PING\r", "PONG")
}

func TestHelp(t *testing.T) {
	srv, _ := setupTestServer(t, Config{})
	c := dial(t, srv)

	c.sendRequest("HELP")
	c.expect("=== Commands ===", "REGISTER <user> <password>", "LOGIN <user> <password>")
	for i := 0; i < 19; i++ {
		c.readResponse()
	}
	c.roundTrip("PING", "PONG")
}

func TestUnauthenticated(t *testing.T) {
	srv, _ := setupTestServer(t, Config{})
	c := dial(t, srv)

	for _, verb := range []string{"LIST", "MSG hi", "MSGTO bob hi", "ADDFRIEND bob", "FRIENDS", "CREATEGROUP g", "GROUPINFO G1"} {
		c.roundTrip(verb, "Login first")
	}
	c.roundTrip("LOGOUT", "Not logged in")
	c.roundTrip("DANCE", "Unknown command")
	c.roundTrip("login alice secret", "Unknown command")

	// blank lines get no answer
	c.sendRequest("")
	c.sendRequest("   ")
	c.roundTrip("PING", "PONG")
}

func TestRegisterAndLogin(t *testing.T) {
	srv, _ := setupTestServer(t, Config{})
	c := dial(t, srv)

	c.roundTrip("REGISTER", "Register FAIL: missing username or password")
	c.roundTrip("REGISTER alice", "Register FAIL: missing username or password")
	c.roundTrip("REGISTER "+strings.Repeat("a", 50)+" secret", "Register FAIL: username too long")
	c.roundTrip("REGISTER al secret", "Register FAIL: invalid username or password")
	c.roundTrip("REGISTER alice abc", "Register FAIL: invalid username or password")
	c.roundTrip("REGISTER alice p@ss", "Register OK")
	c.roundTrip("REGISTER alice other", "Register FAIL: username already exists")

	c.roundTrip("LOGIN alice", "Login FAIL: missing username or password")
	c.roundTrip("LOGIN "+strings.Repeat("a", 50)+" p@ss", "Login FAIL: username too long")
	c.roundTrip("LOGIN alice wrong", "Login FAIL")
	c.roundTrip("LOGIN nobody p@ss", "Login FAIL")
	c.roundTrip("LOGIN alice p@ss", "Login OK")
	c.roundTrip("LOGIN alice p@ss", "Already logged in")

	other := dial(t, srv)
	other.roundTrip("LOGIN alice p@ss", "Login FAIL: user already logged in")

	c.roundTrip("LOGOUT", "Logged out")
	other.roundTrip("LOGIN alice p@ss", "Login OK")
}

func TestPresence(t *testing.T) {
	srv, _ := setupTestServer(t, Config{})

	alice := login(t, srv, "alice")
	alice.roundTrip("LIST", "=== Online users ===", "Total: 0")

	bob := login(t, srv, "bob")
	alice.expect("[Server] bob joined the chat")

	alice.roundTrip("LIST", "=== Online users ===", "- bob", "Total: 1")

	bob.roundTrip("MSG hello  everyone", "[bob] hello  everyone")
	alice.expect("[bob] hello  everyone")

	bob.roundTrip("LOGOUT", "Logged out")
	alice.expect("[Server] bob left the chat")

	carol := login(t, srv, "carol")
	alice.expect("[Server] carol joined the chat")
	carol.conn.Close()
	alice.expect("[Server] carol left the chat")

	assert.Equal(t, "connections=2,users=alice", srv.GetStats())
}

func TestEndToEndScenario(t *testing.T) {
	srv, _ := setupTestServer(t, Config{})

	alice := dial(t, srv)
	alice.roundTrip("REGISTER alice p@ss", "Register OK")
	alice.roundTrip("REGISTER bob pass1", "Register OK")
	alice.roundTrip("LOGIN alice p@ss", "Login OK")

	bob := dial(t, srv)
	bob.roundTrip("LOGIN bob pass1", "Login OK")
	alice.expect("[Server] bob joined the chat")

	alice.roundTrip("ADDFRIEND bob", "Friend request sent")
	bob.expect("[Server] Friend request from alice")

	bob.roundTrip("ACCEPT alice", "Friend request accepted")
	alice.expect("[Server] bob accepted your friend request")

	alice.roundTrip("FRIENDS", "=== Friends ===", "- bob (ONLINE)", "Total: 1")
	bob.roundTrip("FRIENDS", "=== Friends ===", "- alice (ONLINE)", "Total: 1")

	bob.roundTrip("LOGOUT", "Logged out")
	alice.expect("[Server] bob left the chat")

	alice.roundTrip("FRIENDS", "=== Friends ===", "- bob (OFFLINE)", "Total: 1")
	alice.roundTrip("MSGTO bob hello", "Message saved (user offline)")

	bob.conn.Close()
	bob = dial(t, srv)
	bob.roundTrip("LOGIN bob pass1",
		"Login OK",
		"[Offline PM from alice] hello",
		"[Server] You have 1 offline message(s)",
	)
	alice.expect("[Server] bob joined the chat")

	bob.roundTrip("LOGOUT", "Logged out")
	alice.expect("[Server] bob left the chat")
	bob.roundTrip("LOGIN bob pass1", "Login OK")
	bob.roundTrip("PING", "PONG")
}

func TestPrivateMessages(t *testing.T) {
	srv, _ := setupTestServer(t, Config{InputBufferSize: 256})

	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")
	alice.expect("[Server] bob joined the chat")

	alice.roundTrip("MSGTO bob hi | there", "[PM to bob] hi | there")
	bob.expect("[PM from alice] hi | there")

	alice.roundTrip("MSGTO bob", "Usage: MSGTO <user> <message>")
	alice.roundTrip("MSGTO alice hi", "Cannot send message to yourself")
	alice.roundTrip("MSGTO ghost hi", "User does not exist")
	alice.roundTrip("MSGTO bob "+strings.Repeat("x", 157), "Message too long")
	alice.roundTrip("MSGTO bob "+strings.Repeat("x", 156), "[PM to bob] "+strings.Repeat("x", 156))
	bob.expect("[PM from alice] " + strings.Repeat("x", 156))
}

func TestOfflineMessagesKeepOrder(t *testing.T) {
	srv, _ := setupTestServer(t, Config{})

	c := dial(t, srv)
	c.roundTrip("REGISTER bob secret", "Register OK")

	alice := login(t, srv, "alice")
	alice.roundTrip("MSGTO bob one", "Message saved (user offline)")
	alice.roundTrip("MSGTO bob two|pipes\\here", "Message saved (user offline)")

	c.roundTrip("LOGIN bob secret",
		"Login OK",
		"[Offline PM from alice] one",
		"[Offline PM from alice] two|pipes\\here",
		"[Server] You have 2 offline message(s)",
	)
}

func TestFriendCommands(t *testing.T) {
	srv, _ := setupTestServer(t, Config{})

	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")
	alice.expect("[Server] bob joined the chat")

	alice.roundTrip("ADDFRIEND", "Usage: ADDFRIEND <user>")
	alice.roundTrip("ADDFRIEND "+strings.Repeat("b", 50), "Username too long")
	alice.roundTrip("ADDFRIEND alice", "Cannot add yourself")
	alice.roundTrip("ADDFRIEND ghost", "User does not exist")

	alice.roundTrip("ADDFRIEND bob", "Friend request sent")
	bob.expect("[Server] Friend request from alice")
	alice.roundTrip("ADDFRIEND bob", "Request already sent")
	bob.roundTrip("ADDFRIEND alice", "They already sent you a request. Use ACCEPT <user>")

	bob.roundTrip("REQUESTS", "=== Friend requests ===", "- from alice", "Total: 1")
	alice.roundTrip("ACCEPT bob", "No request from that user")
	bob.roundTrip("REJECT alice", "Friend request rejected")
	bob.roundTrip("REJECT alice", "No request from that user")
	bob.roundTrip("REQUESTS", "=== Friend requests ===", "Total: 0")

	alice.roundTrip("ADDFRIEND bob", "Friend request sent")
	bob.expect("[Server] Friend request from alice")
	bob.roundTrip("ACCEPT alice", "Friend request accepted")
	alice.expect("[Server] bob accepted your friend request")
	bob.roundTrip("ACCEPT alice", "Already friends")
	alice.roundTrip("ADDFRIEND bob", "Already friends")

	alice.roundTrip("UNFRIEND bob", "Unfriended bob")
	bob.expect("[Server] alice removed you from friends")
	alice.roundTrip("UNFRIEND bob", "You are not friends with that user")
	alice.roundTrip("FRIENDS", "=== Friends ===", "Total: 0")
}

func TestGroups(t *testing.T) {
	srv, _ := setupTestServer(t, Config{})

	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")
	alice.expect("[Server] bob joined the chat")
	carol := login(t, srv, "carol")
	alice.expect("[Server] carol joined the chat")
	bob.expect("[Server] carol joined the chat")

	alice.roundTrip("CREATEGROUP", "Usage: CREATEGROUP <name>")
	alice.roundTrip("CREATEGROUP bad|name", "Invalid group name")

	alice.sendRequest("CREATEGROUP study group")
	created := alice.readResponse()
	require.True(t, strings.HasPrefix(created, "Group created: G"), created)
	gid := strings.TrimPrefix(created, "Group created: ")

	alice.roundTrip("ADDMEMBER "+gid+" bob", "Added bob to group "+gid)
	bob.expect("[Server] You were added to group " + gid + " by alice")
	alice.roundTrip("ADDMEMBER "+gid+" bob", "User is already a member")
	alice.roundTrip("ADDMEMBER "+gid+" ghost", "User does not exist")
	bob.roundTrip("ADDMEMBER "+gid+" carol", "Only the group owner can add members")

	bob.roundTrip("LISTGROUPS", "=== Your Groups ===", "- "+gid+": study group (MEMBER)", "Total: 1")
	bob.roundTrip("GROUPINFO "+gid, "=== Group Members ===", "- alice (OWNER)", "- bob (MEMBER)", "Total: 2")
	carol.roundTrip("GROUPINFO "+gid, "You are not a member of this group")
	carol.roundTrip("GROUPMSG "+gid+" hi", "You are not a member of this group")

	bob.roundTrip("GROUPMSG "+gid+" hello team", "Message delivered to 1 member(s)")
	alice.expect("[Group " + gid + "] bob: hello team")

	alice.roundTrip("REMOVEMEMBER "+gid+" alice", "Cannot remove yourself. Use LEAVEGROUP <group_id>")
	bob.roundTrip("REMOVEMEMBER "+gid+" alice", "Only the group owner can remove members")
	alice.roundTrip("REMOVEMEMBER "+gid+" carol", "User is not a member of this group")
	alice.roundTrip("REMOVEMEMBER "+gid+" bob", "Removed bob from group "+gid)
	bob.expect("[Server] You were removed from group " + gid + " by alice")

	alice.roundTrip("ADDMEMBER "+gid+" carol", "Added carol to group "+gid)
	carol.expect("[Server] You were added to group " + gid + " by alice")
	carol.roundTrip("LEAVEGROUP "+gid, "You left group "+gid)
	alice.expect("[Group " + gid + "] carol left the group")
	carol.roundTrip("LEAVEGROUP "+gid, "You are not a member of this group")

	// the owner may leave too, and the group is left without one
	alice.roundTrip("LEAVEGROUP "+gid, "You left group "+gid)
	alice.roundTrip("LISTGROUPS", "=== Your Groups ===", "Total: 0")
}

// brokenMemberCheck fails every membership lookup.
type brokenMemberCheck struct {
	store.Store
}

func (brokenMemberCheck) IsGroupMember(string, string) (bool, error) {
	return false, errors.New("member file unreadable")
}

func TestGroupMembershipCheckFailure(t *testing.T) {
	st, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	srv := startServer(t, brokenMemberCheck{st}, Config{})

	alice := login(t, srv, "alice")
	alice.sendRequest("CREATEGROUP study")
	created := alice.readResponse()
	require.True(t, strings.HasPrefix(created, "Group created: "), created)
	gid := strings.TrimPrefix(created, "Group created: ")

	alice.roundTrip("GROUPMSG "+gid+" hi", "Group message failed")
	alice.roundTrip("GROUPINFO "+gid, "Failed to load group members")
	alice.roundTrip("LISTGROUPS", "=== Your Groups ===", "- "+gid+": study (OWNER)", "Total: 1")
}

func TestBufferOverflowDisconnects(t *testing.T) {
	srv, _ := setupTestServer(t, Config{InputBufferSize: 4096})

	watcher := login(t, srv, "watcher")
	c := login(t, srv, "flooder")
	watcher.expect("[Server] flooder joined the chat")

	c.conn.SetWriteDeadline(time.Now().Add(testTimeout))
	_, err := c.conn.Write([]byte(strings.Repeat("x", 4096)))
	require.NoError(t, err)

	c.expectClosed()
	watcher.expect("[Server] flooder left the chat")

	// the slot is free again and the server still answers
	again := dial(t, srv)
	again.roundTrip("PING", "PONG")
}

func TestLongestLineIsAccepted(t *testing.T) {
	srv, _ := setupTestServer(t, Config{InputBufferSize: 64})
	c := dial(t, srv)

	c.roundTrip("PING"+strings.Repeat(" ", 58), "PONG")
}

func TestSessionTableFull(t *testing.T) {
	srv, _ := setupTestServer(t, Config{MaxClients: 1})

	first := dial(t, srv)
	first.roundTrip("PING", "PONG")

	second := dial(t, srv)
	second.expectClosed()

	first.roundTrip("PING", "PONG")
}

func TestControlSocket(t *testing.T) {
	srv, _ := setupTestServer(t, Config{})
	path := filepath.Join(t.TempDir(), "control.sock")

	controlDone := make(chan error, 1)
	go func() { controlDone <- srv.ServeControl(path) }()

	alice := login(t, srv, "alice")

	control := func(cmd string) string {
		var conn net.Conn
		var err error
		require.Eventually(t, func() bool {
			conn, err = net.Dial("unix", path)
			return err == nil
		}, testTimeout, 10*time.Millisecond)
		defer conn.Close()

		_, err = conn.Write([]byte(cmd + "\n"))
		require.NoError(t, err)
		conn.SetReadDeadline(time.Now().Add(testTimeout))
		line, err := bufio.NewReader(conn).ReadString('\n')
		require.NoError(t, err)
		return strings.TrimSuffix(line, "\n")
	}

	assert.Equal(t, "OK|connections=1,users=alice", control("stats"))
	assert.Equal(t, "ERROR|Unknown command", control("reboot"))
	assert.Equal(t, "OK|Shutting down", control("shutdown|upgrade"))

	alice.expect("[Server] Shutting down: upgrade")
	alice.expectClosed()

	select {
	case err := <-controlDone:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("control socket did not stop")
	}
}
