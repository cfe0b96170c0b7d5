package server_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/token"
)

// TestAliceScenario registers, logs in, connects with the issued token and
// receives her own message back on the public destination.
func TestAliceScenario(t *testing.T) {
	app, ts := startApp(t, testConfig(), server.ModeAll)

	register(t, ts.URL, "alice", "a@x.io", "pw1")

	status, body := postJSON(t, ts.URL, "/auth/register", map[string]string{
		"username": "alice", "email": "other@x.io", "password": "pw2",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "username already exists", body)

	status, body = postJSON(t, ts.URL, "/auth/login", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid credentials", body)

	tok := login(t, ts.URL, "alice", "pw1")
	conn := connect(t, ts.URL, tok)
	waitForClients(t, app, 1)

	sendChat(t, conn, relay.ChatMessage{Content: "hi", Timestamp: "2024-05-01T10:00:00Z"})

	f := readFrame(t, conn)
	assert.Equal(t, relay.PublicDestination, f.Destination)
	assert.Equal(t, relay.ChatMessage{Sender: "alice", Content: "hi", Timestamp: "2024-05-01T10:00:00Z"}, f.Payload)
}

// TestSenderIsBoundToSubject checks that a client cannot speak as someone else
// and that a missing timestamp is filled in.
func TestSenderIsBoundToSubject(t *testing.T) {
	app, ts := startApp(t, testConfig(), server.ModeAll)
	register(t, ts.URL, "mallory", "m@x.io", "pw")
	conn := connect(t, ts.URL, login(t, ts.URL, "mallory", "pw"))
	waitForClients(t, app, 1)

	sendChat(t, conn, relay.ChatMessage{Sender: "alice", Content: "trust me"})

	f := readFrame(t, conn)
	assert.Equal(t, "mallory", f.Payload.Sender)
	_, err := time.Parse(time.RFC3339, f.Payload.Timestamp)
	assert.NoError(t, err, "timestamp %q", f.Payload.Timestamp)
}

// TestBroadcastReachesEveryLocalClient checks that all clients on one
// instance, the sender included, get exactly one copy.
func TestBroadcastReachesEveryLocalClient(t *testing.T) {
	app, ts := startApp(t, testConfig(), server.ModeAll)
	register(t, ts.URL, "alice", "a@x.io", "pw")
	register(t, ts.URL, "bob", "b@x.io", "pw")

	alice := connect(t, ts.URL, login(t, ts.URL, "alice", "pw"))
	bob := connect(t, ts.URL, login(t, ts.URL, "bob", "pw"))
	waitForClients(t, app, 2)

	sendChat(t, bob, relay.ChatMessage{Content: "hello all", Timestamp: "t1"})

	assert.Equal(t, "hello all", readFrame(t, alice).Payload.Content)
	assert.Equal(t, "hello all", readFrame(t, bob).Payload.Content)
	expectSilence(t, alice, 150*time.Millisecond)
	expectSilence(t, bob, 10*time.Millisecond)
}

// TestCrossInstanceDelivery runs two chat instances and one auth instance
// against the same Redis. A message sent on instance A reaches a client on
// instance B exactly once.
func TestCrossInstanceDelivery(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	_, authTS := startApp(t, cfg, server.ModeAuth)
	appA, tsA := startApp(t, cfg, server.ModeChat)
	appB, tsB := startApp(t, cfg, server.ModeChat)

	register(t, authTS.URL, "alice", "a@x.io", "pw")
	register(t, authTS.URL, "bob", "b@x.io", "pw")

	alice := connect(t, tsA.URL, login(t, authTS.URL, "alice", "pw"))
	bob := connect(t, tsB.URL, login(t, authTS.URL, "bob", "pw"))
	waitForClients(t, appA, 1)
	waitForClients(t, appB, 1)

	sendChat(t, alice, relay.ChatMessage{Content: "across", Timestamp: "t"})

	fb := readFrame(t, bob)
	assert.Equal(t, relay.PublicDestination, fb.Destination)
	assert.Equal(t, relay.ChatMessage{Sender: "alice", Content: "across", Timestamp: "t"}, fb.Payload)
	assert.Equal(t, "across", readFrame(t, alice).Payload.Content)

	expectSilence(t, bob, 200*time.Millisecond)
	expectSilence(t, alice, 10*time.Millisecond)
}

// TestChatOnlyInstanceAcceptsForeignTokens checks that a chat instance
// verifies tokens minted elsewhere with the shared secret.
func TestChatOnlyInstanceAcceptsForeignTokens(t *testing.T) {
	app, ts := startApp(t, testConfig(), server.ModeChat)

	codec, err := token.NewCodec(token.Config{Secret: []byte(testSecret), TTL: time.Minute})
	require.NoError(t, err)
	tok, err := codec.Issue("carol")
	require.NoError(t, err)

	conn := connect(t, ts.URL, tok)
	waitForClients(t, app, 1)

	sendChat(t, conn, relay.ChatMessage{Content: "x", Timestamp: "t"})
	assert.Equal(t, "carol", readFrame(t, conn).Payload.Sender)

	status, _ := postJSON(t, ts.URL, "/auth/login", map[string]string{"username": "carol", "password": "pw"})
	assert.Equal(t, http.StatusNotFound, status, "chat-only instance has no auth routes")
}

// TestClientRemovedOnDisconnect checks the hub forgets closed connections.
func TestClientRemovedOnDisconnect(t *testing.T) {
	app, ts := startApp(t, testConfig(), server.ModeAll)
	register(t, ts.URL, "dave", "d@x.io", "pw")
	conn := connect(t, ts.URL, login(t, ts.URL, "dave", "pw"))
	waitForClients(t, app, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, app, 0)
}

func TestNewAppRejectsUnknownMode(t *testing.T) {
	_, err := server.NewApp(testConfig(), server.Mode("proxy"), nil)
	assert.Error(t, err)
}

func TestBuildRejectsWeakSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Token.Secret = "short"

	app, err := server.NewApp(cfg, server.ModeAll, quietLogger())
	require.NoError(t, err)

	_, err = app.Build(context.Background())
	assert.ErrorIs(t, err, token.ErrWeakSecret)
}

func TestBuildFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	mr.Close()

	app, err := server.NewApp(cfg, server.ModeChat, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = app.Build(ctx)
	assert.Error(t, err)
	assert.Nil(t, app.Hub())
}

func TestAddrFollowsMode(t *testing.T) {
	cfg := testConfig()
	cfg.Port = ":9000"
	cfg.AuthPort = ":9001"

	authApp, err := server.NewApp(cfg, server.ModeAuth, nil)
	require.NoError(t, err)
	assert.Equal(t, ":9001", authApp.Addr())

	allApp, err := server.NewApp(cfg, server.ModeAll, nil)
	require.NoError(t, err)
	assert.Equal(t, ":9000", allApp.Addr())
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	err := server.Migrate(context.Background(), testConfig(), quietLogger())
	assert.Error(t, err)
}
