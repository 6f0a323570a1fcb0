package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/jinfei29/mychat-realtime/internal/call"
	"github.com/jinfei29/mychat-realtime/internal/group"
	"github.com/jinfei29/mychat-realtime/internal/handlers"
	"github.com/jinfei29/mychat-realtime/internal/middleware"
	"github.com/jinfei29/mychat-realtime/internal/models"
	"github.com/jinfei29/mychat-realtime/internal/presence"
	"github.com/jinfei29/mychat-realtime/internal/relay"
	"github.com/jinfei29/mychat-realtime/internal/store"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := presence.NewDirectory()
	rly := relay.New(dir)
	st := store.NewMemoryStore()
	groups := group.NewMemoryDirectory()
	registry := call.NewRegistry(st, groups, rly, dir, 0)

	api := handlers.NewAPI(registry, groups)
	ws := handlers.NewWS(dir)

	router := gin.New()
	router.POST("/api/auth/login", handlers.Login(testSecret))
	authed := router.Group("/api", middleware.JWTAuth(testSecret))
	{
		authed.POST("/calls/initiate", api.InitiateCall)
		authed.POST("/calls/signal", api.Signal)
		authed.GET("/calls/history", api.CallHistory)
		authed.POST("/calls/:callId/accept", api.AcceptCall)
		authed.POST("/calls/:callId/reject", api.RejectCall)
		authed.POST("/calls/:callId/end", api.EndCall)
		authed.POST("/groups", api.CreateGroup)
		authed.GET("/groups/:groupId", api.GetGroup)
	}
	router.GET("/ws", middleware.JWTAuth(testSecret), ws.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

type testUser struct {
	id    string
	token string
	conn  *websocket.Conn
	srv   *httptest.Server
}

func login(t *testing.T, srv *httptest.Server, username string) *testUser {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json",
		strings.NewReader(fmt.Sprintf(`{"username":%q,"password":"pw"}`, username)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lr handlers.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
	return &testUser{id: lr.UserID, token: lr.Token, srv: srv}
}

func (u *testUser) dial(t *testing.T) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(u.srv.URL, "http") + "/ws?token=" + u.token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	u.conn = conn
}

// waitFor reads frames until an event with the given name arrives.
func (u *testUser) waitFor(t *testing.T, name string) json.RawMessage {
	t.Helper()
	u.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := u.conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", name)

		var ev models.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Name == name {
			return ev.Data
		}
	}
}

func (u *testUser) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(http.MethodPost, u.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestWebsocketPresenceSnapshot(t *testing.T) {
	srv := newTestServer(t)

	alice := login(t, srv, "alice")
	alice.dial(t)
	data := alice.waitFor(t, models.EventOnlineUsers)
	var users []string
	require.NoError(t, json.Unmarshal(data, &users))
	require.Equal(t, []string{"alice"}, users)

	bob := login(t, srv, "bob")
	bob.dial(t)

	// Both connections receive the complete updated set, not a diff.
	for _, u := range []*testUser{alice, bob} {
		data := u.waitFor(t, models.EventOnlineUsers)
		require.NoError(t, json.Unmarshal(data, &users))
		require.Equal(t, []string{"alice", "bob"}, users)
	}
}

func TestCallLifecycleOverREST(t *testing.T) {
	srv := newTestServer(t)

	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")
	alice.dial(t)
	bob.dial(t)
	alice.waitFor(t, models.EventOnlineUsers)
	bob.waitFor(t, models.EventOnlineUsers)

	// Initiate
	resp := alice.post(t, "/api/calls/initiate", models.InitiateCallRequest{
		ReceiverID: "bob",
		Type:       models.CallTypeAudio,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := decodeBody[models.CallSession](t, resp)
	require.Equal(t, models.CallStatusPending, sess.Status)

	var ring models.IncomingCallPayload
	require.NoError(t, json.Unmarshal(bob.waitFor(t, models.EventIncomingCall), &ring))
	require.Equal(t, sess.ID, ring.CallID)
	require.Equal(t, "alice", ring.CallerID)

	// Accept
	resp = bob.post(t, "/api/calls/"+sess.ID+"/accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accepted := decodeBody[models.CallSession](t, resp)
	require.Equal(t, models.CallStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.StartTime)

	var answer models.CallAnsweredPayload
	require.NoError(t, json.Unmarshal(alice.waitFor(t, models.EventCallAccepted), &answer))
	require.Equal(t, "bob", answer.ReceiverID)

	// Signaling relay is routing-only: the blob comes through untouched.
	blob := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	resp = alice.post(t, "/api/calls/signal", models.SignalRequest{
		ReceiverID: "bob",
		Signal:     blob,
		CallID:     sess.ID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var sig models.SignalingPayload
	require.NoError(t, json.Unmarshal(bob.waitFor(t, models.EventSignalingData), &sig))
	require.Equal(t, sess.ID, sig.CallID)
	require.Equal(t, "alice", sig.SenderID)
	require.JSONEq(t, string(blob), string(sig.Signal))

	// End
	resp = bob.post(t, "/api/calls/"+sess.ID+"/end", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ended := decodeBody[models.CallSession](t, resp)
	require.Equal(t, models.CallStatusEnded, ended.Status)
	require.NotNil(t, ended.EndTime)

	var bye models.CallEndedPayload
	require.NoError(t, json.Unmarshal(alice.waitFor(t, models.EventCallEnded), &bye))
	require.Equal(t, "bob", bye.UserID)

	// Double end is a conflict.
	resp = alice.post(t, "/api/calls/"+sess.ID+"/end", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Both participants see the call in history.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/calls/history", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice.token)
	histResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	history := decodeBody[[]models.CallSession](t, histResp)
	require.Len(t, history, 1)
	require.Equal(t, models.CallStatusEnded, history[0].Status)
}

func TestInitiateOfflineReceiver(t *testing.T) {
	srv := newTestServer(t)

	alice := login(t, srv, "alice")
	alice.dial(t)

	resp := alice.post(t, "/api/calls/initiate", models.InitiateCallRequest{
		ReceiverID: "zoe",
		Type:       models.CallTypeVideo,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAcceptByWrongUser(t *testing.T) {
	srv := newTestServer(t)

	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")
	mallory := login(t, srv, "mallory")
	alice.dial(t)
	bob.dial(t)

	resp := alice.post(t, "/api/calls/initiate", models.InitiateCallRequest{
		ReceiverID: "bob",
		Type:       models.CallTypeAudio,
	})
	sess := decodeBody[models.CallSession](t, resp)

	resp = mallory.post(t, "/api/calls/"+sess.ID+"/accept", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = mallory.post(t, "/api/calls/unknown-id/accept", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSignalToOfflineTarget(t *testing.T) {
	srv := newTestServer(t)

	alice := login(t, srv, "alice")
	alice.dial(t)

	resp := alice.post(t, "/api/calls/signal", models.SignalRequest{
		ReceiverID: "zoe",
		Signal:     json.RawMessage(`{}`),
		CallID:     "c1",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/calls/initiate", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGroupCallOverREST(t *testing.T) {
	srv := newTestServer(t)

	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")
	carol := login(t, srv, "carol")
	alice.dial(t)
	bob.dial(t)
	carol.dial(t)

	resp := alice.post(t, "/api/groups", models.CreateGroupRequest{
		Name:      "team",
		MemberIDs: []string{"bob", "carol"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	g := decodeBody[group.Group](t, resp)
	require.Len(t, g.Members, 3)

	resp = alice.post(t, "/api/calls/initiate", models.InitiateCallRequest{
		GroupID:     g.ID,
		IsGroupCall: true,
		Type:        models.CallTypeVideo,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := decodeBody[models.CallSession](t, resp)

	for _, member := range []*testUser{bob, carol} {
		var ring models.IncomingCallPayload
		require.NoError(t, json.Unmarshal(member.waitFor(t, models.EventIncomingCall), &ring))
		require.Equal(t, sess.ID, ring.CallID)
		require.True(t, ring.IsGroupCall)
	}

	// Both members accept independently against the same session id.
	resp = bob.post(t, "/api/calls/"+sess.ID+"/accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = carol.post(t, "/api/calls/"+sess.ID+"/accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	alice.waitFor(t, models.EventCallAccepted)
	alice.waitFor(t, models.EventCallAccepted)
}
