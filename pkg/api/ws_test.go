package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatwire/pkg/auth"
	"chatwire/pkg/chaterr"
	"chatwire/pkg/config"
	"chatwire/pkg/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWSServer stands up the full edge: router behind the real auth
// middleware, served over a live listener so websocket upgrades work.
func newWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	r, _, _ := newTestAPI(t)
	config.SetRuntime(&config.RuntimeConfig{JWTSecret: "ws-secret"})
	t.Cleanup(func() { config.SetRuntime(&config.RuntimeConfig{}) })

	srv := httptest.NewServer(auth.AuthenticateRequestMiddleware(auth.SecConfig{})(r))
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server, tok string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?token=" + tok
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendEvent(t *testing.T, ws *websocket.Conn, typ string, data any) {
	t.Helper()
	ev, err := models.NewEvent(typ, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(ev))
}

// expectEvent reads frames until one of the wanted type arrives. Unrelated
// events (typing expiry and the like) are skipped.
func expectEvent(t *testing.T, ws *websocket.Conn, typ string) models.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var ev models.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		if ev.Type == typ {
			return ev
		}
	}
}

func eventData[T any](t *testing.T, ev models.Event) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Data, &v))
	return v
}

func TestWebSocketSessionFlow(t *testing.T) {
	srv := newWSServer(t)

	custTok, err := auth.Mint(testCustomer, time.Hour)
	require.NoError(t, err)
	agentTok, err := auth.Mint(testAgent, time.Hour)
	require.NoError(t, err)

	// open a session over REST with the bearer header
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/sessions", strings.NewReader(`{"subject":"socket flow"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+custTok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sess models.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))

	custWS := dialWS(t, srv, custTok)
	agentWS := dialWS(t, srv, agentTok)

	sendEvent(t, custWS, models.EvJoinSession, models.JoinSessionData{SessionID: sess.ID})
	joined := eventData[models.SessionJoinedData](t, expectEvent(t, custWS, models.EvSessionJoined))
	assert.Empty(t, joined.Backlog)
	assert.Equal(t, sess.ID, joined.Session.ID)

	sendEvent(t, agentWS, models.EvJoinSession, models.JoinSessionData{SessionID: sess.ID})
	expectEvent(t, agentWS, models.EvSessionJoined)

	// the sender sees its correlation id echoed, the agent gets the
	// canonical copy without it
	sendEvent(t, custWS, models.EvSendMessage, models.SendMessageData{SessionID: sess.ID, Content: "hello", TempID: "t1"})
	mine := eventData[models.NewMessageData](t, expectEvent(t, custWS, models.EvNewMessage))
	assert.Equal(t, "t1", mine.Message.TempID)

	theirs := eventData[models.NewMessageData](t, expectEvent(t, agentWS, models.EvNewMessage))
	assert.Empty(t, theirs.Message.TempID)
	assert.Equal(t, mine.Message.ID, theirs.Message.ID)
	assert.Equal(t, int64(1), theirs.Message.Seq)

	// typing reaches the other side, never the originator
	sendEvent(t, agentWS, models.EvTyping, models.TypingData{SessionID: sess.ID})
	typing := eventData[models.UserTypingData](t, expectEvent(t, custWS, models.EvUserTyping))
	assert.Equal(t, testAgent.ID, typing.UserID)

	// accept flips the session active and appends the system line
	sendEvent(t, agentWS, models.EvAccept, models.AcceptData{SessionID: sess.ID})
	accepted := eventData[models.ChatAcceptedData](t, expectEvent(t, custWS, models.EvChatAccepted))
	assert.Equal(t, models.StatusActive, accepted.Session.Status)
	assert.Equal(t, testAgent.ID, accepted.Session.AgentID)

	sys := eventData[models.NewMessageData](t, expectEvent(t, custWS, models.EvNewMessage))
	assert.Equal(t, models.TypeSystem, sys.Message.Type)
	assert.Contains(t, sys.Message.Content, testAgent.Name)

	// read receipt goes to the other participant only
	sendEvent(t, agentWS, models.EvMarkAsRead, models.MarkAsReadData{SessionID: sess.ID, MessageIDs: []string{mine.Message.ID}})
	read := eventData[models.MessagesReadData](t, expectEvent(t, custWS, models.EvMessagesRead))
	assert.Equal(t, testAgent.ID, read.UserID)

	// close broadcasts; later sends fail with invalid_state
	sendEvent(t, custWS, models.EvClose, models.CloseData{SessionID: sess.ID})
	closed := eventData[models.ChatClosedData](t, expectEvent(t, agentWS, models.EvChatClosed))
	assert.Equal(t, models.StatusClosed, closed.Session.Status)

	sendEvent(t, custWS, models.EvSendMessage, models.SendMessageData{SessionID: sess.ID, Content: "late"})
	errData := eventData[models.ErrorData](t, expectEvent(t, custWS, models.EvError))
	assert.Equal(t, string(chaterr.CodeInvalidState), errData.Code)
}

func TestWebSocketBackfillOnReconnect(t *testing.T) {
	srv := newWSServer(t)

	custTok, err := auth.Mint(testCustomer, time.Hour)
	require.NoError(t, err)
	agentTok, err := auth.Mint(testAgent, time.Hour)
	require.NoError(t, err)

	custWS := dialWS(t, srv, custTok)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/sessions", strings.NewReader(`{"subject":"reconnect"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+custTok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var sess models.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))

	sendEvent(t, custWS, models.EvJoinSession, models.JoinSessionData{SessionID: sess.ID})
	expectEvent(t, custWS, models.EvSessionJoined)

	sendEvent(t, custWS, models.EvSendMessage, models.SendMessageData{SessionID: sess.ID, Content: "before drop"})
	seen := eventData[models.NewMessageData](t, expectEvent(t, custWS, models.EvNewMessage))

	// the customer drops; the agent picks the session up and keeps it moving
	require.NoError(t, custWS.Close())

	agentWS := dialWS(t, srv, agentTok)
	sendEvent(t, agentWS, models.EvJoinSession, models.JoinSessionData{SessionID: sess.ID})
	expectEvent(t, agentWS, models.EvSessionJoined)
	sendEvent(t, agentWS, models.EvAccept, models.AcceptData{SessionID: sess.ID})
	expectEvent(t, agentWS, models.EvChatAccepted)
	expectEvent(t, agentWS, models.EvNewMessage) // accept's system line
	sendEvent(t, agentWS, models.EvSendMessage, models.SendMessageData{SessionID: sess.ID, Content: "missed one"})
	expectEvent(t, agentWS, models.EvNewMessage)
	sendEvent(t, agentWS, models.EvSendMessage, models.SendMessageData{SessionID: sess.ID, Content: "missed two"})
	expectEvent(t, agentWS, models.EvNewMessage)

	// rejoin with the last seen marker: exactly the gap comes back
	custWS2 := dialWS(t, srv, custTok)
	sendEvent(t, custWS2, models.EvJoinSession, models.JoinSessionData{SessionID: sess.ID, LastSeenID: seen.Message.ID})
	rejoined := eventData[models.SessionJoinedData](t, expectEvent(t, custWS2, models.EvSessionJoined))
	require.Len(t, rejoined.Backlog, 3)
	assert.Equal(t, models.TypeSystem, rejoined.Backlog[0].Type)
	assert.Equal(t, "missed one", rejoined.Backlog[1].Content)
	assert.Equal(t, "missed two", rejoined.Backlog[2].Content)
	assert.Greater(t, rejoined.Backlog[2].Seq, rejoined.Backlog[1].Seq)
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	srv := newWSServer(t)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?token=garbage"
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	if ws != nil {
		ws.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketRejectsMalformedEvents(t *testing.T) {
	srv := newWSServer(t)

	tok, err := auth.Mint(testCustomer, time.Hour)
	require.NoError(t, err)
	ws := dialWS(t, srv, tok)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	errData := eventData[models.ErrorData](t, expectEvent(t, ws, models.EvError))
	assert.Equal(t, string(chaterr.CodeValidation), errData.Code)

	sendEvent(t, ws, "frobnicate", map[string]string{"session_id": "s"})
	errData = eventData[models.ErrorData](t, expectEvent(t, ws, models.EvError))
	assert.Equal(t, string(chaterr.CodeValidation), errData.Code)

	sendEvent(t, ws, models.EvJoinSession, models.JoinSessionData{SessionID: "no-such-session"})
	errData = eventData[models.ErrorData](t, expectEvent(t, ws, models.EvError))
	assert.Equal(t, string(chaterr.CodeNotFound), errData.Code)
}
