package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatwire/pkg/auth"
	"chatwire/pkg/chaterr"
	"chatwire/pkg/gateway"
	"chatwire/pkg/logger"
	"chatwire/pkg/models"
	"chatwire/pkg/session"
	"chatwire/pkg/utils"

	"github.com/gorilla/websocket"
)

const (
	// maxEventSize caps one inbound frame; file bytes travel over the
	// upload endpoint, so events stay small.
	maxEventSize = 64 << 10
	// pongWait must outlast the writer's ping period or healthy
	// connections get reaped.
	pongWait = 60 * time.Second
	// defaultHandshakeTimeout bounds the upgrade when no auth_timeout is
	// configured.
	defaultHandshakeTimeout = 10 * time.Second
)

// serveWS handles GET /v1/ws, upgrading an authenticated request to the
// persistent event connection. The identity verified by the middleware
// (bearer header, or the token query parameter for browser clients) is
// pinned to the connection for its lifetime.
func serveWS(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	handshake := deps.Chat.AuthTimeout.Duration()
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	up := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: handshake,
		CheckOrigin:      checkOrigin,
	}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the handshake error response
		logger.Warn("ws_upgrade_failed", "user", id.ID, "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	conn := gateway.NewConn(id, ws, deps.Chat.SendQueue, deps.Chat.MaxDropped)
	deps.Hub.Attach(conn)
	go readLoop(conn, ws)
}

// checkOrigin mirrors the CORS allowlist. Non-browser clients send no
// Origin header and pass; browsers must match a configured origin or, with
// none configured, be same-host.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(deps.AllowedOrigins) > 0 {
		return auth.OriginAllowed(origin, deps.AllowedOrigins)
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// readLoop drains inbound events until the peer goes away, then detaches
// the connection from the hub. Replies and errors leave through the
// connection's outbound queue; the loop itself never writes to the socket.
func readLoop(conn *gateway.Conn, ws *websocket.Conn) {
	defer func() {
		deps.Hub.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "")
	}()

	ws.SetReadLimit(maxEventSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("ws_read_closed", "conn", conn.ID, "user", conn.UserID, "error", err.Error())
			}
			return
		}
		var ev models.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			sendError(conn, chaterr.Validation("malformed event envelope"))
			continue
		}
		handleEvent(conn, ev)
	}
}

// handleEvent maps one inbound event onto a coordinator command. Every
// known event type is matched here; anything else is rejected back to the
// issuing connection.
func handleEvent(conn *gateway.Conn, ev models.Event) {
	cmd := session.Command{
		Actor:  models.Identity{ID: conn.UserID, Name: conn.UserName, Role: conn.Role},
		ConnID: conn.ID,
	}

	switch ev.Type {
	case models.EvJoinSession:
		var d models.JoinSessionData
		if !decode(conn, ev, &d) {
			return
		}
		cmd.Kind, cmd.SessionID, cmd.LastSeenID = session.CmdJoin, d.SessionID, d.LastSeenID
	case models.EvLeaveSession:
		var d models.LeaveSessionData
		if !decode(conn, ev, &d) {
			return
		}
		cmd.Kind, cmd.SessionID = session.CmdLeave, d.SessionID
	case models.EvSendMessage:
		var d models.SendMessageData
		if !decode(conn, ev, &d) {
			return
		}
		cmd.Kind, cmd.SessionID = session.CmdSend, d.SessionID
		cmd.Content, cmd.MessageType = d.Content, d.MessageType
		cmd.TempID, cmd.Attachments = d.TempID, d.Attachments
	case models.EvTyping:
		var d models.TypingData
		if !decode(conn, ev, &d) {
			return
		}
		cmd.Kind, cmd.SessionID = session.CmdTyping, d.SessionID
	case models.EvStopTyping:
		var d models.TypingData
		if !decode(conn, ev, &d) {
			return
		}
		cmd.Kind, cmd.SessionID = session.CmdStopTyping, d.SessionID
	case models.EvMarkAsRead:
		var d models.MarkAsReadData
		if !decode(conn, ev, &d) {
			return
		}
		cmd.Kind, cmd.SessionID, cmd.MessageIDs = session.CmdMarkRead, d.SessionID, d.MessageIDs
	case models.EvAccept:
		var d models.AcceptData
		if !decode(conn, ev, &d) {
			return
		}
		cmd.Kind, cmd.SessionID = session.CmdAccept, d.SessionID
	case models.EvClose:
		var d models.CloseData
		if !decode(conn, ev, &d) {
			return
		}
		cmd.Kind, cmd.SessionID = session.CmdClose, d.SessionID
	default:
		sendError(conn, chaterr.Validation("unknown event type: "+ev.Type))
		return
	}

	if cmd.SessionID == "" {
		sendError(conn, chaterr.Validation("session_id required"))
		return
	}
	if res := deps.Coord.Dispatch(cmd); res.Err != nil {
		sendError(conn, res.Err)
	}
}

// decode unmarshals an event payload, reporting a validation error to the
// connection on failure.
func decode(conn *gateway.Conn, ev models.Event, v any) bool {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		sendError(conn, chaterr.Validation("malformed "+ev.Type+" payload"))
		return false
	}
	return true
}

// sendError delivers an error event to the issuing connection only; other
// participants never observe a failed action.
func sendError(conn *gateway.Conn, err error) {
	ev, mErr := models.NewEvent(models.EvError, models.ErrorData{
		Message: chaterr.MessageOf(err),
		Code:    string(chaterr.CodeOf(err)),
	})
	if mErr != nil {
		logger.Error("error_event_marshal_failed", "error", mErr.Error())
		return
	}
	p, mErr := gateway.MarshalPayload(ev)
	if mErr != nil {
		return
	}
	conn.Enqueue(p)
}
