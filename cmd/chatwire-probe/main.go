package main

// Smoke probe for a running chatwire instance: checks the health endpoints
// and, when given the JWT secret, runs a full message round-trip over a
// real websocket. Exit code 0 means the instance looks healthy.
//
//	chatwire-probe -addr http://127.0.0.1:8080
//	chatwire-probe -addr http://127.0.0.1:8080 -secret "$CHATWIRE_JWT_SECRET"

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/valyala/fasthttp"

	"chatwire/pkg/auth"
	"chatwire/pkg/config"
	"chatwire/pkg/models"
)

func main() {
	var (
		addr    = flag.String("addr", "http://127.0.0.1:8080", "base URL of the chatwire instance")
		secret  = flag.String("secret", os.Getenv("CHATWIRE_JWT_SECRET"), "JWT secret; enables the message round-trip")
		timeout = flag.Duration("timeout", 10*time.Second, "per-step timeout")
	)
	flag.Parse()

	base := strings.TrimRight(*addr, "/")
	client := &fasthttp.Client{
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}

	for _, ep := range []string{"/healthz", "/readyz"} {
		if err := checkEndpoint(client, base+ep, *timeout); err != nil {
			fail(ep, err)
		}
		ok(ep)
	}

	if *secret == "" {
		fmt.Println("no -secret given, skipping message round-trip")
		return
	}

	config.SetRuntime(&config.RuntimeConfig{JWTSecret: *secret})
	tok, err := auth.Mint(models.Identity{
		ID:   "probe-" + uuid.NewString()[:8],
		Name: "Probe",
		Role: models.RoleCustomer,
	}, 5*time.Minute)
	if err != nil {
		fail("mint token", err)
	}

	sess, err := createSession(client, base, tok, *timeout)
	if err != nil {
		fail("create session", err)
	}
	ok("create session " + sess.ID)

	rtt, err := roundTrip(base, tok, sess.ID, *timeout)
	if err != nil {
		fail("message round-trip", err)
	}
	fmt.Printf("ok    message round-trip in %s\n", rtt.Round(time.Microsecond))
}

func ok(step string) { fmt.Printf("ok    %s\n", step) }

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "FAIL  %s: %v\n", step, err)
	os.Exit(1)
}

func checkEndpoint(c *fasthttp.Client, uri string, d time.Duration) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	if err := c.DoTimeout(req, resp, d); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.Body())
	}
	return nil
}

func createSession(c *fasthttp.Client, base, tok string, d time.Duration) (*models.Session, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(base + "/v1/sessions")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	req.SetBodyString(`{"subject":"connectivity probe"}`)
	if err := c.DoTimeout(req, resp, d); err != nil {
		return nil, err
	}
	if resp.StatusCode() != fasthttp.StatusCreated {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.Body())
	}
	var s models.Session
	if err := json.Unmarshal(resp.Body(), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// roundTrip joins the session over a websocket, sends one message, waits
// for the echo copy, then closes the session so retention has nothing to
// clean up later.
func roundTrip(base, tok, sessID string, d time.Duration) (time.Duration, error) {
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/v1/ws?token=" + url.QueryEscape(tok)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(d))

	join, _ := models.NewEvent(models.EvJoinSession, models.JoinSessionData{SessionID: sessID})
	if err := conn.WriteJSON(join); err != nil {
		return 0, err
	}

	nonce := uuid.NewString()
	send, _ := models.NewEvent(models.EvSendMessage, models.SendMessageData{
		SessionID: sessID,
		Content:   "probe " + nonce,
		TempID:    nonce,
	})
	start := time.Now()
	if err := conn.WriteJSON(send); err != nil {
		return 0, err
	}

	rtt, err := awaitEcho(conn, nonce, start)
	if err != nil {
		return 0, err
	}

	cl, _ := models.NewEvent(models.EvClose, models.CloseData{SessionID: sessID})
	if err := conn.WriteJSON(cl); err != nil {
		return 0, err
	}
	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return 0, fmt.Errorf("waiting for close ack: %w", err)
		}
		if ev.Type == models.EvChatClosed {
			return rtt, nil
		}
		if ev.Type == models.EvError {
			return 0, serverError(ev)
		}
	}
}

func awaitEcho(conn *websocket.Conn, nonce string, start time.Time) (time.Duration, error) {
	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return 0, err
		}
		switch ev.Type {
		case models.EvNewMessage:
			var nm models.NewMessageData
			if err := json.Unmarshal(ev.Data, &nm); err != nil {
				return 0, err
			}
			if nm.Message != nil && nm.Message.TempID == nonce {
				return time.Since(start), nil
			}
		case models.EvError:
			return 0, serverError(ev)
		}
	}
}

func serverError(ev models.Event) error {
	var ed models.ErrorData
	_ = json.Unmarshal(ev.Data, &ed)
	return fmt.Errorf("server error %s: %s", ed.Code, ed.Message)
}
