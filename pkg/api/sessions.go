package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"chatwire/pkg/auth"
	"chatwire/pkg/chaterr"
	"chatwire/pkg/models"
	"chatwire/pkg/store"
	"chatwire/pkg/utils"

	"github.com/gorilla/mux"
)

// createSession handles POST /v1/sessions to open a new support session.
// The caller becomes the customer; the session starts pending until an
// agent accepts it.
func createSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := identity(w, r)
	if !ok {
		return
	}
	var body struct {
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	sess, err := deps.Coord.Open(id, body.Subject)
	if err != nil {
		utils.JSONDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, sess)
}

// listSessions handles GET /v1/sessions. Customers see their own sessions,
// agents their assigned ones plus the unassigned queue with ?status=pending,
// admins everything. Sorted by most recent activity, newest first.
func listSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := identity(w, r)
	if !ok {
		return
	}
	statusQ := r.URL.Query().Get("status")
	if statusQ != "" && !models.ValidStatus(statusQ) {
		utils.JSONDomainError(w, chaterr.Validation("unknown status filter"))
		return
	}
	limit := queryLimit(r, 50, 500)

	all, err := store.ListSessions()
	if err != nil {
		utils.JSONDomainError(w, chaterr.TransientStore("session list failed", err))
		return
	}

	out := []models.Session{}
	for i := range all {
		s := &all[i]
		if statusQ != "" && s.Status != statusQ {
			continue
		}
		if !listedFor(s, id, statusQ) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveTS > out[j].LastActiveTS })
	if len(out) > limit {
		out = out[:limit]
	}

	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Sessions []models.Session `json:"sessions"`
	}{Sessions: out})
}

// listedFor applies the role filter for session listings. Agents only see
// the unassigned queue when they ask for it explicitly.
func listedFor(s *models.Session, id models.Identity, statusQ string) bool {
	switch id.Role {
	case models.RoleAdmin:
		return true
	case models.RoleAgent:
		if s.AgentID == id.ID {
			return true
		}
		return statusQ == models.StatusPending && s.Status == models.StatusPending &&
			s.AgentID == "" && auth.Can(id.Role, auth.ActionViewPending)
	default:
		return s.CustomerID == id.ID
	}
}

// getSession handles GET /v1/sessions/{id} to fetch session metadata.
func getSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := identity(w, r)
	if !ok {
		return
	}
	sess, err := loadVisibleSession(mux.Vars(r)["id"], id)
	if err != nil {
		utils.JSONDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, sess)
}

// loadVisibleSession fetches a session and enforces read access: a
// participant, an admin, or an agent browsing the pending queue.
func loadVisibleSession(sessionID string, id models.Identity) (*models.Session, error) {
	if sessionID == "" {
		return nil, chaterr.Validation("session id missing")
	}
	sess, err := store.GetSession(sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, chaterr.NotFound("session not found")
		}
		return nil, chaterr.TransientStore("session load failed", err)
	}
	if sess.Participant(id.ID) || id.Role == models.RoleAdmin {
		return sess, nil
	}
	if sess.Status == models.StatusPending && auth.Can(id.Role, auth.ActionViewPending) {
		return sess, nil
	}
	return nil, chaterr.Forbidden("not a session participant")
}
