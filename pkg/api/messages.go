package api

import (
	"net/http"

	"chatwire/pkg/chaterr"
	"chatwire/pkg/models"
	"chatwire/pkg/store"
	"chatwire/pkg/utils"

	"github.com/gorilla/mux"
)

// listSessionMessages handles GET /v1/sessions/{id}/messages for history
// reads and REST backfill. With after_id the page starts strictly after
// that message, matching the socket's reconnect semantics; without it the
// page starts at the beginning of the log. Messages come back in ascending
// seq order with no gaps.
func listSessionMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := identity(w, r)
	if !ok {
		return
	}
	sessID := mux.Vars(r)["id"]
	if _, err := loadVisibleSession(sessID, id); err != nil {
		utils.JSONDomainError(w, err)
		return
	}

	var after int64
	if afterID := r.URL.Query().Get("after_id"); afterID != "" {
		seq, err := store.GetMessageSeq(sessID, afterID)
		if err != nil {
			if store.IsNotFound(err) {
				utils.JSONDomainError(w, chaterr.NotFound("unknown after_id"))
			} else {
				utils.JSONDomainError(w, chaterr.TransientStore("history read failed", err))
			}
			return
		}
		after = seq
	}

	limit := queryLimit(r, deps.Chat.BacklogLimit, 500)
	msgs, err := store.ListMessagesAfter(sessID, after, limit)
	if err != nil {
		utils.JSONDomainError(w, chaterr.TransientStore("history read failed", err))
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Messages []models.Message `json:"messages"`
	}{Messages: msgs})
}
