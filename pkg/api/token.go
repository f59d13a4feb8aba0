package api

import (
	"encoding/json"
	"net/http"

	"chatwire/pkg/auth"
	"chatwire/pkg/chaterr"
	"chatwire/pkg/config"
	"chatwire/pkg/logger"
	"chatwire/pkg/models"
	"chatwire/pkg/utils"
)

// devToken handles POST /v1/auth/token, minting a bearer token for local
// development. The route bypasses the auth middleware but answers 404
// unless auth.dev_tokens is enabled, standing in for the platform login
// service that issues tokens in production.
func devToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !config.DevTokensEnabled() {
		utils.JSONError(w, http.StatusNotFound, "not found")
		return
	}
	var body struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.UserID == "" || body.Role == "" {
		utils.JSONDomainError(w, chaterr.Validation("user_id and role required"))
		return
	}
	switch body.Role {
	case models.RoleCustomer, models.RoleAgent, models.RoleAdmin:
	default:
		utils.JSONDomainError(w, chaterr.Validation("unknown role: "+body.Role))
		return
	}

	tok, err := auth.Mint(models.Identity{ID: body.UserID, Name: body.Name, Role: body.Role}, deps.TokenTTL)
	if err != nil {
		logger.Error("dev_token_mint_failed", "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "token mint failed")
		return
	}
	logger.Info("dev_token_minted", "user", body.UserID, "role", body.Role)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"token": tok})
}
