package http

import (
	"encoding/json"
	"net/http"
)

type LoginRequestDTO struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// Login signs the shopper in and answers with the cart loaded from their
// account.
func (h *CartHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Token == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_credentials", "user_id and token are required")
		return
	}

	h.session.Login(req.UserID, req.Token)
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout()
	h.respondCart(w, http.StatusOK)
}
