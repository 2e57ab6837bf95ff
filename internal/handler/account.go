package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/magiclink/internal/auth"
	"github.com/dukerupert/magiclink/internal/middleware"
	"github.com/dukerupert/magiclink/internal/model"
)

// Account shows the signed-in user. It runs behind RequireAuth.
func (h *AuthHandler) Account(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		http.Redirect(w, r, h.paths.Login, http.StatusSeeOther)
		return
	}
	u, err := h.users.GetByID(r.Context(), ac.UserID)
	if err != nil || u == nil {
		h.logger.Error("load account", "user_id", ac.UserID, "error", err)
		h.internalError(w)
		return
	}
	h.forms.Write(w, h.forms.Account(u, h.paths.Logout))
}

// Logout ends the browser's session, if any, and returns to the login page.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(middleware.SessionCookieName); err == nil && c.Value != "" {
		sess, err := h.sessions.GetByToken(r.Context(), c.Value)
		if err != nil {
			h.logger.Error("logout session lookup", "error", err)
		}
		if sess != nil {
			if err := h.sessions.Delete(r.Context(), sess.ID); err != nil {
				h.logger.Error("delete session", "session_id", sess.ID, "error", err)
			}
			h.events.Record(r.Context(), model.Event{
				Type:     model.EventLogout,
				UserID:   sess.UserID,
				ClientID: sess.ClientID,
				IP:       middleware.RealIP(r),
			})
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	http.Redirect(w, r, h.paths.Login, http.StatusSeeOther)
}

// Health reports liveness for load balancers.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
