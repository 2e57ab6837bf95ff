package handler

import (
	"net/http"

	"github.com/dukerupert/magiclink/internal/middleware"
	"github.com/dukerupert/magiclink/internal/model"
	"github.com/dukerupert/magiclink/internal/websocket"
)

// Redemption results, as reported to the observer.
const (
	redeemOK       = "ok"
	redeemInvalid  = "invalid"
	redeemConsumed = "consumed"
	redeemExpired  = "expired"
	redeemDisabled = "disabled"
)

// Redeem validates the login attempt a magic link was issued for. The
// browser that started the attempt continues its login; any other browser
// is told to go back to it.
func (h *AuthHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ev := model.Event{Type: model.EventRedeemLink, IP: middleware.RealIP(r)}

	claims, err := h.tokens.Verify(r.URL.Query().Get("key"))
	if err != nil {
		h.logger.Warn("reject action token", "error", err)
		h.redeemFailed(w, r, ev, model.ErrorInvalidToken, redeemInvalid,
			http.StatusBadRequest, "This sign-in link is invalid or has expired.")
		return
	}
	ev.UserID = claims.Subject
	ev.ClientID = claims.ClientID()
	ev.AttemptID = claims.AttemptID

	if !claims.Reusable {
		first, err := h.consumed.Consume(ctx, claims.ID, claims.ExpiresAt.Time)
		if err != nil {
			h.logger.Error("consume action token", "jti", claims.ID, "error", err)
			h.internalError(w)
			return
		}
		if !first {
			h.redeemFailed(w, r, ev, model.ErrorTokenConsumed, redeemConsumed,
				http.StatusBadRequest, "This sign-in link has already been used.")
			return
		}
	}

	a, err := h.attempts.Get(ctx, claims.AttemptID)
	if err != nil {
		h.logger.Error("load attempt for action token", "attempt_id", claims.AttemptID, "error", err)
		h.internalError(w)
		return
	}
	if a == nil {
		h.redeemFailed(w, r, ev, model.ErrorExpiredLogin, redeemExpired,
			http.StatusBadRequest, "Your sign-in has timed out. Please start again.")
		return
	}
	if a.ClientID != claims.ClientID() || (claims.TabID != "" && a.TabID != claims.TabID) {
		h.logger.Warn("action token does not match attempt", "attempt_id", a.ID)
		h.redeemFailed(w, r, ev, model.ErrorInvalidToken, redeemInvalid,
			http.StatusBadRequest, "This sign-in link is invalid or has expired.")
		return
	}

	u, err := h.users.GetByID(ctx, claims.Subject)
	if err != nil {
		h.logger.Error("load user for action token", "user_id", claims.Subject, "error", err)
		h.internalError(w)
		return
	}
	if u == nil {
		h.redeemFailed(w, r, ev, model.ErrorUserNotFound, redeemInvalid,
			http.StatusBadRequest, "This sign-in link is invalid or has expired.")
		return
	}
	if !u.Enabled {
		h.redeemFailed(w, r, ev, model.ErrorUserDisabled, redeemDisabled,
			http.StatusForbidden, "Account is disabled, contact your administrator.")
		return
	}

	if !u.EmailVerified {
		if err := h.users.SetEmailVerified(ctx, u.ID, true); err != nil {
			h.logger.Error("mark email verified", "user_id", u.ID, "error", err)
		}
	}

	a.ValidSession = true
	a.AuthenticatedUserID = u.ID
	a.AttemptedUsername = u.Email
	a.RememberMe = claims.RememberMe
	if err := h.attempts.Save(ctx, a); err != nil {
		h.logger.Error("save validated attempt", "attempt_id", a.ID, "error", err)
		h.internalError(w)
		return
	}

	if h.notifier != nil {
		h.notifier.Notify(a.ID, websocket.MessageAttemptValidated)
	}
	h.observeRedeem(redeemOK)
	h.events.Record(ctx, ev)
	h.logger.Info("magic link redeemed", "user_id", u.ID, "attempt_id", a.ID)

	if AttemptID(r) == a.ID {
		http.Redirect(w, r, h.paths.Login, http.StatusSeeOther)
		return
	}
	h.forms.Write(w, h.forms.Info(http.StatusOK, "You are signed in",
		"Return to the window where you started signing in. It continues automatically.", "", ""))
}

func (h *AuthHandler) redeemFailed(w http.ResponseWriter, r *http.Request, ev model.Event, code, result string, status int, msg string) {
	ev.Error = code
	h.events.Record(r.Context(), ev)
	h.observeRedeem(result)
	h.forms.Write(w, h.forms.Info(status, "Sign-in link not accepted", msg, h.paths.Login, "Back to sign in"))
}

func (h *AuthHandler) observeRedeem(result string) {
	if h.observer != nil {
		h.observer.LinkRedeemed(result)
	}
}
