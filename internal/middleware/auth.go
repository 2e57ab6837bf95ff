package middleware

import (
	"context"
	"net/http"

	"github.com/dukerupert/magiclink/internal/auth"
	"github.com/dukerupert/magiclink/internal/model"
)

// SessionCookieName holds the user session token set after a successful login.
const SessionCookieName = "magiclink_session"

type SessionGetter interface {
	GetByToken(ctx context.Context, token string) (*model.Session, error)
}

type UserGetter interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// RequireAuth validates the session cookie and populates AuthContext.
// Requests without a live session for an enabled user are sent to loginPath.
func RequireAuth(sessions SessionGetter, users UserGetter, loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}

			sess, err := sessions.GetByToken(r.Context(), cookie.Value)
			if err != nil || sess == nil {
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}

			u, err := users.GetByID(r.Context(), sess.UserID)
			if err != nil || u == nil || !u.Enabled {
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.AuthContext{
				UserID:    sess.UserID,
				SessionID: sess.ID,
				ClientID:  sess.ClientID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
