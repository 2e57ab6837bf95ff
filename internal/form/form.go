// Package form renders the challenge pages shown during a login.
package form

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/dukerupert/magiclink/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	TemplateLoginUsername = "login-username.html"
	TemplateEmailSent     = "view-email.html"
	TemplateInfo          = "info.html"
	TemplateAccount       = "account.html"
)

// Page is a renderable challenge response.
type Page struct {
	Status   int
	Template string
	Data     map[string]any
}

// Error returns the inline error message attached to the page, if any.
func (p *Page) Error() string {
	if p == nil {
		return ""
	}
	s, _ := p.Data["Error"].(string)
	return s
}

// Renderer builds and writes pages. Paths are absolute on the server.
type Renderer struct {
	templates  map[string]*template.Template
	loginPath  string
	statusPath string
	logger     *slog.Logger
}

type Option func(*Renderer)

// WithPaths overrides the login form action and the websocket status path.
func WithPaths(loginPath, statusPath string) Option {
	return func(r *Renderer) {
		r.loginPath = loginPath
		r.statusPath = statusPath
	}
}

func NewRenderer(logger *slog.Logger, opts ...Option) (*Renderer, error) {
	r := &Renderer{
		templates:  make(map[string]*template.Template),
		loginPath:  "/login",
		statusPath: "/login/ws",
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, name := range []string{TemplateLoginUsername, TemplateEmailSent, TemplateInfo, TemplateAccount} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[name] = t
	}
	return r, nil
}

// LoginData describes the username form.
type LoginData struct {
	Form              url.Values
	Error             string
	RememberMeAllowed bool
	LoginWithEmail    bool
}

// LoginUsername builds the username collection form. Submitted form data is
// kept so the user can correct it. Pages carrying an error use status 401.
func (r *Renderer) LoginUsername(d LoginData) *Page {
	status := http.StatusOK
	if d.Error != "" {
		status = http.StatusUnauthorized
	}
	return &Page{
		Status:   status,
		Template: TemplateLoginUsername,
		Data: map[string]any{
			"ActionURL":         r.loginPath,
			"Username":          d.Form.Get("username"),
			"RememberMe":        d.Form.Get("rememberMe") != "",
			"RememberMeAllowed": d.RememberMeAllowed,
			"LoginWithEmail":    d.LoginWithEmail,
			"Error":             d.Error,
		},
	}
}

// EmailSent builds the "check your email" page. Its resend form carries the
// remember-me choice so a new link is issued with the same setting.
func (r *Renderer) EmailSent(email string, rememberMe bool) *Page {
	return &Page{
		Status:   http.StatusOK,
		Template: TemplateEmailSent,
		Data: map[string]any{
			"Email":       email,
			"RememberMe":  rememberMe,
			"ActionURL":   r.loginPath,
			"ContinueURL": r.loginPath,
			"StatusPath":  r.statusPath,
		},
	}
}

// Info builds a plain message page, optionally with a link.
func (r *Renderer) Info(status int, title, message, linkURL, linkText string) *Page {
	return &Page{
		Status:   status,
		Template: TemplateInfo,
		Data: map[string]any{
			"Title":    title,
			"Message":  message,
			"LinkURL":  linkURL,
			"LinkText": linkText,
		},
	}
}

// Account builds the signed-in landing page.
func (r *Renderer) Account(u *model.User, logoutURL string) *Page {
	actions := make([]string, 0, len(u.RequiredActions))
	for _, a := range u.RequiredActions {
		actions = append(actions, string(a))
	}
	return &Page{
		Status:   http.StatusOK,
		Template: TemplateAccount,
		Data: map[string]any{
			"Username":        u.Username,
			"Email":           u.Email,
			"RequiredActions": actions,
			"LogoutURL":       logoutURL,
		},
	}
}

// Write renders p to w.
func (r *Renderer) Write(w http.ResponseWriter, p *Page) {
	tmpl, ok := r.templates[p.Template]
	if !ok {
		r.logger.Error("template not found", "name", p.Template)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	data := p.Data
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["Error"]; !ok {
		data["Error"] = ""
	}
	if _, ok := data["Info"]; !ok {
		data["Info"] = ""
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	status := p.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "layout.html", data); err != nil {
		r.logger.Error("template render", "name", p.Template, "error", err)
	}
}
