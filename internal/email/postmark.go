package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/magiclink/internal/model"
)

const defaultAPIURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	apiURL      string
	productName string
	linkTTL     time.Duration
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at a different Postmark-compatible endpoint.
func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

// WithProductName sets the name used in subjects and bodies.
func WithProductName(name string) Option {
	return func(cl *Client) {
		cl.productName = name
	}
}

// WithLinkTTL sets the link lifetime quoted in the email body.
func WithLinkTTL(d time.Duration) Option {
	return func(cl *Client) {
		cl.linkTTL = d
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		apiURL:      defaultAPIURL,
		productName: "Magiclink",
		linkTTL:     15 * time.Minute,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	TextBody      string `json:"TextBody"`
	MessageStream string `json:"MessageStream"`
}

// SendMagicLink emails link to the user. A single attempt is made.
func (c *Client) SendMagicLink(ctx context.Context, user *model.User, link string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}
	if user == nil || user.Email == "" {
		return fmt.Errorf("send magic link: user has no email address")
	}

	minutes := int(c.linkTTL.Round(time.Minute).Minutes())
	subject := fmt.Sprintf("Sign in to %s", c.productName)
	textBody := fmt.Sprintf(
		"Hi %s,\n\nClick the link below to sign in to %s:\n\n%s\n\nThis link expires in %d minutes. If you did not request it, you can ignore this email.",
		user.Username, c.productName, link, minutes,
	)
	htmlBody := fmt.Sprintf(
		`<p>Hi %s,</p><p>Click the link below to sign in to %s:</p><p><a href="%s">Sign in</a></p><p>This link expires in %d minutes. If you did not request it, you can ignore this email.</p>`,
		template.HTMLEscapeString(user.Username), template.HTMLEscapeString(c.productName),
		template.HTMLEscapeString(link), minutes,
	)

	payload := postmarkEmail{
		From:          c.fromEmail,
		To:            user.Email,
		Subject:       subject,
		HtmlBody:      htmlBody,
		TextBody:      textBody,
		MessageStream: "outbound",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			ErrorCode int    `json:"ErrorCode"`
			Message   string `json:"Message"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("postmark API error: status %d: %s", resp.StatusCode, strings.TrimSpace(apiErr.Message))
		}
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
