// Package config loads service settings from an optional YAML file and
// MAGICLINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dukerupert/magiclink/internal/magic"
	"github.com/dukerupert/magiclink/internal/middleware"
	"github.com/dukerupert/magiclink/internal/model"
)

const envPrefix = "MAGICLINK"

type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Log       Log       `mapstructure:"log"`
	Email     Email     `mapstructure:"email"`
	Token     Token     `mapstructure:"token"`
	Realm     Realm     `mapstructure:"realm"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
	Clients   []Client  `mapstructure:"clients"`

	// Authenticator holds the magic link step's options as flat strings.
	Authenticator map[string]string `mapstructure:"-"`
}

type Server struct {
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"`
	// AllowedOrigins are extra host patterns the status websocket accepts.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// TrustedProxies are the CIDRs or addresses whose forwarding headers
	// (CF-Connecting-IP, X-Forwarded-For) name the client. Empty trusts none.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type Database struct {
	Path string `mapstructure:"path"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Email struct {
	PostmarkToken string `mapstructure:"postmark_token"`
	From          string `mapstructure:"from"`
	ProductName   string `mapstructure:"product_name"`
}

type Token struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type Realm struct {
	RememberMe      bool          `mapstructure:"remember_me"`
	LoginWithEmail  bool          `mapstructure:"login_with_email"`
	AttemptLifetime time.Duration `mapstructure:"attempt_lifetime"`
}

type RateLimit struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// Client is an application allowed to start a login.
type Client struct {
	ID           string   `mapstructure:"id"`
	RedirectURIs []string `mapstructure:"redirect_uris"`
}

// RedirectAllowed reports whether uri is registered for c. A registered URI
// ending in "*" matches by prefix.
func (c Client) RedirectAllowed(uri string) bool {
	for _, allowed := range c.RedirectURIs {
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok {
			if strings.HasPrefix(uri, prefix) {
				return true
			}
			continue
		}
		if uri == allowed {
			return true
		}
	}
	return false
}

var authenticatorKeys = []string{
	magic.KeyCreateUser,
	magic.KeyUpdateProfile,
	magic.KeyUpdatePassword,
	magic.KeyTokenPersistent,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("database.path", "magiclink.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("email.postmark_token", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.product_name", "Magiclink")
	v.SetDefault("token.secret", "")
	v.SetDefault("token.ttl", 15*time.Minute)
	v.SetDefault("realm.remember_me", true)
	v.SetDefault("realm.login_with_email", true)
	v.SetDefault("realm.attempt_lifetime", 30*time.Minute)
	v.SetDefault("rate_limit.requests", 10)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("clients", []map[string]any{
		{"id": "account", "redirect_uris": []string{"/account"}},
	})
}

// Load reads path when it is non-empty, otherwise an optional magiclink.yaml
// in the working directory. Environment variables override both, with
// nested keys joined by underscores (MAGICLINK_TOKEN_SECRET). The step's
// options are also read from MAGICLINK_<KEY> with the "ext-magic-" prefix
// dropped, e.g. MAGICLINK_CREATE_NONEXISTENT_USER.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range authenticatorKeys {
		env := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(strings.TrimPrefix(key, "ext-magic-"), "-", "_"))
		if err := v.BindEnv("authenticator."+key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("magiclink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Values are read individually so YAML booleans become "true"/"false".
	c.Authenticator = make(map[string]string)
	for key := range v.GetStringMap("authenticator") {
		c.Authenticator[key] = v.GetString("authenticator." + key)
	}
	for _, key := range authenticatorKeys {
		if v.IsSet("authenticator." + key) {
			c.Authenticator[key] = v.GetString("authenticator." + key)
		}
	}

	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	return &c, nil
}

// Validate reports the first setting that would keep the server from
// starting correctly.
func (c *Config) Validate() error {
	if c.Token.Secret == "" {
		return errors.New("token.secret is required (MAGICLINK_TOKEN_SECRET)")
	}
	if len(c.Token.Secret) < 16 {
		return errors.New("token.secret must be at least 16 characters")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url %q must be an absolute URL", c.Server.BaseURL)
	}
	if _, err := middleware.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Token.TTL <= 0 {
		return errors.New("token.ttl must be positive")
	}
	if c.Realm.AttemptLifetime <= 0 {
		return errors.New("realm.attempt_lifetime must be positive")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate_limit.requests and rate_limit.window must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	if len(c.Clients) == 0 {
		return errors.New("at least one client must be configured")
	}
	seen := make(map[string]bool)
	for _, cl := range c.Clients {
		if cl.ID == "" {
			return errors.New("client id must not be empty")
		}
		if seen[cl.ID] {
			return fmt.Errorf("duplicate client %q", cl.ID)
		}
		seen[cl.ID] = true
		if len(cl.RedirectURIs) == 0 {
			return fmt.Errorf("client %q has no redirect_uris", cl.ID)
		}
	}
	return nil
}

// Client returns the configured client with the given id.
func (c *Config) Client(id string) (Client, bool) {
	for _, cl := range c.Clients {
		if cl.ID == id {
			return cl, true
		}
	}
	return Client{}, false
}

// DefaultClient is the client a login without client_id is attributed to.
func (c *Config) DefaultClient() Client {
	if len(c.Clients) == 0 {
		return Client{}
	}
	return c.Clients[0]
}

// ResolveClient picks the client and redirect URI for a new login. An empty
// clientID means the default client; an empty redirectURI means the client's
// first registered URI, which must not be a wildcard.
func (c *Config) ResolveClient(clientID, redirectURI string) (model.Client, error) {
	cl := c.DefaultClient()
	if clientID != "" {
		var ok bool
		if cl, ok = c.Client(clientID); !ok {
			return model.Client{}, fmt.Errorf("unknown client %q", clientID)
		}
	}
	if cl.ID == "" {
		return model.Client{}, errors.New("no clients configured")
	}
	if redirectURI == "" {
		if len(cl.RedirectURIs) == 0 || strings.HasSuffix(cl.RedirectURIs[0], "*") {
			return model.Client{}, fmt.Errorf("client %q requires redirect_uri", cl.ID)
		}
		redirectURI = cl.RedirectURIs[0]
	}
	if !cl.RedirectAllowed(redirectURI) {
		return model.Client{}, fmt.Errorf("redirect_uri %q not registered for client %q", redirectURI, cl.ID)
	}
	return model.Client{ID: cl.ID, RedirectURI: redirectURI}, nil
}
