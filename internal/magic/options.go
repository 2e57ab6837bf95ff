package magic

import "strings"

// Authenticator configuration keys.
const (
	KeyCreateUser      = "ext-magic-create-nonexistent-user"
	KeyUpdateProfile   = "ext-magic-update-profile-action"
	KeyUpdatePassword  = "ext-magic-update-password-action"
	KeyTokenPersistent = "ext-magic-allow-token-reuse"
)

// Options are the step's settings, resolved from the flow configuration on
// every call.
type Options struct {
	CreateUser      bool
	UpdateProfile   bool
	UpdatePassword  bool
	TokenPersistent bool
}

// DefaultOptions leaves provisioning off and lets a link be reused until it
// expires.
func DefaultOptions() Options {
	return Options{TokenPersistent: true}
}

// ParseOptions reads Options from a flat config map. A key counts as true
// only for the value "true" (any case, surrounding space ignored); a missing
// or empty key keeps its default.
func ParseOptions(cfg map[string]string) Options {
	o := DefaultOptions()
	o.CreateUser = boolOption(cfg, KeyCreateUser, o.CreateUser)
	o.UpdateProfile = boolOption(cfg, KeyUpdateProfile, o.UpdateProfile)
	o.UpdatePassword = boolOption(cfg, KeyUpdatePassword, o.UpdatePassword)
	o.TokenPersistent = boolOption(cfg, KeyTokenPersistent, o.TokenPersistent)
	return o
}

func boolOption(cfg map[string]string, key string, def bool) bool {
	v, ok := cfg[key]
	if !ok || v == "" {
		return def
	}
	return strings.ToLower(strings.TrimSpace(v)) == "true"
}
