package email

import "net/mail"

// Valid reports whether s is a bare RFC 5322 address such as
// "alice@example.com". Display names and angle brackets are rejected, and
// parse failures simply mean "not an email".
func Valid(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Name == "" && addr.Address == s
}
