package models

import (
	"fmt"
	"strings"
)

// SecureMode selects how the SMTP transport is protected
type SecureMode string

const (
	SecureModeNone SecureMode = "none"
	SecureModeTLS  SecureMode = "tls" // STARTTLS upgrade when advertised
	SecureModeSSL  SecureMode = "ssl" // implicit TLS from the first byte
)

// ParseSecureMode maps configuration values onto a SecureMode
func ParseSecureMode(s string) (SecureMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "plain":
		return SecureModeNone, nil
	case "tls", "starttls":
		return SecureModeTLS, nil
	case "ssl", "smtps":
		return SecureModeSSL, nil
	default:
		return "", fmt.Errorf("invalid secure mode: %s", s)
	}
}

// SMTPCredentials is the resolved transport configuration for one tenant
type SMTPCredentials struct {
	Host       string
	Port       int
	SecureMode SecureMode
	Username   string
	Password   string
}

// Addr returns host:port
func (c SMTPCredentials) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the tuple is complete enough to open a session
func (c SMTPCredentials) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid smtp port: %d", c.Port)
	}
	if _, err := ParseSecureMode(string(c.SecureMode)); err != nil {
		return err
	}
	return nil
}
