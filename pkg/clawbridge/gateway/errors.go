// Package gateway – errors.go defines the typed error taxonomy for the
// OpenClaw gateway client. Every operation fails with exactly one of
// ConnectionError, AuthError, or APIError; raw net/http errors never
// escape to callers.
package gateway

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
)

// ConnectionError means the gateway was unreachable at the network level:
// DNS failure, refused connection, timeout, or a TLS handshake problem.
// The next poll tick retries implicitly.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to OpenClaw gateway at %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError means the gateway rejected the bearer token (401/403).
// Triggers a credential re-read from the addon config file.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	if e.Status == 403 {
		return "access forbidden — gateway token may be invalid"
	}
	return "authentication failed — check gateway token"
}

// APIError covers application-level failures: a non-2xx status other than
// 401/403, a JSON endpoint answering with HTML (the SPA catch-all), or
// caller misuse. Body holds a truncated response excerpt for diagnostics.
type APIError struct {
	Status int
	Body   string
	Hint   string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error %d: %s", e.Status, e.Body)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// connError wraps a transport-level error into a ConnectionError, adding a
// remediation hint when certificate verification was the cause.
func connError(rawURL string, err error) *ConnectionError {
	var certErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) {
		err = fmt.Errorf(
			"TLS certificate verification failed: %w — if the gateway uses a "+
				"self-signed certificate, disable certificate verification in the config",
			err,
		)
	}
	// Unwrap url.Error so the message doesn't repeat the URL twice.
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.URL == rawURL {
		err = uerr.Err
	}
	return &ConnectionError{URL: rawURL, Err: err}
}

// truncate clips a response body excerpt for error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
