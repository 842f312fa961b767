// Package csrf implements double-submit-cookie protection for
// state-changing requests. The token travels in a script-readable
// cookie and must be echoed back in a header (or form field); its HMAC
// binds it to the current session so logout invalidates it implicitly.
package csrf

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const (
	// CookieName carries the CSRF token. Deliberately NOT HTTP-only:
	// client script must read it and echo it back.
	CookieName = "edge.csrf"

	// HeaderName is the request header clients echo the token in.
	HeaderName = "X-CSRF-TOKEN"

	// FormField is the fallback form field for non-AJAX submissions.
	FormField = "_csrf"

	// preSessionRef binds tokens issued before a session exists.
	preSessionRef = "pre"

	nonceLength = 16 // 128 bits of entropy

	// maxFormBytes caps how much body the form-field fallback buffers,
	// matching net/http's non-multipart ParseForm limit.
	maxFormBytes = 10 << 20
)

// Validation failures. All of them map to HTTP 403.
var (
	ErrMissing  = errors.New("csrf token missing")
	ErrMismatch = errors.New("csrf token mismatch")
)

// Guard issues and validates double-submit tokens.
type Guard struct {
	key []byte
}

// NewGuard creates a guard with the given signing key. A random
// per-process key is generated when key is empty (tokens then do not
// survive a restart, which only forces a re-issue on the next safe
// request).
func NewGuard(key string) (*Guard, error) {
	if key != "" {
		return &Guard{key: []byte(key)}, nil
	}
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("generate csrf key: %w", err)
	}
	return &Guard{key: random}, nil
}

// Issue generates a fresh token bound to sessionRef, sets the cookie
// and returns the token value. sessionRef is the session token hash
// for authenticated callers and empty for anonymous ones.
func (g *Guard) Issue(w http.ResponseWriter, r *http.Request, sessionRef string) (string, error) {
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate csrf nonce: %w", err)
	}

	nonceHex := hex.EncodeToString(nonce)
	token := nonceHex + "." + g.sign(sessionRef, nonceHex)

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// EnsureCookie issues a token when the request carries none, or when
// the existing one is bound to a different session (e.g. right after
// login or logout). Returns the token in force after the call.
func (g *Guard) EnsureCookie(w http.ResponseWriter, r *http.Request, sessionRef string) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err == nil && g.boundTo(cookie.Value, sessionRef) {
		return cookie.Value, nil
	}
	return g.Issue(w, r, sessionRef)
}

// Validate enforces the double-submit property for unsafe methods.
// Safe methods (GET, HEAD, OPTIONS) pass unconditionally. The check
// runs for every caller, authenticated or not: a forged unsafe request
// is rejected before any authentication-dependent logic.
func (g *Guard) Validate(r *http.Request, sessionRef string) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return ErrMissing
	}

	supplied := r.Header.Get(HeaderName)
	if supplied == "" {
		supplied = formToken(r)
	}
	if supplied == "" {
		return ErrMissing
	}

	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(supplied)) != 1 {
		return ErrMismatch
	}
	if !g.boundTo(cookie.Value, sessionRef) {
		return ErrMismatch
	}
	return nil
}

// formToken reads the fallback form field without consuming the body.
// ParseForm would drain it, and downstream handlers forward the body
// verbatim to the backend, so the bytes are buffered and reinstated.
func formToken(r *http.Request) string {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/x-www-form-urlencoded" || r.Body == nil {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFormBytes+1))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || len(body) > maxFormBytes {
		return ""
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}
	return values.Get(FormField)
}

// boundTo verifies the token's HMAC against the given session binding.
func (g *Guard) boundTo(token, sessionRef string) bool {
	nonce, sig, ok := strings.Cut(token, ".")
	if !ok || nonce == "" || sig == "" {
		return false
	}
	expected := g.sign(sessionRef, nonce)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1
}

func (g *Guard) sign(sessionRef, nonce string) string {
	if sessionRef == "" {
		sessionRef = preSessionRef
	}
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte(sessionRef))
	mac.Write([]byte{'|'})
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}
