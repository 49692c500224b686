package session

import (
	"net/http"
	"strings"
	"time"
)

// SecureMode controls the Secure attribute on the session cookie.
type SecureMode int

const (
	// SecureOff never sets the Secure attribute.
	SecureOff SecureMode = iota
	// SecureOn always sets the Secure attribute.
	SecureOn
	// SecureAuto resolves the Secure attribute from the connection state
	// (TLS or a trusted X-Forwarded-Proto header).
	SecureAuto
)

// CookieOptions configures the session cookie written to responses.
type CookieOptions struct {
	Path     string        // defaults to "/"
	Domain   string        //
	MaxAge   time.Duration // 0 means a browser-session cookie (no Expires)
	Secure   SecureMode    //
	HTTPOnly bool          //
	SameSite http.SameSite //
}

// Cookie is the live cookie state attached to a session. Expires is computed
// from MaxAge on every touch so that rolling sessions push their expiry
// forward with each response.
type Cookie struct {
	Path           string
	Domain         string
	Expires        time.Time
	OriginalMaxAge time.Duration
	Secure         bool
	HTTPOnly       bool
	SameSite       http.SameSite
}

func newCookie(opts CookieOptions, secure bool) *Cookie {
	path := opts.Path
	if path == "" {
		path = "/"
	}
	c := &Cookie{
		Path:           path,
		Domain:         opts.Domain,
		OriginalMaxAge: opts.MaxAge,
		Secure:         secure,
		HTTPOnly:       opts.HTTPOnly,
		SameSite:       opts.SameSite,
	}
	c.touch(time.Now())
	return c
}

// touch refreshes the cookie expiry from the original max age.
func (c *Cookie) touch(now time.Time) {
	if c.OriginalMaxAge > 0 {
		c.Expires = now.Add(c.OriginalMaxAge)
	}
}

// header renders the Set-Cookie header value for the given session identifier.
func (c *Cookie) header(name, value string) string {
	hc := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: c.SameSite,
	}
	if !c.Expires.IsZero() {
		hc.Expires = c.Expires
		hc.MaxAge = int(time.Until(c.Expires).Seconds())
	}
	return hc.String()
}

// CookieData is the persisted form of a session cookie. Fields are mapped
// explicitly rather than round-tripping the live Cookie through JSON so that
// unexpected keys in a stored record are never absorbed.
type CookieData struct {
	Path           string    `json:"path,omitempty"`
	Domain         string    `json:"domain,omitempty"`
	Expires        time.Time `json:"expires,omitempty"`
	OriginalMaxAge int64     `json:"originalMaxAge,omitempty"` // seconds
	Secure         bool      `json:"secure,omitempty"`
	HTTPOnly       bool      `json:"httpOnly,omitempty"`
	SameSite       int       `json:"sameSite,omitempty"`
}

func (c *Cookie) data() CookieData {
	return CookieData{
		Path:           c.Path,
		Domain:         c.Domain,
		Expires:        c.Expires,
		OriginalMaxAge: int64(c.OriginalMaxAge.Seconds()),
		Secure:         c.Secure,
		HTTPOnly:       c.HTTPOnly,
		SameSite:       int(c.SameSite),
	}
}

func cookieFromData(d CookieData) *Cookie {
	path := d.Path
	if path == "" {
		path = "/"
	}
	return &Cookie{
		Path:           path,
		Domain:         d.Domain,
		Expires:        d.Expires,
		OriginalMaxAge: time.Duration(d.OriginalMaxAge) * time.Second,
		Secure:         d.Secure,
		HTTPOnly:       d.HTTPOnly,
		SameSite:       http.SameSite(d.SameSite),
	}
}

// isSecureRequest reports whether the request arrived over a secure channel,
// optionally trusting the X-Forwarded-Proto header set by a fronting proxy.
func isSecureRequest(r *http.Request, trustProxy bool) bool {
	if r.TLS != nil {
		return true
	}
	if !trustProxy {
		return false
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if i := strings.IndexByte(proto, ','); i >= 0 {
		proto = proto[:i]
	}
	return strings.ToLower(strings.TrimSpace(proto)) == "https"
}
