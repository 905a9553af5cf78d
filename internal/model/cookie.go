package model

import (
	"net/http"
	"time"
)

// Cookie is one outbound cookie write. A zero Expire means a session cookie.
type Cookie struct {
	Name     string    `json:"name" yaml:"name"`
	Value    string    `json:"value" yaml:"value"`
	Expire   time.Time `json:"expire,omitzero" yaml:"expire,omitempty"`
	Path     string    `json:"path" yaml:"path"`
	Domain   string    `json:"domain,omitempty" yaml:"domain,omitempty"`
	Secure   bool      `json:"secure" yaml:"secure"`
	HTTPOnly bool      `json:"http_only" yaml:"http_only"`
}

// CookieKey identifies a cookie slot: writes with the same name, domain and path
// replace each other.
type CookieKey struct {
	Name   string
	Domain string
	Path   string
}

// Key returns the slot c writes to.
func (c Cookie) Key() CookieKey {
	return CookieKey{Name: c.Name, Domain: c.Domain, Path: c.Path}
}

// HTTPCookie converts the directive into a net/http cookie for header rendering.
// An expiry in the past is rendered as a deletion (Max-Age<0).
func (c Cookie) HTTPCookie(now time.Time) *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if !c.Expire.IsZero() {
		hc.Expires = c.Expire.UTC()
		if !c.Expire.After(now) {
			hc.MaxAge = -1
		}
	}
	return hc
}
