// Package model defines plain descriptors shared between the message layer,
// the transport boundary and the upstream client.
package model

import (
	"io"
	"net/http"
)

// UpstreamResponse is the answer of an upstream server, body still unread.
// Cookies holds the parsed Set-Cookie lines once they are split out of Header.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Cookies    []*http.Cookie
	Body       io.ReadCloser
}
