// Package httpclient configures the HTTP client used to call the polygon server.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates a pooled client. A timeout <= 0 leaves deadlines to
// the request context.
func NewOutbound(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	c := &http.Client{Transport: transport}
	if timeout > 0 {
		c.Timeout = timeout
	}
	return c
}
