package stt

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig configures the HTTP client shared by the HTTP-based backends.
type ClientConfig struct {
	// UserAgent, if set, replaces the User-Agent header on every request.
	UserAgent string

	// Proxy is an HTTP proxy address ("host:port" or a full URL). Empty means
	// the environment's proxy settings apply.
	Proxy string

	// ProxyCredentials is an optional "user:password" pair for Proxy.
	ProxyCredentials string

	// ConnectTimeout bounds TCP connection establishment. Zero means no
	// separate limit.
	ConnectTimeout time.Duration

	// RequestTimeout bounds the whole exchange including the body upload and
	// download. Zero means no limit.
	RequestTimeout time.Duration
}

// NewHTTPClient builds an *http.Client from cfg.
func NewHTTPClient(cfg ClientConfig) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ConnectTimeout > 0 {
		d := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
		tr.DialContext = d.DialContext
		tr.TLSHandshakeTimeout = cfg.ConnectTimeout
	}
	if cfg.Proxy != "" {
		raw := cfg.Proxy
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("stt: parse proxy %q: %w", cfg.Proxy, err)
		}
		if cfg.ProxyCredentials != "" {
			user, pass, _ := strings.Cut(cfg.ProxyCredentials, ":")
			u.User = url.UserPassword(user, pass)
		}
		tr.Proxy = http.ProxyURL(u)
	}

	var rt http.RoundTripper = tr
	if cfg.UserAgent != "" {
		rt = &userAgentTransport{next: tr, agent: cfg.UserAgent}
	}
	return &http.Client{Transport: rt, Timeout: cfg.RequestTimeout}, nil
}

type userAgentTransport struct {
	next  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(req)
}
