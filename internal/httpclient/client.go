// Package httpclient provides the shared HTTP client for a session.
package httpclient

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// New creates an HTTP client tuned for many small segment fetches against a
// single origin. Probing fans out to ten connections per loop, so idle
// connections are kept warm rather than churned.
func New() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 32,
		MaxConnsPerHost:     32,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression: true, // Segments are already compressed
		ForceAttemptHTTP2:  true,
		DialContext:        dialer.DialContext,

		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	return &http.Client{Transport: transport}
}

// throttleBurst is the largest token reservation a single read makes.
// Reads are clamped to it so WaitN never asks for more than the limiter's
// burst, which would stall the body forever.
const throttleBurst = 64 * 1024

// NewWithRateLimit creates a client whose downloads are capped at
// bytesPerSec. Zero means unlimited.
func NewWithRateLimit(bytesPerSec int64) *http.Client {
	client := New()
	if bytesPerSec <= 0 {
		return client
	}
	client.Transport = &throttledTransport{
		next:    client.Transport,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), throttleBurst),
	}
	return client
}

// throttledTransport meters every response body through one shared limiter,
// so a batch of concurrent probes and the live tail split the cap between
// them instead of each getting their own.
type throttledTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	ctx := req.Context()
	resp.Body = &throttledBody{
		ReadCloser: resp.Body,
		reserve: func(n int) error {
			return t.limiter.WaitN(ctx, n)
		},
	}
	return resp, nil
}

// throttledBody reserves its byte budget before every read. Cancelling the
// request context releases a blocked reservation.
type throttledBody struct {
	io.ReadCloser
	reserve func(n int) error
}

func (b *throttledBody) Read(p []byte) (int, error) {
	if len(p) > throttleBurst {
		p = p[:throttleBurst]
	}
	if err := b.reserve(len(p)); err != nil {
		return 0, err
	}
	return b.ReadCloser.Read(p)
}
