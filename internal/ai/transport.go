package ai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"novel-continuity/internal/models"
)

// Timeouts bound every provider call.
// Connect covers dialing and the TLS handshake; Read is the whole-call budget of a
// non-streamed completion; Stream is the budget of a streamed one.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Stream  time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Connect <= 0 {
		t.Connect = 15 * time.Second
	}
	if t.Read <= 0 {
		t.Read = 120 * time.Second
	}
	if t.Stream <= 0 {
		t.Stream = 300 * time.Second
	}
	return t
}

// newHTTPClient builds a pooled client without a global Timeout: the per-call
// context deadline decides, so streams are not cut at the read budget.
func newHTTPClient(t Timeouts) *http.Client {
	dialer := &net.Dialer{
		Timeout:   t.Connect,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Read,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport}
}

// classifyTransport maps context/network failures to a ProviderError.
func classifyTransport(provider string, err error) *models.ProviderError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.NewProviderError(provider, models.ProviderErrorTransport, 0, err)
	case errors.As(err, &netErr):
		return models.NewProviderError(provider, models.ProviderErrorTransport, 0, err)
	}
	return nil
}
