package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second

	UserAgent = "crimedash/1.0 (+https://github.com/lox/crimedash)"
)

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return NewClientWithTimeout(DefaultTimeout)
}

// NewClientWithTimeout returns an HTTP client with the given timeout, or the
// default when d is not positive.
func NewClientWithTimeout(d time.Duration) *http.Client {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &http.Client{
		Timeout: d,
	}
}
