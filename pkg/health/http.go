package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPChecker probes the notification webhook. The probe only proves the
// endpoint answers, so by default any status up to 499 counts as healthy
// (webhooks commonly refuse HEAD with 405).
//
// Webhook URLs usually carry a token in their path, so results name the
// host only.
type HTTPChecker struct {
	URL              string
	Method           string
	MaxHealthyStatus int
	Client           *http.Client
}

// NewHTTPChecker creates a HEAD probe for url
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:              url,
		Method:           http.MethodHead,
		MaxHealthyStatus: 499,
		Client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// host is the part of URL safe to log
func (h *HTTPChecker) host() string {
	u, err := url.Parse(h.URL)
	if err != nil || u.Host == "" {
		return "webhook"
	}
	return u.Host
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := func(healthy bool, format string, args ...any) Result {
		return Result{
			Healthy:   healthy,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return result(false, "invalid webhook url")
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		// *url.Error repeats the full URL
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return result(false, "request to %s failed: %v", h.host(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode > h.MaxHealthyStatus {
		return result(false, "%s answered HTTP %d %s (healthy up to %d)",
			h.host(), resp.StatusCode, http.StatusText(resp.StatusCode), h.MaxHealthyStatus)
	}
	return result(true, "%s answered HTTP %d", h.host(), resp.StatusCode)
}

func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithMethod sets the HTTP method
func (h *HTTPChecker) WithMethod(method string) *HTTPChecker {
	h.Method = method
	return h
}

// WithMaxHealthyStatus sets the highest status code counted as healthy
func (h *HTTPChecker) WithMaxHealthyStatus(status int) *HTTPChecker {
	h.MaxHealthyStatus = status
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
