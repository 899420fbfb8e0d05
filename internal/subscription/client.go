// Package subscription implements C3 (the GENA SUBSCRIBE/RENEW/UNSUBSCRIBE
// HTTP client) and C5 (the subscription lifecycle manager: per-key
// locking, renewal loop with exponential backoff, and structured
// shutdown).
package subscription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avandenbos/sonos-reactive/internal/apperrors"
)

// Client issues GENA SUBSCRIBE/RENEW/UNSUBSCRIBE requests to a device.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

func servicePathURL(deviceIP, servicePath string) string {
	return fmt.Sprintf("http://%s:1400%s", deviceIP, servicePath)
}

// Subscribe sends an initial SUBSCRIBE and returns the SID and the
// device-granted timeout in seconds.
func (c *Client) Subscribe(ctx context.Context, deviceIP, servicePath, callbackURL string, timeoutSeconds int) (sid string, actualTimeout int, err error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", servicePathURL(deviceIP, servicePath), nil)
	if err != nil {
		return "", 0, &apperrors.NetworkError{Op: "build SUBSCRIBE request", Err: err}
	}
	req.Header.Set("CALLBACK", fmt.Sprintf("<%s>", callbackURL))
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeoutSeconds))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, &apperrors.NetworkError{Op: "SUBSCRIBE", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", 0, &apperrors.ProtocolError{Op: "SUBSCRIBE", Detail: resp.Status}
	}

	sid = ParseSID(resp.Header.Get("SID"))
	if sid == "" {
		return "", 0, &apperrors.ProtocolError{Op: "SUBSCRIBE", Detail: "no SID in response"}
	}
	return sid, ParseTimeout(resp.Header.Get("TIMEOUT")), nil
}

// Renew sends a renewal SUBSCRIBE (by SID, no CALLBACK/NT) and returns the
// new timeout. Returns *apperrors.SubscriptionExpiredError if the device
// responds 412, meaning it no longer knows this SID.
func (c *Client) Renew(ctx context.Context, deviceIP, servicePath, sid string, timeoutSeconds int) (actualTimeout int, err error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", servicePathURL(deviceIP, servicePath), nil)
	if err != nil {
		return 0, &apperrors.NetworkError{Op: "build renewal request", Err: err}
	}
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeoutSeconds))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &apperrors.NetworkError{Op: "renew", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusPreconditionFailed {
		return 0, &apperrors.SubscriptionExpiredError{Key: sid}
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &apperrors.ProtocolError{Op: "renew", Detail: resp.Status}
	}
	return ParseTimeout(resp.Header.Get("TIMEOUT")), nil
}

// Unsubscribe sends UNSUBSCRIBE and swallows network errors: the device
// may already be offline, and tearing down a local record should not be
// blocked on reaching it.
func (c *Client) Unsubscribe(ctx context.Context, deviceIP, servicePath, sid string) error {
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", servicePathURL(deviceIP, servicePath), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("SID", sid)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// ParseSID normalizes a SUBSCRIBE response's SID header.
func ParseSID(sidHeader string) string {
	return strings.TrimSpace(sidHeader)
}

// ParseTimeout decodes a GENA TIMEOUT header ("Second-1800" or "infinite")
// to seconds. "infinite" maps to a day rather than a literal unbounded
// value so renewal-buffer arithmetic never goes negative.
func ParseTimeout(timeoutHeader string) int {
	if timeoutHeader == "infinite" {
		return 86400
	}
	trimmed := strings.TrimPrefix(timeoutHeader, "Second-")
	if n, err := strconv.Atoi(trimmed); err == nil {
		return n
	}
	return 3600
}

// ParseSEQ decodes a NOTIFY's SEQ header; an absent or malformed value
// decodes to 0.
func ParseSEQ(seqHeader string) int {
	if n, err := strconv.Atoi(seqHeader); err == nil {
		return n
	}
	return 0
}
