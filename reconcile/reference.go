package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"volume-recon-go/record"
)

// ErrReferenceUnavailable wraps any failure to obtain the external reference
// value: timeout, transport error, bad status. Callers must treat it as
// "unknown", never as agreement.
var ErrReferenceUnavailable = errors.New("external reference unavailable")

// ReferenceClient fetches the source-of-truth volume for a window and scope.
type ReferenceClient interface {
	WindowVolume(ctx context.Context, pair string, w record.Window) (float64, error)
}

// HTTPReferenceClient queries the reference API over HTTP. The API bounds
// how much data one request may cover, so a window is fetched as a series of
// chunked sub-requests whose volumes sum; the limiter paces them. HTTPClient
// is injectable for tests.
type HTTPReferenceClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    RateLimiter
	ChunkSpan  time.Duration // max window span per request
}

type volumeResp struct {
	Volume float64 `json:"volume"`
}

// WindowVolume fetches and sums the window's reference volume. Any failed
// chunk fails the whole fetch: a partial sum would understate the reference
// and fake a breach.
func (c *HTTPReferenceClient) WindowVolume(ctx context.Context, pair string, w record.Window) (float64, error) {
	if c == nil || c.HTTPClient == nil {
		return 0, fmt.Errorf("%w: http client not set", ErrReferenceUnavailable)
	}
	span := c.ChunkSpan
	if span <= 0 {
		span = w.Duration()
	}

	var total float64
	for start := w.Start; start.Before(w.End); start = start.Add(span) {
		end := start.Add(span)
		if end.After(w.End) {
			end = w.End
		}
		v, err := c.fetchChunk(ctx, pair, start, end)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

func (c *HTTPReferenceClient) fetchChunk(ctx context.Context, pair string, start, end time.Time) (float64, error) {
	if c.Limiter != nil {
		c.Limiter.Wait()
	}

	q := url.Values{}
	q.Set("pair", pair)
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	endpoint := c.BaseURL + "/v1/volume?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrReferenceUnavailable, err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrReferenceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrReferenceUnavailable, resp.StatusCode)
	}
	var vr volumeResp
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrReferenceUnavailable, err)
	}
	return vr.Volume, nil
}
