package output

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openvoiced/voiced/internal/fault"
	"github.com/openvoiced/voiced/internal/governor"
)

// downloader fetches remote audio fully into memory before playback. The
// whole body must fit under the per-request byte ceiling; anything larger is
// rejected before a single sample plays. When the server declares a
// Content-Length, that many bytes are reserved against the memory budget
// before the body is read, so concurrent downloads cannot overshoot the
// global ceiling while buffering.
type downloader struct {
	client   *http.Client
	maxBytes int64
}

func newDownloader(maxBytes int64, timeout time.Duration) *downloader {
	return &downloader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch downloads rawURL in full. reserve is called with the declared
// Content-Length before the body is read; the returned reservation is nil
// when the server sent a chunked response with no declared length, in which
// case the caller reserves after decoding.
func (d *downloader) Fetch(ctx context.Context, rawURL string, reserve func(int64) (*governor.Reservation, error)) ([]byte, *governor.Reservation, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, nil, fmt.Errorf("%w: unsupported url %q", fault.ErrMalformedInput, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", fault.ErrMalformedInput, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: fetch %s: %s", fault.ErrBackendUnavailable, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: fetch %s: status %d", fault.ErrBackendUnavailable, rawURL, resp.StatusCode)
	}
	if resp.ContentLength > d.maxBytes {
		return nil, nil, fmt.Errorf("%w: content length %d exceeds limit of %d bytes",
			fault.ErrResourceExhausted, resp.ContentLength, d.maxBytes)
	}

	var res *governor.Reservation
	if resp.ContentLength > 0 {
		res, err = reserve(resp.ContentLength)
		if err != nil {
			return nil, nil, err
		}
	}

	// Limit one past the cap so an over-limit chunked body is detectable.
	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		if res != nil {
			res.Release()
		}
		return nil, nil, fmt.Errorf("%w: read body: %s", fault.ErrBackendUnavailable, err)
	}
	if int64(len(body)) > d.maxBytes {
		if res != nil {
			res.Release()
		}
		return nil, nil, fmt.Errorf("%w: download exceeds limit of %d bytes", fault.ErrResourceExhausted, d.maxBytes)
	}
	return body, res, nil
}
