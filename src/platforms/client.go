package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// maxMediaBytes caps how much we will pull from media storage in one go.
const maxMediaBytes = 512 << 20

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func doRequest(ctx context.Context, hc *http.Client, platform, method, rawURL string, headers map[string]string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", platform, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		// Network failures and timeouts are transient by definition.
		return &TransientError{Platform: platform, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransientError{Platform: platform, Err: err}
	}
	if e := classifyStatus(platform, resp.StatusCode, data); e != nil {
		return e
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: parse response: %w", platform, err)
		}
	}
	return nil
}

func getJSON(ctx context.Context, hc *http.Client, platform, rawURL string, headers map[string]string, out interface{}) error {
	return doRequest(ctx, hc, platform, http.MethodGet, rawURL, headers, nil, out)
}

func postJSON(ctx context.Context, hc *http.Client, platform, rawURL string, headers map[string]string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", platform, err)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/json"
	return doRequest(ctx, hc, platform, http.MethodPost, rawURL, headers, bytes.NewReader(payload), out)
}

func postForm(ctx context.Context, hc *http.Client, platform, rawURL string, headers map[string]string, form url.Values, out interface{}) error {
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/x-www-form-urlencoded"
	return doRequest(ctx, hc, platform, http.MethodPost, rawURL, headers, strings.NewReader(form.Encode()), out)
}

// withRetry re-runs fn for transient failures only, with linear backoff.
// Validation, auth and permanent errors return immediately.
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return err
}

// fetchMedia downloads one attachment from media storage for platforms
// that take raw bytes instead of a URL reference.
func fetchMedia(ctx context.Context, hc *http.Client, platform, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch media: %w", platform, err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &TransientError{Platform: platform, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &PermanentError{Platform: platform, StatusCode: resp.StatusCode, Detail: "media fetch failed: " + mediaURL}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, &TransientError{Platform: platform, Err: err}
	}
	return data, nil
}
