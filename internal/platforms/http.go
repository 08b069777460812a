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

	"github.com/PortNumber53/social-publisher/internal/textutil"
	"github.com/google/go-querystring/query"
)

const (
	DefaultTimeout = 20 * time.Second
	maxBodyBytes   = 1 << 20
)

// NewHTTPClient returns the shared outbound client.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) ok() bool { return r.status >= 200 && r.status < 300 }

func do(ctx context.Context, client *http.Client, method, endpoint string, headers map[string]string, body io.Reader) (response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	return response{status: res.StatusCode, header: res.Header, body: b}, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string) (response, error) {
	return do(ctx, client, http.MethodGet, endpoint, headers, nil)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, payload any) (response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return response{}, err
	}
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return do(ctx, client, http.MethodPost, endpoint, h, bytes.NewReader(b))
}

func postForm(ctx context.Context, client *http.Client, endpoint string, form any) (response, error) {
	v, err := query.Values(form)
	if err != nil {
		return response{}, err
	}
	return do(ctx, client, http.MethodPost, endpoint, map[string]string{"Content-Type": "application/x-www-form-urlencoded"}, strings.NewReader(v.Encode()))
}

// withQuery appends the url-tagged fields of q to endpoint.
func withQuery(endpoint string, q any) (string, error) {
	v, err := query.Values(q)
	if err != nil {
		return "", err
	}
	if len(v) == 0 {
		return endpoint, nil
	}
	return endpoint + "?" + v.Encode(), nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// decodeBody returns the parsed JSON body, or the raw text when it is not JSON.
func decodeBody(b []byte) any {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return textutil.Truncate(string(b), 1200)
	}
	return v
}

func extractFacebookErrorMessage(body []byte, fallback string) string {
	errMsg := fallback
	var fb map[string]any
	if json.Unmarshal(body, &fb) == nil {
		if eObj, ok := fb["error"].(map[string]any); ok {
			if m, ok := eObj["message"].(string); ok && m != "" {
				errMsg = m
			}
		}
	}
	return textutil.Truncate(errMsg, 400)
}

// stringField returns obj[key] when it is a non-empty string.
func stringField(v any, key string) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}

func countItems(v any, key string) int {
	obj, ok := v.(map[string]any)
	if !ok {
		return 0
	}
	arr, _ := obj[key].([]any)
	return len(arr)
}

// redact drops access tokens from a form before it is echoed back to a caller.
func redact(form any) map[string]any {
	v, err := query.Values(form)
	if err != nil {
		return nil
	}
	out := make(map[string]any, len(v))
	for k := range v {
		if k == "access_token" {
			continue
		}
		out[k] = v.Get(k)
	}
	return out
}

func statusSummary(platform string, status int, ok string, errMsg string) string {
	if status >= 200 && status < 300 {
		return ok
	}
	return fmt.Sprintf("%s API returned %d: %s", platform, status, errMsg)
}

func pathEscape(s string) string { return url.PathEscape(s) }
