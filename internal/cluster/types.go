package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dreamware/dtable/internal/api"
)

// NodeInfo names a table node the client talks to.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// StatusError is returned for any reply with a status code of 300 or more.
// Message carries the server's error text when the body had one.
type StatusError struct {
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Message)
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return do(ctx, httpClient, http.MethodPost, url, "application/json", bytes.NewReader(reqBody), out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	return do(ctx, httpClient, http.MethodGet, url, "", nil, out)
}

func do(ctx context.Context, client *http.Client, method, url, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		se := &StatusError{URL: url, Code: resp.StatusCode}
		var r api.Response
		if json.NewDecoder(resp.Body).Decode(&r) == nil {
			se.Message = r.Error
		}
		return se
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
