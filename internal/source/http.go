package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// HTTPSource fetches the feed from an HTTP endpoint returning a JSON
// envelope of the form {"data": [ {record}, ... ]}.
//
// Decoding is per-record: a record that does not unmarshal becomes a Reject
// rather than failing the fetch, so one bad record cannot block a refresh.
type HTTPSource struct {
	URL string

	// Client is optional; http.DefaultClient with a 60s timeout is used
	// when nil.
	Client *http.Client
}

type envelope struct {
	Data []json.RawMessage `json:"data"`
}

func (s *HTTPSource) Fetch(ctx context.Context) (*Batch, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrUnavailable, s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrUnavailable, s.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("source: decode envelope: %w", err)
	}

	batch := &Batch{Name: sourceName(s.URL)}
	for i, raw := range env.Data {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			batch.Rejects = append(batch.Rejects, Reject{Line: i + 1, Err: err})
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

func sourceName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	p := u.Path
	if p == "" || p == "/" {
		return u.Host
	}
	return u.Host + path.Clean(p)
}
