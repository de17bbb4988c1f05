package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// postJSON sends body as JSON and returns the response when the status is
// 2xx. The caller closes the body.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any, provider string) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%s: %s", provider, msg)
	}
	return resp, nil
}

// scanLines calls fn for each non-empty line of r until fn returns
// stop=true or an error.
func scanLines(r io.Reader, fn func(line string) (stop bool, err error)) error {
	sc := bufio.NewScanner(r)
	// long JSON lines
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		stop, err := fn(line)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return sc.Err()
}

func send(ctx context.Context, ch chan<- string, s string) bool {
	select {
	case ch <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
