package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxIndexPages = 1000

// Client fetches a peer's well-known agent index and individual cards. It
// is the peer-auth-aware HTTP leg of the Card Fetcher (C2) used only by the
// Federation Manager.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client targeting baseURL, authenticating with the
// peer's opaque auth_token as a bearer token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, token: token, http: &http.Client{Timeout: timeout}}
}

// FetchIndex retrieves the full set of IndexEntry rows from the peer's
// /.well-known/agents/index.json, following next_cursor pagination until
// exhausted or maxIndexPages is reached.
func (c *Client) FetchIndex(ctx context.Context) ([]IndexEntry, error) {
	var all []IndexEntry
	cursor := ""
	for page := 0; page < maxIndexPages; page++ {
		p, err := c.fetchIndexPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Entries...)
		if p.NextCursor == "" {
			return all, nil
		}
		cursor = p.NextCursor
	}
	return all, fmt.Errorf("federation: index exceeded %d pages without terminating", maxIndexPages)
}

func (c *Client) fetchIndexPage(ctx context.Context, cursor string) (*IndexPage, error) {
	u, err := url.Parse(c.baseURL + "/.well-known/agents/index.json")
	if err != nil {
		return nil, fmt.Errorf("federation: build index URL: %w", err)
	}
	if cursor != "" {
		q := u.Query()
		q.Set("cursor", cursor)
		u.RawQuery = q.Encode()
	}

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("federation: fetch index page: %w", err)
	}
	var page IndexPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("federation: decode index page: %w", err)
	}
	return &page, nil
}

// FetchCard retrieves the raw card bytes at cardURL.
func (c *Client) FetchCard(ctx context.Context, cardURL string) ([]byte, error) {
	body, err := c.get(ctx, cardURL)
	if err != nil {
		return nil, fmt.Errorf("federation: fetch card %s: %w", cardURL, err)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}
