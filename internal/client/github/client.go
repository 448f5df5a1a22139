// Package github is a minimal search client over the repository search API,
// used by the pattern scanner. Only the fields the scanner needs are decoded.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	host       string
	token      string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host, token string) *Client {
	if host == "" {
		host = "https://api.github.com"
	}
	host = strings.TrimRight(host, "/")
	return &Client{
		host:       host,
		token:      token,
		httpClient: httpClient,
	}
}

type Repository struct {
	FullName    string    `json:"full_name"`
	HTMLURL     string    `json:"html_url"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Stars       int       `json:"stargazers_count"`
	Topics      []string  `json:"topics"`
	CreatedAt   time.Time `json:"created_at"`
	PushedAt    time.Time `json:"pushed_at"`
}

type searchResponse struct {
	TotalCount        int          `json:"total_count"`
	IncompleteResults bool         `json:"incomplete_results"`
	Items             []Repository `json:"items"`
}

// SearchQuery maps a discovery pattern onto the search API's qualifier
// syntax. Keywords are OR-joined; MinStars and Languages become qualifiers.
type SearchQuery struct {
	Keywords  []string
	Languages []string
	MinStars  int
	// PushedSince limits results to repositories updated after the scanner's
	// watermark, keeping incremental scans cheap.
	PushedSince *time.Time
	Page        int
	PerPage     int
}

func (q SearchQuery) encode() string {
	var parts []string
	if len(q.Keywords) > 0 {
		parts = append(parts, strings.Join(q.Keywords, " OR "))
	}
	for _, lang := range q.Languages {
		parts = append(parts, "language:"+lang)
	}
	if q.MinStars > 0 {
		parts = append(parts, fmt.Sprintf("stars:>=%d", q.MinStars))
	}
	if q.PushedSince != nil {
		parts = append(parts, "pushed:>="+q.PushedSince.UTC().Format("2006-01-02"))
	}
	return strings.Join(parts, " ")
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) SearchRepositories(ctx context.Context, q SearchQuery) ([]Repository, error) {
	encoded := q.encode()
	if encoded == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	values := url.Values{}
	values.Set("q", encoded)
	values.Set("sort", "updated")
	values.Set("order", "desc")
	if q.Page > 0 {
		values.Set("page", fmt.Sprintf("%d", q.Page))
	}
	perPage := q.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 50
	}
	values.Set("per_page", fmt.Sprintf("%d", perPage))

	body, err := c.doRequest(ctx, "/search/repositories", values)
	if err != nil {
		return nil, err
	}
	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return parsed.Items, nil
}
