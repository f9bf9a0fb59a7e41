// Package websearch is a thin JSON client for a Brave-compatible web
// search API, exposed to the model as the web_search function.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client calls the search API.
type Client struct {
	Endpoint string
	APIKey   string
	HTTP     *http.Client
}

// NewClient builds a Client against the default endpoint.
func NewClient(apiKey string) *Client {
	return &Client{
		Endpoint: defaultEndpoint,
		APIKey:   apiKey,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Search returns up to k results for q.
func (c *Client) Search(ctx context.Context, q string, k int) ([]Result, error) {
	if k <= 0 {
		k = 5
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	u := fmt.Sprintf("%s?q=%s&count=%d", endpoint, url.QueryEscape(q), k)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.APIKey)

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search: unexpected status %d", resp.StatusCode)
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var out []Result
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, Result{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return out, nil
}

// Tool adapts the client to the function-calling registry.
type Tool struct {
	Client *Client
}

func (t *Tool) Name() string { return "web_search" }

func (t *Tool) Description() string {
	return "Search the public web for supplementary material not covered by the course corpus. Returns titles, URLs and snippets."
}

func (t *Tool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The web search query.",
			},
			"k": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results to return.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *Tool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query string  `json:"query"`
		K     float64 `json:"k"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", err
	}
	results, err := t.Client.Search(ctx, params.Query, int(params.K))
	if err != nil {
		return "", err
	}
	if results == nil {
		results = []Result{}
	}
	payload, err := json.Marshal(map[string]interface{}{"results": results})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
