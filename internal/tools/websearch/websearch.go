// Package websearch implements the network-bearing C2 executors
// (web_search, fetch_url), registered only when a pack's network_allowed
// flag is set, per spec §4.1's tool table.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// MaxFetchBytes caps how much of a fetched page is returned to the model,
// mirroring the sandbox's MaxToolOutputChars budget for shell output.
const MaxFetchBytes = 20000

// SearchResult is one hit from Search.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client performs outbound HTTP for the research specialist's web tools.
// SearchURL defaults to DuckDuckGo's HTML endpoint, which needs no API
// key — appropriate for a local-first tool with no configured provider.
type Client struct {
	HTTP      *http.Client
	SearchURL string
}

func NewClient() *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: 20 * time.Second},
		SearchURL: "https://html.duckduckgo.com/html/",
	}
}

// Search issues a query and returns a result dict shaped for a tool
// response: {"results": [...]} on success, {"error": "..."} on failure —
// callers never see a Go error for a transient network failure, matching
// the io_error tool-error classification in spec §7.
func (c *Client) Search(ctx context.Context, query string) map[string]interface{} {
	query = strings.TrimSpace(query)
	if query == "" {
		return map[string]interface{}{"error": "query must not be empty"}
	}

	reqURL := c.SearchURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("build search request: %v", err)}
	}
	req.Header.Set("User-Agent", "taskforge/1.0")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("search request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return map[string]interface{}{"error": fmt.Sprintf("search endpoint returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes*4))
	if err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("read search response: %v", err)}
	}

	results := parseResultLinks(string(body))
	out, err := json.Marshal(results)
	if err != nil {
		return map[string]interface{}{"error": "failed to encode search results"}
	}
	var asAny []interface{}
	_ = json.Unmarshal(out, &asAny)
	return map[string]interface{}{"results": asAny}
}

// FetchURL downloads a URL and returns its body, truncated to
// MaxFetchBytes, as a tool result dict.
func (c *Client) FetchURL(ctx context.Context, target string) map[string]interface{} {
	target = strings.TrimSpace(target)
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return map[string]interface{}{"error": "url must be an absolute http(s) url"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("build fetch request: %v", err)}
	}
	req.Header.Set("User-Agent", "taskforge/1.0")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("fetch request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return map[string]interface{}{"error": fmt.Sprintf("fetch returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes+1))
	if err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("read fetch response: %v", err)}
	}

	truncated := false
	text := string(body)
	if len(text) > MaxFetchBytes {
		text = text[:MaxFetchBytes]
		truncated = true
	}
	return map[string]interface{}{"status": resp.StatusCode, "body": text, "truncated": truncated}
}

// parseResultLinks extracts (title, url) pairs from DuckDuckGo's HTML
// result markup by walking the parsed DOM tree for a[class=result__a].
func parseResultLinks(body string) []SearchResult {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var results []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= 10 {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			href := attr(n, "href")
			title := strings.TrimSpace(textContent(n))
			if href != "" && title != "" {
				results = append(results, SearchResult{Title: title, URL: href})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}
