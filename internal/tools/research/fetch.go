// Package research implements the fetch tool: bounded HTTP retrieval with
// HTML to markdown conversion and pagination.
package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"mosaic/internal/logging"
	"mosaic/internal/tools"
)

// Deps carries the fetch limits. Timeout is the default per-request bound;
// a timeout argument overrides it.
type Deps struct {
	MaxBodyBytes int64
	Timeout      time.Duration
}

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// spaMarkers are DOM fragments typical of single-page applications whose
// server-rendered HTML carries no readable content.
var spaMarkers = []string{
	`id="root"`,
	`id="app"`,
	`id="__next"`,
	`data-reactroot`,
	`ng-app`,
	`ng-version`,
}

// FetchTool returns a tool for fetching a URL and extracting readable text.
func FetchTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name:        "fetch",
		Description: "Fetch a URL and return its content as markdown",
		Execute:     d.executeFetch,
		Schema: tools.Schema{
			Required: []string{"url"},
			Properties: map[string]tools.Property{
				"url": {
					Type:        "string",
					Description: "The URL to fetch",
				},
				"max_length": {
					Type:        "integer",
					Description: "Maximum content length in characters",
					Default:     5000,
				},
				"start_index": {
					Type:        "integer",
					Description: "Character offset to start from, for pagination",
					Default:     0,
				},
				"raw": {
					Type:        "boolean",
					Description: "Return the raw body without markdown conversion",
					Default:     false,
				},
				"timeout": {
					Type:        "integer",
					Description: "Request timeout in milliseconds",
				},
			},
		},
	}
}

// Register adds the fetch tool to the registry.
func Register(registry *tools.Registry, d *Deps) error {
	return registry.Register(FetchTool(d))
}

func (d *Deps) executeFetch(ctx context.Context, args map[string]any) (*tools.Output, error) {
	rawURL, err := tools.RequiredString(args, "url")
	if err != nil {
		return nil, err
	}
	maxLength := tools.IntArg(args, "max_length", 5000)
	if maxLength < 1 {
		maxLength = 5000
	}
	startIndex := tools.IntArg(args, "start_index", 0)
	if startIndex < 0 {
		startIndex = 0
	}
	rawMode := tools.BoolArg(args, "raw", false)

	timeout := d.Timeout
	if ms := tools.IntArg(args, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: Invalid URL: %s", tools.ErrInvalidURL, rawURL)
	}

	logging.FetchDebug("fetch: url=%s start=%d max=%d raw=%v", rawURL, startIndex, maxLength, rawMode)

	body, contentType, err := d.get(ctx, rawURL, timeout)
	if err != nil {
		return nil, err
	}

	content := string(body)
	isHTML := strings.Contains(contentType, "text/html") ||
		(contentType == "" && strings.Contains(strings.ToLower(content[:min(len(content), 512)]), "<html"))

	if isHTML && !rawMode {
		markdown, convErr := htmlToMarkdown(content)
		if convErr != nil {
			return nil, fmt.Errorf("failed to convert to markdown: %w", convErr)
		}
		if len(markdown) < 200 && looksLikeSPA(content) {
			// Nothing readable was server-rendered; hand back the raw
			// document instead.
			markdown = content
		}
		content = markdown
	}

	total := len(content)
	if startIndex >= total {
		return &tools.Output{Text: fmt.Sprintf("No more content (total %d characters)", total)}, nil
	}
	end := startIndex + maxLength
	if end > total {
		end = total
	}
	page := content[startIndex:end]
	if end < total {
		page += fmt.Sprintf("\n\n[Content truncated. Call fetch again with start_index=%d to continue.]", end)
	}

	logging.Fetch("fetch completed: %s (%d of %d chars)", rawURL, len(page), total)
	return &tools.Output{Text: page}, nil
}

func (d *Deps) get(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; mosaic/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("%w: HTTP %d: %s", tools.ErrHTTP, resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.MaxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func looksLikeSPA(htmlContent string) bool {
	for _, marker := range spaMarkers {
		if strings.Contains(htmlContent, marker) {
			return true
		}
	}
	return false
}

// htmlToMarkdown converts HTML to a simplified markdown form.
func htmlToMarkdown(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	extractText(doc, &sb, 0)
	return cleanMarkdown(sb.String()), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 50 {
		return
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "aside":
			return
		case "title":
			sb.WriteString("# ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				extractText(c, sb, depth+1)
			}
			sb.WriteString("\n\n")
			return
		case "h1":
			sb.WriteString("\n\n# ")
		case "h2":
			sb.WriteString("\n\n## ")
		case "h3":
			sb.WriteString("\n\n### ")
		case "h4":
			sb.WriteString("\n\n#### ")
		case "h5":
			sb.WriteString("\n\n##### ")
		case "h6":
			sb.WriteString("\n\n###### ")
		case "p", "div":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "code":
			sb.WriteString("`")
		case "pre":
			sb.WriteString("\n\n```\n")
		case "strong", "b":
			sb.WriteString("**")
		case "em", "i":
			sb.WriteString("*")
		case "a":
			if href := getAttr(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
				sb.WriteString("[")
			}
		case "img":
			if alt := getAttr(n, "alt"); alt != "" {
				fmt.Fprintf(sb, "[Image: %s]", alt)
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n")
		case "code":
			sb.WriteString("`")
		case "pre":
			sb.WriteString("\n```\n\n")
		case "strong", "b":
			sb.WriteString("**")
		case "em", "i":
			sb.WriteString("*")
		case "a":
			if href := getAttr(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
				fmt.Fprintf(sb, "](%s)", href)
			}
		}
	}
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// cleanMarkdown collapses excess whitespace left over from extraction.
func cleanMarkdown(s string) string {
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	s = multiSpacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
