package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const userAgent = "steward/1.0"

// SearchWeb queries the configured search service.
func (t *LocalToolbox) SearchWeb(ctx context.Context, tc ToolContext, args SearchWebArgs) ToolResult {
	svc := t.services(tc.ConfigPath)
	if !svc.Configured() {
		return Failed("Search service is not configured")
	}

	body, err := json.Marshal(map[string]interface{}{
		"text_query":           args.Query,
		"limit":                args.Limit,
		"enable_page_crawling": args.IncludeContent,
	})
	if err != nil {
		return Failed(fmt.Sprintf("Failed to encode search request: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Failed(fmt.Sprintf("Invalid search service URL: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+svc.APIKey)
	req.Header.Set("X-Msh-Tool-Call-Id", tc.ToolCallID)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Failed(fmt.Sprintf("Search request failed: %v", err))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxFetch))
	if err != nil {
		return Failed(fmt.Sprintf("Failed to read search response: %v", err))
	}
	if resp.StatusCode >= 400 {
		return Failed(fmt.Sprintf("Search service returned HTTP %d", resp.StatusCode))
	}
	if !gjson.ValidBytes(data) {
		return Failed("Search service returned malformed JSON")
	}

	results := gjson.GetBytes(data, "search_results").Array()
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&sb, "Title: %s\nURL: %s\n", r.Get("title").String(), r.Get("url").String())
		if date := r.Get("date").String(); date != "" {
			fmt.Fprintf(&sb, "Date: %s\n", date)
		}
		if snippet := r.Get("snippet").String(); snippet != "" {
			fmt.Fprintf(&sb, "Summary: %s\n", snippet)
		}
		if args.IncludeContent {
			if content := r.Get("content").String(); content != "" {
				fmt.Fprintf(&sb, "\n%s\n", content)
			}
		}
	}
	return ToolResult{
		OK:      true,
		Summary: fmt.Sprintf("Found %d results for %q", len(results), args.Query),
		Output:  sb.String(),
	}
}

// FetchURL downloads a page and reduces HTML to readable text.
func (t *LocalToolbox) FetchURL(ctx context.Context, _ ToolContext, args FetchURLArgs) ToolResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return Failed(fmt.Sprintf("Invalid url: %v", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Failed(fmt.Sprintf("Failed to fetch %s: %v", args.URL, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Failed(fmt.Sprintf("Failed to fetch %s: HTTP %d", args.URL, resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxFetch))
	if err != nil {
		return Failed(fmt.Sprintf("Failed to read %s: %v", args.URL, err))
	}

	text := string(data)
	ctype := resp.Header.Get("Content-Type")
	if strings.Contains(ctype, "html") || (ctype == "" && looksLikeHTML(data)) {
		text = htmlToText(data)
	}
	return ToolResult{
		OK:      true,
		Summary: fmt.Sprintf("Fetched %s (%d bytes)", args.URL, len(data)),
		Output:  text,
	}
}

func looksLikeHTML(data []byte) bool {
	head := strings.ToLower(string(data[:min(len(data), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Head:     true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Tr: true, atom.Section: true, atom.Article: true, atom.Pre: true, atom.Blockquote: true,
}

// htmlToText walks the token stream, dropping non-content elements and
// breaking lines at block boundaries.
func htmlToText(data []byte) string {
	z := html.NewTokenizer(bytes.NewReader(data))
	var sb strings.Builder
	skipDepth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseBlankLines(sb.String())
		case html.StartTagToken:
			tok := z.Token()
			if skippedElements[tok.DataAtom] {
				skipDepth++
			} else if blockElements[tok.DataAtom] {
				sb.WriteString("\n")
			}
		case html.EndTagToken:
			tok := z.Token()
			if skippedElements[tok.DataAtom] && skipDepth > 0 {
				skipDepth--
			} else if blockElements[tok.DataAtom] {
				sb.WriteString("\n")
			}
		case html.SelfClosingTagToken:
			if z.Token().DataAtom == atom.Br {
				sb.WriteString("\n")
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
