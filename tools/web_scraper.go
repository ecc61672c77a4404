package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/security"
)

// WebScraperName is the registered name of the scraper.
const WebScraperName = "web_scraper"

const (
	defaultScrapeChars = 4000
	maxScrapeChars     = 20000
)

const webScraperSchema = `{
  "type": "object",
  "properties": {
    "url": {"type": "string", "minLength": 1, "description": "Page to fetch (http or https)"},
    "selector": {"type": "string", "description": "CSS selector of the content to extract (default: body)"},
    "max_chars": {"type": "integer", "minimum": 100, "maximum": 20000}
  },
  "required": ["url"]
}`

// WebScraper fetches a page and returns its title and readable text.
type WebScraper struct {
	client *resty.Client
	guard  *security.URLGuard
}

// NewWebScraper creates the tool. When deps.Guard is set, the URL and every
// dialed address are checked against it.
func NewWebScraper(deps Deps) (agent.Tool, error) {
	client := deps.httpClient()
	if deps.Guard != nil {
		client = NewHTTPClient(30 * time.Second).SetTransport(deps.Guard.Transport())
	}
	return &WebScraper{client: client, guard: deps.Guard}, nil
}

func (t *WebScraper) Name() string { return WebScraperName }

func (t *WebScraper) Description() string {
	return "Fetch a web page and extract its title and text content."
}

func (t *WebScraper) Schema() json.RawMessage { return json.RawMessage(webScraperSchema) }

func (t *WebScraper) Run(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := agent.DecodeInput[struct {
		URL      string `json:"url"`
		Selector string `json:"selector"`
		MaxChars int    `json:"max_chars"`
	}](WebScraperName, input)
	if err != nil {
		return "", err
	}
	if in.Selector == "" {
		in.Selector = "body"
	}
	if in.MaxChars <= 0 {
		in.MaxChars = defaultScrapeChars
	}
	in.MaxChars = min(in.MaxChars, maxScrapeChars)

	if t.guard != nil {
		if err := t.guard.CheckURL(in.URL); err != nil {
			return "", agent.NewToolError(WebScraperName, err, "URL rejected")
		}
	}

	resp, err := t.client.R().SetContext(ctx).Get(in.URL)
	if err != nil {
		return "", agent.NewToolError(WebScraperName, err, "fetch %s", in.URL)
	}
	if resp.IsError() {
		return "", agent.NewToolError(WebScraperName, nil, "fetch %s: HTTP %d", in.URL, resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return "", agent.NewToolError(WebScraperName, err, "parse HTML")
	}
	doc.Find("script, style, noscript").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	sel := doc.Find(in.Selector)
	if sel.Length() == 0 {
		return fmt.Sprintf("No content matched selector %q at %s", in.Selector, in.URL), nil
	}

	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			parts = append(parts, text)
		}
	})
	text := truncate(strings.Join(parts, "\n\n"), in.MaxChars)

	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n", title)
	}
	fmt.Fprintf(&b, "URL: %s\n\n%s", in.URL, text)
	return b.String(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
