package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/aixgo-dev/agency/agent"
)

// WebSearchName is the registered name of the search tool.
const WebSearchName = "web_search"

// DefaultSerpAPIURL is the SerpAPI search endpoint.
const DefaultSerpAPIURL = "https://serpapi.com/search"

const webSearchSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "The search query"},
    "num_results": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of results (default: 5)"},
    "use_browser": {"type": "boolean", "description": "Ask the browsing agent for a detailed search instead"}
  },
  "required": ["query"]
}`

// WebSearch runs Google searches through SerpAPI, or hands the query to the
// browsing agent when asked to.
type WebSearch struct {
	client        *resty.Client
	relayer       agent.Relayer
	browsingAgent string
	apiKey        string
	endpoint      string
	location      string
	language      string
}

// NewWebSearch creates the tool. The relayer and browsing agent are only
// needed for use_browser requests.
func NewWebSearch(deps Deps) (agent.Tool, error) {
	endpoint := deps.SerpAPIURL
	if endpoint == "" {
		endpoint = DefaultSerpAPIURL
	}
	location, language := deps.Location, deps.Language
	if location == "" {
		location = "us"
	}
	if language == "" {
		language = "en"
	}
	return &WebSearch{
		client:        deps.httpClient(),
		relayer:       deps.Relayer,
		browsingAgent: deps.BrowsingAgent,
		apiKey:        deps.SerpAPIKey,
		endpoint:      endpoint,
		location:      location,
		language:      language,
	}, nil
}

func (t *WebSearch) Name() string { return WebSearchName }

func (t *WebSearch) Description() string {
	return "Search the web for a topic, company or market and return the top results."
}

func (t *WebSearch) Schema() json.RawMessage { return json.RawMessage(webSearchSchema) }

type serpResponse struct {
	Error          string `json:"error"`
	KnowledgeGraph *struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Type        string `json:"type"`
	} `json:"knowledge_graph"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

func (t *WebSearch) Run(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := agent.DecodeInput[struct {
		Query      string `json:"query"`
		NumResults int    `json:"num_results"`
		UseBrowser bool   `json:"use_browser"`
	}](WebSearchName, input)
	if err != nil {
		return "", err
	}
	if in.NumResults <= 0 {
		in.NumResults = 5
	}

	if in.UseBrowser {
		return t.browse(ctx, in.Query)
	}
	if t.apiKey == "" {
		return "", agent.NewToolError(WebSearchName, nil, "SERPAPI_API_KEY is not configured")
	}

	var out serpResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"engine":  "google",
			"q":       in.Query,
			"api_key": t.apiKey,
			"num":     strconv.Itoa(in.NumResults),
			"gl":      t.location,
			"hl":      t.language,
		}).
		SetResult(&out).
		SetError(&out).
		Get(t.endpoint)
	if err != nil {
		// The transport error embeds the request URL, which carries the API key.
		return "", agent.NewToolError(WebSearchName, errors.New("request failed"), "search %q", in.Query)
	}
	if resp.IsError() || out.Error != "" {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode())
		}
		return "", agent.NewToolError(WebSearchName, nil, "search failed: %s", msg)
	}

	return formatSearch(in.Query, in.NumResults, &out), nil
}

func (t *WebSearch) browse(ctx context.Context, query string) (string, error) {
	if t.relayer == nil || t.browsingAgent == "" {
		return "", agent.NewToolError(WebSearchName, nil, "no browsing agent is available")
	}
	reply, err := t.relayer.Relay(ctx, t.browsingAgent, "Please search and analyze information about: "+query)
	if err != nil {
		return "", agent.NewToolError(WebSearchName, err, "browsing agent %s failed", t.browsingAgent)
	}
	return reply, nil
}

func formatSearch(query string, limit int, res *serpResponse) string {
	if res.KnowledgeGraph == nil && len(res.OrganicResults) == 0 {
		return "No results found for query: " + query
	}

	var b strings.Builder
	if kg := res.KnowledgeGraph; kg != nil {
		fmt.Fprintf(&b, "# Knowledge Graph Information\nTitle: %s\nDescription: %s\nType: %s\n\n",
			orNA(kg.Title), orNA(kg.Description), orNA(kg.Type))
	}
	if len(res.OrganicResults) == 0 {
		b.WriteString("No organic results found.\n")
		return b.String()
	}
	b.WriteString("# Search Results\n")
	for i, r := range res.OrganicResults {
		if i >= limit {
			break
		}
		fmt.Fprintf(&b, "\n## Result %d\nTitle: %s\nLink: %s\nSnippet: %s\n", i+1, r.Title, r.Link, orDefault(r.Snippet, "No snippet available"))
	}
	return b.String()
}

func orNA(s string) string { return orDefault(s, "N/A") }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
