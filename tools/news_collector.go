package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aixgo-dev/agency/agent"
)

// NewsCollectorName is the registered name of the news tool.
const NewsCollectorName = "news_collector"

// DefaultNewsAPIURL is the NewsAPI "everything" endpoint.
const DefaultNewsAPIURL = "https://newsapi.org/v2/everything"

const maxArticles = 10

const newsCollectorSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "Company, industry or topic to search news for"},
    "days_back": {"type": "integer", "minimum": 1, "maximum": 30, "description": "How many days to look back (default: 30)"}
  },
  "required": ["query"]
}`

// NewsCollector collects recent articles from NewsAPI.
type NewsCollector struct {
	client   *resty.Client
	apiKey   string
	endpoint string
	now      func() time.Time
}

// NewNewsCollector creates the tool.
func NewNewsCollector(deps Deps) (agent.Tool, error) {
	endpoint := deps.NewsAPIURL
	if endpoint == "" {
		endpoint = DefaultNewsAPIURL
	}
	return &NewsCollector{
		client:   deps.httpClient(),
		apiKey:   deps.NewsAPIKey,
		endpoint: endpoint,
		now:      deps.now,
	}, nil
}

func (t *NewsCollector) Name() string { return NewsCollectorName }

func (t *NewsCollector) Description() string {
	return "Collect recent news articles about a company, industry or topic."
}

func (t *NewsCollector) Schema() json.RawMessage { return json.RawMessage(newsCollectorSchema) }

type newsResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (t *NewsCollector) Run(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := agent.DecodeInput[struct {
		Query    string `json:"query"`
		DaysBack int    `json:"days_back"`
	}](NewsCollectorName, input)
	if err != nil {
		return "", err
	}
	if in.DaysBack <= 0 {
		in.DaysBack = 30
	}
	if t.apiKey == "" {
		return "", agent.NewToolError(NewsCollectorName, nil, "NEWS_API_KEY is not configured")
	}

	end := t.now()
	start := end.AddDate(0, 0, -in.DaysBack)

	var out newsResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("X-Api-Key", t.apiKey).
		SetQueryParams(map[string]string{
			"q":        in.Query,
			"from":     start.Format(time.DateOnly),
			"to":       end.Format(time.DateOnly),
			"language": "en",
			"sortBy":   "relevancy",
		}).
		SetResult(&out).
		SetError(&out).
		Get(t.endpoint)
	if err != nil {
		return "", agent.NewToolError(NewsCollectorName, errors.New("request failed"), "collect news for %q", in.Query)
	}
	if resp.IsError() || out.Status == "error" {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode())
		}
		return "", agent.NewToolError(NewsCollectorName, nil, "collect news: %s", msg)
	}

	if len(out.Articles) == 0 {
		return "No news articles found for query: " + in.Query, nil
	}

	items := make([]string, 0, maxArticles)
	for i, a := range out.Articles {
		if i >= maxArticles {
			break
		}
		items = append(items, fmt.Sprintf("Title: %s\nDate: %s\nSource: %s\nDescription: %s\nURL: %s\n",
			a.Title, a.PublishedAt, a.Source.Name, a.Description, a.URL))
	}
	return strings.Join(items, "\n---\n"), nil
}
