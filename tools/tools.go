// Package tools provides the built-in tools agents can be given by name in
// the agency configuration.
package tools

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/security"
)

// ErrUnknownTool is returned by Build for names that are not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Deps carries everything the built-in tools may need. Fields a tool does
// not use can be left empty.
type Deps struct {
	// Relayer is bound to the agent the tool is built for.
	Relayer agent.Relayer
	// Backend answers sentiment analysis requests.
	Backend agent.Backend
	// HTTP is shared by the API-backed tools.
	HTTP *resty.Client
	// Guard checks URLs fetched by web_scraper. Nil disables the checks.
	Guard *security.URLGuard

	// OutputDir confines every file the writers create.
	OutputDir string

	SerpAPIKey string
	SerpAPIURL string
	NewsAPIKey string
	NewsAPIURL string
	Location   string
	Language   string

	// BrowsingAgent receives web_search requests made with use_browser.
	BrowsingAgent string

	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) httpClient() *resty.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return NewHTTPClient(30 * time.Second)
}

// NewHTTPClient returns the resty client shared by the API-backed tools.
func NewHTTPClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; agency/1.0)")
}

// Factory builds a tool from its dependencies.
type Factory func(Deps) (agent.Tool, error)

type registration struct {
	factory      Factory
	needsRelayer bool
}

var registry = map[string]registration{
	SendMessageName:       {factory: NewSendMessage, needsRelayer: true},
	WebSearchName:         {factory: NewWebSearch, needsRelayer: true},
	MarkdownWriterName:    {factory: NewMarkdownWriter},
	TaskReporterName:      {factory: NewTaskReporter},
	WebScraperName:        {factory: NewWebScraper},
	NewsCollectorName:     {factory: NewNewsCollector},
	SentimentAnalyzerName: {factory: NewSentimentAnalyzer},
}

// Names returns the registered tool names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NeedsRelayer reports whether the named tool must be built after the
// agency exists, because it talks to other agents.
func NeedsRelayer(name string) bool {
	return registry[name].needsRelayer
}

// Build creates the named tool.
func Build(name string, deps Deps) (agent.Tool, error) {
	reg, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	t, err := reg.factory(deps)
	if err != nil {
		return nil, fmt.Errorf("build tool %s: %w", name, err)
	}
	return t, nil
}
