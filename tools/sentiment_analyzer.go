package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aixgo-dev/agency"
	"github.com/aixgo-dev/agency/agent"
)

// SentimentAnalyzerName is the registered name of the sentiment tool.
const SentimentAnalyzerName = "sentiment_analyzer"

const sentimentInstructions = `You are a sentiment analysis expert. Analyze the sentiment of the given text.
Report the overall sentiment (positive, negative, neutral or mixed), a confidence
score between 0 and 1, the key phrases that drive it, and a short explanation.`

const sentimentAnalyzerSchema = `{
  "type": "object",
  "properties": {
    "text": {"type": "string", "minLength": 1, "description": "The text to analyze"}
  },
  "required": ["text"]
}`

// SentimentAnalyzer asks the completion backend for a sentiment analysis of
// a piece of text.
type SentimentAnalyzer struct {
	backend agent.Backend
}

// NewSentimentAnalyzer creates the tool. deps.Backend is required.
func NewSentimentAnalyzer(deps Deps) (agent.Tool, error) {
	if deps.Backend == nil {
		return nil, errors.New("backend is required")
	}
	return &SentimentAnalyzer{backend: deps.Backend}, nil
}

func (t *SentimentAnalyzer) Name() string { return SentimentAnalyzerName }

func (t *SentimentAnalyzer) Description() string {
	return "Analyze the sentiment of a text and explain the result."
}

func (t *SentimentAnalyzer) Schema() json.RawMessage { return json.RawMessage(sentimentAnalyzerSchema) }

func (t *SentimentAnalyzer) Run(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := agent.DecodeInput[struct {
		Text string `json:"text"`
	}](SentimentAnalyzerName, input)
	if err != nil {
		return "", err
	}

	raw, err := t.backend.Generate(ctx, &agent.GenerateRequest{
		Agent: agent.Profile{
			Name:         "SentimentAnalyzer",
			Instructions: sentimentInstructions,
			Temperature:  0.3,
			MaxTokens:    500,
		},
		Message: agent.NewMessage(agent.SenderUser, in.Text),
	})
	if err != nil {
		return "", agent.NewToolError(SentimentAnalyzerName, nil, "Failed to analyze sentiment: %v", err)
	}

	env := agency.Normalize("SentimentAnalyzer", raw)
	if env.Type != agent.EnvelopeMessage {
		return "", agent.NewToolError(SentimentAnalyzerName, nil, "Failed to analyze sentiment: %s", env.Content)
	}
	return env.Content, nil
}
