package agent_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aixgo-dev/agency/agent"
)

func Example() {
	upper := &agent.FuncTool{
		ToolName:        "upper",
		ToolDescription: "Upper-cases text",
		InputSchema:     json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Fn: func(_ context.Context, input json.RawMessage) (string, error) {
			in, err := agent.DecodeInput[struct {
				Text string `json:"text"`
			}]("upper", input)
			if err != nil {
				return "", err
			}
			return strings.ToUpper(in.Text), nil
		},
	}

	reporter := agent.MustNew(agent.Config{
		Name:        "Reporter",
		Description: "Writes the final report",
		Temperature: 0.3,
		Tools:       []agent.Tool{upper},
	})

	tool, _ := reporter.Tool("upper")
	ctx := context.Background()
	fmt.Println(agent.InvokeTool(ctx, tool, json.RawMessage(`{"text":"all green"}`)))
	fmt.Println(agent.InvokeTool(ctx, tool, json.RawMessage(`{}`)) != "")
	// Output:
	// ALL GREEN
	// true
}

func ExampleNewMessage() {
	msg := agent.NewMessage(agent.SenderUser, "status?").
		WithMetadata("analysisType", "market")

	fmt.Println(msg.Sender, msg.Content, msg.GetMetadataString("analysisType", ""))
	// Output: user status? market
}
