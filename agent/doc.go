// Package agent provides the public data model shared by the agency router,
// its completion backends, tools and transports.
//
// # Agents
//
// An Agent is built from a single Config record. There is no type hierarchy:
// two agents differ only in their configuration and tool bindings.
//
//	ceo, err := agent.New(agent.Config{
//	    Name:         "CEO",
//	    Description:  "Coordinates the market analysis team",
//	    Instructions: "You are the CEO of a market insight agency...",
//	    Temperature:  0.3,
//	    MaxTokens:    4000,
//	    Tools:        []agent.Tool{reporter},
//	})
//
// Tool bindings can be swapped at runtime with SetTools, AddTool and
// RemoveTool. Readers see either the old or the new binding set, never a
// partial one.
//
// # Tools
//
// Tools implement the Tool interface. InvokeTool validates the structured
// input against the tool's JSON Schema and folds every failure into a
// formatted string, so the caller always gets text back:
//
//	out := agent.InvokeTool(ctx, tool, json.RawMessage(`{"query":"EV market"}`))
//
// # Envelopes
//
// Every value produced by an agent invocation leaves the router as an
// Envelope of type message, function or error.
package agent
