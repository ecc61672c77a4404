package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/agency"
	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/internal/app"
)

const replHelp = `Commands:
  /agents          list agents and their recipients
  /to NAME         address following messages to NAME (empty for the entry agent)
  /history [N]     show the last N envelopes (default 10)
  /clear           clear the conversation history
  /help            show this help
  /quit            leave
Anything else is sent to the current agent.`

func newReplCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Chat with the agency interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := start(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer cleanup()

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)

			names := make([]string, 0, len(a.Agency.Agents()))
			for _, ag := range a.Agency.Agents() {
				names = append(names, ag.Name())
			}
			line.SetCompleter(func(in string) []string {
				if !strings.HasPrefix(in, "/to ") {
					return nil
				}
				var out []string
				for _, n := range names {
					if strings.HasPrefix(n, strings.TrimPrefix(in, "/to ")) {
						out = append(out, "/to "+n)
					}
				}
				return out
			})

			historyFile := filepath.Join(os.TempDir(), ".agency_history")
			if f, err := os.Open(historyFile); err == nil {
				_, _ = line.ReadHistory(f)
				f.Close()
			}
			defer func() {
				if f, err := os.Create(historyFile); err == nil {
					_, _ = line.WriteHistory(f)
					f.Close()
				}
			}()

			r := &repl{app: a, out: cmd.OutOrStdout()}
			fmt.Fprintf(r.out, "Connected to %s (entry agent %s). Type /help for commands.\n",
				a.Config.Name, a.Agency.EntryAgent().Name())

			for {
				input, err := line.Prompt(r.prompt())
				if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				input = strings.TrimSpace(input)
				if input == "" {
					continue
				}
				line.AppendHistory(input)
				if done := r.handle(cmd, input); done {
					return nil
				}
			}
		},
	}
}

type repl struct {
	app    *app.App
	out    io.Writer
	target string
}

func (r *repl) prompt() string {
	name := r.target
	if name == "" {
		name = r.app.Agency.EntryAgent().Name()
	}
	return name + "> "
}

// handle runs one line of input and reports whether the session should end.
func (r *repl) handle(cmd *cobra.Command, input string) bool {
	ctx := cmd.Context()
	fields := strings.Fields(input)

	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/agents":
		printAgents(r.out, r.app.Agency)
	case "/to":
		r.target = ""
		if len(fields) > 1 {
			if _, ok := r.app.Agency.Agent(fields[1]); !ok {
				fmt.Fprintf(r.out, "unknown agent %q\n", fields[1])
				return false
			}
			r.target = fields[1]
		}
	case "/history":
		n := 10
		if len(fields) > 1 {
			if _, err := fmt.Sscanf(fields[1], "%d", &n); err != nil || n < 0 {
				fmt.Fprintln(r.out, "usage: /history [N]")
				return false
			}
		}
		entries, err := r.app.Agency.Entries(ctx)
		if err != nil {
			fmt.Fprintf(r.out, "history unavailable: %v\n", err)
			return false
		}
		if len(entries) > n {
			entries = entries[len(entries)-n:]
		}
		for _, env := range entries {
			printEnvelope(r.out, env)
		}
	case "/clear":
		if err := r.app.Agency.History().Truncate(ctx, 0); err != nil {
			fmt.Fprintf(r.out, "clear failed: %v\n", err)
		}
	default:
		if strings.HasPrefix(fields[0], "/") {
			fmt.Fprintf(r.out, "unknown command %s, try /help\n", fields[0])
			return false
		}
		opts := []agency.RouteOption{
			agency.WithMetadata("transport", "repl"),
			agency.WithObserver(func(env agent.Envelope) { printEnvelope(r.out, env) }),
		}
		if r.target != "" {
			opts = append(opts, agency.To(r.target))
		}
		r.app.Agency.Route(ctx, input, opts...)
	}
	return false
}
