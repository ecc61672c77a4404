package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/agency"
	"github.com/aixgo-dev/agency/agent"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		target string
		asJSON bool
		sender string
	)

	cmd := &cobra.Command{
		Use:   "chat MESSAGE...",
		Short: "Send one message to the agency and print the envelopes",
		Example: `  agency chat "What moved the EV market this week?"
  agency chat --agent Analyst --json "Summarize competitor pricing"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := start(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer cleanup()

			routeOpts := []agency.RouteOption{agency.From(sender), agency.WithMetadata("transport", "cli")}
			if target != "" {
				routeOpts = append(routeOpts, agency.To(target))
			}
			envs := a.Agency.Route(cmd.Context(), strings.Join(args, " "), routeOpts...)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(envs)
			}
			for _, env := range envs {
				printEnvelope(out, env)
			}
			if len(envs) > 0 && envs[len(envs)-1].IsError() {
				return errors.New("agency answered with an error")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "agent", "a", "", "address the message to this agent instead of the entry agent")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print envelopes as JSON")
	cmd.Flags().StringVar(&sender, "from", agent.SenderUser, "sender label")
	return cmd
}

func printEnvelope(w io.Writer, env agent.Envelope) {
	ts := env.Timestamp.Format("15:04:05")
	switch env.Type {
	case agent.EnvelopeFunction:
		fmt.Fprintf(w, "%s %s -> %s(%s)\n", ts, env.Agent, env.Name, env.Content)
	case agent.EnvelopeError:
		fmt.Fprintf(w, "%s %s ! %s\n", ts, env.Agent, env.Content)
	default:
		fmt.Fprintf(w, "%s %s: %s\n", ts, env.Agent, env.Content)
	}
}
