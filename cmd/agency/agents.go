package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/agency"
)

func newAgentsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the configured agents, their tools and flows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := start(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer cleanup()

			printAgents(cmd.OutOrStdout(), a.Agency)
			return nil
		},
	}
}

func printAgents(w io.Writer, a *agency.Agency) {
	entry := a.EntryAgent().Name()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tTOOLS\tSENDS TO")
	for _, ag := range a.Agents() {
		name := ag.Name()
		if name == entry {
			name += " *"
		}
		tools := make([]string, 0, len(ag.Tools()))
		for _, t := range ag.Tools() {
			tools = append(tools, t.Name())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, orDash(strings.Join(tools, ",")), orDash(strings.Join(a.Recipients(ag.Name()), ",")))
	}
	_ = tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
