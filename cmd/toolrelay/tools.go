package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools across all servers",
	RunE:  runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
	gw, done, err := openGateway(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	tools := gw.ListAllTools(cmd.Context())

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tTOOL\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Namespace, t.Name, firstLine(t.Description))
	}
	w.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d tools from %d servers\n", len(tools), len(gw.Servers()))
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
