package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search tools by name, description and tags",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var describeCmd = &cobra.Command{
	Use:   "describe <server:tool>",
	Short: "Show full documentation for a tool",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

var searchLimit int

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "Maximum number of results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	gw, done, err := openGateway(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	results, err := gw.SearchTools(strings.Join(args, " "), searchLimit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDESCRIPTION\tTAGS")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.ShortDescription, strings.Join(r.Tags, ", "))
	}
	return w.Flush()
}

func runDescribe(cmd *cobra.Command, args []string) error {
	gw, done, err := openGateway(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	doc, err := gw.DescribeTool(args[0], tooldoc.DetailFull)
	if err != nil {
		return fmt.Errorf("describe %s: %w", args[0], err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
