package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Connect to every server and show its health",
	RunE:  runHealth,
}

var healthJSON bool

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Print the health snapshot as JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	gw, done, err := openGateway(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	health := gw.GetHealthStatus()
	if healthJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(health)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tTRANSPORT\tSTATE\tTOOLS\tFAILURES\tCIRCUIT OPEN UNTIL\tLAST ERROR")
	for _, name := range gw.Servers() {
		s := health[name]
		until := "-"
		if !s.CircuitOpenUntil.IsZero() {
			until = s.CircuitOpenUntil.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			name, s.Transport, s.State, s.Tools, s.ConsecutiveFailures, until, s.LastError)
	}
	return w.Flush()
}
