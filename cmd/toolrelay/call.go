package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonwraymond/toolrelay/enrich"
	"github.com/jonwraymond/toolrelay/toolerr"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Call a tool as a user",
	Example: `  toolrelay call kv_get --user u1 --args '{"key":"greeting"}'
  toolrelay call kv_get --user u1 --member org-a:acme --org org-a --args '{"key":"greeting"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

var (
	callUser      string
	callNamespace string
	callOrg       string
	callMembers   []string
	callArgs      string
)

func init() {
	callCmd.Flags().StringVar(&callUser, "user", "", "Caller user id (required)")
	callCmd.Flags().StringVar(&callNamespace, "namespace", "", "Caller personal namespace")
	callCmd.Flags().StringVar(&callOrg, "org", "", "Organization id to act in")
	callCmd.Flags().StringArrayVar(&callMembers, "member", nil, "Organization membership as id:slug (repeatable)")
	callCmd.Flags().StringVar(&callArgs, "args", "{}", "Tool arguments as a JSON object")
	_ = callCmd.MarkFlagRequired("user")
}

func runCall(cmd *cobra.Command, args []string) error {
	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(callArgs), &toolArgs); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	members, err := parseMembers(callMembers)
	if err != nil {
		return err
	}

	gw, done, err := openGateway(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	result, err := gw.ExecuteTool(cmd.Context(), args[0], toolArgs, enrich.CallContext{
		UserID:            callUser,
		PersonalNamespace: callNamespace,
		Organizations:     members,
		OrganizationID:    callOrg,
	})
	if err != nil {
		if kind := toolerr.KindOf(err); kind != "" {
			return fmt.Errorf("%s (kind=%s, retryable=%t)", err, kind, kind.Retryable())
		}
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func parseMembers(values []string) ([]enrich.Membership, error) {
	out := make([]enrich.Membership, 0, len(values))
	for _, v := range values {
		id, slug, ok := strings.Cut(v, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --member %q, want id:slug", v)
		}
		out = append(out, enrich.Membership{OrganizationID: id, Slug: enrich.NormalizeSlug(slug)})
	}
	return out, nil
}
