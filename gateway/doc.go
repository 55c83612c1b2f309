// Package gateway is the single entry point callers use to reach tools.
//
// A [Gateway] owns one supervisor per registered server, the routing table
// that maps tool names to servers, the enricher that scopes arguments to
// the caller's tenant, and a search catalog over every published tool.
//
// # Call pipeline
//
// [Gateway.ExecuteTool] runs each call through the same steps:
//
//  1. Resolve the owning server. Unknown names fail before any transport
//     work.
//  2. Authorize the call context. A caller who is not a member of the
//     requested organization is denied before enrichment.
//  3. Charge the tenant's rate limit bucket for the tool family.
//  4. Enrich the arguments for the tenant.
//  5. Dispatch through the server's supervisor, which bounds the call with
//     its timeout and retries connection losses.
//
// Failures are reported as *toolerr.Error values; use errors.Is with the
// toolerr sentinels or toolerr.KindOf to branch on them.
//
// # Registration
//
// Registration order matters: when two servers publish the same tool name
// the last publication owns it. Collisions are logged at Warn with both
// server names.
//
// # Basic Usage
//
//	gw := gateway.New(gateway.Options{Supervisor: supervisor.DefaultOptions()})
//	defer gw.Close()
//
//	if err := gw.RegisterServer(ctx, backend.Descriptor{
//	    Name:      "storage",
//	    Transport: stdio.Kind,
//	    Command:   "storage-server",
//	}); err != nil {
//	    log.Printf("storage registered without tools: %v", err)
//	}
//
//	result, err := gw.ExecuteTool(ctx, "kv_get", map[string]any{"key": "a"}, enrich.CallContext{
//	    UserID: "u1",
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package gateway
