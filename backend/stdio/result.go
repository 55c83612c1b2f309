package stdio

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonwraymond/toolrelay/backend"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// decodeResult turns an MCP tool result into a plain value.
//
// Structured content wins. Otherwise a single text block holding JSON is
// decoded, and any other text is returned joined as a string.
func decodeResult(res *mcp.CallToolResult) (any, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: empty tool result", backend.ErrMalformed)
	}

	texts := textBlocks(res.Content)
	if res.IsError {
		msg := strings.Join(texts, "\n")
		if msg == "" {
			msg = "tool returned an error"
		}
		return nil, fmt.Errorf("%w: %s", backend.ErrToolFailed, msg)
	}

	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}

	switch len(texts) {
	case 0:
		if len(res.Content) == 0 {
			return nil, nil
		}
		return res.Content, nil
	case 1:
		var v any
		if err := json.Unmarshal([]byte(texts[0]), &v); err == nil {
			return v, nil
		}
		return texts[0], nil
	default:
		return strings.Join(texts, "\n"), nil
	}
}

func textBlocks(content []mcp.Content) []string {
	var out []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			out = append(out, tc.Text)
		}
	}
	return out
}
