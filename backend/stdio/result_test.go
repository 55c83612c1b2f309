package stdio

import (
	"errors"
	"testing"

	"github.com/jonwraymond/toolrelay/backend"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name    string
		res     *mcp.CallToolResult
		want    any
		wantErr error
	}{
		{
			name:    "nil result",
			res:     nil,
			wantErr: backend.ErrMalformed,
		},
		{
			name: "tool error",
			res: &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "bucket not found"}},
			},
			wantErr: backend.ErrToolFailed,
		},
		{
			name: "plain text",
			res:  &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "done"}}},
			want: "done",
		},
		{
			name: "json text",
			res:  &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: `"quoted"`}}},
			want: "quoted",
		},
		{
			name: "joined text",
			res: &mcp.CallToolResult{Content: []mcp.Content{
				&mcp.TextContent{Text: "a"},
				&mcp.TextContent{Text: "b"},
			}},
			want: "a\nb",
		},
		{
			name: "structured wins",
			res: &mcp.CallToolResult{
				Content:           []mcp.Content{&mcp.TextContent{Text: "ignored"}},
				StructuredContent: "structured",
			},
			want: "structured",
		},
		{
			name: "empty",
			res:  &mcp.CallToolResult{},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeResult(tt.res)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("decodeResult() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeResult() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeResult() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeResult_JSONObject(t *testing.T) {
	res := &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: `{"value":"v","found":true}`}}}
	got, err := decodeResult(res)
	if err != nil {
		t.Fatalf("decodeResult() error = %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok || m["value"] != "v" || m["found"] != true {
		t.Errorf("decodeResult() = %v, want decoded object", got)
	}
}
