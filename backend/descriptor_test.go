package backend

import (
	"strings"
	"testing"
)

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		wantErr string
	}{
		{
			name: "stdio ok",
			desc: Descriptor{Name: "aws", Transport: "stdio", Command: "./mcp-aws"},
		},
		{
			name: "bus ok",
			desc: Descriptor{Name: "billing", Transport: "bus", RequestTopic: "req", ResponseTopic: "resp"},
		},
		{
			name: "local ok",
			desc: Descriptor{Name: "builtin", Transport: "local"},
		},
		{
			name:    "missing name",
			desc:    Descriptor{Transport: "local"},
			wantErr: "name is required",
		},
		{
			name:    "missing transport",
			desc:    Descriptor{Name: "x"},
			wantErr: "transport is required",
		},
		{
			name:    "stdio without command",
			desc:    Descriptor{Name: "aws", Transport: "stdio"},
			wantErr: "command is required",
		},
		{
			name:    "bus without response topic",
			desc:    Descriptor{Name: "billing", Transport: "bus", RequestTopic: "req"},
			wantErr: "topics are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDescriptor_CloneIsDeep(t *testing.T) {
	orig := Descriptor{
		Name:      "aws",
		Transport: "stdio",
		Command:   "./mcp-aws",
		Args:      []string{"--verbose"},
		Env:       map[string]string{"AWS_REGION": "us-east-1"},
		Prefixes:  []string{"kv_"},
	}

	c := orig.Clone()
	c.Args[0] = "--quiet"
	c.Env["AWS_REGION"] = "eu-west-1"
	c.Prefixes[0] = "artifacts_"

	if orig.Args[0] != "--verbose" || orig.Env["AWS_REGION"] != "us-east-1" || orig.Prefixes[0] != "kv_" {
		t.Errorf("Clone() shares state with original: %+v", orig)
	}
}
