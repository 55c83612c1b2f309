package backend

import (
	"fmt"
	"maps"
	"slices"
)

// Descriptor identifies a backend server and how to reach it.
// It is treated as immutable once registered; use Clone before handing it
// to code that may keep it.
type Descriptor struct {
	// Name is the unique server name used for routing and health.
	Name string `json:"name" yaml:"name"`

	// Transport selects the factory ("stdio", "bus", "local").
	Transport string `json:"transport" yaml:"transport"`

	// Command, Args, Dir and Env describe a subprocess launch.
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// RequestTopic and ResponseTopic describe a bus-delivered server.
	RequestTopic  string `json:"request_topic,omitempty" yaml:"request_topic,omitempty"`
	ResponseTopic string `json:"response_topic,omitempty" yaml:"response_topic,omitempty"`

	// Prefixes is the server's fallback routing rule: tool names starting
	// with any of these route here when no exact registration exists.
	Prefixes []string `json:"prefixes,omitempty" yaml:"prefixes,omitempty"`
}

// Validate checks the fields required by the descriptor's transport.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("server name is required")
	}
	switch d.Transport {
	case "stdio":
		if d.Command == "" {
			return fmt.Errorf("server %s: command is required for stdio transport", d.Name)
		}
	case "bus":
		if d.RequestTopic == "" || d.ResponseTopic == "" {
			return fmt.Errorf("server %s: request and response topics are required for bus transport", d.Name)
		}
	case "":
		return fmt.Errorf("server %s: transport is required", d.Name)
	}
	return nil
}

// Clone returns a deep copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Args = slices.Clone(d.Args)
	c.Env = maps.Clone(d.Env)
	c.Prefixes = slices.Clone(d.Prefixes)
	return c
}
