// Package backend defines the transport contract between the relay and a
// single backend tool server, plus the descriptors and factories used to
// build transports from configuration.
//
// A transport performs the bytes-on-the-wire exchange with one server:
//
//   - stdio: a supervised subprocess speaking MCP over stdin/stdout
//   - bus: a remote service reached through request/response topics
//   - local: in-process Go handlers
//
// Transports know nothing about retries, breakers or routing. They report
// what happened and leave policy to the supervisor that owns them.
//
// # Registry
//
// The Registry maps a transport kind to a Factory so servers can be built
// from a Descriptor:
//
//	reg := backend.NewRegistry()
//	reg.RegisterFactory(stdio.Kind, stdio.Factory(logger))
//
//	t, err := reg.Build(backend.Descriptor{
//	    Name:      "aws",
//	    Transport: stdio.Kind,
//	    Command:   "./mcp-aws",
//	})
package backend
