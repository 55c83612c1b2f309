// Package bus provides a transport that reaches a remote tool server
// through a message bus.
//
// A call is published to the server's request topic as a Request envelope.
// The server answers on a response topic with a Response carrying the same
// request id. Responses are matched to waiting calls purely by id through a
// pending.Table, and calls with no response expire at their deadline.
//
// The Bus interface is deliberately small so it can be backed by SQS
// (package sqsbus), or by MemoryBus for in-process servers and tests.
package bus
