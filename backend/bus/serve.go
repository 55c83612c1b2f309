package bus

import (
	"context"
	"encoding/json"
	"log/slog"
)

// ServeFunc handles one decoded request on the server side of the bus.
type ServeFunc func(ctx context.Context, req Request) (any, error)

// Serve answers requests arriving on requestTopic by publishing a Response
// on responseTopic. It is the server half of the protocol and is used to
// host in-process bus servers. The returned function stops serving.
func Serve(ctx context.Context, b Bus, requestTopic, responseTopic string, fn ServeFunc, logger *slog.Logger) (func(), error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return b.Subscribe(ctx, requestTopic, func(payload []byte) {
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			logger.Warn("dropping undecodable request", "topic", requestTopic, "err", err)
			return
		}

		resp := Response{RequestID: req.RequestID, Success: true}
		result, err := fn(ctx, req)
		if err != nil {
			resp.Success = false
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}

		data, err := json.Marshal(resp)
		if err != nil {
			logger.Error("encode response", "request_id", req.RequestID, "err", err)
			return
		}
		if err := b.Publish(ctx, responseTopic, data); err != nil {
			logger.Warn("publish response", "request_id", req.RequestID, "err", err)
		}
	})
}
