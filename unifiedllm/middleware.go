package unifiedllm

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingMiddleware logs each model round at debug level with its latency
// and token usage, and failed rounds at warn level.
func LoggingMiddleware(log *logrus.Entry) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := logrus.Fields{
			"provider":   req.Provider,
			"model":      req.Model,
			"messages":   len(req.Messages),
			"elapsed_ms": time.Since(start).Milliseconds(),
		}
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("model round failed")
			return resp, err
		}
		if resp != nil {
			fields["input_tokens"] = resp.Usage.InputTokens
			fields["output_tokens"] = resp.Usage.OutputTokens
			fields["finish_reason"] = resp.FinishReason.Reason
		}
		log.WithFields(fields).Debug("model round")
		return resp, err
	}
}
