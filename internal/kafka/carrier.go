package kafka

import (
	"context"

	segkafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// HeaderCarrier exposes Kafka message headers as a
// propagation.TextMapCarrier so reminder events carry the api's trace
// context to the relay.
type HeaderCarrier []segkafka.Header

func (c HeaderCarrier) Get(key string) string {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Key == key {
			return string(c[i].Value)
		}
	}
	return ""
}

// Set replaces every header named key with a single new value.
func (c *HeaderCarrier) Set(key, value string) {
	kept := (*c)[:0]
	for _, h := range *c {
		if h.Key != key {
			kept = append(kept, h)
		}
	}
	*c = append(kept, segkafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		keys = append(keys, h.Key)
	}
	return keys
}

// traceHeaders returns the headers that carry the span context of ctx.
func traceHeaders(ctx context.Context) []segkafka.Header {
	var c HeaderCarrier
	otel.GetTextMapPropagator().Inject(ctx, &c)
	return c
}

// withTrace returns ctx joined to the trace recorded in hs, if any.
func withTrace(ctx context.Context, hs []segkafka.Header) context.Context {
	c := HeaderCarrier(hs)
	return otel.GetTextMapPropagator().Extract(ctx, &c)
}
