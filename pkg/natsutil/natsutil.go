// Package natsutil provides typed NATS publish/consume helpers with
// OpenTelemetry trace propagation and bounded redelivery.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader carries the number of failed deliveries a message has seen.
const RetryHeader = "X-Retry-Count"

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publisher is the subset of *nats.Conn used to publish.
type Publisher interface {
	PublishMsg(*nats.Msg) error
}

// Publish serializes v as JSON and publishes it to subject, injecting the
// trace context from ctx into the message headers.
func Publish[T any](ctx context.Context, p Publisher, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return p.PublishMsg(msg)
}

// RetryCount reads RetryHeader; a missing or malformed value counts as zero.
func RetryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// RetryPolicy controls redelivery of messages whose handler failed.
type RetryPolicy struct {
	MaxAttempts int    // total deliveries before dead-lettering; <1 means 1
	DeadLetter  string // subject for exhausted or malformed messages; empty drops them
}

// Consumer decodes and dispatches messages of type T.
type Consumer[T any] struct {
	pub     Publisher
	policy  RetryPolicy
	handler func(context.Context, T) error
	log     *slog.Logger
}

// NewConsumer builds a Consumer. Failed messages are republished to their own
// subject with RetryHeader incremented, then sent to policy.DeadLetter.
func NewConsumer[T any](pub Publisher, policy RetryPolicy, log *slog.Logger, handler func(context.Context, T) error) *Consumer[T] {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Consumer[T]{pub: pub, policy: policy, handler: handler, log: log}
}

// Handle processes one message. It is the nats.MsgHandler for the consumer.
func (c *Consumer[T]) Handle(msg *nats.Msg) {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))

	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		c.log.Warn("malformed message", "subject", msg.Subject, "error", err)
		c.deadLetter(msg, err)
		return
	}

	err := c.handler(ctx, v)
	if err == nil {
		return
	}
	attempt := RetryCount(msg) + 1
	if attempt >= c.policy.MaxAttempts {
		c.log.Error("message exhausted retries", "subject", msg.Subject, "attempts", attempt, "error", err)
		c.deadLetter(msg, err)
		return
	}
	c.log.Warn("message failed, redelivering", "subject", msg.Subject, "attempt", attempt, "error", err)
	c.republish(msg, msg.Subject, attempt, "")
}

func (c *Consumer[T]) deadLetter(msg *nats.Msg, cause error) {
	if c.policy.DeadLetter == "" {
		return
	}
	c.republish(msg, c.policy.DeadLetter, RetryCount(msg), cause.Error())
}

func (c *Consumer[T]) republish(msg *nats.Msg, subject string, retries int, cause string) {
	out := &nats.Msg{Subject: subject, Data: msg.Data, Header: make(nats.Header)}
	for k, v := range msg.Header {
		out.Header[k] = append([]string(nil), v...)
	}
	out.Header.Set(RetryHeader, strconv.Itoa(retries))
	if cause != "" {
		out.Header.Set("X-Error", cause)
	}
	if err := c.pub.PublishMsg(out); err != nil {
		c.log.Error("republish failed", "subject", subject, "error", err)
	}
}

// QueueSubscribe attaches c to subject within a queue group.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, c *Consumer[T]) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, c.Handle)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Malformed messages are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	})
}
