package broker

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Header names carried on every message. x-message-key holds
// {aggregateType}-{aggregateId} so all events of one aggregate share an
// ordered stream; the retry/dead-letter headers let a redelivered message
// keep its history.
const (
	HeaderEventType     = "x-event-type"
	HeaderMessageKey    = "x-message-key"
	HeaderAttempt       = "x-attempt"
	HeaderOriginalTopic = "x-original-topic"
	HeaderException     = "x-exception"
	HeaderCorrelationID = "x-correlation-id"
	HeaderTraceID       = "x-trace-id"
	HeaderSpanID        = "x-span-id"
)

// Message is the broker-agnostic envelope used on both the publish and
// consume paths.
type Message struct {
	Topic         string
	MessageID     string
	Key           string
	EventType     string
	CorrelationID string
	TraceID       string
	SpanID        string
	Attempt       int
	OriginalTopic string
	Exception     string
	Body          []byte
}

func (m Message) toPublishing() amqp.Publishing {
	headers := amqp.Table{
		HeaderEventType:  m.EventType,
		HeaderMessageKey: m.Key,
		HeaderAttempt:    int32(m.Attempt),
	}
	if m.OriginalTopic != "" {
		headers[HeaderOriginalTopic] = m.OriginalTopic
	}
	if m.Exception != "" {
		headers[HeaderException] = m.Exception
	}
	if m.CorrelationID != "" {
		headers[HeaderCorrelationID] = m.CorrelationID
	}
	if m.TraceID != "" {
		headers[HeaderTraceID] = m.TraceID
		headers[HeaderSpanID] = m.SpanID
	}

	return amqp.Publishing{
		MessageId:    m.MessageID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         m.Body,
	}
}

func fromDelivery(topic string, d amqp.Delivery) Message {
	return Message{
		Topic:         topic,
		MessageID:     d.MessageId,
		Key:           headerString(d.Headers, HeaderMessageKey),
		EventType:     headerString(d.Headers, HeaderEventType),
		CorrelationID: headerString(d.Headers, HeaderCorrelationID),
		TraceID:       headerString(d.Headers, HeaderTraceID),
		SpanID:        headerString(d.Headers, HeaderSpanID),
		Attempt:       headerInt(d.Headers, HeaderAttempt),
		OriginalTopic: headerString(d.Headers, HeaderOriginalTopic),
		Exception:     headerString(d.Headers, HeaderException),
		Body:          d.Body,
	}
}

func headerString(t amqp.Table, key string) string {
	if t == nil {
		return ""
	}
	if v, ok := t[key].(string); ok {
		return v
	}
	return ""
}

func headerInt(t amqp.Table, key string) int {
	if t == nil {
		return 0
	}
	switch v := t[key].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
