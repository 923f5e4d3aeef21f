package broker

import (
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/orderlanelabs/orderlane/pkg/retry"
)

const (
	retryInfix = ".retry-"
	dltSuffix  = ".dlt"
)

// TopicSpec declares the queues needed for one consumed topic: the work
// queue, one delay queue per retry attempt, and the dead-letter queue.
type TopicSpec struct {
	Topic  string
	Policy retry.Policy
}

// DeclareTopology sets up queues for the given specs. Delay queues carry the
// attempt's backoff as a per-queue TTL and dead-letter expired messages back
// to the work queue, which is how a message "waits out" its backoff without
// any consumer-side sleeping.
func (b *Broker) DeclareTopology(specs []TopicSpec) error {
	for _, spec := range specs {
		if err := b.declareTopic(spec); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) declareTopic(spec TopicSpec) error {
	workQueue := spec.Topic

	if _, err := b.ch.QueueDeclare(workQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", workQueue, err)
	}
	if err := b.ch.QueueBind(workQueue, spec.Topic, b.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("broker: bind queue %s: %w", workQueue, err)
	}

	for attempt := 1; attempt <= spec.Policy.Retries(); attempt++ {
		retryQueue := RetryQueue(spec.Topic, attempt)
		args := amqp.Table{
			"x-message-ttl":             ttlMillis(spec.Policy.DelayForAttempt(attempt)),
			"x-dead-letter-exchange":    b.cfg.Exchange,
			"x-dead-letter-routing-key": spec.Topic,
		}
		if _, err := b.ch.QueueDeclare(retryQueue, true, false, false, false, args); err != nil {
			return fmt.Errorf("broker: declare retry queue %s: %w", retryQueue, err)
		}
	}

	dltQueue := DeadLetterQueue(spec.Topic)
	if _, err := b.ch.QueueDeclare(dltQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare dlt queue %s: %w", dltQueue, err)
	}

	return nil
}

// RetryQueue names the delay queue for retry attempt n of a topic.
func RetryQueue(topic string, n int) string {
	return fmt.Sprintf("%s%s%d", topic, retryInfix, n)
}

// DeadLetterQueue names the terminal queue for a topic.
func DeadLetterQueue(topic string) string {
	return topic + dltSuffix
}

func isDerivedQueue(name string) bool {
	return strings.Contains(name, retryInfix) || strings.HasSuffix(name, dltSuffix)
}

func ttlMillis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return ms
}
