package kafkax

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// ReadyCheck dials the first broker. It returns nil when no brokers are
// configured so that deployments without Kafka still report ready.
func ReadyCheck(brokers string) func(context.Context) error {
	list := SplitBrokers(brokers)
	if len(list) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", list[0])
		if err != nil {
			return err
		}
		_ = conn.Close()
		return nil
	}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
