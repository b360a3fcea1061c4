package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/groombook/groombook/libs/db"
	"github.com/groombook/groombook/libs/kafkax"
	otelx "github.com/groombook/groombook/libs/otel"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

// Publisher ships unpublished outbox rows to Kafka. Rows are marked published
// in the same transaction that locked them, so a failed write is retried on
// the next tick.
type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
	onPublish func(eventType string)
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// OnPublish, when set, is called once per message written.
	OnPublish func(eventType string)
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		brokers:   brokers,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		onPublish: cfg.OnPublish,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer *kafka.Writer) error {
	return p.pool.InTx(ctx, func(tx pgx.Tx) error {
		records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		msgs := make([]kafka.Message, 0, len(records))
		ids := make([]int64, 0, len(records))
		for _, r := range records {
			msgs = append(msgs, Message(ctx, r))
			ids = append(ids, r.ID)
		}
		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		if p.onPublish != nil {
			for _, r := range records {
				p.onPublish(r.EventType)
			}
		}
		p.logger.Debug("outbox batch published", "count", len(records))
		return p.repo.MarkPublished(ctx, tx, ids)
	})
}

// Message builds the Kafka message for an outbox record. The message is keyed
// by aggregate ID so events of one appointment stay ordered within a partition.
func Message(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
	msg := kafka.Message{
		Topic: r.EventType,
		Key:   []byte(r.AggregateID),
		Value: r.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(r.EventID)},
			{Key: "event_type", Value: []byte(r.EventType)},
			{Key: "aggregate_type", Value: []byte(r.AggregateType)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}
