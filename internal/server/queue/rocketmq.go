package queue

import (
	"context"
	"fmt"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/apache/rocketmq-client-go/v2/rlog"
	"github.com/avast/retry-go/v4"

	"github.com/dmitrijs2005/pressarchive/internal/logging"
)

const (
	TopicPipeline = "topic_press_archive_pipeline"

	consumerGroupPrefix = "cg_press_archive_"
	sendMessageAttempts = 3
)

type RocketMQConfig struct {
	NameServers []string
	Workers     map[Lane]int
}

// RocketMQ is a broker-backed Queue. Each lane is a tag on one topic with
// its own consumer group, so lanes scale and back up independently.
type RocketMQ struct {
	producer  rocketmq.Producer
	consumers map[Lane]rocketmq.PushConsumer
	logger    logging.Logger
}

func NewRocketMQ(cfg RocketMQConfig, l logging.Logger) (*RocketMQ, error) {
	rlog.SetLogLevel("warn")

	p, err := rocketmq.NewProducer(producer.WithNameServer(cfg.NameServers))
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("failed to start producer: %w", err)
	}

	q := &RocketMQ{
		producer:  p,
		consumers: make(map[Lane]rocketmq.PushConsumer, len(Lanes)),
		logger:    l.With("module", "queue", "kind", "rocketmq"),
	}
	for _, lane := range Lanes {
		workers := cfg.Workers[lane]
		if workers <= 0 {
			workers = 1
		}
		c, err := rocketmq.NewPushConsumer(
			consumer.WithNameServer(cfg.NameServers),
			consumer.WithGroupName(consumerGroupPrefix+string(lane)),
			consumer.WithConsumerModel(consumer.Clustering),
			consumer.WithConsumeFromWhere(consumer.ConsumeFromLastOffset),
			consumer.WithConsumeGoroutineNums(workers),
			consumer.WithConsumeMessageBatchMaxSize(1),
		)
		if err != nil {
			_ = p.Shutdown()
			return nil, fmt.Errorf("failed to create %s consumer: %w", lane, err)
		}
		q.consumers[lane] = c
	}
	return q, nil
}

func newMessage(job Job) (*primitive.Message, error) {
	body, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	msg := primitive.NewMessage(TopicPipeline, body).WithTag(string(job.Stage.Lane()))
	msg.WithKeys([]string{job.AssetID})
	return msg, nil
}

func (q *RocketMQ) Enqueue(ctx context.Context, job Job) error {
	if !job.Stage.Valid() {
		return fmt.Errorf("unknown stage %q", job.Stage)
	}
	msg, err := newMessage(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = retry.Do(
		func() error {
			_, err := q.producer.SendSync(ctx, msg)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(sendMessageAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			q.logger.Warn(ctx, "retrying job send", "attempt", n+1, "job", job.String(), "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to send %s after retries: %w", job, err)
	}
	return nil
}

// Run subscribes every lane and blocks until ctx is done. Messages are always
// acknowledged: stage failures are recorded in the database and only an
// operator retry runs a stage again.
func (q *RocketMQ) Run(ctx context.Context, h Handler) error {
	jobCtx := context.WithoutCancel(ctx)

	for lane, c := range q.consumers {
		selector := consumer.MessageSelector{Type: consumer.TAG, Expression: string(lane)}
		err := c.Subscribe(TopicPipeline, selector, func(_ context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
			for _, msg := range msgs {
				job, err := decodeJob(msg.Body)
				if err != nil {
					q.logger.Error(ctx, "dropping malformed message", "msg_id", msg.MsgId, "error", err)
					continue
				}
				h(jobCtx, job)
			}
			return consumer.ConsumeSuccess, nil
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe %s lane: %w", lane, err)
		}
		if err := c.Start(); err != nil {
			return fmt.Errorf("failed to start %s consumer: %w", lane, err)
		}
		q.logger.Info(ctx, "lane started", "lane", lane)
	}

	<-ctx.Done()
	q.shutdown()
	return nil
}

func (q *RocketMQ) shutdown() {
	for _, c := range q.consumers {
		_ = c.Shutdown()
	}
	_ = q.producer.Shutdown()
}
