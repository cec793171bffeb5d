package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"novel-continuity/internal/models"
	"novel-continuity/internal/worker"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ChapterHandler обрабатывает событие публикации главы.
type ChapterHandler interface {
	HandleChapterPublished(ctx context.Context, event ChapterPublishedEvent) error
}

// ChapterHandlerFunc adapts a function to ChapterHandler.
type ChapterHandlerFunc func(ctx context.Context, event ChapterPublishedEvent) error

func (f ChapterHandlerFunc) HandleChapterPublished(ctx context.Context, event ChapterPublishedEvent) error {
	return f(ctx, event)
}

// ConsumerConfig - параметры консьюмера событий глав.
type ConsumerConfig struct {
	QueueName      string
	Prefetch       int
	Concurrency    int
	ProcessTimeout time.Duration
}

// ChapterConsumer читает chapter.published из RabbitMQ. Сообщения, которые нельзя
// обработать, уходят в DLQ через Nack без повторной постановки.
type ChapterConsumer struct {
	conn    *amqp.Connection
	cfg     ConsumerConfig
	handler ChapterHandler
	logger  *zap.Logger

	channel *amqp.Channel
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewChapterConsumer(conn *amqp.Connection, cfg ConsumerConfig, handler ChapterHandler, logger *zap.Logger) *ChapterConsumer {
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 5 * time.Minute
	}
	return &ChapterConsumer{conn: conn, cfg: cfg, handler: handler, logger: logger.Named("ChapterConsumer")}
}

func dlxName(queue string) string { return queue + "_dlx" }
func dlqName(queue string) string { return queue + "_dlq" }

// declareTopology объявляет DLX, DLQ и основную очередь с аргументами dead-letter.
func (c *ChapterConsumer) declareTopology(ch *amqp.Channel) error {
	queue := c.cfg.QueueName
	if err := ch.ExchangeDeclare(dlxName(queue), "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить DLX '%s': %w", dlxName(queue), err)
	}
	if _, err := ch.QueueDeclare(dlqName(queue), true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить DLQ '%s': %w", dlqName(queue), err)
	}
	if err := ch.QueueBind(dlqName(queue), queue, dlxName(queue), false, nil); err != nil {
		return fmt.Errorf("не удалось связать DLQ с DLX: %w", err)
	}
	args := amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    dlxName(queue),
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", queue, err)
	}
	return nil
}

// Start declares the topology and starts the workers. It does not block.
func (c *ChapterConsumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	if err := c.declareTopology(ch); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}
	msgs, err := ch.Consume(c.cfg.QueueName, "continuity-chapter-consumer", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}
	c.channel = ch

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(c.cfg.Concurrency)
	for i := 0; i < c.cfg.Concurrency; i++ {
		go func(workerID int) {
			defer c.wg.Done()
			log := c.logger.With(zap.Int("worker_id", workerID))
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						log.Info("Delivery channel closed, worker exiting")
						return
					}
					c.ProcessDelivery(ctx, d)
				}
			}
		}(i)
	}
	c.logger.Info("Chapter consumer started",
		zap.String("queue", c.cfg.QueueName),
		zap.Int("prefetch", c.cfg.Prefetch),
		zap.Int("concurrency", c.cfg.Concurrency),
	)
	return nil
}

// ProcessDelivery handles one message and settles it.
//   - malformed or invalid payload, consistency conflict: Nack without requeue (DLQ)
//   - transient failure on first delivery: Nack with requeue
//   - success: Ack
func (c *ChapterConsumer) ProcessDelivery(ctx context.Context, d amqp.Delivery) {
	log := c.logger.With(zap.Uint64("delivery_tag", d.DeliveryTag), zap.Bool("redelivered", d.Redelivered))

	var event ChapterPublishedEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		log.Error("Malformed chapter event", zap.Error(err), zap.ByteString("body", truncateBody(d.Body)))
		c.nack(log, d, false)
		return
	}
	if err := event.Validate(); err != nil {
		log.Error("Invalid chapter event", zap.Error(err))
		c.nack(log, d, false)
		return
	}
	log = log.With(zap.Stringer("storyID", event.StoryID), zap.Int("chapter", event.ChapterNumber))

	// начатая обработка доживает до конца даже при остановке консьюмера
	processCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProcessTimeout)
	defer cancel()
	if err := c.handler.HandleChapterPublished(processCtx, event); err != nil {
		requeue := worker.Retryable(err) && !d.Redelivered && !errors.Is(err, models.ErrConsistencyConflict)
		log.Error("Chapter event processing failed", zap.Error(err), zap.Bool("requeue", requeue))
		c.nack(log, d, requeue)
		return
	}
	if err := d.Ack(false); err != nil {
		log.Error("Ack failed", zap.Error(err))
		return
	}
	log.Info("Chapter event processed")
}

func (c *ChapterConsumer) nack(log *zap.Logger, d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		log.Error("Nack failed", zap.Error(err))
	}
}

// Stop cancels the workers and waits for in-flight messages up to timeout.
func (c *ChapterConsumer) Stop(timeout time.Duration) {
	c.logger.Info("Stopping chapter consumer...")
	if c.channel != nil {
		if err := c.channel.Cancel("continuity-chapter-consumer", false); err != nil {
			c.logger.Warn("Error cancelling consumer", zap.Error(err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("Timeout waiting for chapter consumer workers")
	}
	if c.channel != nil {
		_ = c.channel.Close()
	}
	c.logger.Info("Chapter consumer stopped")
}

func truncateBody(b []byte) []byte {
	if len(b) > 512 {
		return b[:512]
	}
	return b
}
