package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"novel-continuity/pkg/taskmanager"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const appID = "novel-continuity"

// Channel - часть *amqp.Channel, нужная публикатору.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// TaskStatusPublisher отправляет события задач в очередь статусов.
type TaskStatusPublisher struct {
	channel   Channel
	queueName string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewTaskStatusPublisher объявляет durable очередь статусов и возвращает публикатор.
func NewTaskStatusPublisher(ch Channel, queueName string, logger *zap.Logger) (*TaskStatusPublisher, error) {
	_, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-queue-mode": "lazy"},
	)
	if err != nil {
		return nil, fmt.Errorf("не удалось объявить очередь статусов '%s': %w", queueName, err)
	}
	return &TaskStatusPublisher{
		channel:   ch,
		queueName: queueName,
		timeout:   5 * time.Second,
		logger:    logger.Named("TaskStatusPublisher"),
	}, nil
}

// Publish публикует снимок задачи.
func (p *TaskStatusPublisher) Publish(ctx context.Context, task taskmanager.Task) error {
	event := NewTaskStatusEvent(task)
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события задачи %s: %w", event.TaskID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.channel.PublishWithContext(ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			AppId:        appID,
			MessageId:    fmt.Sprintf("%s-%s-%d", event.TaskID, event.Status, event.Progress),
			Type:         "task.status",
		},
	)
	if err != nil {
		return fmt.Errorf("ошибка публикации события задачи %s: %w", event.TaskID, err)
	}
	return nil
}

// Callback adapts the publisher to taskmanager callbacks. Publish failures are only logged:
// task state lives in the manager, events are best effort.
func (p *TaskStatusPublisher) Callback() taskmanager.TaskCallback {
	return func(task taskmanager.Task) {
		if err := p.Publish(context.Background(), task); err != nil {
			p.logger.Warn("Failed to publish task status",
				zap.Stringer("taskID", task.ID),
				zap.String("status", string(task.Status)),
				zap.Error(err),
			)
			return
		}
		p.logger.Debug("Task status published", zap.Stringer("taskID", task.ID), zap.String("status", string(task.Status)), zap.Int("progress", task.Progress))
	}
}
