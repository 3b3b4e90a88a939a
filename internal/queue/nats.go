// internal/queue/nats.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fawad-mazhar/paros/internal/config"
	"github.com/fawad-mazhar/paros/internal/engine"
	"github.com/fawad-mazhar/paros/internal/models"
)

// taskAckWait is how long an engine may hold a task delivery before the
// broker hands it to another engine. Generous because one delivery covers a
// whole task execution, not a single subtask.
const taskAckWait = 5 * time.Minute

// Client is the JetStream-backed transport for task submissions and status
// fan-out. Tasks travel through a work queue stream so each submission is
// delivered to exactly one engine; status messages are retained for three
// days for external observers.
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config config.NATSConfig
	sub    *nats.Subscription
}

func NewClient(cfg config.NATSConfig) (*Client, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("paros-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{conn: conn, js: js, config: cfg}
	if err := client.setupStreams(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to setup streams: %w", err)
	}

	return client, nil
}

func (c *Client) setupStreams() error {
	// Tasks stream: work queue retention, so a message is removed once one
	// engine acks it.
	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      c.config.TasksStream,
		Subjects:  []string{c.config.TasksSubject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create tasks stream: %w", err)
	}

	// Status stream keeps 72 hours of transition history.
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     c.config.StatusStream,
		Subjects: []string{c.config.StatusSubject},
		Storage:  nats.FileStorage,
		MaxAge:   72 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create status stream: %w", err)
	}
	return nil
}

func (c *Client) PublishTask(ctx context.Context, task *models.Task) error {
	data, err := task.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = c.js.Publish(c.config.TasksSubject, data, nats.Context(ctx))
	return err
}

// ConsumeTasks subscribes this engine to the shared queue group and adapts
// broker messages into engine deliveries.
func (c *Client) ConsumeTasks(ctx context.Context) (<-chan engine.Delivery, error) {
	deliveries := make(chan engine.Delivery)

	sub, err := c.js.QueueSubscribe(c.config.TasksSubject, c.config.QueueGroup,
		func(msg *nats.Msg) {
			select {
			case deliveries <- wrapMsg(msg):
			case <-ctx.Done():
				msg.Nak()
			}
		},
		nats.ManualAck(),
		nats.AckWait(taskAckWait),
		nats.MaxDeliver(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.config.TasksSubject, err)
	}

	c.sub = sub
	return deliveries, nil
}

func wrapMsg(msg *nats.Msg) engine.Delivery {
	return engine.Delivery{
		Body: msg.Data,
		Ack:  func() error { return msg.Ack() },
		Nak: func(delay time.Duration) error {
			if delay > 0 {
				return msg.NakWithDelay(delay)
			}
			return msg.Nak()
		},
		Term: func() error { return msg.Term() },
	}
}

func (c *Client) PublishTransition(ctx context.Context, transition models.TaskTransition) error {
	return c.publishStatus(ctx, &models.StatusMessage{
		Type:      "task",
		ID:        transition.TaskID,
		Status:    string(transition.NewStatus),
		Timestamp: transition.Timestamp,
		Metadata:  transition,
	})
}

func (c *Client) PublishEngineStatus(ctx context.Context, status models.EngineStatus) error {
	return c.publishStatus(ctx, &models.StatusMessage{
		Type:      "engine",
		ID:        status.ID,
		Status:    string(status.Event),
		Timestamp: status.Timestamp,
		Metadata:  status,
	})
}

func (c *Client) publishStatus(ctx context.Context, status *models.StatusMessage) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	_, err = c.js.Publish(c.config.StatusSubject, data, nats.Context(ctx))
	return err
}

func (c *Client) Close() error {
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			return err
		}
	}
	return c.conn.Drain()
}
