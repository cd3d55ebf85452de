// Package notify publishes report lifecycle events to an AMQP exchange.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// ReportCompleted is published after a report job writes its outputs.
type ReportCompleted struct {
	TaskID      string    `json:"task_id"`
	RunID       uuid.UUID `json:"run_id,omitempty"`
	Years       string    `json:"years"`
	Product     string    `json:"product_output"`
	Account     string    `json:"account_output"`
	ProductRows int       `json:"product_rows"`
	AccountRows int       `json:"account_rows"`
	Skipped     int       `json:"skipped"`
	Rejected    int       `json:"rejected"`
	CompletedAt time.Time `json:"completed_at"`
}

// Encode renders the event body.
func (e ReportCompleted) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeReportCompleted parses an event body.
func DecodeReportCompleted(body []byte) (ReportCompleted, error) {
	var e ReportCompleted
	if err := json.Unmarshal(body, &e); err != nil {
		return ReportCompleted{}, fmt.Errorf("notify: decode: %w", err)
	}
	return e, nil
}

// Publisher owns one AMQP connection and channel.
type Publisher struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

// Dial connects to url and declares a durable direct exchange with a queue
// bound under the queue's own name.
func Dial(url, exchange, queue string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}
	p := &Publisher{conn: conn, channel: channel, exchange: exchange, routingKey: queue, logger: logger}
	if err := p.setup(queue); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) setup(queue string) error {
	if err := p.channel.ExchangeDeclare(p.exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("notify: declare exchange: %w", err)
	}
	if _, err := p.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("notify: declare queue: %w", err)
	}
	if err := p.channel.QueueBind(queue, p.routingKey, p.exchange, false, nil); err != nil {
		return fmt.Errorf("notify: bind queue: %w", err)
	}
	return nil
}

// PublishReportCompleted sends a persistent JSON message.
func (p *Publisher) PublishReportCompleted(ctx context.Context, event ReportCompleted) error {
	body, err := event.Encode()
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    event.CompletedAt,
		MessageId:    event.TaskID,
		Type:         "report.completed",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	p.logger.InfoContext(ctx, "published report completed",
		slog.String("task_id", event.TaskID),
		slog.String("exchange", p.exchange),
		slog.String("routing_key", p.routingKey))
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
