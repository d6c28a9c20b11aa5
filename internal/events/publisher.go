// Package events ships reservation lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

// channel is the slice of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	ch channel
}

func NewPublisher(ch *amqp.Channel) *Publisher {
	return &Publisher{ch: ch}
}

// Message is the JSON body of every published event.
type Message struct {
	Type          string          `json:"type"`
	AppointmentID *int64          `json:"appointment_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RoutingKey maps APPOINTMENT_RESERVED to appointment.reserved.
func RoutingKey(eventType string) string {
	return strings.ReplaceAll(strings.ToLower(eventType), "_", ".")
}

func (p *Publisher) InsertEvent(ctx context.Context, ev reservation.EventLog) error {
	msg := Message{
		Type:          ev.EventType,
		AppointmentID: ev.AppointmentID,
		CreatedAt:     ev.CreatedAt,
	}
	if len(ev.Payload) > 0 {
		msg.Payload = json.RawMessage(ev.Payload)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	return p.ch.PublishWithContext(ctx,
		ExchangeName,             // exchange
		RoutingKey(ev.EventType), // routing key
		false,                    // mandatory
		false,                    // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.CreatedAt,
			Type:         ev.EventType,
			Body:         body,
		},
	)
}

// Multi records every event to each recorder in order. All recorders are
// tried even when an earlier one fails.
type Multi []reservation.EventRecorder

func (m Multi) InsertEvent(ctx context.Context, ev reservation.EventLog) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.InsertEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
