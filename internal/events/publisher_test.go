package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/store/memory"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestRoutingKey(t *testing.T) {
	tests := map[string]string{
		reservation.EventAppointmentReserved:  "appointment.reserved",
		reservation.EventAppointmentCancelled: "appointment.cancelled",
		reservation.EventAvailabilityUploaded: "availability.uploaded",
		reservation.EventDosesAdjusted:        "doses.adjusted",
	}
	for in, want := range tests {
		if got := RoutingKey(in); got != want {
			t.Errorf("RoutingKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPublisher_InsertEvent(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{ch: ch}
	id := int64(12)
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	err := p.InsertEvent(context.Background(), reservation.EventLog{
		EventType:     reservation.EventAppointmentReserved,
		AppointmentID: &id,
		Payload:       []byte(`{"caregiver":"alice"}`),
		CreatedAt:     at,
	})
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(ch.sent))
	}

	got := ch.sent[0]
	if got.exchange != ExchangeName || got.key != "appointment.reserved" {
		t.Fatalf("exchange/key = %q/%q", got.exchange, got.key)
	}
	if got.msg.ContentType != "application/json" || got.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("publishing = %+v", got.msg)
	}

	var body Message
	if err := json.Unmarshal(got.msg.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Type != reservation.EventAppointmentReserved || body.AppointmentID == nil || *body.AppointmentID != 12 {
		t.Fatalf("body = %+v", body)
	}
	if string(body.Payload) != `{"caregiver":"alice"}` || !body.CreatedAt.Equal(at) {
		t.Fatalf("body = %+v", body)
	}
}

func TestMulti_TriesEveryRecorder(t *testing.T) {
	failing := &Publisher{ch: &fakeChannel{err: errors.New("channel closed")}}
	log := memory.NewEventLog()

	err := Multi{failing, nil, log}.InsertEvent(context.Background(), reservation.EventLog{EventType: "X"})
	if err == nil {
		t.Fatalf("expected publish error to surface")
	}
	if n := len(log.Events()); n != 1 {
		t.Fatalf("event log got %d events, want 1", n)
	}
}

func TestSetupConn_Broker(t *testing.T) {
	url := os.Getenv("VACCINE_TEST_AMQP_URL")
	if url == "" {
		t.Skip("VACCINE_TEST_AMQP_URL not set")
	}

	conn, ch, err := SetupConn(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("SetupConn: %v", err)
	}
	defer conn.Close()

	err = NewPublisher(ch).InsertEvent(context.Background(), reservation.EventLog{
		EventType: reservation.EventDosesAdjusted,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
}
