package queue

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pvnzki/eventbn-seatlock/internal/model"
)

// encodeEvent builds a persistent JSON message for ev.
func encodeEvent(ev model.LockEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, errors.Wrap(err, "marshal lock event")
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(ev.Kind),
		Body:         body,
	}, nil
}

// decodeEvent parses a message body and rejects payloads that could not
// have come from the lock engine.
func decodeEvent(body []byte) (model.LockEvent, error) {
	var ev model.LockEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return model.LockEvent{}, errors.Wrap(err, "unmarshal lock event")
	}
	if ev.Kind == "" || ev.EventID == "" || ev.SeatID == "" {
		return model.LockEvent{}, errors.Newf("lock event missing kind, event or seat: %s", body)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return ev, nil
}
