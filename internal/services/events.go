/**
 * @description
 * Redis pub/sub fan-out of custody state changes.
 * Every account/withdrawal/export transition is published as a JSON event on
 * a single channel; the API layer re-streams it to clients over SSE.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 * - backend/internal/logger
 *
 * @notes
 * - Publishing is best-effort: a Redis hiccup must never fail a state
 *   transition that already committed to Postgres.
 */

package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/custodia-wallet/backend/internal/logger"
	"github.com/redis/go-redis/v9"
)

// EventChannel is the Redis pub/sub channel all custody events go out on
const EventChannel = "custody:events"

// Event is the envelope published for every state change
type Event struct {
	Type string      `json:"type"` // e.g. "withdrawal.cancelled"
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

// EventPublisher publishes state-change events to Redis
type EventPublisher struct {
	Redis *redis.Client
}

func NewEventPublisher(rdb *redis.Client) *EventPublisher {
	return &EventPublisher{Redis: rdb}
}

// Publish sends one event. Safe to call on a nil publisher or without a Redis
// client (tests, tooling); it degrades to a no-op.
func (p *EventPublisher) Publish(ctx context.Context, eventType string, data interface{}) {
	if p == nil || p.Redis == nil {
		return
	}

	payload, err := json.Marshal(Event{Type: eventType, Data: data, At: time.Now().UTC()})
	if err != nil {
		logger.Error("events: failed to marshal %s event: %v", eventType, err)
		return
	}

	if err := p.Redis.Publish(ctx, EventChannel, payload).Err(); err != nil {
		logger.Error("events: failed to publish %s event: %v", eventType, err)
	}
}
