package websocket

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/podforge/api/internal/model"
)

// EventChannelPrefix namespaces job events on Redis pub/sub.
const EventChannelPrefix = "podforge:events:"

func progressMessage(jobID, kind string, progress float64, status, step string) []byte {
	return marshal(model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		JobID:       jobID,
		Kind:        kind,
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
	})
}

func completeMessage(jobID, kind string, result any) []byte {
	return marshal(model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Kind:   kind,
		Result: result,
	})
}

func errorMessage(jobID, kind, code, message string) []byte {
	return marshal(model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Kind:  kind,
		Error: model.WSError{Code: code, Message: message},
	})
}

func marshal(msg any) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] failed to marshal message: %v", err)
		return nil
	}
	return data
}

// RedisPublisher sends job events from worker processes to the API
// process, which relays them to websocket clients.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client}
}

func (p *RedisPublisher) BroadcastProgress(jobID, kind string, progress float64, status, step string) {
	p.publish(jobID, progressMessage(jobID, kind, progress, status, step))
}

func (p *RedisPublisher) BroadcastComplete(jobID, kind string, result any) {
	p.publish(jobID, completeMessage(jobID, kind, result))
}

func (p *RedisPublisher) BroadcastError(jobID, kind, code, message string) {
	p.publish(jobID, errorMessage(jobID, kind, code, message))
}

func (p *RedisPublisher) publish(jobID string, data []byte) {
	if data == nil {
		return
	}
	if err := p.redis.Publish(context.Background(), EventChannelPrefix+jobID, data).Err(); err != nil {
		log.Printf("[WS] failed to publish event for job %s: %v", jobID, err)
	}
}

// Relay forwards events published by workers to local subscribers until ctx
// is done.
func (h *Hub) Relay(ctx context.Context, client *redis.Client) {
	sub := client.PSubscribe(ctx, EventChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			jobID := strings.TrimPrefix(msg.Channel, EventChannelPrefix)
			h.BroadcastRaw(jobID, []byte(msg.Payload))
		}
	}
}
