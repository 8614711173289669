package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// FeedbackEventCreated names the SSE event emitted after a record is stored.
	FeedbackEventCreated = "feedback_created"
	// FeedbackEventDeleted names the SSE event emitted after a record is removed.
	FeedbackEventDeleted = "feedback_deleted"

	feedbackEventDefaultBuffer  = 8
	errorValueStreamUnavailable = "stream_unavailable"
)

// FeedbackEvent describes a change to the stored feedback set.
type FeedbackEvent struct {
	Type          string    `json:"-"`
	FeedbackID    string    `json:"id"`
	OccurredAt    time.Time `json:"occurredAt"`
	FeedbackCount int64     `json:"feedbackCount"`
}

// NewFeedbackEvent stamps an event with the current time.
func NewFeedbackEvent(eventType string, feedbackID string, feedbackCount int64) FeedbackEvent {
	return FeedbackEvent{
		Type:          eventType,
		FeedbackID:    feedbackID,
		OccurredAt:    time.Now().UTC(),
		FeedbackCount: feedbackCount,
	}
}

// FeedbackEventBroadcaster fans feedback events out to subscribed streams.
// Slow subscribers drop events rather than block the publisher.
type FeedbackEventBroadcaster struct {
	mutex        sync.Mutex
	nextID       int64
	subscribers  map[int64]chan FeedbackEvent
	closed       bool
	bufferLength int
}

// NewFeedbackEventBroadcaster constructs a broadcaster for feedback events.
func NewFeedbackEventBroadcaster() *FeedbackEventBroadcaster {
	return &FeedbackEventBroadcaster{
		subscribers:  make(map[int64]chan FeedbackEvent),
		bufferLength: feedbackEventDefaultBuffer,
	}
}

// Subscribe registers a new subscription. It returns nil once the broadcaster is closed.
func (broadcaster *FeedbackEventBroadcaster) Subscribe() *FeedbackEventSubscription {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return nil
	}
	subscriptionID := broadcaster.nextID
	broadcaster.nextID++
	eventChannel := make(chan FeedbackEvent, broadcaster.bufferLength)
	broadcaster.subscribers[subscriptionID] = eventChannel
	return &FeedbackEventSubscription{
		broadcaster: broadcaster,
		identifier:  subscriptionID,
		events:      eventChannel,
	}
}

// Broadcast delivers the event to all active subscribers.
func (broadcaster *FeedbackEventBroadcaster) Broadcast(event FeedbackEvent) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	for _, channel := range broadcaster.subscribers {
		select {
		case channel <- event:
		default:
		}
	}
}

// Close stops the broadcaster and closes all subscriber channels.
func (broadcaster *FeedbackEventBroadcaster) Close() {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	broadcaster.closed = true
	for identifier, channel := range broadcaster.subscribers {
		close(channel)
		delete(broadcaster.subscribers, identifier)
	}
}

func (broadcaster *FeedbackEventBroadcaster) remove(identifier int64) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if channel, exists := broadcaster.subscribers[identifier]; exists {
		delete(broadcaster.subscribers, identifier)
		close(channel)
	}
}

// FeedbackEventSubscription is a single subscriber to feedback events.
type FeedbackEventSubscription struct {
	broadcaster *FeedbackEventBroadcaster
	identifier  int64
	events      chan FeedbackEvent
	once        sync.Once
}

// Events exposes the receive-only event channel.
func (subscription *FeedbackEventSubscription) Events() <-chan FeedbackEvent {
	if subscription == nil {
		return nil
	}
	return subscription.events
}

// Close unregisters the subscription and closes its channel.
func (subscription *FeedbackEventSubscription) Close() {
	if subscription == nil {
		return
	}
	subscription.once.Do(func() {
		if subscription.broadcaster != nil {
			subscription.broadcaster.remove(subscription.identifier)
		}
	})
}

// StreamFeedbackEvents streams created and deleted events as server-sent events.
func (handlers *FeedbackHandlers) StreamFeedbackEvents(ginContext *gin.Context) {
	if handlers.events == nil {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	subscription := handlers.events.Subscribe()
	if subscription == nil {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	defer subscription.Close()

	flusher, flushable := ginContext.Writer.(http.Flusher)
	if !flushable {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}

	ginContext.Header("Content-Type", "text/event-stream")
	ginContext.Header("Cache-Control", "no-cache")
	ginContext.Header("Connection", "keep-alive")
	ginContext.Writer.WriteHeaderNow()
	flusher.Flush()

	requestContext := ginContext.Request.Context()
	for {
		select {
		case <-requestContext.Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				return
			}
			serializedPayload, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				handlers.logger.Debug("marshal_feedback_event_failed", zap.Error(marshalErr))
				continue
			}
			var buffer bytes.Buffer
			buffer.WriteString("event: ")
			buffer.WriteString(event.Type)
			buffer.WriteString("\ndata: ")
			buffer.Write(serializedPayload)
			buffer.WriteString("\n\n")
			if _, writeErr := ginContext.Writer.Write(buffer.Bytes()); writeErr != nil {
				return
			}
			flusher.Flush()
			handlers.logger.Debug("stream_feedback_event", zap.String("event", event.Type), zap.String("feedback_id", event.FeedbackID))
		}
	}
}
