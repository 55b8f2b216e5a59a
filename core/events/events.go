// Package events fans record status changes out to websocket subscribers and,
// when configured, to a Redis channel.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"MediaGuard/logger"

	"github.com/redis/go-redis/v9"
)

// Stage names the status field an event reports on.
type Stage string

const (
	StageUpload     Stage = "upload"
	StageAnalysis   Stage = "analysis"
	StageProcessing Stage = "processing"
	StageExtremism  Stage = "extremism"
)

// Event is one status transition of a media record.
type Event struct {
	MediaID   string `json:"mediaId"`
	Stage     Stage  `json:"stage"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"` // unix 毫秒
}

// Publisher delivers events. Implementations must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

const subscriptionBuffer = 16

// Subscription receives events for one media id.
type Subscription struct {
	hub     *Hub
	mediaID string
	ch      chan Event
	once    sync.Once
}

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub 进程内事件中心，按 media id 分组订阅者
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber for mediaID.
func (h *Hub) Subscribe(mediaID string) *Subscription {
	s := &Subscription{hub: h, mediaID: mediaID, ch: make(chan Event, subscriptionBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[mediaID] == nil {
		h.subs[mediaID] = make(map[*Subscription]struct{})
	}
	h.subs[mediaID][s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

// removeLocked 需要持有锁
func (h *Hub) removeLocked(s *Subscription) {
	if set, ok := h.subs[s.mediaID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.mediaID)
		}
	}
	s.once.Do(func() { close(s.ch) })
}

// Publish delivers ev to every subscriber of ev.MediaID. A subscriber whose
// buffer is full is dropped.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[ev.MediaID] {
		select {
		case s.ch <- ev:
		default:
			logger.Warn("事件订阅者缓冲区已满，移除订阅",
				logger.String("mediaId", ev.MediaID))
			h.removeLocked(s)
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions for mediaID.
func (h *Hub) SubscriberCount(mediaID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[mediaID])
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
}

// RedisPublisher publishes events as JSON on a Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
