package notify

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"scholaris/console/internal/bus"
	"scholaris/console/internal/model"
)

const unreadKeyPrefix = "console:unread:"

// Store is the persistence needed by the service; satisfied by db.Store.
type Store interface {
	InsertNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context, userID string, limit, offset int) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// Service persists inbound notification events, keeps the unread counter, and
// pushes each event to the target user's live connection in receipt order.
type Service struct {
	store Store
	hub   *Hub
	redis *redis.Client
	ttl   time.Duration
}

func NewService(store Store, hub *Hub, redisClient *redis.Client) *Service {
	return &Service{store: store, hub: hub, redis: redisClient, ttl: time.Hour}
}

func (s *Service) Hub() *Hub { return s.hub }

// Subscribe wires the service to the bus topic carrying new notifications.
func (s *Service) Subscribe(b bus.Bus) (func(), error) {
	return b.Subscribe(bus.TopicNotificationNew, s.handleEvent)
}

func (s *Service) handleEvent(ctx context.Context, e bus.Event) {
	var n model.Notification
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		log.Printf("notify: bad event payload: %v", err)
		return
	}
	if n.UserID == "" || n.Message == "" {
		log.Printf("notify: dropping event without user or message")
		return
	}
	if n.CreatedAt.IsZero() {
		if !e.Timestamp.IsZero() {
			n.CreatedAt = e.Timestamp.UTC()
		} else {
			n.CreatedAt = time.Now().UTC()
		}
	}
	n.Read = false

	if _, err := s.Accept(ctx, n); err != nil {
		log.Printf("notify: accept failed: %v", err)
	}
}

// Accept stores the notification, bumps the unread counter by exactly one and
// pushes the event to the user's connection, if one is live.
func (s *Service) Accept(ctx context.Context, n model.Notification) (model.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return model.Notification{}, err
	}
	s.bumpUnread(ctx, n.UserID)
	s.hub.Push(n.UserID, Frame{Event: EventNotificationNew, Data: n})
	return n, nil
}

func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListNotifications(ctx, userID, limit, offset)
}

// Unread returns the unread count, preferring the cached value.
func (s *Service) Unread(ctx context.Context, userID string) (int, error) {
	if s.redis != nil {
		value, err := s.redis.Get(ctx, unreadKeyPrefix+userID).Result()
		if err == nil {
			if count, convErr := strconv.Atoi(value); convErr == nil {
				return count, nil
			}
		} else if err != redis.Nil {
			log.Printf("notify: unread cache read failed: %v", err)
		}
	}

	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.cacheUnread(ctx, userID, count)
	return count, nil
}

// MarkAllRead flips every unread notification and zeroes the counter. The
// result is the same whether zero or many items were unread.
func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	if _, err := s.store.MarkAllRead(ctx, userID); err != nil {
		return err
	}
	s.cacheUnread(ctx, userID, 0)
	return nil
}

func (s *Service) bumpUnread(ctx context.Context, userID string) {
	if s.redis == nil {
		return
	}
	key := unreadKeyPrefix + userID
	// Only bump an existing cache entry; a miss repopulates from SQL later.
	exists, err := s.redis.Exists(ctx, key).Result()
	if err != nil || exists == 0 {
		return
	}
	if err := s.redis.Incr(ctx, key).Err(); err != nil {
		log.Printf("notify: unread cache bump failed: %v", err)
	}
}

func (s *Service) cacheUnread(ctx context.Context, userID string, count int) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, unreadKeyPrefix+userID, strconv.Itoa(count), s.ttl).Err(); err != nil {
		log.Printf("notify: unread cache write failed: %v", err)
	}
}
