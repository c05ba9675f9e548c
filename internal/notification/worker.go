package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"borrow-analytics-backend/internal/metrics"
	"borrow-analytics-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// queuePerWorker sizes the job buffer so one refresh can enqueue every
// returned item without waiting on slow push services.
const queuePerWorker = 64

// WorkerPool sends "item available" notifications for item keys.
type WorkerPool struct {
	size    int
	jobs    chan string
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewWorkerPool creates a new worker pool. m may be nil.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, m *metrics.Metrics, logger zerolog.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, size*queuePerWorker),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		metrics: m,
		log:     logger.With().Str("component", "notification").Logger(),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug().Int("worker", id).Msg("worker started")
	for {
		select {
		case itemKey := <-wp.jobs:
			wp.log.Debug().Int("worker", id).Str("item", itemKey).Msg("processing returned item")
			wp.sendNotificationsForItem(ctx, itemKey)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("worker shutting down")
			return
		}
	}
}

// Dispatch queues a notification for itemKey. It never blocks; when the
// queue is full the job is dropped and logged.
func (wp *WorkerPool) Dispatch(itemKey string) {
	select {
	case wp.jobs <- itemKey:
	default:
		wp.log.Warn().Str("item", itemKey).Msg("notification queue full, dropping job")
		wp.metrics.IncNotification("dropped")
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan string {
	return wp.jobs
}

func (wp *WorkerPool) sendNotificationsForItem(ctx context.Context, itemKey string) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN item_subscriptions isub ON isub.endpoint = push_subscriptions.endpoint").
		Where("isub.item_key = ?", itemKey).
		Find(&subscriptions).Error
	if err != nil {
		wp.log.Error().Err(err).Str("item", itemKey).Msg("failed to fetch subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	wp.log.Info().Str("item", itemKey).Int("subscriptions", len(subscriptions)).Msg("sending notifications")
	message := fmt.Sprintf("%s is available again", itemKey)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send notification")
		wp.metrics.IncNotification("error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusGone {
		wp.metrics.IncNotification("sent")
		return
	}

	wp.metrics.IncNotification("expired")
	wp.log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
	err = wp.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("endpoint = ?", sub.Endpoint).Delete(&model.ItemSubscription{}).Error; err != nil {
			return err
		}
		return tx.Delete(&sub).Error
	})
	if err != nil {
		wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
	}
}
