package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/malbeclabs/s3-batcher/internal/model"
)

const defaultDedupeTTL = 15 * time.Minute

type HandlerConfig struct {
	Supplier  Supplier
	Processor NotificationProcessor
	Deleter   Deleter

	// Optional configuration.
	DedupeTTL time.Duration // how long an ingested notification is remembered
	Metrics   *IngestMetrics
}

func (c *HandlerConfig) Validate() error {
	if c.Supplier == nil {
		return errors.New("supplier is required")
	}
	if c.Processor == nil {
		return errors.New("processor is required")
	}
	if c.Deleter == nil {
		return errors.New("deleter is required")
	}

	// Optional configuration.
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = defaultDedupeTTL
	}
	if c.Metrics == nil {
		c.Metrics = NewIngestMetrics(nil)
	}
	return nil
}

// Handler runs one ingestion unit of work: fetch, process, acknowledge.
//
// A message is acknowledged only when every notification it carried was
// either added to the store or skipped as malformed. Otherwise it is left on
// the queue for redelivery, and the notifications that did succeed are
// remembered so the redelivery does not add them twice.
type Handler struct {
	log  *slog.Logger
	cfg  *HandlerConfig
	seen *ttlcache.Cache[string, struct{}]
}

func NewHandler(log *slog.Logger, cfg *HandlerConfig) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid handler config: %w", err)
	}

	seen := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](cfg.DedupeTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	return &Handler{
		log:  log,
		cfg:  cfg,
		seen: seen,
	}, nil
}

type messageGroup struct {
	messageID     string
	receiptHandle string
	notifications []model.Notification
}

func (h *Handler) Handle(ctx context.Context) error {
	h.seen.DeleteExpired()

	notifications, err := h.cfg.Supplier.Get(ctx)
	if err != nil {
		h.cfg.Metrics.SupplierErrors.Inc()
		return fmt.Errorf("failed to get notifications: %w", err)
	}
	if len(notifications) == 0 {
		h.log.Debug("handler: no notifications")
		return nil
	}

	groups := groupByMessage(notifications)
	h.cfg.Metrics.MessagesReceived.Add(float64(len(groups)))
	h.cfg.Metrics.NotificationsReceived.Add(float64(len(notifications)))
	h.log.Info("handler: received notifications", "messages", len(groups), "notifications", len(notifications))

	var errs []error
	for _, g := range groups {
		if err := h.handleMessage(ctx, g); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) handleMessage(ctx context.Context, g messageGroup) error {
	log := h.log.With("messageID", g.messageID)

	var errs []error
	for _, n := range g.notifications {
		key := dedupeKey(n)
		if h.seen.Has(key) {
			h.cfg.Metrics.DuplicatesSkipped.Inc()
			log.Debug("handler: skipping already ingested notification", "uri", n.URI())
			continue
		}

		err := h.cfg.Processor.Process(ctx, n)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrMalformedEvent):
			h.cfg.Metrics.MalformedEvents.Inc()
			log.Warn("handler: skipping malformed event", "uri", n.URI(), "error", err)
		default:
			h.cfg.Metrics.ProcessErrors.Inc()
			log.Error("handler: failed to process notification", "uri", n.URI(), "error", err)
			errs = append(errs, err)
			continue
		}
		h.seen.Set(key, struct{}{}, ttlcache.DefaultTTL)
	}

	if len(errs) > 0 {
		log.Warn("handler: leaving message for redelivery", "failed", len(errs))
		return fmt.Errorf("message %s: %w", g.messageID, errors.Join(errs...))
	}

	if err := h.cfg.Deleter.Delete(ctx, g.receiptHandle); err != nil {
		h.cfg.Metrics.DeleteErrors.Inc()
		return fmt.Errorf("failed to acknowledge message %s: %w", g.messageID, err)
	}
	h.cfg.Metrics.MessagesAcknowledged.Inc()
	log.Debug("handler: acknowledged message")
	return nil
}

// groupByMessage keeps the order in which messages first appear.
func groupByMessage(notifications []model.Notification) []messageGroup {
	var groups []messageGroup
	index := make(map[string]int)
	for _, n := range notifications {
		i, ok := index[n.MessageID]
		if !ok {
			i = len(groups)
			index[n.MessageID] = i
			groups = append(groups, messageGroup{messageID: n.MessageID, receiptHandle: n.ReceiptHandle})
		}
		groups[i].notifications = append(groups[i].notifications, n)
	}
	return groups
}

func dedupeKey(n model.Notification) string {
	return n.MessageID + "|" + n.Bucket + "|" + n.Key
}
