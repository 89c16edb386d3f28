package entitlement

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framecraft/server/internal/utils/metrics"
)

// TrackerConfig holds usage tracker configuration.
type TrackerConfig struct {
	BufferSize     int
	ForwardTimeout time.Duration
}

// DefaultTrackerConfig returns the default tracker configuration.
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		BufferSize:     1000,
		ForwardTimeout: 5 * time.Second,
	}
}

// Tracker records usage events asynchronously. Track never blocks the
// request path; when the buffer is full the event is dropped and
// logged. Recorded usage becomes visible to quota checks only after
// the worker has forwarded the event and invalidated the cache, so a
// burst of requests can briefly overrun a quota by the cache window.
type Tracker struct {
	source         RemoteSource
	cache          *Cache
	logger         *zap.Logger
	metrics        *metrics.Metrics
	forwardTimeout time.Duration
	buffer         chan *UsageEvent
	wg             sync.WaitGroup
	done           chan struct{}
	closeOnce      sync.Once
}

// NewTracker creates a tracker and starts its worker. m may be nil.
func NewTracker(source RemoteSource, cache *Cache, logger *zap.Logger, m *metrics.Metrics, cfg *TrackerConfig) *Tracker {
	if cfg == nil {
		cfg = DefaultTrackerConfig()
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	forwardTimeout := cfg.ForwardTimeout
	if forwardTimeout <= 0 {
		forwardTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		source:         source,
		cache:          cache,
		logger:         logger,
		metrics:        m,
		forwardTimeout: forwardTimeout,
		buffer:         make(chan *UsageEvent, bufferSize),
		done:           make(chan struct{}),
	}
	t.start()
	return t
}

// Track queues a usage event. Fire and forget.
func (t *Tracker) Track(userID uuid.UUID, resource ResourceType, amount float64, metadata map[string]string) {
	event := &UsageEvent{
		UserID:       userID,
		ResourceType: resource,
		Amount:       amount,
		CreatedAt:    time.Now(),
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			t.logger.Warn("failed to encode usage event metadata",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		} else {
			event.Metadata = string(raw)
		}
	}

	select {
	case t.buffer <- event:
	default:
		// Buffer full, drop rather than block the request path.
		t.metrics.RecordUsageEventDropped()
		t.logger.Warn("usage event buffer full, dropping event",
			zap.String("user_id", userID.String()),
			zap.String("resource_type", string(resource)),
			zap.Float64("amount", amount),
		)
	}
}

// TrackImage records generated images.
func (t *Tracker) TrackImage(userID uuid.UUID, count int, metadata map[string]string) {
	t.Track(userID, ResourceImage, float64(count), metadata)
}

// TrackVideo records rendered video duration in seconds; the event is
// stored in minutes, matching the quota unit.
func (t *Tracker) TrackVideo(userID uuid.UUID, durationSeconds float64, metadata map[string]string) {
	t.Track(userID, ResourceVideo, durationSeconds/60.0, metadata)
}

// TrackChatTokens records consumed chat tokens.
func (t *Tracker) TrackChatTokens(userID uuid.UUID, tokens int64, metadata map[string]string) {
	t.Track(userID, ResourceChatTokens, float64(tokens), metadata)
}

// TrackStorage records a storage delta in GB. Negative amounts record
// freed space.
func (t *Tracker) TrackStorage(userID uuid.UUID, deltaGB float64, metadata map[string]string) {
	t.Track(userID, ResourceStorage, deltaGB, metadata)
}

// TrackExport records a completed project export.
func (t *Tracker) TrackExport(userID uuid.UUID, metadata map[string]string) {
	t.Track(userID, ResourceExport, 1, metadata)
}

// Close stops the worker and flushes queued events. Safe to call more
// than once.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	t.wg.Wait()
}

func (t *Tracker) start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case event := <-t.buffer:
				t.forward(event)
			case <-t.done:
				// Flush remaining events
				for {
					select {
					case event := <-t.buffer:
						t.forward(event)
					default:
						return
					}
				}
			}
		}
	}()
}

func (t *Tracker) forward(event *UsageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), t.forwardTimeout)
	defer cancel()

	if err := t.source.ForwardUsageEvent(ctx, event); err != nil {
		t.metrics.RecordUsageEvent(string(event.ResourceType), false)
		t.logger.Error("failed to forward usage event",
			zap.String("user_id", event.UserID.String()),
			zap.String("resource_type", string(event.ResourceType)),
			zap.Error(err),
		)
	} else {
		t.metrics.RecordUsageEvent(string(event.ResourceType), true)
	}

	// Invalidate in every case so the next check refetches; a stale
	// cached snapshot is worse than an extra remote round trip.
	t.cache.Invalidate(ctx, event.UserID)
}
