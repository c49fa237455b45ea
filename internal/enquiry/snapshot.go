package enquiry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/metrics"
	"enquiry-workers/internal/common/sheets"
	"enquiry-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const snapshotKeyPrefix = "enquiry:snapshot:"

// Snapshot is the derived view of both tables that drives numbering and autofill.
type Snapshot struct {
	Indents        []models.IndentSummary  `json:"indents"`
	Enquiries      []models.EnquirySummary `json:"enquiries"`
	EnquiryHeaders []string                `json:"enquiryHeaders"`
	LoadedAt       time.Time               `json:"loadedAt"`
}

// NextRequisitionID is the next AAP number over this snapshot.
func (s *Snapshot) NextRequisitionID() string {
	return NextRequisitionID(s.Indents, s.Enquiries)
}

// NextCandidateID is the next ENQ number over this snapshot.
func (s *Snapshot) NextCandidateID() string {
	return NextCandidateID(s.Enquiries)
}

type Fetcher interface {
	Fetch(ctx context.Context, table string) (*sheets.Table, error)
}

// SnapshotCache is a read-through cache of both tables for one submission
// session. With a Redis client the snapshot is shared by every job of the
// session until ttl expires.
type SnapshotCache struct {
	fetcher   Fetcher
	sessionID string
	redis     redis.Cmdable
	ttl       time.Duration
	now       func() time.Time
	logger    logger.Logger

	mu   sync.Mutex
	snap *Snapshot
}

type SnapshotOption func(*SnapshotCache)

// WithRedis shares the snapshot across workers under the session key.
func WithRedis(client redis.Cmdable, ttl time.Duration) SnapshotOption {
	return func(c *SnapshotCache) {
		c.redis = client
		c.ttl = ttl
	}
}

func NewSnapshotCache(fetcher Fetcher, sessionID string, log logger.Logger, opts ...SnapshotOption) *SnapshotCache {
	c := &SnapshotCache{
		fetcher:   fetcher,
		sessionID: sessionID,
		now:       time.Now,
		logger:    log.WithFields(map[string]interface{}{"component": "snapshot", "sessionId": sessionID}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SnapshotCache) key() string {
	return snapshotKeyPrefix + c.sessionID
}

func (c *SnapshotCache) shared() bool {
	return c.redis != nil && c.sessionID != ""
}

// Summaries returns the cached snapshot, loading it on first use.
func (c *SnapshotCache) Summaries(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap != nil {
		metrics.SnapshotLoads.WithLabelValues("memory").Inc()
		return c.snap, nil
	}

	if c.shared() {
		if snap, ok := c.readShared(ctx); ok {
			metrics.SnapshotLoads.WithLabelValues("redis").Inc()
			c.snap = snap
			return snap, nil
		}
	}

	return c.load(ctx)
}

// Refresh reloads both tables unconditionally.
func (c *SnapshotCache) Refresh(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

// RefreshEnquiries reloads ENQUIRY only, keeping the INDENT summaries.
func (c *SnapshotCache) RefreshEnquiries(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil {
		return c.load(ctx)
	}

	enquiries, err := c.fetcher.Fetch(ctx, sheets.TableEnquiry)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", sheets.TableEnquiry, err)
	}
	metrics.SnapshotLoads.WithLabelValues("remote").Inc()

	snap := &Snapshot{
		Indents:        c.snap.Indents,
		Enquiries:      EnquirySummaries(enquiries),
		EnquiryHeaders: enquiries.Headers(),
		LoadedAt:       c.now().UTC(),
	}
	c.store(ctx, snap)
	return snap, nil
}

func (c *SnapshotCache) load(ctx context.Context) (*Snapshot, error) {
	enquiries, err := c.fetcher.Fetch(ctx, sheets.TableEnquiry)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", sheets.TableEnquiry, err)
	}
	indents, err := c.fetcher.Fetch(ctx, sheets.TableIndent)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", sheets.TableIndent, err)
	}
	metrics.SnapshotLoads.WithLabelValues("remote").Inc()

	snap := &Snapshot{
		Indents:        IndentSummaries(indents),
		Enquiries:      EnquirySummaries(enquiries),
		EnquiryHeaders: enquiries.Headers(),
		LoadedAt:       c.now().UTC(),
	}

	c.logger.Debug("snapshot loaded", map[string]interface{}{
		"indents":   len(snap.Indents),
		"enquiries": len(snap.Enquiries),
	})

	c.store(ctx, snap)
	return snap, nil
}

func (c *SnapshotCache) store(ctx context.Context, snap *Snapshot) {
	c.snap = snap
	if !c.shared() {
		return
	}

	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("failed to encode snapshot", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := c.redis.Set(ctx, c.key(), string(data), c.ttl).Err(); err != nil {
		c.logger.Warn("failed to share snapshot", map[string]interface{}{"error": err.Error()})
	}
}

func (c *SnapshotCache) readShared(ctx context.Context) (*Snapshot, bool) {
	data, err := c.redis.Get(ctx, c.key()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("shared snapshot unavailable", map[string]interface{}{"error": err.Error()})
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		c.logger.Warn("discarding unreadable snapshot", map[string]interface{}{"error": err.Error()})
		return nil, false
	}
	return &snap, true
}
