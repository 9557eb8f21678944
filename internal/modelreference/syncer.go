// Package modelreference mirrors the models.dev catalog and backfills model pricing from it.
package modelreference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// DefaultModelsURL is the models.dev catalog endpoint.
	DefaultModelsURL      = "https://models.dev/api.json"
	defaultSyncInterval   = 6 * time.Hour
	defaultRequestTimeout = 15 * time.Second
	maxPayloadBytes       = 32 << 20
)

// Report summarizes one sync pass.
type Report struct {
	References  int  `json:"references"`
	Backfilled  int  `json:"backfilled"`
	NotModified bool `json:"not_modified"`
}

// Syncer keeps the model_references table in step with models.dev.
type Syncer struct {
	db       *gorm.DB
	url      string
	interval time.Duration
	client   *http.Client
	now      func() time.Time

	mu   sync.Mutex
	etag string
}

// NewSyncer constructs a syncer. Empty url and zero interval select defaults; a nil db yields nil.
func NewSyncer(db *gorm.DB, url string, interval time.Duration) *Syncer {
	if db == nil {
		return nil
	}
	if url = strings.TrimSpace(url); url == "" {
		url = DefaultModelsURL
	}
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &Syncer{
		db:       db,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: defaultRequestTimeout},
		now:      time.Now,
	}
}

// Start syncs once, then every interval, in the background until ctx is done.
func (s *Syncer) Start(ctx context.Context) {
	if s == nil {
		return
	}
	log.WithFields(log.Fields{"url": s.url, "interval": s.interval}).Info("models syncer: started")
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if _, errSync := s.Sync(ctx); errSync != nil && ctx.Err() == nil {
				log.WithError(errSync).Warn("models syncer: sync failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// SyncOnce runs a single sync pass and discards the report.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	_, errSync := s.Sync(ctx)
	return errSync
}

// Sync fetches the catalog, upserts the reference rows and backfills models that lack pricing.
// An unchanged catalog (HTTP 304 for the last ETag) is a successful no-op.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	if s == nil || s.db == nil {
		return Report{}, fmt.Errorf("models syncer: nil db")
	}
	body, etag, errFetch := s.fetch(ctx)
	if errFetch != nil {
		return Report{}, errFetch
	}
	if body == nil {
		log.Debug("models syncer: catalog not modified")
		return Report{NotModified: true}, nil
	}

	refs, errParse := ParseModelsPayload(body)
	if errParse != nil {
		return Report{}, errParse
	}
	if len(refs) == 0 {
		return Report{}, fmt.Errorf("models syncer: empty payload")
	}
	if errStore := StoreReferences(ctx, s.db, refs, s.now()); errStore != nil {
		return Report{}, errStore
	}
	backfilled, errBackfill := BackfillModels(ctx, s.db)
	if errBackfill != nil {
		return Report{}, errBackfill
	}

	s.mu.Lock()
	s.etag = etag
	s.mu.Unlock()

	report := Report{References: len(refs), Backfilled: backfilled}
	log.WithFields(log.Fields{"references": report.References, "backfilled": report.Backfilled}).Info("models syncer: sync complete")
	return report, nil
}

// fetch downloads the catalog. A nil body with a nil error means not modified.
func (s *Syncer) fetch(ctx context.Context) ([]byte, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, errReq := http.NewRequestWithContext(reqCtx, http.MethodGet, s.url, nil)
	if errReq != nil {
		return nil, "", fmt.Errorf("models syncer: build request: %w", errReq)
	}
	req.Header.Set("Accept", "application/json")
	s.mu.Lock()
	if s.etag != "" {
		req.Header.Set("If-None-Match", s.etag)
	}
	s.mu.Unlock()

	resp, errDo := s.client.Do(req)
	if errDo != nil {
		return nil, "", fmt.Errorf("models syncer: request failed: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debug("models syncer: close response body")
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, "", nil
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, "", fmt.Errorf("models syncer: unexpected status %d", resp.StatusCode)
	}
	body, errRead := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if errRead != nil {
		return nil, "", fmt.Errorf("models syncer: read response: %w", errRead)
	}
	return body, resp.Header.Get("ETag"), nil
}
