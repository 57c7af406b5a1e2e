package healthmonitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/liranavivi/Design954-sub000/pkg/cache"
	"github.com/liranavivi/Design954-sub000/pkg/logctx"
	"github.com/liranavivi/Design954-sub000/pkg/orchestdomain"
)

type fixedSampler struct {
	status orchestdomain.HealthStatus
	err    error
}

func (f fixedSampler) Sample(ctx context.Context) (orchestdomain.HealthStatus, string, map[string]any, error) {
	if f.err != nil {
		return "", "", nil, f.err
	}
	return f.status, "ok", map[string]any{"cache": "healthy"}, nil
}

func TestMonitor_SkipsCachePublicationWhenProcessorIDUnknown(t *testing.T) {
	c := cache.NewInMemory()
	m, err := New(DefaultConfig(), c, fixedSampler{status: orchestdomain.HealthHealthy}, nil,
		func() (string, bool) { return "", false }, logctx.New(), nil, "pod-1")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.tick(context.Background())

	if m.State() != StateIdle {
		t.Fatalf("State() = %v after skipped tick, want Idle", m.State())
	}
	size, _ := c.Size(context.Background(), m.cfg.CacheMapName)
	if size != 0 {
		t.Fatalf("cache size = %d after skipped tick, want 0 (no publication before init)", size)
	}
}

func TestMonitor_PublishesHealthEntryOnceProcessorIDKnown(t *testing.T) {
	c := cache.NewInMemory()
	m, err := New(DefaultConfig(), c, fixedSampler{status: orchestdomain.HealthHealthy}, nil,
		func() (string, bool) { return "proc-1", true }, logctx.New(), nil, "pod-1")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.tick(context.Background())

	raw, found, err := c.Get(context.Background(), m.cfg.CacheMapName, "proc-1")
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v, want entry present", found, err)
	}
	var entry orchestdomain.ProcessorHealthEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if entry.Status != orchestdomain.HealthHealthy {
		t.Fatalf("entry.Status = %v, want Healthy", entry.Status)
	}
	if !entry.IsHealthy(time.Now()) {
		t.Fatalf("entry.IsHealthy() = false immediately after write, want true")
	}
}

func TestReader_TreatsStaleEntryAsNotHealthy(t *testing.T) {
	c := cache.NewInMemory()
	reader := NewReader(c, "processor-health")

	stale := orchestdomain.ProcessorHealthEntry{
		ProcessorID:             "proc-2",
		Status:                  orchestdomain.HealthHealthy,
		LastUpdatedUnixSeconds:  time.Now().Add(-1 * time.Hour).Unix(),
		HealthCheckIntervalSecs: 30,
		ExpiresAt:               time.Now().Add(time.Hour).Unix(),
	}
	data, _ := json.Marshal(stale)
	if err := c.Set(context.Background(), "processor-health", "proc-2", string(data)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	healthy, _, err := reader.IsHealthy(context.Background(), "proc-2")
	if err != nil {
		t.Fatalf("IsHealthy() error = %v", err)
	}
	if healthy {
		t.Fatalf("IsHealthy() = true for a stale entry (now - lastUpdated > 2x interval), want false")
	}
}

func TestReader_TreatsAbsentEntryAsNotHealthy(t *testing.T) {
	c := cache.NewInMemory()
	reader := NewReader(c, "processor-health")

	healthy, entry, err := reader.IsHealthy(context.Background(), "missing")
	if err != nil {
		t.Fatalf("IsHealthy() error = %v", err)
	}
	if healthy || entry != nil {
		t.Fatalf("IsHealthy() = %v, %v for absent entry, want false, nil", healthy, entry)
	}
}
