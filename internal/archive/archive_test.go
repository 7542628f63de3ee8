// Package archive MinIO 归档集成测试
//
// 需要可用的 MinIO（APP_ENV=test 配置），连不上时跳过。
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"event-pipeline/internal/config"
	"event-pipeline/internal/model"

	"github.com/google/uuid"
)

var testClient *Client

func TestMain(m *testing.M) {
	os.Setenv("APP_ENV", "test")
	cfg := config.Load()

	c, err := NewClient(cfg.MinIO)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.EnsureBucket(ctx); err == nil {
			testClient = c
		}
		cancel()
	}

	os.Exit(m.Run())
}

func archiveEvent(tenantID string, occurredAt time.Time, seq int64) *model.CanonicalEvent {
	return &model.CanonicalEvent{
		EventID:       "it-arc-" + uuid.NewString()[:8],
		EventType:     model.EventOrderCreated,
		SchemaVersion: 2,
		OccurredAt:    occurredAt,
		TenantID:      tenantID,
		AggregateType: model.AggregateOrder,
		AggregateID:   "it-ord-" + uuid.NewString()[:8],
		Sequence:      seq,
		Payload:       json.RawMessage(`{"symbol":"AAPL","side":"buy","qty":1,"price":1,"currency":"USD"}`),
	}
}

func TestArchive_AppendAndReadWindow(t *testing.T) {
	if testClient == nil {
		t.Skip("MinIO not available")
	}
	ctx := context.Background()
	tenant := "it-" + uuid.NewString()[:8]
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	var want []string
	for i := 0; i < 3; i++ {
		e := archiveEvent(tenant, base.Add(time.Duration(i)*time.Minute), int64(i+1))
		if err := testClient.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		want = append(want, e.EventID)
	}
	// 窗口外的事件：前一天
	outside := archiveEvent(tenant, base.Add(-24*time.Hour), 9)
	if err := testClient.Append(ctx, outside); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var got []string
	var lastAt time.Time
	err := testClient.ReadWindow(ctx, tenant, base, base.Add(time.Hour), func(e *model.CanonicalEvent) error {
		if e.OccurredAt.Before(lastAt) {
			return fmt.Errorf("events out of order: %v after %v", e.OccurredAt, lastAt)
		}
		lastAt = e.OccurredAt
		got = append(got, e.EventID)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadWindow failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events in window, got %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event order mismatch at %d: want %s got %s", i, want[i], got[i])
		}
	}
}

func TestArchive_AppendIdempotent(t *testing.T) {
	if testClient == nil {
		t.Skip("MinIO not available")
	}
	ctx := context.Background()
	tenant := "it-" + uuid.NewString()[:8]
	base := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

	e := archiveEvent(tenant, base, 1)
	if err := testClient.Append(ctx, e); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	// 同一事件重复归档：幂等覆盖，窗口内仍只有一条
	if err := testClient.Append(ctx, e); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}

	count := 0
	err := testClient.ReadWindow(ctx, tenant, base.Add(-time.Minute), base.Add(time.Minute), func(*model.CanonicalEvent) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ReadWindow failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 event after duplicate append, got %d", count)
	}
}

func TestArchive_TenantIsolation(t *testing.T) {
	if testClient == nil {
		t.Skip("MinIO not available")
	}
	ctx := context.Background()
	tenantA := "it-a-" + uuid.NewString()[:8]
	tenantB := "it-b-" + uuid.NewString()[:8]
	base := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)

	if err := testClient.Append(ctx, archiveEvent(tenantA, base, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := testClient.Append(ctx, archiveEvent(tenantB, base, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	count := 0
	err := testClient.ReadWindow(ctx, tenantA, base.Add(-time.Minute), base.Add(time.Minute), func(*model.CanonicalEvent) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ReadWindow failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("tenant window must only contain own events, got %d", count)
	}
}

func TestArchive_PutReport(t *testing.T) {
	if testClient == nil {
		t.Skip("MinIO not available")
	}
	ctx := context.Background()
	runID := "it-run-" + uuid.NewString()[:8]

	rep := &model.JobReport{RunID: runID, Kind: "replay", EventsRead: 42}
	if err := testClient.PutReport(ctx, runID, rep); err != nil {
		t.Fatalf("PutReport failed: %v", err)
	}
}
