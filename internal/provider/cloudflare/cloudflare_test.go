package cloudflare

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/evanofslack/dns-prefix-sync/internal/config"
	"github.com/evanofslack/dns-prefix-sync/internal/metrics"
	"github.com/evanofslack/dns-prefix-sync/internal/provider"
	"github.com/evanofslack/dns-prefix-sync/internal/reconcile"
)

const (
	testZone = "zone-abc"
	testName = "edge.example.com"
)

func newTestProvider(t *testing.T) (*CloudflareProvider, *fakeZone) {
	t.Helper()
	z, srv := newFakeZone(t, testZone)
	client := NewClient(srv.URL, "ops@example.com", "key-123", srv.Client(), testBackoff, metrics.New(false))
	return NewWithClient(client, testZone, testName, 120), z
}

func TestGetRecordsFiltersByNameAndType(t *testing.T) {
	p, z := newTestProvider(t)
	z.seed(testName, "108.162.198.10", "172.64.52.3")
	z.seed("other.example.com", "108.162.198.11")
	z.mu.Lock()
	z.records = append(z.records, fakeRecord{ID: "txt-1", Type: "TXT", Name: testName, Content: "hello"})
	z.mu.Unlock()

	records, err := p.GetRecords(context.Background())
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(records), records)
	}
	want := []provider.Record{
		{ID: "rec-1", Name: testName, Type: "A", Data: "108.162.198.10", TTL: 120 * time.Second},
		{ID: "rec-2", Name: testName, Type: "A", Data: "172.64.52.3", TTL: 120 * time.Second},
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, records[i], want[i])
		}
	}
}

func TestGetRecordsFollowsPagination(t *testing.T) {
	p, z := newTestProvider(t)
	for i := 0; i < 250; i++ {
		z.seed(testName, fmt.Sprintf("162.159.%d.%d", 38+i/254, 1+i%254))
	}

	records, err := p.GetRecords(context.Background())
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(records) != 250 {
		t.Fatalf("got %d records, want 250", len(records))
	}
	// listing order is preserved across pages
	if records[0].ID != "rec-1" || records[249].ID != "rec-250" {
		t.Errorf("unexpected order: first=%s last=%s", records[0].ID, records[249].ID)
	}
}

func TestGetRecordsFailure(t *testing.T) {
	p, z := newTestProvider(t)
	z.failures["GET"] = 10

	if _, err := p.GetRecords(context.Background()); err == nil {
		t.Fatal("expected listing error")
	}
}

func TestWriteOperations(t *testing.T) {
	p, z := newTestProvider(t)
	z.seed(testName, "108.162.198.10", "108.162.198.11")
	ctx := context.Background()

	if err := p.CreateRecord(ctx, provider.Record{Name: testName, Type: "A", Data: "172.64.52.9"}); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if err := p.UpdateRecord(ctx, provider.Record{ID: "rec-1", Name: testName, Type: "A", Data: "108.162.198.77"}); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if err := p.DeleteRecord(ctx, provider.Record{ID: "rec-2"}); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}

	got := z.snapshot()
	want := []fakeRecord{
		{ID: "rec-1", Type: "A", Name: testName, Content: "108.162.198.77", TTL: 120},
		{ID: "rec-3", Type: "A", Name: testName, Content: "172.64.52.9", TTL: 120},
	}
	if len(got) != len(want) {
		t.Fatalf("zone = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestWriteValidation(t *testing.T) {
	p, z := newTestProvider(t)
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"update without id", func() error {
			return p.UpdateRecord(ctx, provider.Record{Name: testName, Type: "A", Data: "1.2.3.4"})
		}},
		{"delete without id", func() error {
			return p.DeleteRecord(ctx, provider.Record{})
		}},
		{"create with bad address", func() error {
			return p.CreateRecord(ctx, provider.Record{Name: testName, Type: "A", Data: "1.2.3"})
		}},
		{"create with ipv6 address", func() error {
			return p.CreateRecord(ctx, provider.Record{Name: testName, Type: "AAAA", Data: "2001:db8::1"})
		}},
		{"create with unsupported type", func() error {
			return p.CreateRecord(ctx, provider.Record{Name: testName, Type: "TXT", Data: "hello"})
		}},
		{"update unknown record", func() error {
			return p.UpdateRecord(ctx, provider.Record{ID: "missing", Name: testName, Type: "A", Data: "1.2.3.4"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err == nil {
				t.Error("expected error")
			}
		})
	}
	if len(z.snapshot()) != 0 {
		t.Error("invalid writes must not reach the zone")
	}
}

func engineConfig(target int, prefixes ...string) *config.Config {
	return &config.Config{
		Target:   &target,
		Prefixes: prefixes,
		Cloudflare: config.Cloudflare{
			RecordName: testName,
			TTL:        120,
		},
	}
}

func TestReconcileAgainstZone(t *testing.T) {
	p, z := newTestProvider(t)
	z.seed(testName,
		"108.162.198.1", "108.162.198.2", "108.162.198.3", "108.162.198.4",
		"108.162.198.5", "108.162.198.6", "108.162.198.7",
		"162.159.44.20",
	)
	// records outside the managed prefixes are left alone
	z.seed(testName, "10.0.0.1")

	prefixes := []string{"108.162.198", "162.159.44", "172.64.229"}
	engine, err := reconcile.NewEngine(p, engineConfig(5, prefixes...), metrics.New(false))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	results, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if results.Deleted != 2 || results.Updated != 6 || results.Created != 9 || len(results.Errors) != 0 {
		t.Errorf("unexpected first run results %+v", results)
	}
	for _, pfx := range prefixes {
		if n := z.countWithPrefix(pfx); n != 5 {
			t.Errorf("prefix %s has %d records, want 5", pfx, n)
		}
	}
	if z.countWithPrefix("10.0.0") != 1 {
		t.Error("unmanaged record should survive")
	}

	// a converged zone is re-randomised in place
	results, err = engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if results.Deleted != 0 || results.Updated != 15 || results.Created != 0 {
		t.Errorf("unexpected second run results %+v", results)
	}
	if len(z.snapshot()) != 16 {
		t.Errorf("zone has %d records, want 16", len(z.snapshot()))
	}
}

func TestReconcileReportsTerminalFailures(t *testing.T) {
	p, z := newTestProvider(t)
	z.seed(testName, "172.64.52.1")
	z.failures["POST"] = 1000

	engine, err := reconcile.NewEngine(p, engineConfig(3, "172.64.52"), metrics.New(false))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	results, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if results.Updated != 1 || results.Created != 0 {
		t.Errorf("unexpected results %+v", results)
	}
	if len(results.Errors) != 2 {
		t.Fatalf("errors = %v, want 2 entries", results.Errors)
	}
	for _, e := range results.Errors {
		if !strings.HasPrefix(e, "create: ") {
			t.Errorf("error %q should be tagged with its operation", e)
		}
	}
	if z.countWithPrefix("172.64.52") != 1 {
		t.Errorf("zone should only hold the updated record")
	}
}

func TestReconcileRecoversFromTransientFailures(t *testing.T) {
	p, z := newTestProvider(t)
	z.failures["PUT"] = 2

	z.seed(testName, "172.64.52.1", "172.64.52.2")
	engine, err := reconcile.NewEngine(p, engineConfig(2, "172.64.52"), metrics.New(false))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	results, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if results.Updated != 2 || len(results.Errors) != 0 {
		t.Errorf("unexpected results %+v", results)
	}
	z.mu.Lock()
	updates := z.writes["update"]
	z.mu.Unlock()
	if updates != 2 {
		t.Errorf("zone saw %d successful updates, want 2", updates)
	}
}
