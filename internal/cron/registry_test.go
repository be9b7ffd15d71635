package cron

import (
	"context"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryStoresEntries(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry.Register("@every 1m", jobA)
	registry.Register(" */5 * * * * ", jobB)
	entries := registry.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Job != jobA || entries[1].Job != jobB {
		t.Fatalf("entries returned out of order")
	}
	if entries[1].Schedule != "*/5 * * * *" {
		t.Fatalf("expected trimmed schedule, got %q", entries[1].Schedule)
	}
	// ensure caller cannot mutate internal slice
	entries[0].Job = nil
	if registry.Entries()[0].Job == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestRegistrySkipsDisabledJobs(t *testing.T) {
	registry := NewRegistry()
	registry.Register("", &stubJob{name: "disabled"})
	registry.Register("@hourly", nil)
	if got := len(registry.Entries()); got != 0 {
		t.Fatalf("expected no entries, got %d", got)
	}
}
