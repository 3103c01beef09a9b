package store

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestStatsProviderCountsGroups(t *testing.T) {
	groups := &stubCountCollection{counts: map[string]int64{"": 5}}
	provider := NewStatsProvider(groups)

	count, err := provider.CountGroups(context.Background())
	if err != nil {
		t.Fatalf("expected group count to succeed, got error: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 groups, got %d", count)
	}
	if groups.calls != 1 {
		t.Fatalf("expected groups count to be called once, got %d", groups.calls)
	}
}

func TestStatsProviderCountsPerState(t *testing.T) {
	groups := &stubCountCollection{counts: map[string]int64{
		"pending":  2,
		"active":   7,
		"rejected": 1,
	}}
	provider := NewStatsProvider(groups)

	stats, err := provider.GroupStats(context.Background())
	if err != nil {
		t.Fatalf("expected group stats to succeed, got error: %v", err)
	}

	if stats.Pending != 2 || stats.Active != 7 || stats.Rejected != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Total() != 10 {
		t.Fatalf("expected total 10, got %d", stats.Total())
	}
	if groups.calls != 3 {
		t.Fatalf("expected one count per state, got %d", groups.calls)
	}
}

func TestStatsProviderRequiresContext(t *testing.T) {
	provider := NewStatsProvider(&stubCountCollection{})

	if _, err := provider.CountGroups(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if _, err := provider.GroupStats(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestStatsProviderRequiresInitialization(t *testing.T) {
	var provider *StatsProvider

	if _, err := provider.CountGroups(context.Background()); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := provider.GroupStats(context.Background()); err == nil {
		t.Fatalf("expected error for nil provider")
	}
}

func TestStatsProviderPropagatesErrors(t *testing.T) {
	expectedErr := errors.New("count failed")
	provider := NewStatsProvider(&stubCountCollection{err: expectedErr})

	if _, err := provider.CountGroups(context.Background()); !errors.Is(err, expectedErr) {
		t.Fatalf("expected error from group count, got %v", err)
	}
	if _, err := provider.GroupStats(context.Background()); !errors.Is(err, expectedErr) {
		t.Fatalf("expected error from group stats, got %v", err)
	}
}

type stubCountCollection struct {
	counts map[string]int64
	err    error
	calls  int
}

func (s *stubCountCollection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}

	// Per-state filters lead with {"state": <name>} inside $or.
	state := ""
	if doc, ok := filter.(bson.M); ok {
		if clauses, ok := doc["$or"].(bson.A); ok && len(clauses) > 0 {
			if first, ok := clauses[0].(bson.M); ok {
				state, _ = first["state"].(string)
			}
		}
	}

	return s.counts[state], nil
}
