package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"groupdirectory_bot/internal/domain"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// GroupStats holds the number of stored groups per lifecycle state.
type GroupStats struct {
	Pending  int64
	Active   int64
	Rejected int64
}

// Total returns the number of stored groups.
func (s GroupStats) Total() int64 {
	return s.Pending + s.Active + s.Rejected
}

// StatsProvider exposes helper methods to retrieve collection counts for basic
// diagnostics without leaking MongoDB internals to callers.
type StatsProvider struct {
	groups countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the groups collection.
func NewStatsProvider(groups countCollection) *StatsProvider {
	return &StatsProvider{groups: groups}
}

// CountGroups returns the number of documents in the groups collection.
func (p *StatsProvider) CountGroups(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.groups == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.groups.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}

	return count, nil
}

// GroupStats counts stored groups per lifecycle state.
func (p *StatsProvider) GroupStats(ctx context.Context) (GroupStats, error) {
	if ctx == nil {
		return GroupStats{}, errors.New("context is required")
	}
	if p == nil || p.groups == nil {
		return GroupStats{}, errors.New("stats provider is not initialized")
	}

	var stats GroupStats
	targets := []struct {
		state domain.State
		dst   *int64
	}{
		{domain.StatePending, &stats.Pending},
		{domain.StateActive, &stats.Active},
		{domain.StateRejected, &stats.Rejected},
	}

	for _, target := range targets {
		count, err := p.groups.CountDocuments(ctx, domain.StateFilter(target.state))
		if err != nil {
			return GroupStats{}, fmt.Errorf("count %s groups: %w", target.state, err)
		}
		*target.dst = count
	}

	return stats, nil
}
