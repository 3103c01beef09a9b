package domain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"groupdirectory_bot/internal/domain/domaintest"
)

func TestGroupRepositoryCreateAndFind(t *testing.T) {
	coll := domaintest.NewCollection()
	repo := NewGroupRepository(coll)

	ctx := context.Background()
	created, err := repo.Create(ctx, Group{GroupID: -100200300, Name: "Example Group"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if created.State != StatePending {
		t.Fatalf("expected state %s, got %s", StatePending, created.State)
	}
	if created.JoinedAt.IsZero() {
		t.Fatalf("expected joined_at to be set")
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}

	doc, ok := coll.Doc(-100200300)
	if !ok {
		t.Fatalf("expected document to be stored")
	}
	if doc["active"] != false || doc["deleted"] != false {
		t.Fatalf("expected legacy flags false for pending group, got active=%v deleted=%v", doc["active"], doc["deleted"])
	}
	if doc["state"] != string(StatePending) {
		t.Fatalf("expected state field %s, got %v", StatePending, doc["state"])
	}

	found, err := repo.FindByID(ctx, -100200300)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if found.Name != "Example Group" || found.State != StatePending {
		t.Fatalf("unexpected group %+v", found)
	}
	if !found.JoinedAt.Equal(created.JoinedAt) {
		t.Fatalf("expected joined_at %v, got %v", created.JoinedAt, found.JoinedAt)
	}
}

func TestGroupRepositoryCreateDuplicate(t *testing.T) {
	repo := NewGroupRepository(domaintest.NewCollection())
	ctx := context.Background()

	if _, err := repo.Create(ctx, Group{GroupID: -1, Name: "One"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := repo.Create(ctx, Group{GroupID: -1, Name: "Again"}); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("expected ErrGroupExists, got %v", err)
	}
}

func TestGroupRepositoryFindByIDMissing(t *testing.T) {
	repo := NewGroupRepository(domaintest.NewCollection())

	if _, err := repo.FindByID(context.Background(), -5); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestGroupRepositoryWrapsStorageErrors(t *testing.T) {
	coll := domaintest.NewCollection()
	coll.Err = errors.New("connection refused")
	repo := NewGroupRepository(coll)
	ctx := context.Background()

	if _, err := repo.FindByID(ctx, -5); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from FindByID, got %v", err)
	}
	if _, err := repo.FindActiveWithLink(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from FindActiveWithLink, got %v", err)
	}
	if _, err := repo.Create(ctx, Group{GroupID: -5}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Create, got %v", err)
	}
	if err := repo.Delete(ctx, -5); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Delete, got %v", err)
	}
}

func TestGroupRepositoryFilteredQueries(t *testing.T) {
	coll := domaintest.NewCollection()
	repo := NewGroupRepository(coll)
	ctx := context.Background()

	seed := []Group{
		{GroupID: -1, Name: "beta", State: StateActive, InviteLink: "https://t.me/beta"},
		{GroupID: -2, Name: "Alpha", State: StateActive, InviteLink: "https://t.me/alpha"},
		{GroupID: -3, Name: "gamma", State: StateActive},
		{GroupID: -4, Name: "delta", State: StatePending, InviteLink: "https://t.me/delta"},
		{GroupID: -5, Name: "epsilon", State: StateRejected},
	}
	for _, g := range seed {
		if _, err := repo.Create(ctx, g); err != nil {
			t.Fatalf("Create(%d) returned error: %v", g.GroupID, err)
		}
	}

	listed, err := repo.FindActiveWithLink(ctx)
	if err != nil {
		t.Fatalf("FindActiveWithLink returned error: %v", err)
	}
	assertGroupIDs(t, listed, -2, -1)

	missing, err := repo.FindMissingLink(ctx)
	if err != nil {
		t.Fatalf("FindMissingLink returned error: %v", err)
	}
	assertGroupIDs(t, missing, -3)

	deleted, err := repo.FindDeleted(ctx)
	if err != nil {
		t.Fatalf("FindDeleted returned error: %v", err)
	}
	assertGroupIDs(t, deleted, -5)

	all, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll returned error: %v", err)
	}
	if len(all) != len(seed) {
		t.Fatalf("expected %d groups, got %d", len(seed), len(all))
	}
}

func TestGroupRepositoryFindMissingLinkMatchesAbsentField(t *testing.T) {
	coll := domaintest.NewCollection()
	if err := coll.Seed(bson.M{"group_id": int64(-9), "name": "legacy", "state": "active", "version": int64(1)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	repo := NewGroupRepository(coll)

	missing, err := repo.FindMissingLink(context.Background())
	if err != nil {
		t.Fatalf("FindMissingLink returned error: %v", err)
	}
	assertGroupIDs(t, missing, -9)
}

func TestGroupRepositoryQueriesMatchLegacyRows(t *testing.T) {
	coll := domaintest.NewCollection()
	legacy := []bson.M{
		{"group_id": int64(-7), "name": "declined", "active": false, "deleted": true},
		{"group_id": int64(-8), "name": "listed", "active": true, "deleted": false},
		{"group_id": int64(-9), "name": "waiting", "active": false, "deleted": false},
	}
	for _, doc := range legacy {
		if err := coll.Seed(doc); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	repo := NewGroupRepository(coll)
	ctx := context.Background()

	deleted, err := repo.FindDeleted(ctx)
	if err != nil {
		t.Fatalf("FindDeleted returned error: %v", err)
	}
	assertGroupIDs(t, deleted, -7)

	missing, err := repo.FindMissingLink(ctx)
	if err != nil {
		t.Fatalf("FindMissingLink returned error: %v", err)
	}
	assertGroupIDs(t, missing, -8)

	removed, err := repo.DeleteInState(ctx, -8, StateRejected)
	if err != nil || removed {
		t.Fatalf("expected legacy active row to survive release, got removed=%v err=%v", removed, err)
	}
	removed, err = repo.DeleteInState(ctx, -7, StateRejected)
	if err != nil || !removed {
		t.Fatalf("expected legacy rejected row to be released, got removed=%v err=%v", removed, err)
	}
	if _, ok := coll.Doc(-7); ok {
		t.Fatalf("expected legacy rejected row to be gone")
	}
}

func TestGroupRepositoryTreatsBlankLinkAsMissing(t *testing.T) {
	coll := domaintest.NewCollection()
	if err := coll.Seed(bson.M{"group_id": int64(-5), "name": "blank", "state": "active", "invite_link": "   ", "version": int64(1)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	repo := NewGroupRepository(coll)
	ctx := context.Background()

	missing, err := repo.FindMissingLink(ctx)
	if err != nil {
		t.Fatalf("FindMissingLink returned error: %v", err)
	}
	assertGroupIDs(t, missing, -5)

	listed, err := repo.FindActiveWithLink(ctx)
	if err != nil {
		t.Fatalf("FindActiveWithLink returned error: %v", err)
	}
	assertGroupIDs(t, listed)

	_, _, err = repo.Mutate(ctx, -5, func(g Group) (Group, bool) {
		g.InviteLink = " https://t.me/blank \n"
		return g, true
	})
	if err != nil {
		t.Fatalf("Mutate returned error: %v", err)
	}
	doc, _ := coll.Doc(-5)
	if doc["invite_link"] != "https://t.me/blank" {
		t.Fatalf("expected trimmed link, got %q", doc["invite_link"])
	}

	listed, err = repo.FindActiveWithLink(ctx)
	if err != nil {
		t.Fatalf("FindActiveWithLink returned error: %v", err)
	}
	assertGroupIDs(t, listed, -5)
}

func TestGroupRepositoryReadsLegacyFlags(t *testing.T) {
	coll := domaintest.NewCollection()
	if err := coll.Seed(bson.M{"group_id": int64(-7), "name": "old", "active": false, "deleted": true}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	repo := NewGroupRepository(coll)
	ctx := context.Background()

	group, err := repo.FindByID(ctx, -7)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if group.State != StateRejected {
		t.Fatalf("expected legacy deleted row to read as rejected, got %s", group.State)
	}

	updated, changed, err := repo.Mutate(ctx, -7, func(g Group) (Group, bool) { return g.Accept() })
	if err != nil {
		t.Fatalf("Mutate on unversioned row returned error: %v", err)
	}
	if !changed || updated.State != StateActive || updated.Version != 1 {
		t.Fatalf("expected unversioned row to be accepted at version 1, got changed=%v %+v", changed, updated)
	}
}

func TestGroupRepositoryUpdateDetectsConflict(t *testing.T) {
	repo := NewGroupRepository(domaintest.NewCollection())
	ctx := context.Background()

	created, err := repo.Create(ctx, Group{GroupID: -1, Name: "one"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	first := created
	first.Name = "first"
	if _, err := repo.Update(ctx, first); err != nil {
		t.Fatalf("first Update returned error: %v", err)
	}

	stale := created
	stale.Name = "stale"
	if _, err := repo.Update(ctx, stale); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale write, got %v", err)
	}

	if err := repo.Delete(ctx, -1); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := repo.Update(ctx, stale); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound after delete, got %v", err)
	}
}

func TestGroupRepositoryMutateRetriesOnConflict(t *testing.T) {
	coll := domaintest.NewCollection()
	repo := NewGroupRepository(coll)
	ctx := context.Background()

	if _, err := repo.Create(ctx, Group{GroupID: -1, Name: "one"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	interfered := false
	coll.BeforeReplace = func() {
		if interfered {
			return
		}
		interfered = true
		coll.BeforeReplace = nil
		if _, _, err := repo.Mutate(ctx, -1, func(g Group) (Group, bool) { return g.WithAdmin(true) }); err != nil {
			t.Errorf("competing Mutate returned error: %v", err)
		}
	}

	updated, changed, err := repo.Mutate(ctx, -1, func(g Group) (Group, bool) { return g.Accept() })
	if err != nil {
		t.Fatalf("Mutate returned error: %v", err)
	}
	if !changed {
		t.Fatalf("expected mutation to apply")
	}
	if !updated.IsAdmin || updated.State != StateActive {
		t.Fatalf("expected both writes to survive, got %+v", updated)
	}
	if updated.Version != 3 {
		t.Fatalf("expected version 3 after two writes, got %d", updated.Version)
	}
}

func TestGroupRepositoryMutateSkipsUnchanged(t *testing.T) {
	repo := NewGroupRepository(domaintest.NewCollection())
	ctx := context.Background()

	if _, err := repo.Create(ctx, Group{GroupID: -1, Name: "one", State: StateActive}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	group, changed, err := repo.Mutate(ctx, -1, func(g Group) (Group, bool) { return g.Accept() })
	if err != nil {
		t.Fatalf("Mutate returned error: %v", err)
	}
	if changed || group.Version != 1 {
		t.Fatalf("expected no write for idempotent accept, got changed=%v version=%d", changed, group.Version)
	}
}

func TestGroupRepositoryDeleteInState(t *testing.T) {
	repo := NewGroupRepository(domaintest.NewCollection())
	ctx := context.Background()

	if _, err := repo.Create(ctx, Group{GroupID: -1, Name: "one", State: StateActive}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	deleted, err := repo.DeleteInState(ctx, -1, StateRejected)
	if err != nil {
		t.Fatalf("DeleteInState returned error: %v", err)
	}
	if deleted {
		t.Fatalf("expected active row to survive a rejected-only delete")
	}

	if _, _, err := repo.Mutate(ctx, -1, func(g Group) (Group, bool) { return g.Decline() }); err != nil {
		t.Fatalf("Mutate returned error: %v", err)
	}

	deleted, err = repo.DeleteInState(ctx, -1, StateRejected)
	if err != nil {
		t.Fatalf("DeleteInState returned error: %v", err)
	}
	if !deleted {
		t.Fatalf("expected rejected row to be deleted")
	}
	if _, err := repo.FindByID(ctx, -1); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected row to be gone, got %v", err)
	}
}

func TestGroupRepositoryConcurrentAcceptAndRelease(t *testing.T) {
	for i := 0; i < 50; i++ {
		repo := NewGroupRepository(domaintest.NewCollection())
		ctx := context.Background()

		if _, err := repo.Create(ctx, Group{GroupID: -1, Name: "race", State: StateRejected}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, err := repo.Mutate(ctx, -1, func(g Group) (Group, bool) { return g.Accept() })
			if err != nil && !errors.Is(err, ErrGroupNotFound) {
				t.Errorf("accept returned error: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := repo.DeleteInState(ctx, -1, StateRejected); err != nil {
				t.Errorf("release returned error: %v", err)
			}
		}()
		wg.Wait()

		group, err := repo.FindByID(ctx, -1)
		if errors.Is(err, ErrGroupNotFound) {
			continue
		}
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if group.State != StateActive {
			t.Fatalf("expected surviving row to be active, got %s", group.State)
		}
	}
}

func TestGroupRepositoryRequiresContextAndID(t *testing.T) {
	repo := NewGroupRepository(domaintest.NewCollection())

	if _, err := repo.FindByID(nil, -1); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if _, err := repo.Create(context.Background(), Group{}); err == nil {
		t.Fatalf("expected error for missing group_id")
	}

	var nilRepo *GroupRepository
	if _, err := nilRepo.FindAll(context.Background()); err == nil {
		t.Fatalf("expected error for nil repository")
	}
}

func TestGroupRepositoryKeepsJoinedAt(t *testing.T) {
	repo := NewGroupRepository(domaintest.NewCollection())
	ctx := context.Background()
	joined := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := repo.Create(ctx, Group{GroupID: -1, Name: "one", JoinedAt: joined}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	updated, _, err := repo.Mutate(ctx, -1, func(g Group) (Group, bool) {
		g.JoinedAt = time.Now()
		g.Name = "renamed"
		return g, true
	})
	if err != nil {
		t.Fatalf("Mutate returned error: %v", err)
	}
	if !updated.JoinedAt.Equal(joined) {
		t.Fatalf("expected joined_at to stay %v, got %v", joined, updated.JoinedAt)
	}
}

func assertGroupIDs(t *testing.T, groups []Group, want ...int64) {
	t.Helper()

	if len(groups) != len(want) {
		t.Fatalf("expected %d groups %v, got %d: %+v", len(want), want, len(groups), groups)
	}
	for i, id := range want {
		if groups[i].GroupID != id {
			t.Fatalf("expected group %d at position %d, got %d", id, i, groups[i].GroupID)
		}
	}
}
