package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultMutateAttempts = 5

type groupCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// groupDocument is the stored shape of a Group. The active/deleted booleans are
// derived from State so rows stay readable by tools that predate the state field.
type groupDocument struct {
	GroupID         int64     `bson:"group_id"`
	Name            string    `bson:"name"`
	JoinedAt        time.Time `bson:"joined_at"`
	State           string    `bson:"state"`
	Active          bool      `bson:"active"`
	Deleted         bool      `bson:"deleted"`
	IsAdmin         bool      `bson:"is_admin"`
	InviteLink      string    `bson:"invite_link"`
	LastInviteCheck time.Time `bson:"last_invite_check,omitempty"`
	Version         int64     `bson:"version"`
}

func toDocument(g Group) groupDocument {
	return groupDocument{
		GroupID:         g.GroupID,
		Name:            g.Name,
		JoinedAt:        g.JoinedAt,
		State:           string(g.State),
		Active:          g.Active(),
		Deleted:         g.Deleted(),
		IsAdmin:         g.IsAdmin,
		InviteLink:      strings.TrimSpace(g.InviteLink),
		LastInviteCheck: g.LastInviteCheck,
		Version:         g.Version,
	}
}

func fromDocument(doc groupDocument) (Group, error) {
	state, err := documentState(doc)
	if err != nil {
		return Group{}, err
	}

	return Group{
		GroupID:         doc.GroupID,
		Name:            doc.Name,
		JoinedAt:        doc.JoinedAt,
		State:           state,
		IsAdmin:         doc.IsAdmin,
		InviteLink:      doc.InviteLink,
		LastInviteCheck: doc.LastInviteCheck,
		Version:         doc.Version,
	}, nil
}

// documentState falls back to the legacy flags for rows written without state.
func documentState(doc groupDocument) (State, error) {
	if strings.TrimSpace(doc.State) != "" {
		return ParseState(doc.State)
	}

	switch {
	case doc.Deleted:
		return StateRejected, nil
	case doc.Active:
		return StateActive, nil
	default:
		return StatePending, nil
	}
}

// StateFilter matches rows in state, including rows written before the state
// field that carry only the legacy active/deleted flags.
func StateFilter(state State) bson.M {
	legacy := bson.M{"state": bson.M{"$in": bson.A{nil, ""}}}
	switch state {
	case StateRejected:
		legacy["deleted"] = true
	case StateActive:
		legacy["deleted"] = bson.M{"$ne": true}
		legacy["active"] = true
	default:
		legacy["deleted"] = bson.M{"$ne": true}
		legacy["active"] = bson.M{"$ne": true}
	}

	return bson.M{"$or": bson.A{bson.M{"state": string(state)}, legacy}}
}

// hasLink matches a stored link with at least one non-space character.
var hasLink = bson.M{"$regex": `\S`}

// GroupRepository persists and retrieves groups in MongoDB. Each row is keyed by
// group_id; writes use the version field so concurrent read-modify-write cycles
// on one row never lose updates.
type GroupRepository struct {
	collection groupCollection
	now        func() time.Time
	attempts   int
}

// NewGroupRepository constructs a GroupRepository.
func NewGroupRepository(collection groupCollection) *GroupRepository {
	return &GroupRepository{
		collection: collection,
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		attempts:   defaultMutateAttempts,
	}
}

// FindByID fetches a group by group_id.
func (r *GroupRepository) FindByID(ctx context.Context, groupID int64) (Group, error) {
	if err := r.check(ctx); err != nil {
		return Group{}, err
	}
	if groupID == 0 {
		return Group{}, errors.New("group_id is required")
	}

	result := r.collection.FindOne(ctx, bson.M{"group_id": groupID})
	if result == nil {
		return Group{}, unavailable("find group", errors.New("find returned no result"))
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Group{}, ErrGroupNotFound
		}
		return Group{}, unavailable("find group", err)
	}

	var doc groupDocument
	if err := result.Decode(&doc); err != nil {
		return Group{}, fmt.Errorf("decode group: %w", err)
	}

	return fromDocument(doc)
}

// FindDeleted lists rejected groups awaiting release, ordered by name.
func (r *GroupRepository) FindDeleted(ctx context.Context) ([]Group, error) {
	return r.find(ctx, "find deleted groups", StateFilter(StateRejected))
}

// FindActiveWithLink lists active groups with a stored invite link, ordered by
// name using binary string comparison.
func (r *GroupRepository) FindActiveWithLink(ctx context.Context) ([]Group, error) {
	filter := StateFilter(StateActive)
	filter["invite_link"] = hasLink
	return r.find(ctx, "find listed groups", filter)
}

// FindMissingLink lists active groups whose invite link is absent, empty or
// blank.
func (r *GroupRepository) FindMissingLink(ctx context.Context) ([]Group, error) {
	filter := StateFilter(StateActive)
	filter["invite_link"] = bson.M{"$not": hasLink}
	return r.find(ctx, "find groups missing link", filter)
}

// FindAll lists every stored group, ordered by name.
func (r *GroupRepository) FindAll(ctx context.Context) ([]Group, error) {
	return r.find(ctx, "find groups", bson.M{})
}

// Create inserts a new pending group. JoinedAt defaults to the current time and
// is never changed afterwards.
func (r *GroupRepository) Create(ctx context.Context, group Group) (Group, error) {
	if err := r.check(ctx); err != nil {
		return Group{}, err
	}
	if group.GroupID == 0 {
		return Group{}, errors.New("group_id is required")
	}

	if group.State == "" {
		group.State = StatePending
	}
	if group.JoinedAt.IsZero() {
		group.JoinedAt = r.now()
	}
	group.Version = 1

	if _, err := r.collection.InsertOne(ctx, toDocument(group)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Group{}, ErrGroupExists
		}
		return Group{}, unavailable("insert group", err)
	}

	return group, nil
}

// Update writes group if the stored row still carries group.Version. It returns
// the stored group with its new version, ErrConflict when the row changed in
// between, or ErrGroupNotFound when the row is gone.
func (r *GroupRepository) Update(ctx context.Context, group Group) (Group, error) {
	if err := r.check(ctx); err != nil {
		return Group{}, err
	}
	if group.GroupID == 0 {
		return Group{}, errors.New("group_id is required")
	}

	expected := group.Version
	group.Version = expected + 1

	result, err := r.collection.ReplaceOne(ctx,
		bson.M{"group_id": group.GroupID, "version": versionFilter(expected)},
		toDocument(group),
	)
	if err != nil {
		return Group{}, unavailable("update group", err)
	}
	if result != nil && result.MatchedCount > 0 {
		return group, nil
	}

	if _, err := r.FindByID(ctx, group.GroupID); err != nil {
		return Group{}, err
	}

	return Group{}, ErrConflict
}

// Mutate applies fn to the current row and persists the result, retrying on
// concurrent modification. fn reports whether it changed anything; unchanged
// groups are returned without a write.
func (r *GroupRepository) Mutate(ctx context.Context, groupID int64, fn func(Group) (Group, bool)) (Group, bool, error) {
	if fn == nil {
		return Group{}, false, errors.New("mutation is required")
	}

	for attempt := 0; attempt < r.attempts; attempt++ {
		current, err := r.FindByID(ctx, groupID)
		if err != nil {
			return Group{}, false, err
		}

		next, changed := fn(current)
		if !changed {
			return current, false, nil
		}
		next.GroupID = current.GroupID
		next.JoinedAt = current.JoinedAt
		next.Version = current.Version

		stored, err := r.Update(ctx, next)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return Group{}, false, err
		}

		return stored, true, nil
	}

	return Group{}, false, fmt.Errorf("mutate group %d: %w", groupID, ErrConflict)
}

// Delete removes the row for groupID. Deleting an absent row returns
// ErrGroupNotFound.
func (r *GroupRepository) Delete(ctx context.Context, groupID int64) error {
	_, err := r.delete(ctx, bson.M{"group_id": groupID})
	return err
}

// DeleteInState removes the row only while it is in state, so a release racing
// an accept either deletes a rejected row or leaves an active row untouched.
// It reports whether a row was removed.
func (r *GroupRepository) DeleteInState(ctx context.Context, groupID int64, state State) (bool, error) {
	filter := StateFilter(state)
	filter["group_id"] = groupID
	deleted, err := r.delete(ctx, filter)
	if errors.Is(err, ErrGroupNotFound) {
		return false, nil
	}
	return deleted, err
}

func (r *GroupRepository) delete(ctx context.Context, filter bson.M) (bool, error) {
	if err := r.check(ctx); err != nil {
		return false, err
	}
	if id, _ := filter["group_id"].(int64); id == 0 {
		return false, errors.New("group_id is required")
	}

	result, err := r.collection.DeleteOne(ctx, filter)
	if err != nil {
		return false, unavailable("delete group", err)
	}
	if result == nil || result.DeletedCount == 0 {
		return false, ErrGroupNotFound
	}

	return true, nil
}

func (r *GroupRepository) find(ctx context.Context, op string, filter bson.M) ([]Group, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}

	cursor, err := r.collection.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}),
	)
	if err != nil {
		return nil, unavailable(op, err)
	}

	var docs []groupDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, unavailable(op, err)
	}

	groups := make([]Group, 0, len(docs))
	for _, doc := range docs {
		group, err := fromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		groups = append(groups, group)
	}

	return groups, nil
}

func (r *GroupRepository) check(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return errors.New("group repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

// versionFilter matches rows written before versioning when expected is 0.
func versionFilter(expected int64) interface{} {
	if expected == 0 {
		return bson.M{"$in": bson.A{int64(0), nil}}
	}
	return expected
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
