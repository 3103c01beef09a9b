// Package domaintest provides an in-memory stand-in for the MongoDB groups
// collection so repository-backed code can be tested without a deployment.
package domaintest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const keyField = "group_id"

// Collection keeps documents in memory, keyed by group_id. It understands the
// equality, $or, $in, $ne, $gt, $regex and $not filters used by the group
// repository.
type Collection struct {
	mu   sync.Mutex
	docs map[int64]bson.M

	// Err, when set, is returned by every operation.
	Err error

	// BeforeReplace, when set, runs before a replacement is applied. Tests use
	// it to interleave a competing writer.
	BeforeReplace func()
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{docs: make(map[int64]bson.M)}
}

// InsertOne stores document, failing with a duplicate key error when the
// group_id already exists.
func (c *Collection) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	doc, err := toM(document)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		return nil, c.Err
	}

	id, ok := doc[keyField].(int64)
	if !ok {
		return nil, fmt.Errorf("document missing %s: %v", keyField, doc)
	}
	if _, exists := c.docs[id]; exists {
		return nil, mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}}}
	}

	c.docs[id] = doc
	return &mongo.InsertOneResult{InsertedID: id}, nil
}

// FindOne returns the first document matching filter.
func (c *Collection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, c.Err, nil)
	}

	matches, err := c.match(filter)
	if err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}
	if len(matches) == 0 {
		return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
	}

	return mongo.NewSingleResultFromDocument(matches[0], nil, nil)
}

// Find returns all documents matching filter ordered by name.
func (c *Collection) Find(_ context.Context, filter interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		return nil, c.Err
	}

	matches, err := c.match(filter)
	if err != nil {
		return nil, err
	}

	docs := make([]interface{}, 0, len(matches))
	for _, doc := range matches {
		docs = append(docs, doc)
	}

	return mongo.NewCursorFromDocuments(docs, nil, nil)
}

// ReplaceOne swaps the first matching document for replacement.
func (c *Collection) ReplaceOne(_ context.Context, filter interface{}, replacement interface{}, _ ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	if hook := c.BeforeReplace; hook != nil {
		hook()
	}

	doc, err := toM(replacement)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		return nil, c.Err
	}

	matches, err := c.match(filter)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &mongo.UpdateResult{}, nil
	}

	id := matches[0][keyField].(int64)
	c.docs[id] = doc
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

// DeleteOne removes the first matching document.
func (c *Collection) DeleteOne(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		return nil, c.Err
	}

	matches, err := c.match(filter)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &mongo.DeleteResult{}, nil
	}

	delete(c.docs, matches[0][keyField].(int64))
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

// Seed stores document as-is, replacing any existing row with the same id.
func (c *Collection) Seed(document interface{}) error {
	doc, err := toM(document)
	if err != nil {
		return err
	}
	id, ok := doc[keyField].(int64)
	if !ok {
		return fmt.Errorf("document missing %s: %v", keyField, doc)
	}

	c.mu.Lock()
	c.docs[id] = doc
	c.mu.Unlock()
	return nil
}

// Doc returns a copy of the stored document for groupID.
func (c *Collection) Doc(groupID int64) (bson.M, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.docs[groupID]
	if !ok {
		return nil, false
	}
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, true
}

// Len reports the number of stored documents.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

func (c *Collection) match(filter interface{}) ([]bson.M, error) {
	filterDoc, ok := filter.(bson.M)
	if !ok {
		return nil, fmt.Errorf("unexpected filter type %T", filter)
	}

	out := make([]bson.M, 0)
	for _, doc := range c.docs {
		ok, err := matches(doc, filterDoc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		ni, _ := out[i]["name"].(string)
		nj, _ := out[j]["name"].(string)
		if ni != nj {
			return ni < nj
		}
		return out[i][keyField].(int64) < out[j][keyField].(int64)
	})

	return out, nil
}

func matches(doc bson.M, filter bson.M) (bool, error) {
	for key, cond := range filter {
		if key == "$or" {
			ok, err := matchesAny(doc, cond)
			if err != nil || !ok {
				return false, err
			}
			continue
		}

		value, present := doc[key]

		op, isOp := cond.(bson.M)
		if !isOp {
			if !present || !equal(value, cond) {
				return false, nil
			}
			continue
		}

		ok, err := matchesOperators(value, present, op)
		if err != nil || !ok {
			return false, err
		}
	}

	return true, nil
}

func matchesAny(doc bson.M, cond interface{}) (bool, error) {
	clauses, ok := cond.(bson.A)
	if !ok {
		return false, fmt.Errorf("$or expects bson.A, got %T", cond)
	}
	for _, clause := range clauses {
		sub, ok := clause.(bson.M)
		if !ok {
			return false, fmt.Errorf("$or clause must be bson.M, got %T", clause)
		}
		matched, err := matches(doc, sub)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func matchesOperators(value interface{}, present bool, op bson.M) (bool, error) {
	for name, arg := range op {
		switch name {
		case "$in":
			candidates, ok := arg.(bson.A)
			if !ok {
				return false, fmt.Errorf("$in expects bson.A, got %T", arg)
			}
			found := false
			for _, option := range candidates {
				if option == nil && (!present || value == nil) {
					found = true
					break
				}
				if present && equal(value, option) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case "$gt":
			bound, ok := arg.(string)
			if !ok {
				return false, fmt.Errorf("$gt only supports strings, got %T", arg)
			}
			str, ok := value.(string)
			if !present || !ok || str <= bound {
				return false, nil
			}
		case "$ne":
			if present && equal(value, arg) {
				return false, nil
			}
		case "$regex":
			pattern, ok := arg.(string)
			if !ok {
				return false, fmt.Errorf("$regex expects a string, got %T", arg)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false, err
			}
			str, ok := value.(string)
			if !present || !ok || !re.MatchString(str) {
				return false, nil
			}
		case "$not":
			inner, ok := arg.(bson.M)
			if !ok {
				return false, fmt.Errorf("$not expects bson.M, got %T", arg)
			}
			matched, err := matchesOperators(value, present, inner)
			if err != nil {
				return false, err
			}
			if matched {
				return false, nil
			}
		default:
			return false, errors.New("unsupported operator " + name)
		}
	}

	return true, nil
}

func equal(a, b interface{}) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	default:
		return v
	}
}

func toM(document interface{}) (bson.M, error) {
	raw, err := bson.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return out, nil
}
