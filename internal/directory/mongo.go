package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const parentField = "_parent"

// Mongo stores every collection path in the Mongo collection named after its
// last segment. Sub-collection documents carry their parent document path in
// _parent, so conversations/{key}/messages/{id} lands in "messages" with
// _parent = "conversations/{key}".
type Mongo struct {
	db       *mongo.Database
	notifier Notifier
}

func NewMongo(db *mongo.Database, notifier Notifier) *Mongo {
	return &Mongo{db: db, notifier: notifier}
}

// EnsureIndexes configures the indexes the conversation engine queries with.
// Called on startup from main after Mongo has connected.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	col := m.db.Collection("messages")

	models := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: parentField, Value: 1},
				{Key: "timestamp", Value: -1},
				{Key: "_id", Value: -1},
			},
			Options: options.Index().SetName("idx_parent_timestamp"),
		},
		{
			Keys: bson.D{
				{Key: parentField, Value: 1},
				{Key: "senderId", Value: 1},
				{Key: "status", Value: 1},
			},
			Options: options.Index().SetName("idx_parent_sender_status"),
		},
	}

	for _, im := range models {
		if _, err := col.Indexes().CreateOne(ctx, im); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mongo) collection(colPath string) (*mongo.Collection, string) {
	parent := ""
	name := colPath
	if i := strings.LastIndex(colPath, "/"); i >= 0 {
		parent = colPath[:i]
		name = colPath[i+1:]
	}
	return m.db.Collection(name), parent
}

func (m *Mongo) target(path string) (*mongo.Collection, bson.M, string, error) {
	colPath, id, err := splitDoc(path)
	if err != nil {
		return nil, nil, "", err
	}
	col, parent := m.collection(colPath)
	return col, bson.M{"_id": id, parentField: parent}, id, nil
}

// pipelineSet turns fields into the body of a $set pipeline stage. Server
// timestamps become $$NOW so every instance stamps with the database clock.
// With keepExisting, fields already present on the document are left alone.
func pipelineSet(fields Fields, keepExisting bool) bson.M {
	set := bson.M{}
	for k, v := range fields {
		var expr any = bson.M{"$literal": v}
		if _, ok := v.(serverTimestamp); ok {
			expr = "$$NOW"
		}
		if keepExisting {
			expr = bson.M{"$ifNull": bson.A{"$" + k, expr}}
		}
		set[k] = expr
	}
	return set
}

func setStage(set bson.M) mongo.Pipeline {
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func (m *Mongo) GetDoc(ctx context.Context, path string) (Document, error) {
	col, filter, id, err := m.target(path)
	if err != nil {
		return Document{}, err
	}

	var raw bson.M
	err = col.FindOne(ctx, filter).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{Path: path, ID: id}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("directory: get %s: %w", path, err)
	}
	return fromBSON(path, id, raw), nil
}

func (m *Mongo) CreateIfAbsent(ctx context.Context, path string, fields Fields) (Document, bool, error) {
	col, filter, _, err := m.target(path)
	if err != nil {
		return Document{}, false, err
	}

	res, err := col.UpdateOne(ctx, filter,
		setStage(pipelineSet(fields, true)),
		options.Update().SetUpsert(true))
	if err != nil {
		return Document{}, false, fmt.Errorf("directory: create %s: %w", path, err)
	}

	created := res.UpsertedCount > 0
	if created {
		if err := notifyWrite(ctx, m.notifier, path); err != nil {
			return Document{}, false, err
		}
	}
	d, err := m.GetDoc(ctx, path)
	return d, created, err
}

func (m *Mongo) UpsertMerge(ctx context.Context, path string, fields Fields) error {
	col, filter, _, err := m.target(path)
	if err != nil {
		return err
	}

	_, err = col.UpdateOne(ctx, filter,
		setStage(pipelineSet(fields, false)),
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("directory: merge %s: %w", path, err)
	}
	return notifyWrite(ctx, m.notifier, path)
}

// Apply runs the mutation as a single aggregation-pipeline update so that
// set-if-absent and increments see the same document the guard matched.
func (m *Mongo) Apply(ctx context.Context, path string, mut Mutation) (Document, bool, error) {
	col, filter, id, err := m.target(path)
	if err != nil {
		return Document{}, false, err
	}
	for k, v := range guardFilter(mut.Guard) {
		filter[k] = v
	}

	set := pipelineSet(mut.Set, false)
	for k, v := range pipelineSet(mut.SetIfAbsent, true) {
		set[k] = v
	}
	for k, delta := range mut.Inc {
		set[k] = bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$" + k, 0}}, delta}}
	}
	if len(set) == 0 {
		d, err := m.GetDoc(ctx, path)
		return d, d.Exists, err
	}

	var raw bson.M
	err = col.FindOneAndUpdate(ctx, filter,
		setStage(set),
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		d, err := m.GetDoc(ctx, path)
		return d, false, err
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("directory: apply %s: %w", path, err)
	}

	if err := notifyWrite(ctx, m.notifier, path); err != nil {
		return Document{}, false, err
	}
	return fromBSON(path, id, raw), true, nil
}

func (m *Mongo) AppendChild(ctx context.Context, collectionPath string, fields Fields) (string, error) {
	if err := checkCollection(collectionPath); err != nil {
		return "", err
	}
	col, parent := m.collection(collectionPath)

	// Inserted through an upsert on a fresh id so the timestamp comes from
	// $$NOW like every other write.
	id := primitive.NewObjectID().Hex()
	filter := bson.M{"_id": id, parentField: parent}
	if _, err := col.UpdateOne(ctx, filter,
		setStage(pipelineSet(fields, false)),
		options.Update().SetUpsert(true)); err != nil {
		return "", fmt.Errorf("directory: append to %s: %w", collectionPath, err)
	}
	return id, notifyWrite(ctx, m.notifier, Join(collectionPath, id))
}

func (m *Mongo) BatchUpdate(ctx context.Context, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}

	// Mongo bulk writes are per collection; group while keeping order.
	type batch struct {
		col    *mongo.Collection
		writes []mongo.WriteModel
	}
	var batches []*batch
	byName := make(map[string]*batch)

	for _, u := range updates {
		col, filter, _, err := m.target(u.Path)
		if err != nil {
			return err
		}
		b, ok := byName[col.Name()]
		if !ok {
			b = &batch{col: col}
			byName[col.Name()] = b
			batches = append(batches, b)
		}
		b.writes = append(b.writes, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(setStage(pipelineSet(u.Fields, false))))
	}

	for _, b := range batches {
		res, err := b.col.BulkWrite(ctx, b.writes, options.BulkWrite().SetOrdered(false))
		if err != nil {
			return fmt.Errorf("directory: batch update: %w", err)
		}
		if res.MatchedCount < int64(len(b.writes)) {
			return fmt.Errorf("directory: batch update matched %d of %d: %w", res.MatchedCount, len(b.writes), ErrNotFound)
		}
	}

	for _, u := range updates {
		if err := notifyWrite(ctx, m.notifier, u.Path); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mongo) Query(ctx context.Context, collectionPath string, q Query) ([]Document, error) {
	if err := checkCollection(collectionPath); err != nil {
		return nil, err
	}
	col, parent := m.collection(collectionPath)

	filter := guardFilter(q.Where)
	filter[parentField] = parent

	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: "_id", Value: dir}})
		if c := q.StartAfter; c != nil {
			filter["$or"] = cursorFilter(q.OrderBy, q.Desc, *c)
		}
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("directory: query %s: %w", collectionPath, err)
	}
	defer cur.Close(ctx)

	var docs []Document
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("directory: decode %s: %w", collectionPath, err)
		}
		id, _ := raw["_id"].(string)
		docs = append(docs, fromBSON(Join(collectionPath, id), id, raw))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *Mongo) Delete(ctx context.Context, path string) error {
	col, filter, _, err := m.target(path)
	if err != nil {
		return err
	}
	if _, err := col.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("directory: delete %s: %w", path, err)
	}
	return notifyWrite(ctx, m.notifier, path)
}

func (m *Mongo) SubscribeDoc(ctx context.Context, path string) (*Subscription, error) {
	if _, _, err := splitDoc(path); err != nil {
		return nil, err
	}
	return subscribe(ctx, m.notifier, path, func(ctx context.Context) Snapshot {
		d, err := m.GetDoc(ctx, path)
		return Snapshot{Docs: []Document{d}, Err: err}
	})
}

func (m *Mongo) SubscribeQuery(ctx context.Context, collectionPath string, q Query) (*Subscription, error) {
	if err := checkCollection(collectionPath); err != nil {
		return nil, err
	}
	return subscribe(ctx, m.notifier, collectionPath, func(ctx context.Context) Snapshot {
		docs, err := m.Query(ctx, collectionPath, q)
		return Snapshot{Docs: docs, Err: err}
	})
}

func guardFilter(preds []Predicate) bson.M {
	filter := bson.M{}
	for _, p := range preds {
		switch p.Op {
		case OpEq:
			filter[p.Field] = p.Value
		case OpNe:
			filter[p.Field] = bson.M{"$ne": p.Value}
		case OpLt:
			filter[p.Field] = bson.M{"$lt": p.Value}
		}
	}
	return filter
}

// cursorFilter matches documents strictly after c in (field, _id) order.
func cursorFilter(field string, desc bool, c Cursor) bson.A {
	op := "$gt"
	if desc {
		op = "$lt"
	}
	return bson.A{
		bson.M{field: bson.M{op: c.Value}},
		bson.M{field: c.Value, "_id": bson.M{op: c.ID}},
	}
}

func fromBSON(path, id string, raw bson.M) Document {
	f := make(Fields, len(raw))
	for k, v := range raw {
		if k == "_id" || k == parentField {
			continue
		}
		f[k] = normalizeBSON(v)
	}
	return Document{Path: path, ID: id, Exists: true, Fields: f}
}

func normalizeBSON(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return int64(t)
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeBSON(e)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeBSON(e)
		}
		return out
	}
	return v
}
