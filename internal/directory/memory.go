package directory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Directory. Server timestamps are truncated to
// milliseconds like the Mongo store and kept strictly increasing per collection.
type Memory struct {
	mu       sync.RWMutex
	cols     map[string]map[string]Fields
	lastTime map[string]time.Time
	now      func() time.Time
	notifier *LocalNotifier
}

func NewMemory() *Memory {
	return &Memory{
		cols:     make(map[string]map[string]Fields),
		lastTime: make(map[string]time.Time),
		now:      time.Now,
		notifier: NewLocalNotifier(),
	}
}

// SetClock replaces the clock used for server timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// serverTime must be called with mu held.
func (m *Memory) serverTime(col string) time.Time {
	ts := m.now().UTC().Truncate(time.Millisecond)
	if last, ok := m.lastTime[col]; ok && !ts.After(last) {
		ts = last.Add(time.Millisecond)
	}
	m.lastTime[col] = ts
	return ts
}

func (m *Memory) doc(col, id string) Document {
	f, ok := m.cols[col][id]
	if !ok {
		return Document{Path: Join(col, id), ID: id}
	}
	return Document{Path: Join(col, id), ID: id, Exists: true, Fields: copyFields(f)}
}

func (m *Memory) put(col, id string, f Fields) {
	if m.cols[col] == nil {
		m.cols[col] = make(map[string]Fields)
	}
	m.cols[col][id] = f
}

func (m *Memory) GetDoc(_ context.Context, path string) (Document, error) {
	col, id, err := splitDoc(path)
	if err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc(col, id), nil
}

func (m *Memory) CreateIfAbsent(ctx context.Context, path string, fields Fields) (Document, bool, error) {
	col, id, err := splitDoc(path)
	if err != nil {
		return Document{}, false, err
	}

	m.mu.Lock()
	if _, ok := m.cols[col][id]; ok {
		d := m.doc(col, id)
		m.mu.Unlock()
		return d, false, nil
	}
	m.put(col, id, withServerTime(copyFields(fields), m.serverTime(col)))
	d := m.doc(col, id)
	m.mu.Unlock()

	return d, true, notifyWrite(ctx, m.notifier, path)
}

func (m *Memory) UpsertMerge(ctx context.Context, path string, fields Fields) error {
	col, id, err := splitDoc(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	cur := m.cols[col][id]
	if cur == nil {
		cur = Fields{}
	}
	for k, v := range withServerTime(copyFields(fields), m.serverTime(col)) {
		cur[k] = v
	}
	m.put(col, id, cur)
	m.mu.Unlock()

	return notifyWrite(ctx, m.notifier, path)
}

func (m *Memory) Apply(ctx context.Context, path string, mut Mutation) (Document, bool, error) {
	col, id, err := splitDoc(path)
	if err != nil {
		return Document{}, false, err
	}

	m.mu.Lock()
	cur, ok := m.cols[col][id]
	if !ok || !matches(cur, mut.Guard) {
		d := m.doc(col, id)
		m.mu.Unlock()
		return d, false, nil
	}

	now := m.serverTime(col)
	next := copyFields(cur)
	for k, v := range withServerTime(mut.Set, now) {
		next[k] = v
	}
	for k, v := range withServerTime(mut.SetIfAbsent, now) {
		if existing, present := next[k]; !present || existing == nil {
			next[k] = v
		}
	}
	for k, delta := range mut.Inc {
		n, _ := toInt(next[k])
		next[k] = n + delta
	}
	m.put(col, id, next)
	d := m.doc(col, id)
	m.mu.Unlock()

	return d, true, notifyWrite(ctx, m.notifier, path)
}

func (m *Memory) AppendChild(ctx context.Context, collectionPath string, fields Fields) (string, error) {
	if err := checkCollection(collectionPath); err != nil {
		return "", err
	}
	id := uuid.NewString()

	m.mu.Lock()
	m.put(collectionPath, id, withServerTime(copyFields(fields), m.serverTime(collectionPath)))
	m.mu.Unlock()

	return id, notifyWrite(ctx, m.notifier, Join(collectionPath, id))
}

func (m *Memory) BatchUpdate(ctx context.Context, updates []Update) error {
	type target struct{ col, id string }
	targets := make([]target, 0, len(updates))

	m.mu.Lock()
	for _, u := range updates {
		col, id, err := splitDoc(u.Path)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if _, ok := m.cols[col][id]; !ok {
			m.mu.Unlock()
			return ErrNotFound
		}
		targets = append(targets, target{col, id})
	}
	for i, u := range updates {
		t := targets[i]
		cur := m.cols[t.col][t.id]
		for k, v := range withServerTime(copyFields(u.Fields), m.serverTime(t.col)) {
			cur[k] = v
		}
	}
	m.mu.Unlock()

	for _, u := range updates {
		if err := notifyWrite(ctx, m.notifier, u.Path); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Query(_ context.Context, collectionPath string, q Query) ([]Document, error) {
	if err := checkCollection(collectionPath); err != nil {
		return nil, err
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "_id"
	}

	m.mu.RLock()
	var docs []Document
	for id, f := range m.cols[collectionPath] {
		if !matches(f, q.Where) {
			continue
		}
		d := m.doc(collectionPath, id)
		if q.StartAfter != nil && !afterCursor(d, orderBy, q.Desc, *q.StartAfter) {
			continue
		}
		docs = append(docs, d)
	}
	m.mu.RUnlock()

	sortDocs(docs, orderBy, q.Desc)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	col, id, err := splitDoc(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.cols[col], id)
	m.mu.Unlock()

	return notifyWrite(ctx, m.notifier, path)
}

func (m *Memory) SubscribeDoc(ctx context.Context, path string) (*Subscription, error) {
	if _, _, err := splitDoc(path); err != nil {
		return nil, err
	}
	return subscribe(ctx, m.notifier, path, func(ctx context.Context) Snapshot {
		d, err := m.GetDoc(ctx, path)
		return Snapshot{Docs: []Document{d}, Err: err}
	})
}

func (m *Memory) SubscribeQuery(ctx context.Context, collectionPath string, q Query) (*Subscription, error) {
	if err := checkCollection(collectionPath); err != nil {
		return nil, err
	}
	return subscribe(ctx, m.notifier, collectionPath, func(ctx context.Context) Snapshot {
		docs, err := m.Query(ctx, collectionPath, q)
		return Snapshot{Docs: docs, Err: err}
	})
}
