// Package directory is the document-store contract the conversation engine is
// written against: slash-separated paths, merge writes, guarded atomic updates
// and real-time snapshot subscriptions.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidPath = errors.New("directory: invalid path")
	ErrNotFound    = errors.New("directory: document not found")
)

// Fields is the field set of a document.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp may be used as a field value in any write. The directory
// replaces it with its own clock when the write is applied.
var ServerTimestamp any = serverTimestamp{}

// Document is an immutable copy of a stored document.
type Document struct {
	Path   string
	ID     string
	Exists bool
	Fields Fields
}

// Op is a predicate comparison operator.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpLt Op = "<"
)

// Predicate compares a field against a value. A missing field never satisfies
// OpEq or OpLt and always satisfies OpNe.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Predicate {
	return Predicate{Field: field, Op: op, Value: value}
}

// Query selects documents of one collection. Results are ordered by OrderBy
// and then by document id, so the order is total even when OrderBy values tie.
type Query struct {
	Where   []Predicate
	OrderBy string
	Desc    bool
	Limit   int
	// StartAfter skips every document up to and including the cursor position
	// in the query order. It requires OrderBy.
	StartAfter *Cursor
}

// Cursor is a position in an ordered query: the OrderBy value of a document
// and its id.
type Cursor struct {
	Value any
	ID    string
}

// Update is a single merge write inside a batch.
type Update struct {
	Path   string
	Fields Fields
}

// Mutation is a guarded single-document update. The guard and every write are
// applied atomically: either all predicates hold on the stored document and the
// whole mutation lands, or nothing changes.
type Mutation struct {
	Guard       []Predicate
	Set         Fields
	SetIfAbsent Fields
	Inc         map[string]int64
}

// Snapshot is one delivery of a subscription. Document subscriptions carry
// exactly one document (possibly with Exists == false).
type Snapshot struct {
	Docs []Document
	Err  error
}

// Doc returns the single document of a document subscription.
func (s Snapshot) Doc() Document {
	if len(s.Docs) == 0 {
		return Document{}
	}
	return s.Docs[0]
}

// Directory is implemented by Memory and Mongo.
type Directory interface {
	GetDoc(ctx context.Context, path string) (Document, error)
	CreateIfAbsent(ctx context.Context, path string, fields Fields) (Document, bool, error)
	UpsertMerge(ctx context.Context, path string, fields Fields) error
	Apply(ctx context.Context, path string, m Mutation) (Document, bool, error)
	AppendChild(ctx context.Context, collectionPath string, fields Fields) (string, error)
	BatchUpdate(ctx context.Context, updates []Update) error
	Query(ctx context.Context, collectionPath string, q Query) ([]Document, error)
	Delete(ctx context.Context, path string) error
	SubscribeDoc(ctx context.Context, path string) (*Subscription, error)
	SubscribeQuery(ctx context.Context, collectionPath string, q Query) (*Subscription, error)
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func splitPath(p string) ([]string, error) {
	if p == "" {
		return nil, ErrInvalidPath
	}
	parts := strings.Split(p, "/")
	for _, s := range parts {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return parts, nil
}

// splitDoc returns the collection path and id of a document path.
func splitDoc(p string) (string, string, error) {
	parts, err := splitPath(p)
	if err != nil {
		return "", "", err
	}
	if len(parts)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q is a collection", ErrInvalidPath, p)
	}
	return Join(parts[:len(parts)-1]...), parts[len(parts)-1], nil
}

func checkCollection(p string) error {
	parts, err := splitPath(p)
	if err != nil {
		return err
	}
	if len(parts)%2 != 1 {
		return fmt.Errorf("%w: %q is a document", ErrInvalidPath, p)
	}
	return nil
}

// withServerTime copies f, replacing ServerTimestamp sentinels with now.
func withServerTime(f Fields, now time.Time) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now
			continue
		}
		out[k] = v
	}
	return out
}
