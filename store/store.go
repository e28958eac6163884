package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrNotFound    = errors.New("store: path not found")
	ErrUnavailable = errors.New("store: unavailable")
	ErrNotObject   = errors.New("store: patch target is not an object")
)

// Change is delivered to subscribers after a write to a watched path.
type Change struct {
	Path    string          `json:"path"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

type MutationOp string

const (
	OpSet    MutationOp = "set"
	OpPatch  MutationOp = "patch"
	OpDelete MutationOp = "delete"
)

// Mutation is a write held back until its owner disconnects. A delete with
// IfField set only removes an object whose IfField still equals IfValue.
type Mutation struct {
	Op      MutationOp
	Value   json.RawMessage
	Fields  map[string]any
	IfField string
	IfValue any
}

// Store is a hierarchical key-value store with path subscriptions and
// disconnect cleanups. Paths are slash separated, e.g. "sessions/ABC123".
type Store interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	// Set overwrites the whole value at path.
	Set(ctx context.Context, path string, value json.RawMessage) error
	// Patch shallow-merges fields into the object at path.
	Patch(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// DeleteIf removes the object at path only while its field equals
	// value, atomically with the check. It reports whether it deleted.
	DeleteIf(ctx context.Context, path, field string, value any) (bool, error)
	// Subscribe calls fn, in write order, for every change at path or
	// beneath it until the returned func is called.
	Subscribe(ctx context.Context, path string, fn func(Change)) (func(), error)
	// OnDisconnect registers m to run against path when ownerID disconnects.
	OnDisconnect(ctx context.Context, ownerID, path string, m Mutation) error
	CancelOnDisconnect(ctx context.Context, ownerID, path string) error
	// Disconnect runs and forgets every cleanup registered by ownerID.
	Disconnect(ctx context.Context, ownerID string) error
}

func SessionPath(code string) string {
	return "sessions/" + code
}

func PresencePath(accountID string) string {
	return "activeSessions/" + accountID
}

// GetJSON reads path into v.
func GetJSON(ctx context.Context, s Store, path string, v any) error {
	raw, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// SetJSON writes v to path as a full overwrite.
func SetJSON(ctx context.Context, s Store, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return s.Set(ctx, path, raw)
}

// Decode unmarshals a change value into v.
func (c Change) Decode(v any) error {
	if c.Deleted || len(c.Value) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(c.Value, v)
}

func watches(watched, path string) bool {
	return path == watched || strings.HasPrefix(path, watched+"/")
}

func mergeFields(existing json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(existing, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %s: %w", k, err)
		}
		obj[k] = raw
	}
	return json.Marshal(obj)
}

// fieldEquals compares one top level field of a JSON object with value.
func fieldEquals(existing json.RawMessage, field string, value any) (bool, error) {
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(existing, &obj); err != nil {
		return false, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	raw, ok := obj[field]
	if !ok {
		return false, nil
	}
	want, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to encode field %s: %w", field, err)
	}
	var got, expected any
	if err := json.Unmarshal(raw, &got); err != nil {
		return false, err
	}
	if err := json.Unmarshal(want, &expected); err != nil {
		return false, err
	}
	return reflect.DeepEqual(got, expected), nil
}

func apply(ctx context.Context, s Store, path string, m Mutation) error {
	switch m.Op {
	case OpSet:
		return s.Set(ctx, path, m.Value)
	case OpPatch:
		return s.Patch(ctx, path, m.Fields)
	case OpDelete:
		if m.IfField != "" {
			_, err := s.DeleteIf(ctx, path, m.IfField, m.IfValue)
			return err
		}
		return s.Delete(ctx, path)
	}
	return fmt.Errorf("unknown mutation %q", m.Op)
}
