package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"convert-web/internal/database"
	"convert-web/internal/logging"
)

// RestoreSwitchKey holds the switch that disables restoring stored trees.
const RestoreSwitchKey = "ffmpegWeb-SavePreferences"

// restoreDisabled is the RestoreSwitchKey value that turns restoring off.
const restoreDisabled = "a"

// KV is the backing store. *database.Database implements it.
type KV interface {
	GetPreference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
}

// Cloner is implemented by every tree value so Get can hand out copies that
// share no slices with the stored value.
type Cloner[T any] interface {
	Clone() T
}

// Document is the type-erased view of a tree used by the HTTP API.
type Document interface {
	Key() string
	JSON() ([]byte, error)
	SetJSON(ctx context.Context, data []byte) error
}

// Tree is one persisted option tree.
type Tree[T Cloner[T]] struct {
	kv       KV
	key      string
	defaults func() T
	// decode merges a stored document into the value. Nil uses json.Unmarshal.
	decode func(data []byte, into *T) error

	mu    sync.RWMutex
	value T
	// writeMu orders mutations with their persists, so the stored document
	// always matches the last in-memory change.
	writeMu sync.Mutex
}

// NewTree returns a tree holding defaults() until Load is called.
func NewTree[T Cloner[T]](kv KV, key string, defaults func() T) *Tree[T] {
	return &Tree[T]{
		kv:       kv,
		key:      key,
		defaults: defaults,
		value:    defaults(),
	}
}

// Key returns the storage key.
func (t *Tree[T]) Key() string {
	return t.key
}

// Load resets the tree to its defaults and, unless restoring is disabled,
// merges the stored document over them. A stored document that cannot be
// decoded is logged and ignored.
func (t *Tree[T]) Load(ctx context.Context) error {
	value := t.defaults()

	disabled, err := RestoreDisabled(ctx, t.kv)
	if err != nil {
		return err
	}

	if !disabled {
		raw, err := t.kv.GetPreference(ctx, t.key)
		switch {
		case errors.Is(err, database.ErrNotFound):
		case err != nil:
			return fmt.Errorf("load %s: %w", t.key, err)
		default:
			candidate := value.Clone()
			if decodeErr := t.decodeInto([]byte(raw), &candidate); decodeErr != nil {
				logging.Warn("Failed settings recovery for %s: %v", t.key, decodeErr)
			} else {
				value = candidate
			}
		}
	}

	t.mu.Lock()
	t.value = value
	t.mu.Unlock()
	return nil
}

func (t *Tree[T]) decodeInto(data []byte, into *T) error {
	if t.decode != nil {
		return t.decode(data, into)
	}
	return json.Unmarshal(data, into)
}

// Get returns a copy of the current value.
func (t *Tree[T]) Get() T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.value.Clone()
}

// Update applies fn to the value and persists the result. If persisting
// fails the in-memory change is kept and the error returned.
func (t *Tree[T]) Update(ctx context.Context, fn func(*T)) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	fn(&t.value)
	snapshot := t.value.Clone()
	t.mu.Unlock()

	return t.persist(ctx, snapshot)
}

// Replace swaps the whole value and persists it.
func (t *Tree[T]) Replace(ctx context.Context, value T) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.replaceLocked(ctx, value)
}

// replaceLocked swaps the value and persists it. Caller holds writeMu.
func (t *Tree[T]) replaceLocked(ctx context.Context, value T) error {
	t.mu.Lock()
	t.value = value.Clone()
	t.mu.Unlock()

	return t.persist(ctx, value)
}

// Reset restores the defaults and persists them.
func (t *Tree[T]) Reset(ctx context.Context) error {
	return t.Replace(ctx, t.defaults())
}

func (t *Tree[T]) persist(ctx context.Context, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.key, err)
	}
	if err := t.kv.SetPreference(ctx, t.key, string(data)); err != nil {
		return fmt.Errorf("persist %s: %w", t.key, err)
	}
	return nil
}

// JSON returns the current value encoded as it is stored.
func (t *Tree[T]) JSON() ([]byte, error) {
	return json.Marshal(t.Get())
}

// SetJSON merges a partial document over the current value and persists
// the result. Fields absent from data keep their current value.
func (t *Tree[T]) SetJSON(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	next := t.Get()
	if err := t.decodeInto(data, &next); err != nil {
		return fmt.Errorf("decode %s: %w", t.key, err)
	}
	return t.replaceLocked(ctx, next)
}

// RestoreDisabled reports whether stored trees should be ignored at load.
func RestoreDisabled(ctx context.Context, kv KV) (bool, error) {
	value, err := kv.GetPreference(ctx, RestoreSwitchKey)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", RestoreSwitchKey, err)
	}
	return value == restoreDisabled, nil
}

// SetRestoreDisabled turns restoring stored trees off or on.
func SetRestoreDisabled(ctx context.Context, kv KV, disabled bool) error {
	value := "b"
	if disabled {
		value = restoreDisabled
	}
	return kv.SetPreference(ctx, RestoreSwitchKey, value)
}
