package preferences

import (
	"context"
	"slices"
)

// Store groups every option tree behind one backend.
type Store struct {
	Conversion *Tree[ConversionOptions]
	Merge      *Tree[MergeOptions]
	Metadata   *Tree[MetadataOptions]
	Input      *Tree[InputOptions]
	Settings   *Tree[Settings]

	byName map[string]Document
}

// NewStore builds the trees with their defaults. Call Load to restore.
func NewStore(kv KV) *Store {
	s := &Store{
		Conversion: NewTree(kv, ConversionKey, DefaultConversionOptions),
		Merge:      NewTree(kv, MergeKey, DefaultMergeOptions),
		Metadata:   NewTree(kv, MetadataKey, DefaultMetadataOptions),
		Input:      NewTree(kv, InputKey, DefaultInputOptions),
		Settings:   NewTree(kv, SettingsKey, DefaultSettings),
	}
	s.Input.decode = decodeInputs

	s.byName = map[string]Document{
		"conversion": s.Conversion,
		"merge":      s.Merge,
		"metadata":   s.Metadata,
		"input":      s.Input,
		"settings":   s.Settings,
	}
	return s
}

// Open builds a store and loads every tree.
func Open(ctx context.Context, kv KV) (*Store, error) {
	s := NewStore(kv)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load restores every tree from the backend.
func (s *Store) Load(ctx context.Context) error {
	loaders := []interface{ Load(context.Context) error }{
		s.Conversion, s.Merge, s.Metadata, s.Input, s.Settings,
	}
	for _, l := range loaders {
		if err := l.Load(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the tree registered under a short name such as
// "settings" or "conversion".
func (s *Store) Lookup(name string) (Document, bool) {
	doc, ok := s.byName[name]
	return doc, ok
}

// Names lists the short names accepted by Lookup, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
