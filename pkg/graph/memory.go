package graph

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied reports a read or write outside a view's declared keys.
var ErrPermissionDenied = errors.New("permission_denied")

// SharedMemory is the key-value blackboard shared by the nodes of one run.
// It is owned by a single executor and never mutated concurrently; access
// from nodes goes through permission-scoped views.
type SharedMemory struct {
	values map[string]any
}

func NewSharedMemory() *SharedMemory {
	return &SharedMemory{values: map[string]any{}}
}

// NewSharedMemoryFrom seeds the blackboard, copying the given map.
func NewSharedMemoryFrom(values map[string]any) *SharedMemory {
	m := NewSharedMemory()
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *SharedMemory) Read(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// ReadAll returns a copy of the full blackboard.
func (m *SharedMemory) ReadAll() map[string]any {
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

func (m *SharedMemory) Write(key string, value any) {
	m.values[key] = value
}

// WithPermissions returns a view restricted to the given read and write key
// sets. The view is a short-lived capability handed to one node execution.
func (m *SharedMemory) WithPermissions(readKeys, writeKeys []string) *View {
	v := &View{
		mem:       m,
		readKeys:  make(map[string]bool, len(readKeys)),
		writeKeys: make(map[string]bool, len(writeKeys)),
	}
	for _, k := range readKeys {
		v.readKeys[k] = true
	}
	for _, k := range writeKeys {
		v.writeKeys[k] = true
	}
	return v
}

// View mediates a node's access to shared memory.
type View struct {
	mem       *SharedMemory
	readKeys  map[string]bool
	writeKeys map[string]bool
}

func (v *View) Read(key string) (any, error) {
	if !v.readKeys[key] {
		return nil, fmt.Errorf("read %q: %w", key, ErrPermissionDenied)
	}
	value, _ := v.mem.Read(key)
	return value, nil
}

// ReadAll returns the permitted subset of the blackboard.
func (v *View) ReadAll() map[string]any {
	out := make(map[string]any, len(v.readKeys))
	for key := range v.readKeys {
		if value, ok := v.mem.Read(key); ok {
			out[key] = value
		}
	}
	return out
}

func (v *View) Write(key string, value any) error {
	if !v.writeKeys[key] {
		return fmt.Errorf("write %q: %w", key, ErrPermissionDenied)
	}
	v.mem.Write(key, value)
	return nil
}

// CanWrite reports whether the view permits writing the key.
func (v *View) CanWrite(key string) bool {
	return v.writeKeys[key]
}
