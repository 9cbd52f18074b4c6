package conversation

import (
	"encoding/json"
	"fmt"
	"os"
)

// EncodeContext serializes a context as the portable snapshot document:
// pretty-printed JSON with message_type and current_phase as strings.
func EncodeContext(c *Context) ([]byte, error) {
	if c == nil {
		return nil, ErrNoConversation
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	return data, nil
}

// DecodeContext parses a snapshot document and validates its enumerations.
// Any malformed or unknown field fails the whole decode; a partially built
// context is never returned.
func DecodeContext(data []byte) (*Context, error) {
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	return &c, nil
}

// SaveSnapshot writes the active context to path as a JSON snapshot.
func (m *Manager) SaveSnapshot(path string) error {
	if m.current == nil {
		return ErrNoConversation
	}
	data, err := EncodeContext(m.current)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot replaces the active context with the snapshot at path.
// All-or-nothing: on any error the active context is left untouched.
func (m *Manager) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	loaded, err := DecodeContext(data)
	if err != nil {
		return err
	}
	m.adopt(loaded)
	return nil
}
