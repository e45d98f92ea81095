// Package weights converts score maps into bounded integer vote weights and
// keeps the durable record of the last vote submitted.
package weights

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
)

// StorageInterface persists the uid -> weight map between iterations.
type StorageInterface interface {
	Setup() error
	Read() (map[int]int, error)
	Store(weights map[int]int) error
}

// Storage is a sonic-encoded JSON file holding the last submitted weights.
type Storage struct {
	path string
}

func NewStorage(path string) *Storage {
	return &Storage{path: path}
}

// Setup initializes the weights file with an empty map if it does not exist.
// Idempotent.
func (s *Storage) Setup() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat weights file: %w", err)
	}
	return s.Store(map[int]int{})
}

// Read loads the persisted weight map.
func (s *Storage) Read() (map[int]int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read weights file: %w", err)
	}
	var weights map[int]int
	if err := sonic.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("unmarshal weights file: %w", err)
	}
	if weights == nil {
		weights = map[int]int{}
	}
	return weights, nil
}

// Store overwrites the persisted weight map.
func (s *Storage) Store(weights map[int]int) error {
	data, err := sonic.Marshal(weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write weights file: %w", err)
	}
	return nil
}
