// Package history keeps a local record of opened orders so their status can be
// tracked again after the CLI exits.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"solvernet-order/pkg/types"
)

const (
	DefaultFileName = ".solvernet-orders.json"
)

// Record is one opened order
type Record struct {
	OrderID      string                `json:"order_id"`
	AttemptID    string                `json:"attempt_id"`
	TxHash       string                `json:"tx_hash"`
	SrcChainID   uint64                `json:"src_chain_id"`
	DestChainID  uint64                `json:"dest_chain_id"`
	FromBlock    uint64                `json:"from_block"`
	Deposit      string                `json:"deposit"`
	Expense      string                `json:"expense"`
	Status       types.ExecutionStatus `json:"status"`
	RejectReason string                `json:"reject_reason,omitempty"`
	Created      time.Time             `json:"created"`
	Updated      time.Time             `json:"updated"`
}

type fileFormat struct {
	Orders map[string]*Record `json:"orders"`
}

// Store persists records as a JSON file
type Store struct {
	filePath string
	mu       sync.RWMutex
	orders   map[string]*Record
}

// NewStore opens the store at filePath, defaulting to the home directory
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}

	s := &Store{
		filePath: filePath,
		orders:   make(map[string]*Record),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load order history: %w", err)
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal orders: %w", err)
	}
	if f.Orders != nil {
		s.orders = f.Orders
	}
	return nil
}

// save writes all records. Must hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(fileFormat{Orders: s.orders}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal orders: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write then rename so a crash never leaves a truncated file.
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write orders: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Put adds or replaces the record for r.OrderID
func (s *Store) Put(r Record) error {
	if r.OrderID == "" {
		return fmt.Errorf("order id is required")
	}
	key := strings.ToLower(r.OrderID)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[key]; ok && r.Created.IsZero() {
		r.Created = existing.Created
	}
	if r.Created.IsZero() {
		r.Created = now
	}
	r.Updated = now
	s.orders[key] = &r
	return s.save()
}

// SetStatus records a new status for an existing order
func (s *Store) SetStatus(orderID string, status types.ExecutionStatus, rejectReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.orders[strings.ToLower(orderID)]
	if !ok {
		return fmt.Errorf("order '%s' not found", orderID)
	}
	r.Status = status
	r.RejectReason = rejectReason
	r.Updated = time.Now().UTC()
	return s.save()
}

// Get returns a copy of the record for orderID
func (s *Store) Get(orderID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.orders[strings.ToLower(orderID)]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// List returns all records, newest first
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.orders))
	for _, r := range s.orders {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Created.After(out[j].Created)
	})
	return out
}

// Pending returns the records still waiting for a fill or rejection
func (s *Store) Pending() []Record {
	var out []Record
	for _, r := range s.List() {
		if !r.Status.Terminal() {
			out = append(out, r)
		}
	}
	return out
}

// Path returns the backing file
func (s *Store) Path() string {
	return s.filePath
}
