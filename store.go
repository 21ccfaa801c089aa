package aasession

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AccountRecord is the durable identity of one installation: the owner key,
// its derived address, and the smart account address constructed from it.
// Written once; an existing record always wins over freshly derived values.
type AccountRecord struct {
	SmartAccountAddress common.Address `json:"smartAccountAddress"`
	OwnerAddress        common.Address `json:"ownerAddress"`
	OwnerPrivateKey     string         `json:"ownerPrivateKey"`
}

// OwnerKey decodes the stored private key.
func (r *AccountRecord) OwnerKey() (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(r.OwnerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid owner private key: %v", ErrStoreCorrupt, err)
	}
	if crypto.PubkeyToAddress(key.PublicKey) != r.OwnerAddress {
		return nil, fmt.Errorf("%w: owner address does not match private key", ErrStoreCorrupt)
	}
	return key, nil
}

// NewAccountRecord derives the owner address from the key and binds it to the
// smart account address.
func NewAccountRecord(key *ecdsa.PrivateKey, smartAccount common.Address) *AccountRecord {
	return &AccountRecord{
		SmartAccountAddress: smartAccount,
		OwnerAddress:        crypto.PubkeyToAddress(key.PublicKey),
		OwnerPrivateKey:     common.Bytes2Hex(crypto.FromECDSA(key)),
	}
}

// RecordStore persists the account record across process runs.
// Implementations must be read-before-use, write-only-if-absent.
type RecordStore interface {
	// Load returns the stored record, or nil when none exists yet.
	Load() (*AccountRecord, error)

	// Persist writes the record if and only if no record exists.
	// A second call is a no-op: the design does not support rotating keys or
	// re-deriving a smart account once one has been recorded.
	Persist(record *AccountRecord) error
}

// FileStore keeps the account record in a JSON file.
type FileStore struct {
	path string
}

var _ RecordStore = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements RecordStore.
func (s *FileStore) Load() (*AccountRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading account record %s: %w", s.path, err)
	}
	var record AccountRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorrupt, s.path, err)
	}
	if record.OwnerPrivateKey == "" {
		return nil, fmt.Errorf("%w: %s: missing owner private key", ErrStoreCorrupt, s.path)
	}
	return &record, nil
}

// Persist implements RecordStore.
func (s *FileStore) Persist(record *AccountRecord) error {
	existing, err := s.Load()
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding account record: %w", err)
	}
	// The file holds a raw private key.
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("error writing account record %s: %w", s.path, err)
	}
	return nil
}

// MemoryStore is an in-memory RecordStore for tests and throwaway sessions.
type MemoryStore struct {
	record *AccountRecord
}

var _ RecordStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements RecordStore.
func (s *MemoryStore) Load() (*AccountRecord, error) {
	if s.record == nil {
		return nil, nil
	}
	clone := *s.record
	return &clone, nil
}

// Persist implements RecordStore.
func (s *MemoryStore) Persist(record *AccountRecord) error {
	if s.record != nil {
		return nil
	}
	clone := *record
	s.record = &clone
	return nil
}
