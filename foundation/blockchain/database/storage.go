package database

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
)

// FileStorage persists the chain as a single JSON array (chain.json) and
// the account-map cache as an array of [address, account] entries
// (accounts.json), per the persisted state layout. Writes replace the file
// wholesale rather than appending, since the chain is re-serialized in full
// on every commit — the chain file is small enough (bounded by the run's
// lifetime) that this keeps read and write paths symmetric and trivially
// crash-consistent: a torn write leaves the previous file's rename target
// absent, never a half-written chain.json.
type FileStorage struct {
	mu       sync.Mutex
	dataDir  string
	chainPath    string
	accountsPath string
}

// NewFileStorage constructs a FileStorage rooted at dataDir, creating the
// directory if it does not already exist.
func NewFileStorage(dataDir string) (*FileStorage, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	return &FileStorage{
		dataDir:      dataDir,
		chainPath:    filepath.Join(dataDir, "chain.json"),
		accountsPath: filepath.Join(dataDir, "accounts.json"),
	}, nil
}

// ReadChain loads the persisted chain, or an empty chain if chain.json does
// not exist yet.
func (s *FileStorage) ReadChain() ([]Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.chainPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var chain []Block
	if err := json.Unmarshal(content, &chain); err != nil {
		return nil, err
	}

	return chain, nil
}

// WriteChain atomically replaces chain.json with blocks, in commit order.
func (s *FileStorage) WriteChain(blocks []Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeAtomic(s.chainPath, blocks)
}

// accountEntry is one [address, account] pair as persisted to accounts.json.
type accountEntry struct {
	Address crypto.Address `json:"address"`
	Account Account        `json:"account"`
}

// MarshalJSON encodes the entry as a two-element [address, {balance, nonce}]
// array.
func (e accountEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Address, struct {
		Balance uint64 `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}{e.Account.Balance, e.Account.Nonce}})
}

// WriteAccounts atomically replaces accounts.json with the given account
// snapshot. This file is purely a cache: it is never read back into the
// account map directly, only regenerated via Replay against chain.json.
func (s *FileStorage) WriteAccounts(accounts []Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]accountEntry, len(accounts))
	for i, a := range accounts {
		entries[i] = accountEntry{Address: a.Address, Account: a}
	}

	return writeAtomic(s.accountsPath, entries)
}

// writeAtomic marshals v and writes it to path via a temp-file-plus-rename,
// so a crash mid-write never leaves a truncated chain.json on disk.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// MemoryStorage is an in-memory Storage used by tests that don't want disk
// I/O.
type MemoryStorage struct {
	mu       sync.Mutex
	chain    []Block
	accounts []Account
}

// NewMemoryStorage constructs an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) ReadChain() ([]Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Block{}, s.chain...), nil
}

func (s *MemoryStorage) WriteChain(blocks []Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chain = append([]Block{}, blocks...)
	return nil
}

func (s *MemoryStorage) WriteAccounts(accounts []Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = append([]Account{}, accounts...)
	return nil
}
