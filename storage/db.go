package storage

import (
	"errors"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
)

// ErrKeyNotFound is returned by Get when no value is stored under the key.
// Both backends normalise their native miss errors to this sentinel so the
// state layer can distinguish absence from a genuine failure.
var ErrKeyNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store. It allows the
// settlement ledger to run against any backend (in-memory or persistent).
// TrieDB exposes the node database the Merkle trie commits through; every
// handle returned for a given Database shares the same backing store.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	db     *memorydb.Database
	trieDB *triedb.Database
}

func NewMemDB() *MemDB {
	db := memorydb.New()
	return &MemDB{
		db:     db,
		trieDB: triedb.NewDatabase(rawdb.NewDatabase(db), nil),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	return db.db.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	has, err := db.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, ErrKeyNotFound
	}
	return db.db.Get(key)
}

// TrieDB returns the shared trie node database over the in-memory store.
func (db *MemDB) TrieDB() *triedb.Database {
	return db.trieDB
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	db.db.Close()
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db     ethdb.KeyValueStore
	trieDB *triedb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := gethleveldb.New(path, 16, 16, "gavel", false)
	if err != nil {
		return nil, err
	}
	return &LevelDB{
		db:     db,
		trieDB: triedb.NewDatabase(rawdb.NewDatabase(db), nil),
	}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	return value, err
}

// TrieDB returns the shared trie node database over the LevelDB store.
func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.trieDB.Close()
	ldb.db.Close()
}
