package store

import (
	"crypto/rand"
	"fmt"
	"os"

	"tt-go/internal/keys"
	"tt-go/internal/track"
)

// keyCheckMetaKey names the store_meta row holding the encrypted sentinel
// used to verify the key file still matches this database.
const keyCheckMetaKey = "key_check"

// OpenResult reports what Open did. When Recovered is true the previous
// database was unreadable and has been replaced by a fresh one; the caller
// should emit a critical diagnostic with Reason.
type OpenResult struct {
	Store     *SQLiteStore
	Key       *keys.StoreKey
	Recovered bool
	Reason    string
}

// Open opens the store at dbPath with the key managed by km, verifying that
// key and database belong together. A missing key or database is created.
// If the sentinel no longer decrypts, or the key file is unreadable, both
// key and database are wiped and recreated: captured data is lost, but the
// device returns to a working state instead of failing every operation.
func Open(dbPath string, km *keys.Manager) (*OpenResult, error) {
	key, err := km.Load()
	switch {
	case err == nil:
		// existing key, verify below
	case !km.Exists():
		if key, err = km.Generate(); err != nil {
			return nil, fmt.Errorf("generating store key: %w", err)
		}
	default:
		return recreate(dbPath, km, fmt.Sprintf("key file unreadable: %v", err))
	}

	st, err := NewSQLiteStore(dbPath)
	if err != nil {
		if track.IsCorruption(err) {
			return recreate(dbPath, km, fmt.Sprintf("database unreadable: %v", err))
		}
		return nil, err
	}

	ok, err := verifySentinel(st, key)
	if err != nil {
		st.Close()
		return nil, err
	}
	if !ok {
		st.Close()
		return recreate(dbPath, km, "key check sentinel did not decrypt with the current key")
	}
	return &OpenResult{Store: st, Key: key}, nil
}

// verifySentinel checks the key against the stored sentinel, writing a new
// sentinel when the store has none yet (fresh database).
func verifySentinel(st *SQLiteStore, key *keys.StoreKey) (bool, error) {
	sentinel, err := st.metaGet(keyCheckMetaKey)
	if err != nil {
		return false, err
	}
	if sentinel == nil {
		return true, writeSentinel(st, key)
	}
	if _, err := key.Open(sentinel); err != nil {
		return false, nil
	}
	return true, nil
}

func writeSentinel(st *SQLiteStore, key *keys.StoreKey) error {
	plain := make([]byte, 32)
	if _, err := rand.Read(plain); err != nil {
		return fmt.Errorf("generating sentinel: %w", err)
	}
	sealed, err := key.Seal(plain)
	if err != nil {
		return fmt.Errorf("sealing sentinel: %w", err)
	}
	return st.metaSet(keyCheckMetaKey, sealed)
}

// recreate wipes key and database and starts over with a fresh pair.
func recreate(dbPath string, km *keys.Manager, reason string) (*OpenResult, error) {
	if err := km.Wipe(); err != nil {
		return nil, fmt.Errorf("wiping store key: %w", err)
	}
	if err := removeDatabase(dbPath); err != nil {
		return nil, fmt.Errorf("removing database: %w", err)
	}

	key, err := km.Generate()
	if err != nil {
		return nil, fmt.Errorf("regenerating store key: %w", err)
	}
	st, err := NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := writeSentinel(st, key); err != nil {
		st.Close()
		return nil, err
	}
	return &OpenResult{Store: st, Key: key, Recovered: true, Reason: reason}, nil
}

func removeDatabase(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
