package db

import (
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

//=========================================== Embedded DB
//
// Grounded in the teacher's pkg/wal and pkg/statemachine, both of which
// open a bbolt file under the user's home directory and create their root
// buckets up front. Here bbolt stands in for "the replicated SQL engine"
// (spec.md's explicit non-goal): a transactional embedded key/value store
// realizes begin/commit/rollback without a SQL parser or query planner.

// NewBoltDatabase opens (creating if needed) a bbolt file at dataDir/file
// and ensures the root buckets this package uses exist.
func NewBoltDatabase(dataDir string, file string, role RoleSource) (*BoltDatabase, error) {
	if mkErr := os.MkdirAll(dataDir, 0700); mkErr != nil {
		return nil, mkErr
	}

	dbPath := filepath.Join(dataDir, file)
	inner, openErr := bolt.Open(dbPath, 0600, nil)
	if openErr != nil {
		return nil, openErr
	}

	db := &BoltDatabase{inner: inner, role: role}
	if upgradeErr := db.UpgradeDatabase(); upgradeErr != nil {
		inner.Close()
		return nil, upgradeErr
	}

	return db, nil
}

// UpgradeDatabase creates the buckets this node's handlers require. It's
// invoked once at startup, mirroring BedrockCore.upgradeDatabase (spec.md
// §4.3) being the one hook plugins get to migrate schema.
func (d *BoltDatabase) UpgradeDatabase() error {
	return d.inner.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{RootBucket, DataBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *BoltDatabase) BeginTransaction() (Transaction, error) {
	tx, err := d.inner.Begin(true)
	if err != nil {
		return nil, err
	}

	d.mutex.Lock()
	forceConflict := d.forceConflictOnce
	d.forceConflictOnce = false
	d.mutex.Unlock()

	return &boltTransaction{tx: tx, forceConflict: forceConflict}, nil
}

func (d *BoltDatabase) IsPrimary() bool {
	return d.role.IsPrimary()
}

func (d *BoltDatabase) Close() error {
	return d.inner.Close()
}

// ForceNextCommitConflict makes the next transaction's Commit return
// ErrCommitConflict instead of actually committing, so tests can exercise
// the CommitConflict retry path (spec.md §7) without real write contention.
func (d *BoltDatabase) ForceNextCommitConflict() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.forceConflictOnce = true
}

type boltTransaction struct {
	tx            *bolt.Tx
	forceConflict bool
	dirty         bool
}

func (t *boltTransaction) Get(bucket, key string) ([]byte, error) {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil, nil
	}

	val := b.Get([]byte(key))
	if val == nil {
		return nil, nil
	}

	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (t *boltTransaction) Put(bucket, key string, value []byte) error {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return os.ErrNotExist
	}

	t.dirty = true
	return b.Put([]byte(key), value)
}

func (t *boltTransaction) Delete(bucket, key string) error {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil
	}

	t.dirty = true
	return b.Delete([]byte(key))
}

func (t *boltTransaction) Commit() error {
	if t.forceConflict {
		t.tx.Rollback()
		return ErrCommitConflict
	}

	return t.tx.Commit()
}

func (t *boltTransaction) Rollback() error {
	return t.tx.Rollback()
}
