// Package roster stores the owner accounts allowed to drive the operator
// commands. It backs plugin.OwnerFilter in the modgate host.
package roster

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	bbolt "go.etcd.io/bbolt"
)

const (
	fileMode   os.FileMode = 0o600
	bucketName             = "owners"
)

var (
	openTimeout    = 5 * time.Second
	defaultOptions = &bbolt.Options{Timeout: openTimeout}

	// ErrClosed is returned when operating on a closed roster.
	ErrClosed = errors.New("roster: closed")
)

// Owner is a roster entry.
type Owner struct {
	ID    int64
	Added time.Time
}

// Roster is a bbolt-backed owner set.
//
// bbolt allows one writer and many readers; only the close state is guarded
// here. IsOwner is safe to call from event handlers.
type Roster struct {
	db     *bbolt.DB
	bucket []byte
	closed atomic.Bool
}

// Open opens or creates the roster database at path.
func Open(path string) (*Roster, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("roster: create directory: %w", err)
	}

	opts := *defaultOptions
	db, err := bbolt.Open(path, fileMode, &opts)
	if err != nil {
		return nil, fmt.Errorf("roster: opening boltdb: %w", err)
	}

	bucket := []byte(bucketName)
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucket)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("roster: initializing bucket: %w", err)
	}

	return &Roster{db: db, bucket: bucket}, nil
}

// IsOwner reports whether id is on the roster. Read errors count as not an
// owner.
func (r *Roster) IsOwner(id int64) bool {
	if r.closed.Load() {
		return false
	}

	var found bool
	_ = r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.bucket)
		if b == nil {
			return nil
		}
		found = b.Get(idKey(id)) != nil
		return nil
	})
	return found
}

// Add puts id on the roster. Adding an existing owner keeps its original
// timestamp.
func (r *Roster) Add(ctx context.Context, id int64) error {
	if err := r.check(ctx); err != nil {
		return err
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		b, err := r.bucketOf(tx)
		if err != nil {
			return err
		}
		key := idKey(id)
		if b.Get(key) != nil {
			return nil
		}
		stamp, err := time.Now().UTC().MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(key, stamp)
	})
}

// Remove takes id off the roster. Removing an absent id is not an error.
func (r *Roster) Remove(ctx context.Context, id int64) error {
	if err := r.check(ctx); err != nil {
		return err
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		b, err := r.bucketOf(tx)
		if err != nil {
			return err
		}
		return b.Delete(idKey(id))
	})
}

// List returns every owner, ordered by id.
func (r *Roster) List(ctx context.Context) ([]Owner, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}

	var owners []Owner
	err := r.db.View(func(tx *bbolt.Tx) error {
		b, err := r.bucketOf(tx)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			o := Owner{ID: keyID(k)}
			if err := o.Added.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("roster: owner %d: %w", o.ID, err)
			}
			owners = append(owners, o)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return owners, nil
}

// Close releases the database.
func (r *Roster) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.db.Close()
}

func (r *Roster) check(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (r *Roster) bucketOf(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	b := tx.Bucket(r.bucket)
	if b == nil {
		return nil, fmt.Errorf("roster: bucket %q missing", r.bucket)
	}
	return b, nil
}

// idKey encodes id so that byte order matches numeric order, negative ids
// included.
func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id)^(1<<63))
	return key
}

func keyID(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key) ^ (1 << 63))
}
