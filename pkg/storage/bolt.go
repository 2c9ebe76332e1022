package storage

import (
	"bytes"
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/tarnlabs/tarn/pkg/types"
)

// Bolt is a bbolt-backed adapter. Each typed bucket maps onto one bolt
// bucket; objects of every repository share them under compound
// repo + NUL + id keys. bbolt serializes writers, which is what makes
// CompareAndSwap atomic without any locking here.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the database file and ensures all buckets
// exist.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range Buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Bolt{db: db}, nil
}

// Close closes the database.
func (s *Bolt) Close() error {
	return s.db.Close()
}

func boltKey(repo string, id types.ID) []byte {
	k := make([]byte, 0, len(repo)+1+types.IDLen)
	k = append(k, repo...)
	k = append(k, 0)
	k = append(k, id[:]...)
	return k
}

func (s *Bolt) Get(ctx context.Context, repo string, bucket Bucket, id types.ID) ([]byte, error) {
	if err := validateAddr(repo, bucket); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get(boltKey(repo, id))
		if data == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Bolt) GetMany(ctx context.Context, repo string, bucket Bucket, ids []types.ID) ([][]byte, error) {
	if err := validateAddr(repo, bucket); err != nil {
		return nil, err
	}
	out := make([][]byte, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		for i, id := range ids {
			if data := b.Get(boltKey(repo, id)); data != nil {
				out[i] = append([]byte(nil), data...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	return out, nil
}

func (s *Bolt) Put(ctx context.Context, repo string, bucket Bucket, id types.ID, data []byte) error {
	if err := validateAddr(repo, bucket); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		key := boltKey(repo, id)
		if existing := b.Get(key); existing != nil {
			if bytes.Equal(existing, data) {
				return nil
			}
			return ErrAlreadyExists
		}
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("%w: %v", ErrFatal, err)
		}
		return nil
	})
}

func (s *Bolt) Delete(ctx context.Context, repo string, bucket Bucket, id types.ID) error {
	if err := validateAddr(repo, bucket); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		key := boltKey(repo, id)
		if b.Get(key) == nil {
			return ErrNotFound
		}
		if err := b.Delete(key); err != nil {
			return fmt.Errorf("%w: %v", ErrFatal, err)
		}
		return nil
	})
}

func (s *Bolt) CompareAndSwap(ctx context.Context, repo string, bucket Bucket, id types.ID, expected, updated []byte) error {
	if err := validateAddr(repo, bucket); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		key := boltKey(repo, id)
		current := b.Get(key)
		if expected == nil {
			if current != nil {
				return ErrAlreadyExists
			}
		} else {
			if current == nil || !bytes.Equal(current, expected) {
				return ErrCasMismatch
			}
		}
		var err error
		if updated == nil {
			err = b.Delete(key)
		} else {
			err = b.Put(key, updated)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFatal, err)
		}
		return nil
	})
}

func (s *Bolt) Scan(ctx context.Context, repo string, bucket Bucket, prefix []byte, after []byte, limit int) ([]ScanEntry, error) {
	if err := validateAddr(repo, bucket); err != nil {
		return nil, err
	}
	repoPrefix := append(append([]byte(nil), repo...), 0)
	seek := append(append([]byte(nil), repoPrefix...), prefix...)
	var out []ScanEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		for k, v := c.Seek(seek); k != nil; k, v = c.Next() {
			if !bytes.HasPrefix(k, repoPrefix) {
				break
			}
			idBytes := k[len(repoPrefix):]
			if len(prefix) > 0 && !bytes.HasPrefix(idBytes, prefix) {
				break
			}
			if len(after) > 0 && bytes.Compare(idBytes, after) <= 0 {
				continue
			}
			id, err := types.IDFromBytes(idBytes)
			if err != nil {
				return fmt.Errorf("%w: malformed key in bucket %s: %v", ErrFatal, bucket, err)
			}
			out = append(out, ScanEntry{ID: id, Data: append([]byte(nil), v...)})
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
