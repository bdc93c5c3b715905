package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var transcriptsBucket = []byte("transcripts")

// BoltBackend keeps one JSON-encoded transcript per user key in a bbolt file.
type BoltBackend struct {
	db   *bolt.DB
	path string
}

// OpenBoltBackend opens (or creates) the bolt file at path.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create bolt directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt file %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transcriptsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &BoltBackend{db: db, path: path}, nil
}

// Load decodes every user record. A record that is not a valid transcript
// fails the whole load.
func (b *BoltBackend) Load(ctx context.Context) (Snapshot, error) {
	snapshot := make(Snapshot)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(transcriptsBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			t, err := decodeTranscript(v)
			if err != nil {
				return &PersistenceError{Source: b.path, Err: fmt.Errorf("user %s: %w", k, err)}
			}
			snapshot[string(k)] = t
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Save recreates the bucket so it reflects snapshot exactly.
func (b *BoltBackend) Save(ctx context.Context, snapshot Snapshot) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(transcriptsBucket) != nil {
			if err := tx.DeleteBucket(transcriptsBucket); err != nil {
				return err
			}
		}
		bucket, err := tx.CreateBucket(transcriptsBucket)
		if err != nil {
			return err
		}
		for userID, t := range snapshot {
			enc, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(userID), enc); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveUser rewrites a single user record; an empty transcript deletes it.
func (b *BoltBackend) SaveUser(ctx context.Context, userID string, t Transcript) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(transcriptsBucket)
		if err != nil {
			return err
		}
		if len(t) == 0 {
			return bucket.Delete([]byte(userID))
		}
		enc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(userID), enc)
	})
}

// Close releases the bolt file lock.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

func decodeTranscript(data []byte) (Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

var _ UserBackend = (*BoltBackend)(nil)
