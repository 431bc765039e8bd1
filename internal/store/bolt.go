package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/pkg/config"
)

var (
	bucketData  = []byte("snapshots")
	bucketMeta  = []byte("meta")
	bucketOrder = []byte("order")
)

type boltMeta struct {
	SnapshotInfo
	Seq uint64 `json:"seq"`
}

// Bolt keeps snapshots in a local bbolt file. Snapshot payloads, metadata and
// publication order live in separate buckets.
type Bolt struct {
	db     *bolt.DB
	logger *slog.Logger
}

func OpenBolt(cfg config.BoltConfig) (*Bolt, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating bolt directory: %w", err)
		}
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt snapshot store %s: %w", cfg.Path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketData, bucketMeta, bucketOrder} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bolt buckets: %w", err)
	}
	return &Bolt{
		db:     db,
		logger: slog.Default().With("component", "bolt-store"),
	}, nil
}

// Save stores idx and makes it the latest snapshot. Saving content that is
// already stored only moves it to the front.
func (s *Bolt) Save(_ context.Context, idx *searchindex.Index, source string) (SnapshotInfo, error) {
	data, info, err := encode(idx, source)
	if err != nil {
		return SnapshotInfo{}, err
	}
	key := []byte(info.Fingerprint)
	err = s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		order := tx.Bucket(bucketOrder)
		if prev := meta.Get(key); prev != nil {
			var old boltMeta
			if err := json.Unmarshal(prev, &old); err == nil {
				if err := order.Delete(seqKey(old.Seq)); err != nil {
					return err
				}
			}
		}
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		m, err := json.Marshal(boltMeta{SnapshotInfo: info, Seq: seq})
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketData).Put(key, data); err != nil {
			return err
		}
		if err := meta.Put(key, m); err != nil {
			return err
		}
		return order.Put(seqKey(seq), key)
	})
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("saving snapshot: %w", err)
	}
	s.logger.Info("snapshot saved", "fingerprint", info.Fingerprint, "documents", info.Documents, "size", info.Size)
	return info, nil
}

func (s *Bolt) Get(_ context.Context, fingerprint string) (*searchindex.Index, SnapshotInfo, error) {
	var data []byte
	var meta boltMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get([]byte(fingerprint))
		if raw == nil {
			return notFound(fingerprint)
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("decoding snapshot metadata: %w", err)
		}
		// Slices returned by bolt are only valid inside the transaction.
		data = append([]byte(nil), tx.Bucket(bucketData).Get([]byte(fingerprint))...)
		return nil
	})
	if err != nil {
		return nil, SnapshotInfo{}, err
	}
	idx, err := decode(data, fingerprint)
	if err != nil {
		return nil, SnapshotInfo{}, err
	}
	return idx, meta.SnapshotInfo, nil
}

func (s *Bolt) Latest(ctx context.Context) (*searchindex.Index, SnapshotInfo, error) {
	var fingerprint string
	err := s.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(bucketOrder).Cursor().Last()
		if v == nil {
			return notFound("")
		}
		fingerprint = string(v)
		return nil
	})
	if err != nil {
		return nil, SnapshotInfo{}, err
	}
	return s.Get(ctx, fingerprint)
}

// List returns snapshots newest first.
func (s *Bolt) List(_ context.Context, limit int) ([]SnapshotInfo, error) {
	out := make([]SnapshotInfo, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		c := tx.Bucket(bucketOrder).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var m boltMeta
			if err := json.Unmarshal(meta.Get(v), &m); err != nil {
				return fmt.Errorf("decoding snapshot metadata: %w", err)
			}
			out = append(out, m.SnapshotInfo)
		}
		return nil
	})
	return out, err
}

func (s *Bolt) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
