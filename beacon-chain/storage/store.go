// Package storage implements the optional checkpoint persistence named
// in spec.md §6: "optional checkpoints may store { blockTree,
// beaconState, worldState } as a tagged graph. Identity keys are block
// hashes and validator addresses." It is never required for the
// simulator to run: the in-memory BlockTree/BeaconState/WorldState
// triple is authoritative, and this store only gives bbolt a real,
// exercised home for whichever run wants a persisted checkpoint.
//
// The bucket-per-concern layout (open db, CreateBucketIfNotExists per
// kind, Update/View transactions) follows beacon-chain/db/kv/kv.go and
// beacon-chain/db/kv/blocks.go, adapted from protobuf-marshaled
// buckets to gob, since this simulator's types are plain structs
// rather than generated proto messages.
package storage

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/ethsim/beaconsim/beacon-chain/execution"
	"github.com/ethsim/beaconsim/beacon-chain/types"
)

var log = logrus.WithField("prefix", "storage")

const databaseFileName = "beaconsim.db"

var (
	blocksBucket   = []byte("blocks")
	accountsBucket = []byte("accounts")
	metaBucket     = []byte("meta")

	headKey            = []byte("head")
	justifiedKey       = []byte("justified")
	previousJustKey    = []byte("previousJustified")
	finalizedKey       = []byte("finalized")
)

// Store is a bbolt-backed checkpoint store for the three consensus-core
// state layers.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// Open creates (if needed) and opens a Store at dirPath, creating every
// bucket the schema needs, mirroring NewKVStore.
func Open(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := filepath.Join(dirPath, databaseFileName)
	db, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "could not open bbolt database")
	}
	s := &Store{db: db, databasePath: dirPath}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{blocksBucket, accountsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBlock persists one block, keyed by its hash.
func (s *Store) SaveBlock(block *types.Block) error {
	hash := block.Hash()
	enc, err := encode(block)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).Put(hash[:], enc)
	})
}

// Block retrieves a previously saved block by hash.
func (s *Store) Block(hash [32]byte) (*types.Block, bool, error) {
	var block types.Block
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(blocksBucket).Get(hash[:])
		if raw == nil {
			return nil
		}
		found = true
		return decode(raw, &block)
	})
	return &block, found, err
}

// SaveAccount persists one world-state account, keyed by its address.
func (s *Store) SaveAccount(addr common.Address, acc execution.Account) error {
	enc, err := encode(acc)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(accountsBucket).Put(addr.Bytes(), enc)
	})
}

// Account retrieves a previously saved account by address.
func (s *Store) Account(addr common.Address) (execution.Account, bool, error) {
	var acc execution.Account
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(accountsBucket).Get(addr.Bytes())
		if raw == nil {
			return nil
		}
		found = true
		return decode(raw, &acc)
	})
	return acc, found, err
}

// SaveCheckpoints persists the head hash and the three FFG checkpoints
// in one transaction.
func (s *Store) SaveCheckpoints(head [32]byte, justified, previousJustified, finalized types.Checkpoint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(metaBucket)
		if err := bkt.Put(headKey, head[:]); err != nil {
			return err
		}
		for key, cp := range map[string]types.Checkpoint{
			string(justifiedKey):    justified,
			string(previousJustKey): previousJustified,
			string(finalizedKey):    finalized,
		} {
			enc, err := encode(cp)
			if err != nil {
				return err
			}
			if err := bkt.Put([]byte(key), enc); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadCheckpoints reads back the persisted head hash and FFG
// checkpoints; ok is false if nothing has been saved yet.
func (s *Store) LoadCheckpoints() (head [32]byte, justified, previousJustified, finalized types.Checkpoint, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(metaBucket)
		raw := bkt.Get(headKey)
		if raw == nil {
			return nil
		}
		ok = true
		copy(head[:], raw)
		if v := bkt.Get(justifiedKey); v != nil {
			if err := decode(v, &justified); err != nil {
				return err
			}
		}
		if v := bkt.Get(previousJustKey); v != nil {
			if err := decode(v, &previousJustified); err != nil {
				return err
			}
		}
		if v := bkt.Get(finalizedKey); v != nil {
			if err := decode(v, &finalized); err != nil {
				return err
			}
		}
		return nil
	})
	return head, justified, previousJustified, finalized, ok, err
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "could not gob-encode value")
	}
	return buf.Bytes(), nil
}

func decode(raw []byte, dest interface{}) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(dest)
}
