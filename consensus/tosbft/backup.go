package tosbft

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"
)

// UnitSaver appends a locally-produced UncheckedSignedUnit to the
// on-disk backup, strictly before the unit enters the store — this
// guarantees every unit observed by the network has already been
// durably recorded locally.
type UnitSaver interface {
	Save(u UncheckedSignedUnit) error
}

// UnitLoader replays the backup log on restart, before Runway begins
// accepting network input.
type UnitLoader interface {
	Load() ([]UncheckedSignedUnit, error)
}

// LevelDBBackup is a reference UnitSaver/UnitLoader backed by
// goleveldb, keyed by monotonic big-endian sequence number with
// rlp-encoded UncheckedSignedUnits as values — an append-only log of
// signed units, matching section 6's persistence contract exactly and
// nothing more.
type LevelDBBackup struct {
	db  *leveldb.DB
	seq uint64
}

// OpenLevelDBBackup opens (creating if absent) a backup log at path.
func OpenLevelDBBackup(path string) (*LevelDBBackup, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	b := &LevelDBBackup{db: db}
	iter := db.NewIterator(nil, nil)
	for iter.Next() {
		b.seq++
	}
	iter.Release()
	return b, iter.Error()
}

// Close releases the underlying database handle.
func (b *LevelDBBackup) Close() error {
	return b.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Save appends u as the next entry in the log.
func (b *LevelDBBackup) Save(u UncheckedSignedUnit) error {
	enc, err := u.EncodeRLP()
	if err != nil {
		return err
	}
	if err := b.db.Put(seqKey(b.seq), enc, nil); err != nil {
		return err
	}
	b.seq++
	return nil
}

// Load replays every entry in sequence order.
func (b *LevelDBBackup) Load() ([]UncheckedSignedUnit, error) {
	iter := b.db.NewIterator(nil, nil)
	defer iter.Release()
	var out []UncheckedSignedUnit
	for iter.Next() {
		u, err := DecodeUncheckedSignedUnit(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, iter.Error()
}

// StartingRoundProvider resolves the round Runway should begin
// accepting network input at. Its concrete protocol (querying peers
// for their newest-unit-by-me) is named but out of scope (section 1);
// only the one-shot delivery channel is pinned here.
type StartingRoundProvider interface {
	// StartingRound delivers the resolved round exactly once.
	StartingRound() <-chan Round
}

// TrivialStart is the feature-flagged fallback that always yields
// round 0 immediately, matching trivial_start() in the protocol this
// was distilled from.
type TrivialStart struct{}

func (TrivialStart) StartingRound() <-chan Round {
	ch := make(chan Round, 1)
	ch <- 0
	return ch
}
