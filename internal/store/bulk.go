package store

import (
	"database/sql"
	"fmt"

	"github.com/robelix/miro/internal/schema"
)

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opRemove
)

// pendingOp is one queued mutation inside a bulk window. Ops are
// applied in queue order at flush; a cancelled op is skipped.
type pendingOp struct {
	kind      opKind
	table     string
	obj       schema.Object
	id        int64
	cancelled bool
}

// bulkBatch holds the mutation queue for an open bulk window. byKey
// tracks the latest live op per object so later mutations can fold into
// or cancel earlier ones.
type bulkBatch struct {
	queue []*pendingOp
	byKey map[identityKey]*pendingOp
}

func newBulkBatch() *bulkBatch {
	return &bulkBatch{byKey: make(map[identityKey]*pendingOp)}
}

func (b *bulkBatch) addInsert(table string, obj schema.Object) {
	op := &pendingOp{kind: opInsert, table: table, obj: obj, id: obj.ObjectID()}
	b.queue = append(b.queue, op)
	b.byKey[identityKey{table, op.id}] = op
}

func (b *bulkBatch) addUpdate(table string, obj schema.Object) {
	key := identityKey{table, obj.ObjectID()}
	if op, ok := b.byKey[key]; ok && !op.cancelled && op.kind != opRemove {
		// A pending insert or update serializes the object's state at
		// flush time, so the new values are already covered.
		return
	}
	op := &pendingOp{kind: opUpdate, table: table, obj: obj, id: obj.ObjectID()}
	b.queue = append(b.queue, op)
	b.byKey[key] = op
}

func (b *bulkBatch) addRemove(table string, obj schema.Object) {
	key := identityKey{table, obj.ObjectID()}
	if op, ok := b.byKey[key]; ok && !op.cancelled {
		op.cancelled = true
		if op.kind == opInsert {
			// Insert plus remove in the same window: the row never
			// reaches disk at all.
			delete(b.byKey, key)
			return
		}
	}
	op := &pendingOp{kind: opRemove, table: table, obj: obj, id: obj.ObjectID()}
	b.queue = append(b.queue, op)
	b.byKey[key] = op
}

// StartBulk opens a bulk window: subsequent Insert/Update/Remove calls
// are queued and committed together by FinishBulk.
func (s *Store) StartBulk() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.bulk != nil {
		return ErrBulkActive
	}
	s.bulk = newBulkBatch()
	return nil
}

// FinishBulk flushes the queued mutations in one transaction and closes
// the bulk window. On error the transaction is rolled back, the queue
// is discarded, and queued inserts leave the identity map so cached
// instances never outlive a row that was rolled back.
func (s *Store) FinishBulk() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.bulk == nil {
		return ErrNotBulk
	}
	err := s.flushBulkLocked()
	s.bulk = nil
	return err
}

// InBulk reports whether a bulk window is open.
func (s *Store) InBulk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bulk != nil
}

// flushInserter is the Inserter handed to OnInserted callbacks during a
// bulk flush. It appends straight onto the queue being drained, so the
// new rows land in the same transaction. Called with the store lock
// held.
type flushInserter struct {
	s *Store
	b *bulkBatch
}

func (fi *flushInserter) Insert(obj schema.Object) error {
	sch, err := fi.s.schemaFor(obj)
	if err != nil {
		return err
	}
	if obj.ObjectID() <= 0 {
		return fmt.Errorf("insert into %s: object has no id (use MakeNewID)", sch.Table)
	}
	fi.b.addInsert(sch.Table, obj)
	fi.s.identity.remember(sch.Table, obj)
	return nil
}

// flushBulkLocked drains the queue inside one transaction. The loop
// re-checks the queue length each pass because OnInserted callbacks may
// append further inserts while it runs.
func (s *Store) flushBulkLocked() error {
	b := s.bulk
	if b == nil || len(b.queue) == 0 {
		return nil
	}
	fi := &flushInserter{s: s, b: b}
	err := s.withTx(func(tx *sql.Tx) error {
		for i := 0; i < len(b.queue); i++ {
			op := b.queue[i]
			if op.cancelled {
				continue
			}
			sch, ok := s.reg.ByTable(op.table)
			if !ok {
				return fmt.Errorf("no schema registered for table %q", op.table)
			}
			switch op.kind {
			case opInsert:
				if err := s.execInsert(tx, sch, op.obj); err != nil {
					return err
				}
				if notifier, ok := op.obj.(InsertNotifier); ok {
					if err := notifier.OnInserted(fi); err != nil {
						return fmt.Errorf("insert notification for %s (id %d): %w",
							op.table, op.id, err)
					}
				}
			case opUpdate:
				if err := s.execUpdate(tx, sch, op.obj); err != nil {
					return err
				}
			case opRemove:
				if err := s.execDelete(tx, op.table, op.id); err != nil {
					return err
				}
			}
		}
		return s.persistLastID(tx)
	})
	if err != nil {
		// The rollback dropped every queued insert, so the instances
		// registered at mutation time no longer have rows behind them.
		for _, op := range b.queue {
			if op.kind == opInsert && !op.cancelled {
				s.identity.forget(op.table, op.obj)
			}
		}
	}
	b.queue = nil
	b.byKey = make(map[identityKey]*pendingOp)
	return err
}
