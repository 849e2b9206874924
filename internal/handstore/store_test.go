package handstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/hand"
	"github.com/fpang/hand-extractor/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(io.Discard)
	m.Run()
}

type fakeDB struct {
	execs   []string
	begins  int
	txs     []*fakeTx
	failOn  string
	nextID  int64
	players map[string]int64
}

func newFakeDB() *fakeDB { return &fakeDB{players: make(map[string]int64)} }

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	f.begins++
	tx := &fakeTx{db: f}
	f.txs = append(f.txs, tx)
	return tx, nil
}

// fakeTx implements the pgx.Tx methods the store calls; the rest panic
// through the nil embedded interface.
type fakeTx struct {
	pgx.Tx
	db         *fakeDB
	queries    []string
	batched    []*pgx.QueuedQuery
	committed  bool
	rolledBack bool
}

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.id
	return nil
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.queries = append(t.queries, sql)
	if t.db.failOn != "" && strings.Contains(sql, t.db.failOn) {
		return fakeRow{err: &pgconn.PgError{Code: "23502", Message: "null value"}}
	}
	if strings.Contains(sql, "INTO players") {
		norm := args[1].(string)
		if id, ok := t.db.players[norm]; ok {
			return fakeRow{id: id}
		}
		t.db.nextID++
		t.db.players[norm] = t.db.nextID
		return fakeRow{id: t.db.nextID}
	}
	t.db.nextID++
	return fakeRow{id: t.db.nextID}
}

type fakeBatch struct{ n, done int }

func (b *fakeBatch) Exec() (pgconn.CommandTag, error) { b.done++; return pgconn.CommandTag{}, nil }
func (b *fakeBatch) Query() (pgx.Rows, error)         { return nil, errors.New("unused") }
func (b *fakeBatch) QueryRow() pgx.Row                { return fakeRow{err: errors.New("unused")} }
func (b *fakeBatch) Close() error                     { return nil }

func (t *fakeTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	t.batched = append(t.batched, b.QueuedQueries...)
	return &fakeBatch{n: b.Len()}
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

func TestEnsureSchema(t *testing.T) {
	db := newFakeDB()
	if err := NewPGStore(db).EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS hand_actions") {
		t.Errorf("schema exec = %v", db.execs)
	}
}

func TestSaveHands(t *testing.T) {
	db := newFakeDB()
	s := NewPGStore(db)
	h := decode(t)
	other := hand.Hand{Number: "43", Players: []hand.Player{{Name: "Tom Dwan"}}}

	res, err := s.SaveHands(context.Background(), "7b1e7a52-8d0c-4c57-9a55-3f4f4d1d2e10", "run-1", []hand.Hand{h, other})
	if err != nil {
		t.Fatalf("SaveHands: %v", err)
	}
	if res.Saved != 2 || res.Errors != 0 || res.SkippedActions != 1 {
		t.Errorf("result = %+v", res)
	}
	if db.begins != 2 || !db.txs[0].committed || !db.txs[1].committed {
		t.Error("each hand should commit its own transaction")
	}
	// 2 players + 3 actions.
	if got := len(db.txs[0].batched); got != 5 {
		t.Errorf("batched rows = %d, want 5", got)
	}
	if len(db.players) != 2 {
		t.Errorf("players = %v, want Ivey and Dwan once each", db.players)
	}
	dwanID := db.players["tomdwan"]
	if args := db.txs[1].batched[0].Arguments; args[1] != dwanID {
		t.Errorf("second hand should reuse player id %d, got %v", dwanID, args[1])
	}
}

func TestSaveHands_FailuresAreCounted(t *testing.T) {
	db := newFakeDB()
	db.failOn = "INTO hands"
	s := NewPGStore(db)

	res, err := s.SaveHands(context.Background(), "s", "run-1", []hand.Hand{decode(t), decode(t)})
	if res.Errors != 2 || res.Saved != 0 {
		t.Errorf("result = %+v", res)
	}
	if err == nil || failure.Classify(err) != failure.Transient {
		t.Errorf("err = %v", err)
	}
	for _, tx := range db.txs {
		if !tx.rolledBack || tx.committed {
			t.Error("failed hand must roll back")
		}
	}
}

func TestSaveHands_Empty(t *testing.T) {
	res, err := NewPGStore(newFakeDB()).SaveHands(context.Background(), "s", "run-1", nil)
	if err != nil || res.Total != 0 {
		t.Errorf("res = %+v, err = %v", res, err)
	}
}
