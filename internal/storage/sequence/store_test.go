package sequence_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/storage/repository"
	"github.com/vladislavdragonenkov/podoms/internal/storage/sequence"
	"github.com/vladislavdragonenkov/podoms/internal/storage/sqlite"
)

func newStore(t *testing.T) (*sequence.Store, *sqlite.Store) {
	t.Helper()
	db, err := sqlite.OpenInMemory(context.Background())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return sequence.NewStore(db.DB()), db
}

func TestReserveNextStartsAtOneAndIncrements(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.ReserveNext(ctx, "BOAB", nil)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}

	other, err := store.ReserveNext(ctx, "BOCD", nil)
	if err != nil {
		t.Fatalf("reserve other key: %v", err)
	}
	if other != 1 {
		t.Fatalf("keys must be independent, got %d", other)
	}

	current, err := store.Current(ctx, "BOAB")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current != 3 {
		t.Fatalf("expected current 3, got %d", current)
	}
}

func TestReserveNextConcurrentCallersGetDistinctNumbers(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	const n = 25

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs []int64
	)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := store.ReserveNext(ctx, "BOXY", nil)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			seqs = append(seqs, seq)
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("reserve: %v", err)
	}

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	if len(seqs) != n {
		t.Fatalf("expected %d reservations, got %d", n, len(seqs))
	}
	for i, seq := range seqs {
		if seq != int64(i+1) {
			t.Fatalf("expected contiguous set 1..%d, got %v", n, seqs)
		}
	}
}

func TestReserveNextRollsBackWithSession(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	if _, err := store.ReserveNext(ctx, "BOAB", nil); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	abort := errors.New("abort")
	err := repository.RunInTx(ctx, db.DB(), func(ctx context.Context, s *repository.Session) error {
		seq, err := store.ReserveNext(ctx, "BOAB", s)
		if err != nil {
			return err
		}
		if seq != 2 {
			t.Errorf("expected 2 inside session, got %d", seq)
		}
		return abort
	})
	if !errors.Is(err, domain.ErrTransactionAborted) || !errors.Is(err, abort) {
		t.Fatalf("expected aborted transaction, got %v", err)
	}

	current, err := store.Current(ctx, "BOAB")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current != 1 {
		t.Fatalf("reservation must roll back with the session, got %d", current)
	}
}

func TestReserveNextRejectsEmptyKey(t *testing.T) {
	store, _ := newStore(t)
	if _, err := store.ReserveNext(context.Background(), "", nil); !errors.Is(err, domain.ErrProgramming) {
		t.Fatalf("expected programming error, got %v", err)
	}
}

func TestCurrentMissingKey(t *testing.T) {
	store, _ := newStore(t)
	got, err := store.Current(context.Background(), "nope")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected 0 for missing key, got %d", got)
	}
}
