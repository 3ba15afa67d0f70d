package reorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"stackd/api/internal/ranking"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type rankCall struct {
	collection string
	itemID     string
	rank       float64
}

type fakeRemote struct {
	listAllFn    func(context.Context, string) ([]ranking.Item, error)
	updateRankFn func(context.Context, string, string, float64) error

	mu      sync.Mutex
	lists   int
	updates []rankCall
}

func (f *fakeRemote) ListAll(ctx context.Context, collection string) ([]ranking.Item, error) {
	f.mu.Lock()
	f.lists++
	f.mu.Unlock()
	if f.listAllFn != nil {
		return f.listAllFn(ctx, collection)
	}
	return nil, nil
}

func (f *fakeRemote) UpdateRank(ctx context.Context, collection, itemID string, rank float64) error {
	f.mu.Lock()
	f.updates = append(f.updates, rankCall{collection: collection, itemID: itemID, rank: rank})
	f.mu.Unlock()
	if f.updateRankFn != nil {
		return f.updateRankFn(ctx, collection, itemID, rank)
	}
	return nil
}

func (f *fakeRemote) calls() []rankCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rankCall(nil), f.updates...)
}

func listOf(items ...ranking.Item) func(context.Context, string) ([]ranking.Item, error) {
	return func(context.Context, string) ([]ranking.Item, error) {
		return ranking.Clone(items), nil
	}
}

func snapshotIDs(items []ranking.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func rankByID(items []ranking.Item) map[string]float64 {
	out := make(map[string]float64, len(items))
	for _, item := range items {
		out[item.ID] = item.Rank
	}
	return out
}

func openSession(t *testing.T, remote *fakeRemote, opts ...Option) *Session {
	t.Helper()
	s := New(remote, opts...)
	require.NoError(t, s.Open(context.Background(), "certifications"))
	require.Equal(t, StateReady, s.State())
	return s
}

func TestOpenSortsSnapshotByRank(t *testing.T) {
	remote := &fakeRemote{listAllFn: listOf(
		ranking.Item{ID: "B", Rank: 2000, Payload: map[string]any{"title": "Bee"}},
		ranking.Item{ID: "C", Rank: 3000},
		ranking.Item{ID: "A", Rank: 1000},
	)}
	s := openSession(t, remote)

	items := s.Items()
	assert.Equal(t, []string{"A", "B", "C"}, snapshotIDs(items))
	assert.Equal(t, "Bee", items[1].Payload["title"])
	assert.Equal(t, "certifications", s.Collection())
	assert.Equal(t, 1, remote.lists)
}

func TestOpenFailureLeavesSessionIdle(t *testing.T) {
	boom := errors.New("connection refused")
	remote := &fakeRemote{listAllFn: func(context.Context, string) ([]ranking.Item, error) {
		return nil, boom
	}}
	s := New(remote)

	err := s.Open(context.Background(), "testimonials")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoadFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.Items())

	var reorderErr *Error
	require.ErrorAs(t, err, &reorderErr)
	assert.Equal(t, "testimonials", reorderErr.Collection)
}

func TestReopenResynchronises(t *testing.T) {
	calls := 0
	remote := &fakeRemote{listAllFn: func(context.Context, string) ([]ranking.Item, error) {
		calls++
		if calls == 1 {
			return []ranking.Item{{ID: "A", Rank: 1}}, nil
		}
		return []ranking.Item{{ID: "A", Rank: 1}, {ID: "B", Rank: 2}}, nil
	}}
	s := openSession(t, remote)
	require.NoError(t, s.Open(context.Background(), "certifications"))
	assert.Equal(t, []string{"A", "B"}, snapshotIDs(s.Items()))
}

func TestMoveToFrontPersistsSingleRank(t *testing.T) {
	remote := &fakeRemote{listAllFn: listOf(
		ranking.Item{ID: "A", Rank: 1000},
		ranking.Item{ID: "B", Rank: 2000},
		ranking.Item{ID: "C", Rank: 3000},
	)}
	s := openSession(t, remote)

	require.NoError(t, s.Move(context.Background(), "C", 2, 0))

	items := s.Items()
	assert.Equal(t, []string{"C", "A", "B"}, snapshotIDs(items))
	assert.Equal(t, map[string]float64{"C": 0, "A": 1000, "B": 2000}, rankByID(items))
	assert.Equal(t, []rankCall{{collection: "certifications", itemID: "C", rank: 0}}, remote.calls())
	assert.Equal(t, StateReady, s.State())
	assert.Empty(t, s.Busy())
}

func TestMoveToEndPersistsSingleRank(t *testing.T) {
	remote := &fakeRemote{listAllFn: listOf(
		ranking.Item{ID: "A", Rank: 1000},
		ranking.Item{ID: "B", Rank: 2000},
		ranking.Item{ID: "C", Rank: 3000},
	)}
	s := openSession(t, remote)

	require.NoError(t, s.Move(context.Background(), "A", 0, 2))
	assert.Equal(t, []string{"B", "C", "A"}, snapshotIDs(s.Items()))
	assert.Equal(t, []rankCall{{collection: "certifications", itemID: "A", rank: 4000}}, remote.calls())
}

func TestMoveFailureRevertsSnapshot(t *testing.T) {
	remote := &fakeRemote{
		listAllFn: listOf(
			ranking.Item{ID: "A", Rank: 1000},
			ranking.Item{ID: "B", Rank: 2000},
			ranking.Item{ID: "C", Rank: 3000},
		),
		updateRankFn: func(context.Context, string, string, float64) error {
			return errors.New("503 service unavailable")
		},
	}
	s := openSession(t, remote)
	before := s.Items()

	err := s.Move(context.Background(), "A", 0, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMoveFailed)
	assert.NotErrorIs(t, err, ErrRenormalizeFailed)

	assert.Equal(t, before, s.Items())
	assert.Equal(t, StateReady, s.State())
}

func TestMoveSameIndexIsNoOp(t *testing.T) {
	remote := &fakeRemote{listAllFn: listOf(
		ranking.Item{ID: "A", Rank: 1000},
		ranking.Item{ID: "B", Rank: 2000},
		ranking.Item{ID: "C", Rank: 3000},
	)}
	allocations := 0
	s := openSession(t, remote, WithAllocator(func(items []ranking.Item, id string, idx int) ranking.Plan {
		allocations++
		return ranking.Allocate(items, id, idx)
	}))

	require.NoError(t, s.Move(context.Background(), "C", 2, 2))
	assert.Zero(t, allocations)
	assert.Empty(t, remote.calls())
}

func TestMoveRenormalizesDegenerateGap(t *testing.T) {
	remote := &fakeRemote{listAllFn: listOf(
		ranking.Item{ID: "A", Rank: 1000},
		ranking.Item{ID: "B", Rank: 1000.4},
		ranking.Item{ID: "C", Rank: 2000},
	)}
	s := openSession(t, remote, WithConcurrency(2))

	require.NoError(t, s.Move(context.Background(), "C", 2, 1))

	items := s.Items()
	assert.Equal(t, []string{"A", "C", "B"}, snapshotIDs(items))
	assert.Equal(t, map[string]float64{"A": 1000, "C": 2000, "B": 3000}, rankByID(items))

	calls := remote.calls()
	require.Len(t, calls, 3)
	persisted := make(map[string]float64)
	for _, call := range calls {
		persisted[call.itemID] = call.rank
	}
	assert.Equal(t, rankByID(items), persisted)
}

func TestRenormalizePartialFailureKeepsNewOrder(t *testing.T) {
	remote := &fakeRemote{
		listAllFn: listOf(
			ranking.Item{ID: "A", Rank: 1000},
			ranking.Item{ID: "B", Rank: 1000.4},
			ranking.Item{ID: "C", Rank: 2000},
			ranking.Item{ID: "D", Rank: 5000},
		),
		updateRankFn: func(_ context.Context, _ string, itemID string, _ float64) error {
			if itemID == "B" || itemID == "D" {
				return errors.New("timeout")
			}
			return nil
		},
	}
	s := openSession(t, remote)

	err := s.Move(context.Background(), "C", 2, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRenormalizeFailed)

	var reorderErr *Error
	require.ErrorAs(t, err, &reorderErr)
	assert.Equal(t, []string{"B", "D"}, reorderErr.ItemIDs)

	assert.Len(t, remote.calls(), 4)
	items := s.Items()
	assert.Equal(t, []string{"A", "C", "B", "D"}, snapshotIDs(items))
	assert.Equal(t, map[string]float64{"A": 1000, "C": 2000, "B": 3000, "D": 4000}, rankByID(items))
	assert.Equal(t, StateReady, s.State())
}

// gate holds every rank update until released and records how many were in
// flight at once.
type gate struct {
	release chan struct{}

	mu       sync.Mutex
	inFlight int
	peak     int
}

func newGate() *gate {
	return &gate{release: make(chan struct{})}
}

func (g *gate) update(context.Context, string, string, float64) error {
	g.mu.Lock()
	g.inFlight++
	g.peak = max(g.peak, g.inFlight)
	g.mu.Unlock()

	<-g.release

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	return nil
}

func (g *gate) current() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func (g *gate) maxInFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func crowdedCollection() func(context.Context, string) ([]ranking.Item, error) {
	return listOf(
		ranking.Item{ID: "A", Rank: 1000},
		ranking.Item{ID: "B", Rank: 1000.4},
		ranking.Item{ID: "C", Rank: 1000.8},
		ranking.Item{ID: "D", Rank: 1001},
		ranking.Item{ID: "E", Rank: 5000},
	)
}

func TestRenormalizeSendsUpdatesInParallel(t *testing.T) {
	g := newGate()
	remote := &fakeRemote{listAllFn: crowdedCollection(), updateRankFn: g.update}
	s := openSession(t, remote)

	done := make(chan error, 1)
	go func() {
		done <- s.Move(context.Background(), "E", 4, 1)
	}()

	require.Eventually(t, func() bool { return g.current() == 5 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateMoving, s.State())

	close(g.release)
	require.NoError(t, <-done)
	assert.Equal(t, 5, g.maxInFlight())
	assert.Len(t, remote.calls(), 5)
	assert.Equal(t, []string{"A", "E", "B", "C", "D"}, snapshotIDs(s.Items()))
}

func TestRenormalizeHonoursConcurrencyLimit(t *testing.T) {
	g := newGate()
	remote := &fakeRemote{listAllFn: crowdedCollection(), updateRankFn: g.update}
	s := openSession(t, remote, WithConcurrency(2))

	done := make(chan error, 1)
	go func() {
		done <- s.Move(context.Background(), "E", 4, 1)
	}()

	require.Eventually(t, func() bool { return g.current() == 2 }, 2*time.Second, time.Millisecond)
	assert.Never(t, func() bool { return g.current() > 2 }, 50*time.Millisecond, time.Millisecond)

	close(g.release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, g.maxInFlight())
	assert.Len(t, remote.calls(), 5)
	assert.Equal(t, map[string]float64{"A": 1000, "E": 2000, "B": 3000, "C": 4000, "D": 5000}, rankByID(s.Items()))
}

func TestCloseDuringSingleMove(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	remote := &fakeRemote{
		listAllFn: listOf(
			ranking.Item{ID: "A", Rank: 1000},
			ranking.Item{ID: "B", Rank: 2000},
			ranking.Item{ID: "C", Rank: 3000},
		),
		updateRankFn: func(context.Context, string, string, float64) error {
			close(started)
			<-release
			return errors.New("connection reset")
		},
	}
	s := openSession(t, remote)

	done := make(chan error, 1)
	go func() {
		done <- s.Move(context.Background(), "C", 2, 0)
	}()
	<-started

	s.Close()
	close(release)

	err := <-done
	assert.ErrorIs(t, err, ErrMoveFailed)
	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, s.Items())
	assert.Empty(t, s.Busy())
	assert.ErrorIs(t, s.Move(context.Background(), "A", 0, 1), ErrNotReady)
}

func TestCloseDuringRenormalize(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	remote := &fakeRemote{
		listAllFn: crowdedCollection(),
		updateRankFn: func(_ context.Context, _ string, itemID string, _ float64) error {
			once.Do(func() { close(started) })
			<-release
			if itemID == "C" {
				return errors.New("timeout")
			}
			return nil
		},
	}
	s := openSession(t, remote)

	done := make(chan error, 1)
	go func() {
		done <- s.Move(context.Background(), "E", 4, 1)
	}()
	<-started
	assert.Equal(t, "E", s.Busy())

	s.Close()
	close(release)

	err := <-done
	assert.ErrorIs(t, err, ErrRenormalizeFailed)
	var reorderErr *Error
	require.ErrorAs(t, err, &reorderErr)
	assert.Equal(t, []string{"C"}, reorderErr.ItemIDs)

	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, s.Items())
	assert.Empty(t, s.Busy())
	assert.Len(t, remote.calls(), 5)
}

func TestMoveRejectsStaleOrInvalidInput(t *testing.T) {
	remote := &fakeRemote{listAllFn: listOf(
		ranking.Item{ID: "A", Rank: 1000},
		ranking.Item{ID: "B", Rank: 2000},
	)}
	s := openSession(t, remote)

	assert.ErrorIs(t, s.Move(context.Background(), "A", 1, 0), ErrInvalidMove)
	assert.ErrorIs(t, s.Move(context.Background(), "A", 0, 5), ErrInvalidMove)
	assert.ErrorIs(t, s.Move(context.Background(), "A", -1, 0), ErrInvalidMove)
	assert.Empty(t, remote.calls())
}

func TestMoveWhileMovingIsBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	remote := &fakeRemote{
		listAllFn: listOf(
			ranking.Item{ID: "A", Rank: 1000},
			ranking.Item{ID: "B", Rank: 2000},
			ranking.Item{ID: "C", Rank: 3000},
		),
		updateRankFn: func(context.Context, string, string, float64) error {
			close(started)
			<-release
			return nil
		},
	}
	s := openSession(t, remote)

	done := make(chan error, 1)
	go func() {
		done <- s.Move(context.Background(), "C", 2, 0)
	}()
	<-started

	assert.Equal(t, StateMoving, s.State())
	assert.Equal(t, "C", s.Busy())
	assert.Equal(t, []string{"C", "A", "B"}, snapshotIDs(s.Items()))
	assert.ErrorIs(t, s.Move(context.Background(), "A", 1, 2), ErrBusy)
	assert.ErrorIs(t, s.Open(context.Background(), "certifications"), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, s.State())
}

func TestMovePersistsDespiteCallerCancellation(t *testing.T) {
	remote := &fakeRemote{
		listAllFn: listOf(ranking.Item{ID: "A", Rank: 1000}, ranking.Item{ID: "B", Rank: 2000}),
		updateRankFn: func(ctx context.Context, _, _ string, _ float64) error {
			return ctx.Err()
		},
	}
	s := openSession(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Move(ctx, "B", 1, 0))
	assert.Equal(t, []string{"B", "A"}, snapshotIDs(s.Items()))
}

func TestNormalizeRespacesWithoutReordering(t *testing.T) {
	remote := &fakeRemote{listAllFn: listOf(
		ranking.Item{ID: "A", Rank: -250},
		ranking.Item{ID: "B", Rank: 0.5},
		ranking.Item{ID: "C", Rank: 0.75},
	)}
	s := openSession(t, remote)

	require.NoError(t, s.Normalize(context.Background()))
	items := s.Items()
	assert.Equal(t, []string{"A", "B", "C"}, snapshotIDs(items))
	assert.Equal(t, map[string]float64{"A": 1000, "B": 2000, "C": 3000}, rankByID(items))
	assert.Len(t, remote.calls(), 3)
}

func TestCloseReleasesSnapshot(t *testing.T) {
	remote := &fakeRemote{listAllFn: listOf(ranking.Item{ID: "A", Rank: 1000}, ranking.Item{ID: "B", Rank: 2000})}
	s := openSession(t, remote)

	s.Close()
	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, s.Items())
	assert.ErrorIs(t, s.Move(context.Background(), "A", 0, 1), ErrNotReady)
	assert.ErrorIs(t, s.Open(context.Background(), "certifications"), ErrNotReady)
	assert.Empty(t, remote.calls())
}

func TestOperationsBeforeOpen(t *testing.T) {
	s := New(&fakeRemote{})
	assert.Equal(t, StateIdle, s.State())
	assert.ErrorIs(t, s.Move(context.Background(), "A", 0, 1), ErrNotReady)
	assert.ErrorIs(t, s.Normalize(context.Background()), ErrNotReady)
}

// Sequences of successful moves leave the snapshot sorted by rank in the
// order produced by applying each move positionally.
func TestMoveSequenceMatchesPositionalOrder(t *testing.T) {
	remote := &fakeRemote{listAllFn: listOf(
		ranking.Item{ID: "A", Rank: 1000},
		ranking.Item{ID: "B", Rank: 2000},
		ranking.Item{ID: "C", Rank: 3000},
		ranking.Item{ID: "D", Rank: 4000},
		ranking.Item{ID: "E", Rank: 5000},
	)}
	s := openSession(t, remote)

	expected := s.Items()
	moves := [][2]int{{4, 1}, {0, 3}, {2, 1}, {1, 2}, {3, 0}, {2, 1}, {1, 2}, {2, 1}, {1, 2}, {2, 1}, {1, 2}, {2, 1}, {1, 2}, {2, 1}, {1, 2}}
	for _, mv := range moves {
		current := s.Items()
		id := current[mv[0]].ID
		expected = ranking.Move(expected, mv[0], mv[1])
		require.NoError(t, s.Move(context.Background(), id, mv[0], mv[1]))

		got := s.Items()
		sorted := ranking.Clone(got)
		ranking.Sort(sorted)
		require.Equal(t, snapshotIDs(expected), snapshotIDs(sorted))
		require.Equal(t, snapshotIDs(got), snapshotIDs(sorted))

		seen := map[float64]bool{}
		for _, item := range got {
			require.False(t, seen[item.Rank], "duplicate rank %v", item.Rank)
			seen[item.Rank] = true
		}
	}
}
