// Package reorder drives an interactive sort pass over one ranked collection.
// A Session loads the collection, applies moves optimistically, persists the
// new ranks through a Collaborator and rolls back single moves that fail.
package reorder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stackd/api/internal/ranking"
)

// Collaborator is the remote system of record for a ranked collection.
type Collaborator interface {
	ListAll(ctx context.Context, collection string) ([]ranking.Item, error)
	UpdateRank(ctx context.Context, collection, itemID string, rank float64) error
}

type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateMoving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateMoving:
		return "moving"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AllocateFunc matches ranking.Allocate.
type AllocateFunc func(items []ranking.Item, movedID string, newIndex int) ranking.Plan

type Option func(*Session)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConcurrency bounds the number of rank updates sent in parallel during a
// renormalization. Zero means no bound.
func WithConcurrency(n int) Option {
	return func(s *Session) {
		s.concurrency = n
	}
}

func WithAllocator(fn AllocateFunc) Option {
	return func(s *Session) {
		if fn != nil {
			s.allocate = fn
		}
	}
}

type Session struct {
	remote      Collaborator
	allocate    AllocateFunc
	logger      *zap.Logger
	concurrency int

	mu         sync.Mutex
	state      State
	collection string
	items      []ranking.Item
	busyID     string
}

func New(remote Collaborator, opts ...Option) *Session {
	s := &Session{
		remote:   remote,
		allocate: ranking.Allocate,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads the full collection. It may also be called on a Ready session to
// resynchronise with the remote store.
func (s *Session) Open(ctx context.Context, collection string) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateReady:
	case StateMoving, StateLoading:
		s.mu.Unlock()
		return ErrBusy
	default:
		s.mu.Unlock()
		return ErrNotReady
	}
	s.state = StateLoading
	s.collection = collection
	s.items = nil
	s.mu.Unlock()

	items, err := s.remote.ListAll(ctx, collection)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrNotReady
	}
	if err != nil {
		s.state = StateIdle
		s.collection = ""
		s.logger.Warn("reorder: load failed", zap.String("collection", collection), zap.Error(err))
		return &Error{Kind: ErrLoadFailed, Collection: collection, Err: err}
	}

	snapshot := ranking.Clone(items)
	ranking.Sort(snapshot)
	s.items = snapshot
	s.state = StateReady
	s.logger.Debug("reorder: collection loaded", zap.String("collection", collection), zap.Int("items", len(snapshot)))
	return nil
}

// Move relocates itemID from index from to index to, persisting the resulting
// rank or ranks. A failed single-rank update restores the previous order; a
// failed renormalization leaves the new order in place and reports every item
// that could not be written.
func (s *Session) Move(ctx context.Context, itemID string, from, to int) error {
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		if state == StateMoving {
			return ErrBusy
		}
		return ErrNotReady
	}
	if from < 0 || from >= len(s.items) || to < 0 || to >= len(s.items) {
		s.mu.Unlock()
		return fmt.Errorf("%w: index out of range (from=%d to=%d len=%d)", ErrInvalidMove, from, to, len(s.items))
	}
	if s.items[from].ID != itemID {
		s.mu.Unlock()
		return fmt.Errorf("%w: item %q is not at index %d", ErrInvalidMove, itemID, from)
	}
	if from == to {
		s.mu.Unlock()
		return nil
	}

	previous := ranking.Clone(s.items)
	next := ranking.Move(s.items, from, to)
	plan := s.allocate(next, itemID, to)

	var updates map[string]float64
	switch plan.Kind {
	case ranking.KindSingle:
		next[to].Rank = plan.Rank
		updates = map[string]float64{itemID: plan.Rank}
	case ranking.KindRenormalize:
		for i := range next {
			next[i].Rank = plan.Ranks[next[i].ID]
		}
		updates = plan.Ranks
	default:
		s.mu.Unlock()
		panic(fmt.Sprintf("reorder: unknown plan kind %q", plan.Kind))
	}

	s.items = next
	s.state = StateMoving
	s.busyID = itemID
	collection := s.collection
	s.mu.Unlock()

	// Persistence is not cancelled once issued.
	persistCtx := context.WithoutCancel(ctx)

	if plan.Kind == ranking.KindSingle {
		err := s.remote.UpdateRank(persistCtx, collection, itemID, plan.Rank)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.settle()
		if err != nil {
			if s.state != StateClosed {
				s.items = previous
			}
			s.logger.Warn("reorder: rank update failed, order reverted",
				zap.String("collection", collection), zap.String("item", itemID), zap.Error(err))
			return &Error{Kind: ErrMoveFailed, Collection: collection, ItemIDs: []string{itemID}, Err: err}
		}
		s.logger.Debug("reorder: item moved", zap.String("collection", collection),
			zap.String("item", itemID), zap.Float64("rank", plan.Rank))
		return nil
	}

	s.logger.Info("reorder: renormalizing collection", zap.String("collection", collection), zap.Int("items", len(updates)))
	err := s.persistAll(persistCtx, collection, updates)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	return err
}

// Normalize rewrites every rank to even spacing without changing the order.
func (s *Session) Normalize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		if state == StateMoving {
			return ErrBusy
		}
		return ErrNotReady
	}
	ranks := ranking.Renormalize(s.items)
	next := ranking.Clone(s.items)
	for i := range next {
		next[i].Rank = ranks[next[i].ID]
	}
	s.items = next
	s.state = StateMoving
	collection := s.collection
	s.mu.Unlock()

	err := s.persistAll(context.WithoutCancel(ctx), collection, ranks)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	return err
}

// persistAll sends one update per item concurrently and waits for every call
// to finish, successful or not.
func (s *Session) persistAll(ctx context.Context, collection string, ranks map[string]float64) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed = make(map[string]error)
	)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for id, rank := range ranks {
		g.Go(func() error {
			if err := s.remote.UpdateRank(ctx, collection, id, rank); err != nil {
				mu.Lock()
				failed[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		return nil
	}
	itemIDs := make([]string, 0, len(failed))
	for id := range failed {
		itemIDs = append(itemIDs, id)
	}
	slices.Sort(itemIDs)
	errs := make([]error, 0, len(itemIDs))
	for _, id := range itemIDs {
		errs = append(errs, fmt.Errorf("%s: %w", id, failed[id]))
	}
	s.logger.Warn("reorder: renormalization partially failed",
		zap.String("collection", collection), zap.Strings("items", itemIDs), zap.Int("total", len(ranks)))
	return &Error{Kind: ErrRenormalizeFailed, Collection: collection, ItemIDs: itemIDs, Err: errors.Join(errs...)}
}

// settle ends a Moving phase. Caller holds s.mu.
func (s *Session) settle() {
	s.busyID = ""
	if s.state == StateMoving {
		s.state = StateReady
	}
}

// Close drops the snapshot. The session accepts no further operations.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.items = nil
}

// Items returns a copy of the current ordered snapshot.
func (s *Session) Items() []ranking.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ranking.Clone(s.items)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Collection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection
}

// Busy returns the id of the item whose rank is being persisted, if any.
func (s *Session) Busy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busyID
}
