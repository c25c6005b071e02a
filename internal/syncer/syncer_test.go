package syncer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"

	"github.com/idilsaglam/livetodo/internal/model"
)

type fakeStore struct {
	mu        sync.Mutex
	items     []model.Item
	listErr   error
	insertErr error
	deleteErr error
	nextID    int64
	deleted   []int64
}

func (s *fakeStore) List(ctx context.Context) ([]model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]model.Item(nil), s.items...), nil
}

func (s *fakeStore) Insert(ctx context.Context, in model.NewItem) (model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return model.Item{}, s.insertErr
	}
	s.nextID++
	it := model.Item{ID: s.nextID, Name: in.Name, IsCompleted: in.IsCompleted}
	s.items = append(s.items, it)
	return it, nil
}

func (s *fakeStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

type fakeSub struct {
	ch     chan model.Change
	once   sync.Once
	closed bool
}

func newFakeSub() *fakeSub { return &fakeSub{ch: make(chan model.Change, 8)} }

func (s *fakeSub) Changes() <-chan model.Change { return s.ch }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		s.closed = true
		close(s.ch)
	})
	return nil
}

type fakeFeed struct {
	sub *fakeSub
	err error
}

func (f *fakeFeed) Subscribe(ctx context.Context) (Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func quietModel(store Store, feed Feed) Model {
	return New(store, feed, Options{Timeout: time.Second, Logger: log.New(io.Discard)})
}

// run executes cmd and returns the messages it produced, flattening batches.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, run(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func apply(m Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		m, _ = m.Update(msg)
	}
	return m
}

func ids(c Collection) []int64 {
	out := make([]int64, 0, len(c))
	for _, it := range c {
		out = append(out, it.ID)
	}
	return out
}

func TestInitialize_LoadsInOrderAndSubscribes(t *testing.T) {
	store := &fakeStore{items: []model.Item{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}}
	feed := &fakeFeed{sub: newFakeSub()}
	m, cmd := quietModel(store, feed).Initialize()
	if m.State() != Subscribing {
		t.Fatalf("state after Initialize: got %s want subscribing", m.State())
	}

	msgs := run(cmd)
	if len(msgs) != 2 {
		t.Fatalf("expected load and subscribe messages, got %d", len(msgs))
	}
	m = apply(m, msgs...)

	if diff := cmp.Diff([]model.Item{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}, m.Items().Items()); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if m.State() != Subscribed {
		t.Fatalf("state: got %s want subscribed", m.State())
	}
}

func TestInitialize_LoadFailureLeavesCollectionUnchanged(t *testing.T) {
	store := &fakeStore{listErr: errors.New("boom")}
	m := quietModel(store, nil)
	m, cmd := m.Initialize()
	m = apply(m, run(cmd)...)
	if len(m.Items()) != 0 {
		t.Fatalf("expected empty collection, got %v", m.Items())
	}
	if m.State() != Unsubscribed {
		t.Fatalf("without a feed the state stays unsubscribed, got %s", m.State())
	}
}

func TestInitialize_SubscribeFailureKeepsRequestsWorking(t *testing.T) {
	store := &fakeStore{}
	m, cmd := quietModel(store, &fakeFeed{err: errors.New("refused")}).Initialize()
	m = apply(m, run(cmd)...)
	if m.State() != Unsubscribed {
		t.Fatalf("state: got %s want unsubscribed", m.State())
	}

	m, cmd = m.Insert("still works")
	m = apply(m, run(cmd)...)
	if got := ids(m.Items()); !cmp.Equal(got, []int64{1}) {
		t.Fatalf("ids: got %v want [1]", got)
	}
}

func TestInsert_AppendsConfirmedRowAndClearsPending(t *testing.T) {
	store := &fakeStore{}
	m := quietModel(store, nil).SetPending("buy milk")
	m, cmd := m.Submit()
	m = apply(m, run(cmd)...)

	if diff := cmp.Diff([]model.Item{{ID: 1, Name: "buy milk"}}, m.Items().Items()); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if m.Pending() != "" {
		t.Fatalf("pending not cleared: %q", m.Pending())
	}
}

func TestInsert_EmptyNameSendsNothing(t *testing.T) {
	m := quietModel(&fakeStore{}, nil)
	for _, name := range []string{"", "   ", "\t\n"} {
		if _, cmd := m.Insert(name); cmd != nil {
			t.Fatalf("Insert(%q) returned a command", name)
		}
	}
}

func TestInsert_FailureKeepsCollectionAndPending(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("rejected")}
	m := quietModel(store, nil)
	m = apply(m, LoadedMsg{Items: []model.Item{{ID: 7, Name: "kept"}}})
	m = m.SetPending("x")

	m, cmd := m.Submit()
	m = apply(m, run(cmd)...)

	if got := ids(m.Items()); !cmp.Equal(got, []int64{7}) {
		t.Fatalf("ids: got %v want [7]", got)
	}
	if m.Pending() != "x" {
		t.Fatalf("pending changed to %q", m.Pending())
	}
}

func TestInsert_RaceWithRemoteInsert(t *testing.T) {
	store := &fakeStore{nextID: 41}
	sub := newFakeSub()
	m, cmd := quietModel(store, &fakeFeed{sub: sub}).Initialize()
	m = apply(m, run(cmd)...)

	m, insertCmd := m.Insert("buy milk")

	// The realtime event lands before the insert response.
	m = apply(m, changeMsg{gen: m.gen, change: model.Change{
		Type:   model.ChangeInsert,
		Record: model.Item{ID: 42, Name: "buy milk"},
	}})
	m = apply(m, run(insertCmd)...)

	if diff := cmp.Diff([]model.Item{{ID: 42, Name: "buy milk"}}, m.Items().Items()); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestInsert_ResponseBeforeRemoteInsert(t *testing.T) {
	store := &fakeStore{nextID: 41}
	m := quietModel(store, nil)
	m, cmd := m.Insert("buy milk")
	m = apply(m, run(cmd)...)
	m = m.OnRemoteChange(model.Change{Type: model.ChangeInsert, Record: model.Item{ID: 42, Name: "buy milk"}})
	m = m.OnRemoteChange(model.Change{Type: model.ChangeInsert, Record: model.Item{ID: 42, Name: "buy milk"}})

	if got := ids(m.Items()); !cmp.Equal(got, []int64{42}) {
		t.Fatalf("ids: got %v want [42]", got)
	}
}

func TestDelete_RemovesConfirmedItem(t *testing.T) {
	store := &fakeStore{}
	m := apply(quietModel(store, nil), LoadedMsg{Items: []model.Item{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}})

	m = apply(m, run(m.Delete(1))...)

	if diff := cmp.Diff([]model.Item{{ID: 2, Name: "b"}}, m.Items().Items()); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1}, store.deleted); diff != "" {
		t.Fatalf("deleted ids mismatch (-want +got):\n%s", diff)
	}

	// Deleting again once the item is gone changes nothing.
	m = apply(m, run(m.Delete(1))...)
	if got := ids(m.Items()); !cmp.Equal(got, []int64{2}) {
		t.Fatalf("ids: got %v want [2]", got)
	}
}

func TestDelete_FailureLeavesItem(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("denied")}
	m := apply(quietModel(store, nil), LoadedMsg{Items: []model.Item{{ID: 1, Name: "a"}}})
	m = apply(m, run(m.Delete(1))...)
	if got := ids(m.Items()); !cmp.Equal(got, []int64{1}) {
		t.Fatalf("ids: got %v want [1]", got)
	}
}

func TestOnRemoteChange(t *testing.T) {
	base := []model.Item{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}
	tests := []struct {
		name    string
		changes []model.Change
		want    []model.Item
	}{
		{
			name:    "insert appends",
			changes: []model.Change{{Type: model.ChangeInsert, Record: model.Item{ID: 3, Name: "c"}}},
			want:    []model.Item{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}},
		},
		{
			name:    "insert of known id is dropped",
			changes: []model.Change{{Type: model.ChangeInsert, Record: model.Item{ID: 2, Name: "other"}}},
			want:    base,
		},
		{
			name:    "update replaces",
			changes: []model.Change{{Type: model.ChangeUpdate, Record: model.Item{ID: 2, Name: "b", IsCompleted: true}}},
			want:    []model.Item{{ID: 1, Name: "a"}, {ID: 2, Name: "b", IsCompleted: true}},
		},
		{
			name:    "update on miss is a no-op",
			changes: []model.Change{{Type: model.ChangeUpdate, Record: model.Item{ID: 9, Name: "z"}}},
			want:    base,
		},
		{
			name: "delete twice",
			changes: []model.Change{
				{Type: model.ChangeDelete, OldRecord: model.Item{ID: 1}},
				{Type: model.ChangeDelete, OldRecord: model.Item{ID: 1}},
			},
			want: []model.Item{{ID: 2, Name: "b"}},
		},
		{
			name:    "unknown tag ignored",
			changes: []model.Change{{Type: model.ParseChangeType("truncate"), Record: model.Item{ID: 5}}},
			want:    base,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := apply(quietModel(&fakeStore{}, nil), LoadedMsg{Items: base})
			for _, c := range tc.changes {
				m = m.OnRemoteChange(c)
			}
			if diff := cmp.Diff(tc.want, m.Items().Items()); diff != "" {
				t.Fatalf("items mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpdate_DrainsChangesFromSubscription(t *testing.T) {
	sub := newFakeSub()
	m, cmd := quietModel(&fakeStore{}, &fakeFeed{sub: sub}).Initialize()

	var next tea.Cmd
	for _, msg := range run(cmd) {
		var c tea.Cmd
		m, c = m.Update(msg)
		if c != nil {
			next = c
		}
	}
	if next == nil {
		t.Fatal("expected a command waiting for changes")
	}

	sub.ch <- model.Change{Type: model.ChangeInsert, Record: model.Item{ID: 5, Name: "remote"}}
	m, next = m.Update(next())
	if got := ids(m.Items()); !cmp.Equal(got, []int64{5}) {
		t.Fatalf("ids: got %v want [5]", got)
	}

	// The stream drops: the model logs and falls back to unsubscribed.
	_ = sub.Close()
	m, _ = m.Update(next())
	if m.State() != Unsubscribed {
		t.Fatalf("state after drop: got %s want unsubscribed", m.State())
	}
}

func TestTeardown(t *testing.T) {
	sub := newFakeSub()
	m, cmd := quietModel(&fakeStore{}, &fakeFeed{sub: sub}).Initialize()
	m = apply(m, run(cmd)...)

	m = m.Teardown()
	if !sub.closed {
		t.Fatal("subscription not closed")
	}
	if m.State() != Unsubscribed {
		t.Fatalf("state: got %s want unsubscribed", m.State())
	}
	m = m.Teardown()
	if m.State() != Unsubscribed {
		t.Fatalf("second teardown changed state to %s", m.State())
	}

	// Events queued by a torn-down stream are dropped.
	m = apply(m, changeMsg{gen: m.gen, change: model.Change{Type: model.ChangeInsert, Record: model.Item{ID: 1}}})
	if len(m.Items()) != 0 {
		t.Fatalf("change applied after teardown: %v", m.Items())
	}
}

func TestTeardown_BeforeAckClosesLateSubscription(t *testing.T) {
	sub := newFakeSub()
	m, cmd := quietModel(&fakeStore{}, &fakeFeed{sub: sub}).Initialize()
	m = m.Teardown()
	m = apply(m, run(cmd)...)

	if !sub.closed {
		t.Fatal("late subscription should be closed")
	}
	if m.State() != Unsubscribed {
		t.Fatalf("state: got %s want unsubscribed", m.State())
	}
}

func TestInitialize_AgainReplacesSubscription(t *testing.T) {
	first, second, late := newFakeSub(), newFakeSub(), newFakeSub()
	feed := &fakeFeed{sub: first}
	store := &fakeStore{items: []model.Item{{ID: 1, Name: "a"}}}

	m, cmd := quietModel(store, feed).Initialize()
	m = apply(m, run(cmd)...)
	if m.State() != Subscribed {
		t.Fatalf("state: got %s want subscribed", m.State())
	}
	oldGen := m.gen

	feed.sub = second
	m, cmd = m.Initialize()
	if !first.closed {
		t.Fatal("first subscription not closed")
	}
	if m.State() != Subscribing {
		t.Fatalf("state after re-initialize: got %s want subscribing", m.State())
	}

	// Leftovers from the first stream arrive after the new subscribe was issued.
	m = apply(m,
		streamClosedMsg{gen: oldGen},
		changeMsg{gen: oldGen, change: model.Change{Type: model.ChangeInsert, Record: model.Item{ID: 9}}},
		subscribedMsg{gen: oldGen, sub: late},
	)
	if m.State() != Subscribing {
		t.Fatalf("stale messages changed state to %s", m.State())
	}
	if !late.closed {
		t.Fatal("stale subscription not closed")
	}

	m = apply(m, run(cmd)...)
	if m.State() != Subscribed {
		t.Fatalf("state: got %s want subscribed", m.State())
	}
	if m.sub != Subscription(second) {
		t.Fatal("model does not hold the new subscription")
	}
	if second.closed {
		t.Fatal("new subscription closed")
	}
	if got := ids(m.Items()); !cmp.Equal(got, []int64{1}) {
		t.Fatalf("ids: got %v want [1]", got)
	}
}
