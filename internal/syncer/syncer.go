// Package syncer keeps a local list of to-do items in step with the remote
// table: one bulk load, the results of local inserts and deletes, and the
// row changes pushed over the realtime stream.
//
// Model is a Bubble Tea sub-model. Requests run inside tea.Cmds and their
// results come back as messages applied by Update, so all mutation happens on
// the program's event loop.
package syncer

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/idilsaglam/livetodo/internal/model"
)

// Store is the request/response side of the remote table.
type Store interface {
	List(ctx context.Context) ([]model.Item, error)
	Insert(ctx context.Context, in model.NewItem) (model.Item, error)
	Delete(ctx context.Context, id int64) error
}

// Feed opens the change-notification stream. Subscribe returns once the
// backend acknowledged the subscription.
type Feed interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(ctx context.Context) (Subscription, error)

func (f FeedFunc) Subscribe(ctx context.Context) (Subscription, error) { return f(ctx) }

// Subscription is an acknowledged stream. Changes is closed when the stream
// ends; Close must be safe to call more than once.
type Subscription interface {
	Changes() <-chan model.Change
	Close() error
}

const defaultTimeout = 10 * time.Second

type Options struct {
	Timeout time.Duration // per request; also bounds the subscribe handshake
	Logger  *log.Logger
}

// LoadedMsg carries the result of the initial bulk load.
type LoadedMsg struct {
	Items []model.Item
	Err   error
}

// InsertedMsg carries the result of a local insert.
type InsertedMsg struct {
	Name string
	Item model.Item
	Err  error
}

// DeletedMsg carries the result of a local delete.
type DeletedMsg struct {
	ID  int64
	Err error
}

type subscribedMsg struct {
	gen int
	sub Subscription
	err error
}

type changeMsg struct {
	gen    int
	change model.Change
}

type streamClosedMsg struct{ gen int }

type Model struct {
	store   Store
	feed    Feed
	timeout time.Duration
	logger  *log.Logger

	items   Collection
	pending string
	state   SubState
	sub     Subscription
	gen     int
}

func New(store Store, feed Feed, opts Options) Model {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return Model{
		store:   store,
		feed:    feed,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		items:   Collection{},
	}
}

func (m Model) Items() Collection { return m.items }
func (m Model) State() SubState   { return m.state }
func (m Model) Pending() string   { return m.pending }

func (m Model) SetPending(s string) Model {
	m.pending = s
	return m
}

// Initialize issues the bulk load and the subscribe call together. Their
// results may arrive in either order.
func (m Model) Initialize() (Model, tea.Cmd) {
	cmds := []tea.Cmd{m.load()}
	if m.feed == nil {
		m.logger.Warn("no change feed configured; live updates disabled")
		return m, tea.Batch(cmds...)
	}
	if m.sub != nil {
		m = m.Teardown()
	}
	m.gen++
	m.state = Subscribing
	cmds = append(cmds, m.subscribe(m.gen))
	return m, tea.Batch(cmds...)
}

// Insert sends a create request for name. Empty names are ignored.
// Local state changes only once the backend confirms.
func (m Model) Insert(name string) (Model, tea.Cmd) {
	name = strings.TrimSpace(name)
	if name == "" {
		return m, nil
	}
	store, timeout := m.store, m.timeout
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		it, err := store.Insert(ctx, model.NewItem{Name: name, IsCompleted: false})
		return InsertedMsg{Name: name, Item: it, Err: err}
	}
}

// Submit inserts the pending input.
func (m Model) Submit() (Model, tea.Cmd) { return m.Insert(m.pending) }

// Delete sends a delete request; the item leaves the collection once the
// backend confirms.
func (m Model) Delete(id int64) tea.Cmd {
	store, timeout := m.store, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return DeletedMsg{ID: id, Err: store.Delete(ctx, id)}
	}
}

// OnRemoteChange applies one change-stream event.
func (m Model) OnRemoteChange(c model.Change) Model {
	switch c.Type {
	case model.ChangeInsert:
		if m.items.Has(c.Record.ID) {
			m.logger.Debug("dropping duplicate insert", "id", c.Record.ID)
			return m
		}
		m.items = m.items.Add(c.Record)
	case model.ChangeUpdate:
		m.items = m.items.Replace(c.Record)
	case model.ChangeDelete:
		m.items = m.items.Remove(c.OldRecord.ID)
	default:
		m.logger.Debug("ignoring change", "type", c.Type)
	}
	return m
}

// Teardown closes the change stream. Safe to call in any state.
func (m Model) Teardown() Model {
	if m.sub != nil {
		if err := m.sub.Close(); err != nil {
			m.logger.Warn("closing subscription", "err", err)
		}
		m.logger.Info("unsubscribed")
	}
	m.sub = nil
	m.state = Unsubscribed
	return m
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		if msg.Err != nil {
			m.logger.Error("loading items", "err", msg.Err)
			return m, nil
		}
		m.items = NewCollection(msg.Items)
		m.logger.Info("loaded items", "count", len(m.items))
		return m, nil

	case InsertedMsg:
		if msg.Err != nil {
			m.logger.Error("adding item", "name", msg.Name, "err", msg.Err)
			return m, nil
		}
		m.items = m.items.Add(msg.Item)
		m.pending = ""
		return m, nil

	case DeletedMsg:
		if msg.Err != nil {
			m.logger.Error("deleting item", "id", msg.ID, "err", msg.Err)
			return m, nil
		}
		m.items = m.items.Remove(msg.ID)
		return m, nil

	case subscribedMsg:
		if msg.gen != m.gen || m.state != Subscribing {
			if msg.sub != nil {
				_ = msg.sub.Close()
			}
			return m, nil
		}
		if msg.err != nil {
			m.logger.Error("subscribing to changes", "err", msg.err)
			m.state = Unsubscribed
			return m, nil
		}
		m.sub = msg.sub
		m.state = Subscribed
		m.logger.Info("subscribed to changes")
		return m, waitForChange(m.gen, m.sub)

	case changeMsg:
		if msg.gen != m.gen || m.state != Subscribed {
			return m, nil
		}
		m = m.OnRemoteChange(msg.change)
		return m, waitForChange(m.gen, m.sub)

	case streamClosedMsg:
		if msg.gen != m.gen || m.state != Subscribed {
			return m, nil
		}
		var err error
		if s, ok := m.sub.(interface{ Err() error }); ok {
			err = s.Err()
		}
		m.logger.Error("change stream closed", "err", err)
		m = m.Teardown()
		return m, nil
	}
	return m, nil
}

func (m Model) load() tea.Cmd {
	store, timeout := m.store, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		items, err := store.List(ctx)
		return LoadedMsg{Items: items, Err: err}
	}
}

func (m Model) subscribe(gen int) tea.Cmd {
	feed, timeout := m.feed, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		sub, err := feed.Subscribe(ctx)
		return subscribedMsg{gen: gen, sub: sub, err: err}
	}
}

// waitForChange blocks on the next event; Update re-arms it after each one.
func waitForChange(gen int, sub Subscription) tea.Cmd {
	ch := sub.Changes()
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return streamClosedMsg{gen: gen}
		}
		return changeMsg{gen: gen, change: c}
	}
}
