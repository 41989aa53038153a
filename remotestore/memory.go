package remotestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
)

type memDoc struct {
	data       map[string]interface{}
	createTime time.Time
	updateTime time.Time
}

// Memory is an in-process Store for tests and offline development.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]*memDoc
	watchers    map[int]*memWatcher
	nextWatcher int
	last        time.Time

	// BeforeWrite, when set, runs before every Upsert; a non-nil error rejects the write.
	BeforeWrite func(collection string, id string, data map[string]interface{}) error

	writes atomic.Int64
}

func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]*memDoc),
		watchers:    make(map[int]*memWatcher),
	}
}

func (m *Memory) NewID() string {
	return uuid.NewString()
}

// Writes counts accepted Upsert and Delete calls.
func (m *Memory) Writes() int64 {
	return m.writes.Load()
}

// now returns a strictly increasing microsecond timestamp. Caller holds mu.
func (m *Memory) now() time.Time {
	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func (m *Memory) Upsert(ctx context.Context, collection string, id string, data map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("upsert %s: id is required", collection)
	}
	if hook := m.BeforeWrite; hook != nil {
		if err := hook(collection, id, data); err != nil {
			return err
		}
	}

	m.mu.Lock()
	docs := m.collections[collection]
	if docs == nil {
		docs = make(map[string]*memDoc)
		m.collections[collection] = docs
	}
	now := m.now()
	prev := docs[id]
	var before *Document
	next := &memDoc{data: make(map[string]interface{}, len(data)+2), createTime: now}
	if prev != nil {
		d := prev.document(id)
		before = &d
		for k, v := range prev.data {
			next.data[k] = v
		}
		next.createTime = prev.createTime
	} else {
		next.data[FieldCreatedAt] = now
	}
	for k, v := range data {
		next.data[k] = v
	}
	next.data[FieldUpdatedAt] = now
	next.updateTime = now
	docs[id] = next
	after := next.document(id)
	m.writes.Add(1)
	m.notifyLocked(collection, before, &after)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, collection string, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.collections[collection][id]
	if doc == nil {
		return nil, ErrNotFound
	}
	d := doc.document(id)
	return &d, nil
}

func (m *Memory) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matchingLocked(collection, filters), nil
}

func (m *Memory) Delete(ctx context.Context, collection string, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.collections[collection][id]
	if doc == nil {
		return nil
	}
	before := doc.document(id)
	delete(m.collections[collection], id)
	m.writes.Add(1)
	m.notifyLocked(collection, &before, nil)
	return nil
}

// Count returns the number of documents in collection.
func (m *Memory) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection])
}

func (m *Memory) Watch(ctx context.Context, collection string, filters []Filter, onChange func([]Change), onError func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &memWatcher{
		owner:      m,
		collection: collection,
		filters:    append([]Filter(nil), filters...),
		onChange:   onChange,
		onError:    onError,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	w.id = m.nextWatcher
	m.nextWatcher++
	m.watchers[w.id] = w
	initial := m.matchingLocked(collection, filters)
	if len(initial) > 0 {
		batch := make([]Change, 0, len(initial))
		for _, d := range initial {
			batch = append(batch, Change{Kind: ChangeAdded, Doc: d})
		}
		w.enqueue(batch)
	}
	m.mu.Unlock()

	go w.run(ctx)
	return w, nil
}

// FailWatchers delivers err to every live watcher's error callback and detaches them,
// the way a revoked credential tears down remote listeners.
func (m *Memory) FailWatchers(err error) {
	m.mu.Lock()
	watchers := make([]*memWatcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()
	for _, w := range watchers {
		w.fail(err)
	}
}

func (m *Memory) matchingLocked(collection string, filters []Filter) []Document {
	docs := m.collections[collection]
	out := make([]Document, 0, len(docs))
	for id, doc := range docs {
		d := doc.document(id)
		if matches(d, filters) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdateTime.Equal(out[j].UpdateTime) {
			return out[i].UpdateTime.Before(out[j].UpdateTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) notifyLocked(collection string, before *Document, after *Document) {
	for _, w := range m.watchers {
		if w.collection != collection {
			continue
		}
		was := before != nil && matches(*before, w.filters)
		is := after != nil && matches(*after, w.filters)
		switch {
		case is && !was:
			w.enqueue([]Change{{Kind: ChangeAdded, Doc: *after}})
		case is && was:
			w.enqueue([]Change{{Kind: ChangeModified, Doc: *after}})
		case was && !is:
			w.enqueue([]Change{{Kind: ChangeRemoved, Doc: *before}})
		}
	}
}

func (d *memDoc) document(id string) Document {
	data := make(map[string]interface{}, len(d.data))
	for k, v := range d.data {
		data[k] = v
	}
	return Document{ID: id, Data: data, CreateTime: d.createTime, UpdateTime: d.updateTime}
}

func matches(d Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := d.Data[f.Field]
		if !ok {
			return false
		}
		switch f.Op {
		case OpEqual:
			if compare(v, f.Value) != 0 {
				return false
			}
		case OpGreaterThan:
			if compare(v, f.Value) <= 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compare orders times, numbers and strings; values of unlike kinds compare unequal (-2).
func compare(a, b interface{}) int {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return -2
		}
		return ta.Compare(tb)
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return -2
		}
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok || ba != bb {
			return -2
		}
		return 0
	}
	da, errA := utils.ToDecimal(a)
	db, errB := utils.ToDecimal(b)
	if errA != nil || errB != nil {
		return -2
	}
	return da.Cmp(db)
}

type memWatcher struct {
	id         int
	owner      *Memory
	collection string
	filters    []Filter
	onChange   func([]Change)
	onError    func(error)

	qmu     sync.Mutex
	queue   [][]Change
	stopped bool

	signal   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (w *memWatcher) enqueue(batch []Change) {
	w.qmu.Lock()
	if !w.stopped {
		w.queue = append(w.queue, batch)
	}
	w.qmu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *memWatcher) next() ([]Change, bool) {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	if w.stopped || len(w.queue) == 0 {
		return nil, false
	}
	batch := w.queue[0]
	w.queue = w.queue[1:]
	return batch, true
}

func (w *memWatcher) run(ctx context.Context) {
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.signal:
		}
		for {
			batch, ok := w.next()
			if !ok {
				break
			}
			if w.onChange != nil {
				w.onChange(batch)
			}
		}
	}
}

func (w *memWatcher) fail(err error) {
	w.qmu.Lock()
	stopped := w.stopped
	w.qmu.Unlock()
	if stopped {
		return
	}
	w.Stop()
	if w.onError != nil {
		w.onError(err)
	}
}

func (w *memWatcher) Stop() {
	w.stopOnce.Do(func() {
		w.qmu.Lock()
		w.stopped = true
		w.queue = nil
		w.qmu.Unlock()
		close(w.done)
		w.owner.mu.Lock()
		delete(w.owner.watchers, w.id)
		w.owner.mu.Unlock()
	})
}
