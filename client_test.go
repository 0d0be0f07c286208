package syncache

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakeHost is a scriptable HostClient. Unset procedures fail.
type fakeHost struct {
	fetchObject  func(cache string, input any) (Object, error)
	fetchObjects func(cache string, input any) ([]Object, error)
	createObject func(cache string, values Object) (int64, error)
	updateObject func(cache string, values Object) error
	deleteObject func(cache string, id int64) error

	calls map[string]int
}

var _ HostClient = (*fakeHost)(nil)

func newFakeHost() *fakeHost { return &fakeHost{calls: make(map[string]int)} }

func (f *fakeHost) FetchObject(_ context.Context, cache string, input any) (Object, error) {
	f.calls["fetchObject"]++
	if f.fetchObject == nil {
		return nil, errors.New("fetchObject unscripted")
	}
	return f.fetchObject(cache, input)
}

func (f *fakeHost) FetchObjects(_ context.Context, cache string, input any) ([]Object, error) {
	f.calls["fetchObjects"]++
	if f.fetchObjects == nil {
		return nil, errors.New("fetchObjects unscripted")
	}
	return f.fetchObjects(cache, input)
}

func (f *fakeHost) CreateObject(_ context.Context, cache string, values Object) (int64, error) {
	f.calls["createObject"]++
	if f.createObject == nil {
		return 0, errors.New("createObject unscripted")
	}
	return f.createObject(cache, values)
}

func (f *fakeHost) UpdateObject(_ context.Context, cache string, values Object) error {
	f.calls["updateObject"]++
	if f.updateObject == nil {
		return errors.New("updateObject unscripted")
	}
	return f.updateObject(cache, values)
}

func (f *fakeHost) DeleteObject(_ context.Context, cache string, id int64) error {
	f.calls["deleteObject"]++
	if f.deleteObject == nil {
		return errors.New("deleteObject unscripted")
	}
	return f.deleteObject(cache, id)
}

// eventLog records emitted events by name.
type eventLog struct {
	events []Event
}

func (l *eventLog) record(ev Event) { l.events = append(l.events, ev) }

func (l *eventLog) named(name string) []Event {
	var out []Event
	for _, ev := range l.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func newTestClient(t *testing.T, host HostClient, mutate func(*Descriptor)) (*ClientCache, *eventLog) {
	t.Helper()
	desc := Descriptor{Name: "users", IDProperty: "id"}
	if mutate != nil {
		mutate(&desc)
	}
	resolved, err := resolveDescriptor(desc)
	if err != nil {
		t.Fatalf("resolveDescriptor: %v", err)
	}
	cc, err := newClientCache(resolved, host, NopLogger{}, NopSink{})
	if err != nil {
		t.Fatalf("newClientCache: %v", err)
	}
	log := &eventLog{}
	for ev := range knownEvents {
		if err := cc.On(ev, log.record); err != nil {
			t.Fatalf("On(%s): %v", ev, err)
		}
	}
	return cc, log
}

func seed(t *testing.T, cc *ClientCache, objs ...Object) {
	t.Helper()
	if err := cc.ApplyChanges(objs); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// ==============================
// Merge (applyChanges)
// ==============================

func TestApplyChangesInsertsAndFiresEvents(t *testing.T) {
	cc, log := newTestClient(t, newFakeHost(), nil)

	seed(t, cc,
		Object{"id": int64(1), "name": "Ada"},
		Object{"id": int64(2), "name": "Grace"},
	)

	if n := cc.NUpdates(); n != 1 {
		t.Fatalf("NUpdates = %d, want 1", n)
	}
	if got := cc.GetObjectsNow(); len(got) != 2 {
		t.Fatalf("list length = %d, want 2", len(got))
	}
	if obj, ok := cc.GetObjectNow(2); !ok || obj["name"] != "Grace" {
		t.Fatalf("GetObjectNow(2): ok=%v obj=%v", ok, obj)
	}

	if got := log.named(EventUpdating); len(got) != 1 || len(got[0].Objects) != 2 {
		t.Fatalf("updating events: %v", got)
	}
	if got := log.named(EventUpdated); len(got) != 1 || len(got[0].Objects) != 2 {
		t.Fatalf("updated events: %v", got)
	}
	if got := log.named(EventWrapped); len(got) != 2 {
		t.Fatalf("wrapped events: %d, want 2", len(got))
	}
}

// A record identical to the cached one must be filtered out before storage:
// no events, no counter movement. Codec round trips change numeric Go types,
// so equality is loose.
func TestApplyChangesSuppressesNoOps(t *testing.T) {
	cc, log := newTestClient(t, newFakeHost(), nil)
	seed(t, cc, Object{"id": int64(1), "name": "Ada", "age": int64(36)})

	before := len(log.events)
	seed(t, cc, Object{"id": float64(1), "name": "Ada", "age": int8(36)})

	if cc.NUpdates() != 1 {
		t.Fatalf("no-op merge moved NUpdates to %d", cc.NUpdates())
	}
	if len(log.events) != before {
		t.Fatalf("no-op merge fired %d events", len(log.events)-before)
	}
}

// Known objects keep stable identity across merges: a held reference
// observes the change in place.
func TestApplyChangesPreservesIdentity(t *testing.T) {
	cc, _ := newTestClient(t, newFakeHost(), nil)
	seed(t, cc, Object{"id": int64(1), "name": "Ada"})

	held, _ := cc.GetObjectNow(1)
	seed(t, cc, Object{"id": int64(1), "name": "Lovelace"})

	if held["name"] != "Lovelace" {
		t.Fatalf("held reference did not observe merge: %v", held)
	}
	now, _ := cc.GetObjectNow(1)
	if fmt.Sprintf("%p", now) != fmt.Sprintf("%p", held) {
		t.Fatalf("merge replaced the instance")
	}
	if got := cc.GetObjectsNow(); len(got) != 1 {
		t.Fatalf("merge duplicated the list entry: %d", len(got))
	}
}

func TestApplyChangesRejectsRecordWithoutID(t *testing.T) {
	cc, log := newTestClient(t, newFakeHost(), nil)

	err := cc.ApplyChanges([]Object{{"name": "nobody"}})
	if !IsKind(err, KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if got := log.named(EventError); len(got) != 1 {
		t.Fatalf("error events: %d, want 1", len(got))
	}
	if got := cc.GetObjectsNow(); len(got) != 0 {
		t.Fatalf("defective record reached storage")
	}
}

func TestApplyChangesWrapsFreshObjects(t *testing.T) {
	cc, _ := newTestClient(t, newFakeHost(), func(d *Descriptor) {
		d.Wrap = func(raw Object) Object {
			raw["wrapped"] = true
			return raw
		}
	})
	seed(t, cc, Object{"id": int64(1)})

	obj, _ := cc.GetObjectNow(1)
	if obj["wrapped"] != true {
		t.Fatalf("fresh object not wrapped: %v", obj)
	}

	// merges onto a known object must not re-wrap
	seed(t, cc, Object{"id": int64(1), "name": "Ada"})
	if obj["name"] != "Ada" {
		t.Fatalf("merge lost: %v", obj)
	}
}

// Handlers may read and mutate the cache. If an updating handler evicts an
// object that is in the pending change set, the eviction must win: the merge
// must not resurrect the object, least of all only in the indices.
func TestUpdatingHandlerMayEvictChangedObject(t *testing.T) {
	cc, log := newTestClient(t, newFakeHost(), withEmailIndex)
	seed(t, cc, Object{"id": int64(1), "email": "a@x.com"})

	armed := true
	if err := cc.On(EventUpdating, func(Event) {
		if armed {
			armed = false
			cc.RemoveFromCache(int64(1))
		}
	}); err != nil {
		t.Fatalf("On: %v", err)
	}

	updatesBefore := cc.NUpdates()
	seed(t, cc, Object{"id": int64(1), "email": "b@x.com"})

	if _, ok := cc.GetObjectNow(1); ok {
		t.Fatalf("evicted object resurfaced in the map")
	}
	if got := cc.GetObjectsNow(); len(got) != 0 {
		t.Fatalf("evicted object resurfaced in the list: %v", got)
	}
	ix, _ := cc.Index("byEmail")
	if _, ok := ix.Get("a@x.com"); ok {
		t.Fatalf("stale index entry survived eviction")
	}
	if _, ok := ix.Get("b@x.com"); ok {
		t.Fatalf("ghost index entry for an evicted object")
	}
	if cc.NUpdates() != updatesBefore {
		t.Fatalf("empty merge moved NUpdates")
	}
	if got := log.named(EventUpdated); len(got) != 1 {
		t.Fatalf("updated events: %d, want only the seed's", len(got))
	}
}

func TestApplyChangesHooks(t *testing.T) {
	var added []Object
	var changed int
	cc, _ := newTestClient(t, newFakeHost(), func(d *Descriptor) {
		d.OnAdded = func(obj Object) { added = append(added, obj) }
		d.OnCacheChanged = func() { changed++ }
	})

	seed(t, cc, Object{"id": int64(1)}, Object{"id": int64(2)})
	if len(added) != 2 || changed != 1 {
		t.Fatalf("hooks: added=%d changed=%d", len(added), changed)
	}

	seed(t, cc, Object{"id": int64(1), "name": "Ada"})
	if len(added) != 2 {
		t.Fatalf("merge of known object ran OnAdded")
	}
	if changed != 2 {
		t.Fatalf("OnCacheChanged after merge: %d", changed)
	}
}

// ==============================
// Secondary indexes
// ==============================

func withEmailIndex(d *Descriptor) {
	d.Indexes = []IndexSpec{{Name: "byEmail", KeyPath: []string{"email"}, Unique: true}}
}

func TestIndexFollowsMerge(t *testing.T) {
	cc, _ := newTestClient(t, newFakeHost(), withEmailIndex)
	seed(t, cc, Object{"id": int64(1), "email": "a@x.com"})

	ix, ok := cc.Index("byEmail")
	if !ok {
		t.Fatalf("index not configured")
	}
	if _, ok := ix.Get("a@x.com"); !ok {
		t.Fatalf("insert not indexed")
	}

	// property change re-keys the entry
	seed(t, cc, Object{"id": int64(1), "email": "b@x.com"})
	if _, ok := ix.Get("a@x.com"); ok {
		t.Fatalf("stale key survived re-key")
	}
	got, ok := ix.Get("b@x.com")
	if !ok || got["id"] != int64(1) {
		t.Fatalf("new key missing: ok=%v got=%v", ok, got)
	}
}

func TestIndexFollowsRemoval(t *testing.T) {
	cc, _ := newTestClient(t, newFakeHost(), withEmailIndex)
	seed(t, cc, Object{"id": int64(1), "email": "a@x.com"})

	cc.RemoveFromCache(int64(1))

	ix, _ := cc.Index("byEmail")
	if _, ok := ix.Get("a@x.com"); ok {
		t.Fatalf("removed object still indexed")
	}
}

// ==============================
// Removal
// ==============================

func TestRemoveFromCache(t *testing.T) {
	var removed []Object
	cc, log := newTestClient(t, newFakeHost(), func(d *Descriptor) {
		d.OnRemoved = func(obj Object) { removed = append(removed, obj) }
	})
	seed(t, cc, Object{"id": int64(1), "name": "Ada"}, Object{"id": int64(2), "name": "Grace"})

	gone := cc.RemoveFromCache(int64(1))
	if gone == nil || gone["name"] != "Ada" {
		t.Fatalf("RemoveFromCache returned %v", gone)
	}
	if _, ok := cc.GetObjectNow(1); ok {
		t.Fatalf("removed object still resolvable")
	}
	if got := cc.GetObjectsNow(); len(got) != 1 || got[0]["id"] != int64(2) {
		t.Fatalf("list after removal: %v", got)
	}
	if len(removed) != 1 || removed[0]["name"] != "Ada" {
		t.Fatalf("OnRemoved: %v", removed)
	}
	if got := log.named(EventRemoved); len(got) != 1 || got[0].Object["name"] != "Ada" {
		t.Fatalf("removed events: %v", got)
	}

	// unknown id is a silent no-op
	before := len(log.events)
	if got := cc.RemoveFromCache(int64(99)); got != nil {
		t.Fatalf("unknown id returned %v", got)
	}
	if len(log.events) != before {
		t.Fatalf("no-op removal fired events")
	}

	// removal also accepts the object itself
	cc.RemoveFromCache(Object{"id": int64(2)})
	if len(cc.GetObjectsNow()) != 0 {
		t.Fatalf("removal by object failed")
	}
}

// ==============================
// Network reads
// ==============================

func TestReadObjectMergesHostResult(t *testing.T) {
	host := newFakeHost()
	host.fetchObject = func(cache string, input any) (Object, error) {
		if cache != "users" {
			return nil, fmt.Errorf("wrong cache %q", cache)
		}
		return Object{"id": int64(1), "name": "Ada"}, nil
	}
	cc, log := newTestClient(t, host, nil)

	obj, err := cc.ReadObject(context.Background(), int64(1))
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if got := log.named(EventSendingReadQuery); len(got) != 1 || got[0].Input != int64(1) {
		t.Fatalf("sendingReadQueryToHost events: %v", got)
	}

	cached, ok := cc.GetObjectNow(1)
	if !ok {
		t.Fatalf("read result not merged")
	}
	if fmt.Sprintf("%p", obj) != fmt.Sprintf("%p", cached) {
		t.Fatalf("ReadObject returned a non-cached instance")
	}
}

func TestReadObjectFailureClassification(t *testing.T) {
	t.Run("plain errors become not-found with input", func(t *testing.T) {
		host := newFakeHost()
		host.fetchObject = func(string, any) (Object, error) { return nil, errors.New("boom") }
		cc, log := newTestClient(t, host, nil)

		_, err := cc.ReadObject(context.Background(), int64(7))
		if !IsKind(err, KindNotFound) {
			t.Fatalf("kind = %q, want not-found", KindOf(err))
		}
		var ce *Error
		if !errors.As(err, &ce) || ce.Input != int64(7) {
			t.Fatalf("error does not carry the input: %v", err)
		}
		if got := log.named(EventError); len(got) != 1 {
			t.Fatalf("error events: %d", len(got))
		}
	})

	t.Run("host-raised kinds survive", func(t *testing.T) {
		host := newFakeHost()
		host.fetchObject = func(string, any) (Object, error) {
			return nil, &Error{Kind: KindPermissions, Cache: "users", Msg: "denied"}
		}
		cc, _ := newTestClient(t, host, nil)

		_, err := cc.ReadObject(context.Background(), int64(7))
		if !IsKind(err, KindPermissions) {
			t.Fatalf("kind = %q, want permissions", KindOf(err))
		}
	})

	// failures that crossed the RPC boundary carry kind and message but no
	// input; the query input must be restored on this side
	t.Run("kinded error without input gets the query input", func(t *testing.T) {
		host := newFakeHost()
		host.fetchObject = func(string, any) (Object, error) {
			return nil, &Error{Kind: KindNotFound, Msg: "no such row"}
		}
		cc, _ := newTestClient(t, host, nil)

		_, err := cc.ReadObject(context.Background(), int64(404))
		var ce *Error
		if !errors.As(err, &ce) || ce.Input != int64(404) {
			t.Fatalf("input not restored: %v", err)
		}
		if ce.Cache != cc.Name() {
			t.Fatalf("cache not attached: %q", ce.Cache)
		}
		if !IsKind(err, KindNotFound) {
			t.Fatalf("kind = %q, want not-found", KindOf(err))
		}
	})

	t.Run("host-attached input is preserved", func(t *testing.T) {
		host := newFakeHost()
		host.fetchObject = func(string, any) (Object, error) {
			return nil, &Error{Kind: KindNotFound, Input: "original", Msg: "no such row"}
		}
		cc, _ := newTestClient(t, host, nil)

		_, err := cc.ReadObject(context.Background(), int64(404))
		var ce *Error
		if !errors.As(err, &ce) || ce.Input != "original" {
			t.Fatalf("host-attached input overwritten: %v", err)
		}
	})
}

func TestReadObjectsReturnsLocalInstances(t *testing.T) {
	host := newFakeHost()
	host.fetchObjects = func(string, any) ([]Object, error) {
		return []Object{
			{"id": int64(1), "name": "Ada"},
			{"id": int64(2), "name": "Grace"},
		}, nil
	}
	cc, _ := newTestClient(t, host, nil)

	objs, err := cc.ReadObjects(context.Background(), nil)
	if err != nil || len(objs) != 2 {
		t.Fatalf("ReadObjects: %v, %v", objs, err)
	}
	cached, _ := cc.GetObjectNow(1)
	if fmt.Sprintf("%p", objs[0]) != fmt.Sprintf("%p", cached) {
		t.Fatalf("returned set bypasses the cache")
	}
}

func TestGetObjectPrefersLocal(t *testing.T) {
	host := newFakeHost()
	cc, _ := newTestClient(t, host, nil)
	seed(t, cc, Object{"id": int64(1), "name": "Ada"})

	obj, err := cc.GetObject(context.Background(), int64(1))
	if err != nil || obj["name"] != "Ada" {
		t.Fatalf("GetObject: %v, %v", obj, err)
	}
	if host.calls["fetchObject"] != 0 {
		t.Fatalf("local hit reached the host")
	}
}

func TestGetObjectsWarmAndCold(t *testing.T) {
	host := newFakeHost()
	host.fetchObjects = func(string, any) ([]Object, error) {
		return []Object{{"id": int64(1)}}, nil
	}
	cc, _ := newTestClient(t, host, nil)

	// cold cache resolves through the host
	if _, err := cc.GetObjects(context.Background(), nil); err != nil {
		t.Fatalf("cold GetObjects: %v", err)
	}
	if host.calls["fetchObjects"] != 1 {
		t.Fatalf("cold read did not reach the host")
	}

	// warm cache answers locally
	if _, err := cc.GetObjects(context.Background(), nil); err != nil {
		t.Fatalf("warm GetObjects: %v", err)
	}
	if host.calls["fetchObjects"] != 1 {
		t.Fatalf("warm read reached the host")
	}
}

// ==============================
// Optimistic mutations
// ==============================

func TestCreateObjectUsesHostID(t *testing.T) {
	host := newFakeHost()
	host.createObject = func(_ string, values Object) (int64, error) {
		if _, has := values["id"]; has {
			t.Fatalf("draft carried a local identifier: %v", values)
		}
		return 7, nil
	}
	cc, _ := newTestClient(t, host, nil)

	obj, err := cc.CreateObject(context.Background(), Object{"name": "Ada"})
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if obj["id"] != int64(7) {
		t.Fatalf("host identifier not assigned: %v", obj)
	}
	cached, ok := cc.GetObjectNow(7)
	if !ok || fmt.Sprintf("%p", obj) != fmt.Sprintf("%p", cached) {
		t.Fatalf("created object not the cached instance")
	}
}

func TestCreateObjectRejected(t *testing.T) {
	host := newFakeHost()
	host.createObject = func(string, Object) (int64, error) {
		return 0, &Error{Kind: KindPermissions, Msg: "denied"}
	}
	cc, log := newTestClient(t, host, nil)

	if _, err := cc.CreateObject(context.Background(), Object{"name": "Ada"}); !IsKind(err, KindPermissions) {
		t.Fatalf("expected permissions error, got %v", err)
	}
	if len(cc.GetObjectsNow()) != 0 {
		t.Fatalf("rejected create left residue")
	}
	if got := log.named(EventError); len(got) != 1 {
		t.Fatalf("error events: %d", len(got))
	}
}

func TestUpdateObjectOptimistic(t *testing.T) {
	host := newFakeHost()
	host.updateObject = func(string, Object) error { return nil }
	cc, _ := newTestClient(t, host, nil)
	seed(t, cc, Object{"id": int64(1), "name": "Ada"})

	if err := cc.UpdateObject(context.Background(), Object{"id": int64(1), "name": "Lovelace"}); err != nil {
		t.Fatalf("UpdateObject: %v", err)
	}
	obj, _ := cc.GetObjectNow(1)
	if obj["name"] != "Lovelace" {
		t.Fatalf("local merge missing: %v", obj)
	}
	if host.calls["updateObject"] != 1 {
		t.Fatalf("host not consulted")
	}
}

// A host rejection must restore the exact prior state onto the same
// instance; observers see exactly one error.
func TestUpdateObjectRollback(t *testing.T) {
	host := newFakeHost()
	host.updateObject = func(string, Object) error {
		return &Error{Kind: KindPermissions, Cache: "users", Msg: "denied"}
	}
	cc, log := newTestClient(t, host, withEmailIndex)
	seed(t, cc, Object{"id": int64(1), "name": "Ada", "email": "a@x.com"})

	held, _ := cc.GetObjectNow(1)

	err := cc.UpdateObject(context.Background(), Object{"id": int64(1), "name": "Mallory", "email": "m@x.com"})
	if !IsKind(err, KindPermissions) {
		t.Fatalf("expected permissions error, got %v", err)
	}

	obj, _ := cc.GetObjectNow(1)
	if fmt.Sprintf("%p", obj) != fmt.Sprintf("%p", held) {
		t.Fatalf("rollback replaced the instance")
	}
	if obj["name"] != "Ada" || obj["email"] != "a@x.com" {
		t.Fatalf("rollback incomplete: %v", obj)
	}

	// the index must have been re-keyed back as well
	ix, _ := cc.Index("byEmail")
	if _, ok := ix.Get("m@x.com"); ok {
		t.Fatalf("optimistic index key survived rollback")
	}
	if _, ok := ix.Get("a@x.com"); !ok {
		t.Fatalf("original index key not restored")
	}

	if got := log.named(EventError); len(got) != 1 {
		t.Fatalf("error events: %d, want 1", len(got))
	}
}

func TestUpdateObjectLocallyAbsent(t *testing.T) {
	host := newFakeHost()
	host.updateObject = func(string, Object) error { return nil }
	cc, _ := newTestClient(t, host, nil)

	if err := cc.UpdateObject(context.Background(), Object{"id": int64(5), "name": "X"}); err != nil {
		t.Fatalf("UpdateObject: %v", err)
	}
	if _, ok := cc.GetObjectNow(5); ok {
		t.Fatalf("update of an uncached object materialized it locally")
	}
	if host.calls["updateObject"] != 1 {
		t.Fatalf("host not consulted")
	}
}

func TestUpdateObjectRequiresID(t *testing.T) {
	cc, _ := newTestClient(t, newFakeHost(), nil)
	if err := cc.UpdateObject(context.Background(), Object{"name": "X"}); !IsKind(err, KindInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestDeleteObjectOptimistic(t *testing.T) {
	host := newFakeHost()
	host.deleteObject = func(_ string, id int64) error {
		if id != 1 {
			t.Fatalf("wrong id %d", id)
		}
		return nil
	}
	cc, log := newTestClient(t, host, nil)
	seed(t, cc, Object{"id": int64(1), "name": "Ada"})

	if err := cc.DeleteObject(context.Background(), int64(1)); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if _, ok := cc.GetObjectNow(1); ok {
		t.Fatalf("deleted object still cached")
	}
	if got := log.named(EventRemoved); len(got) != 1 || got[0].Object["name"] != "Ada" {
		t.Fatalf("removed events: %v", got)
	}
}

func TestDeleteObjectRollback(t *testing.T) {
	host := newFakeHost()
	host.deleteObject = func(string, int64) error {
		return &Error{Kind: KindPermissions, Msg: "denied"}
	}
	cc, log := newTestClient(t, host, nil)
	seed(t, cc, Object{"id": int64(1), "name": "Ada"})

	if err := cc.DeleteObject(context.Background(), int64(1)); !IsKind(err, KindPermissions) {
		t.Fatalf("expected permissions error, got %v", err)
	}
	obj, ok := cc.GetObjectNow(1)
	if !ok || obj["name"] != "Ada" {
		t.Fatalf("rejected delete not rolled back: %v", obj)
	}
	if len(cc.GetObjectsNow()) != 1 {
		t.Fatalf("list not restored")
	}
	if got := log.named(EventError); len(got) != 1 {
		t.Fatalf("error events: %d", len(got))
	}
}
