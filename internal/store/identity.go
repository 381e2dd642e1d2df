package store

import "github.com/robelix/miro/internal/schema"

// identityKey addresses one live object: an id is only unique within
// its table, so the map keys on both.
type identityKey struct {
	table string
	id    int64
}

// identityMap caches the single live instance of every loaded object.
// The store consults it on every load so that two loads of the same row
// can never produce diverging instances. Entries are erased when the
// object is removed from the store; eviction compares instance
// identity, not just the id, so forgetting a stale reference can never
// evict a newer object registered under the same key.
type identityMap struct {
	objects map[identityKey]schema.Object
}

func newIdentityMap() *identityMap {
	return &identityMap{objects: make(map[identityKey]schema.Object)}
}

func (m *identityMap) get(table string, id int64) (schema.Object, bool) {
	obj, ok := m.objects[identityKey{table, id}]
	return obj, ok
}

func (m *identityMap) remember(table string, obj schema.Object) {
	m.objects[identityKey{table, obj.ObjectID()}] = obj
}

func (m *identityMap) forget(table string, obj schema.Object) {
	key := identityKey{table, obj.ObjectID()}
	if live, ok := m.objects[key]; ok && live == obj {
		delete(m.objects, key)
	}
}

func (m *identityMap) len() int {
	return len(m.objects)
}
