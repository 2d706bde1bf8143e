package replay

// IDMap is a bidirectional registry between positive integer ids and objects.
// Id 0 is never allocated and stands for "no object".
type IDMap[T comparable] struct {
	objects    []T // objects[0] is always the zero value
	ids        map[T]int
	generation uint64
}

// NewIDMap returns an empty map.
func NewIDMap[T comparable]() *IDMap[T] {
	m := &IDMap[T]{}
	m.reset()
	return m
}

func (m *IDMap[T]) reset() {
	var zero T
	m.objects = []T{zero}
	m.ids = make(map[T]int)
}

// Add registers obj and returns its new id. Adding the zero value or an
// object that is already registered is an invariant violation.
func (m *IDMap[T]) Add(obj T) int {
	var zero T
	assertf(obj != zero, "IDMap.Add of an empty object")
	_, dup := m.ids[obj]
	assertf(!dup, "IDMap.Add of an object that is already registered")

	id := len(m.objects)
	m.objects = append(m.objects, obj)
	m.ids[obj] = id
	return id
}

// ID returns the id of obj, or 0 if it was never added.
func (m *IDMap[T]) ID(obj T) int {
	return m.ids[obj]
}

// Object returns the object registered under id. The second result is false
// for id 0 and for ids that were never allocated in the current generation.
func (m *IDMap[T]) Object(id int) (T, bool) {
	if id <= 0 || id >= len(m.objects) {
		var zero T
		return zero, false
	}
	return m.objects[id], true
}

// ForEach calls fn for every live entry in ascending id order.
func (m *IDMap[T]) ForEach(fn func(id int, obj T)) {
	for id := 1; id < len(m.objects); id++ {
		fn(id, m.objects[id])
	}
}

// LastID returns the most recently allocated id, or 0 if the map is empty.
func (m *IDMap[T]) LastID() int {
	return len(m.objects) - 1
}

// Len returns the number of registered objects.
func (m *IDMap[T]) Len() int {
	return len(m.objects) - 1
}

// Clear drops every entry. Ids issued before the call are invalid afterwards
// and are handed out again from 1.
func (m *IDMap[T]) Clear() {
	m.reset()
	m.generation++
}

// Generation is incremented by every Clear.
func (m *IDMap[T]) Generation() uint64 {
	return m.generation
}
