package machine

// Table is an open-addressed hash table with linear probing, keyed by
// interned strings. It underlies globals, methods, instance fields and the
// heap's intern pool. Deleted slots become tombstones, which stay part of
// probe sequences and keep counting toward the load factor until the next
// resize drops them.
type Table struct {
	count   int // live entries plus tombstones
	entries []entry
}

// An entry with a nil key is empty when its value is Nil and a tombstone
// when its value is True.
type entry struct {
	key   *String
	value Value
}

const tableMaxLoad = 0.75

// Get returns the value stored under key, if any.
func (t *Table) Get(key *String) (Value, bool) {
	if t.count == 0 {
		return nil, false
	}
	e := t.findEntry(t.entries, key)
	if e.key == nil {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key and reports whether the key is new.
func (t *Table) Set(key *String, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.resize(growCapacity(len(t.entries)))
	}

	e := t.findEntry(t.entries, key)
	isNew := e.key == nil
	if isNew && e.value == Nil {
		// brand new slot; tombstone reuse does not increment the count
		t.count++
	}
	e.key = key
	e.value = value
	return isNew
}

// Delete removes key from the table, leaving a tombstone, and reports
// whether the key was present.
func (t *Table) Delete(key *String) bool {
	if t.count == 0 {
		return false
	}
	e := t.findEntry(t.entries, key)
	if e.key == nil {
		return false
	}
	e.key = nil
	e.value = True
	return true
}

// AddAll copies every entry of src into t. It powers method inheritance.
func (t *Table) AddAll(src *Table) {
	for i := range src.entries {
		e := &src.entries[i]
		if e.key != nil {
			t.Set(e.key, e.value)
		}
	}
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].key != nil {
			n++
		}
	}
	return n
}

// findEntry returns the slot for key: the entry holding it, or the slot an
// insertion should use (the first tombstone of the probe sequence if one was
// passed, else the terminating empty slot). Interned keys compare by
// identity.
func (t *Table) findEntry(entries []entry, key *String) *entry {
	i := int(key.hash) % len(entries)
	var tombstone *entry
	for {
		e := &entries[i]
		if e.key == nil {
			if e.value == Nil {
				// truly empty
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			if tombstone == nil {
				tombstone = e
			}
		} else if e.key == key {
			return e
		}
		i = (i + 1) % len(entries)
	}
}

// findString scans the table by string content instead of key identity; it
// is the intern-pool lookup. Like findEntry, it probes past tombstones and
// stops only at a truly empty slot.
func (t *Table) findString(s string, hash uint32) *String {
	if t.count == 0 {
		return nil
	}
	i := int(hash) % len(t.entries)
	for {
		e := &t.entries[i]
		if e.key == nil {
			if e.value == Nil {
				return nil
			}
		} else if e.key.hash == hash && e.key.s == s {
			return e.key
		}
		i = (i + 1) % len(t.entries)
	}
}

// resize rebuilds the table at the new capacity. Tombstones are not copied,
// so count is recomputed from live entries.
func (t *Table) resize(capacity int) {
	entries := make([]entry, capacity)
	for i := range entries {
		entries[i].value = Nil
	}

	t.count = 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.key == nil {
			continue
		}
		dst := t.findEntryIn(entries, e.key)
		dst.key = e.key
		dst.value = e.value
		t.count++
	}
	t.entries = entries
}

// findEntryIn is findEntry against an explicit slice, used mid-resize when
// t.entries still holds the old buckets.
func (t *Table) findEntryIn(entries []entry, key *String) *entry {
	i := int(key.hash) % len(entries)
	for {
		e := &entries[i]
		if e.key == nil && e.value == Nil || e.key == key {
			return e
		}
		i = (i + 1) % len(entries)
	}
}

// removeUnmarked deletes every entry whose key did not survive marking; the
// heap calls it on the intern pool so interned strings behave as weak keys.
func (t *Table) removeUnmarked() {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil && !e.key.marked {
			e.key = nil
			e.value = True
		}
	}
}

// each calls fn for every live entry.
func (t *Table) each(fn func(key *String, value Value)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil {
			fn(e.key, e.value)
		}
	}
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}
