package capture

// Interner assigns stable ids to strings (function names, source paths,
// libraries) so that the rest of the capture can store small integers
// instead of repeated strings. It is built once at load time and is
// read-only afterwards, so lookups need no locking.
type Interner struct {
	strings []string
	ids     map[string]StringId
}

// NewInterner returns an empty interner.
func NewInterner() *Interner {
	return &Interner{ids: make(map[string]StringId)}
}

// Intern returns the id for s, assigning a new one if this is the first
// time s has been seen.
func (in *Interner) Intern(s string) StringId {
	if id, ok := in.ids[s]; ok {
		return id
	}
	id := StringId(len(in.strings))
	in.strings = append(in.strings, s)
	in.ids[s] = id
	return id
}

// Resolve returns the string behind id, or false if id was never interned
// by this instance.
func (in *Interner) Resolve(id StringId) (string, bool) {
	if int(id) >= len(in.strings) {
		return "", false
	}
	return in.strings[id], true
}

// Len reports the number of distinct interned strings.
func (in *Interner) Len() int {
	return len(in.strings)
}
