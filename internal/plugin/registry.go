package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Status is the outcome of a registry lookup.
type Status int

const (
	NotFound Status = iota
	Ambiguous
	Found
)

func (s Status) String() string {
	switch s {
	case NotFound:
		return "not_found"
	case Ambiguous:
		return "ambiguous"
	case Found:
		return "found"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Entry is a registered plugin: its record plus the means to load it.
type Entry struct {
	Record Record
	load   LoadFunc
}

// NewEntry pairs a record with its loader.
func NewEntry(rec Record, load LoadFunc) *Entry {
	return &Entry{Record: rec, load: load}
}

// Load resolves the entry point into a Translator without invoking it.
func (e *Entry) Load() (Translator, error) {
	if e.load == nil {
		return nil, &LoadError{Target: e.Record.EntryPoint, Err: fmt.Errorf("no loader registered")}
	}
	t, err := e.load()
	if err != nil {
		return nil, &LoadError{Target: e.Record.EntryPoint, Err: err}
	}
	if t == nil {
		return nil, &LoadError{Target: e.Record.EntryPoint, Err: fmt.Errorf("loader returned no translator")}
	}
	return t, nil
}

// Resolution is the tagged result of Resolve.
type Resolution struct {
	Key     Key
	Status  Status
	Matches []*Entry
}

// Entry returns the single match of a Found resolution, or nil.
func (r Resolution) Entry() *Entry {
	if r.Status != Found {
		return nil
	}
	return r.Matches[0]
}

// Registry holds registered plugins indexed by (group, name). Several entries
// may share a key; that is reported as ambiguity at resolution time rather
// than rejected at registration.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key][]*Entry
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Key][]*Entry),
	}
}

// Add registers a plugin.
func (r *Registry) Add(rec Record, load LoadFunc) error {
	rec.Group = strings.TrimSpace(rec.Group)
	rec.Name = strings.ToLower(strings.TrimSpace(rec.Name))
	if rec.Group == "" {
		return fmt.Errorf("plugin group is required")
	}
	if rec.Name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if rec.EntryPoint == "" {
		return fmt.Errorf("plugin %s: entry point is required", rec.Key())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[rec.Key()] = append(r.entries[rec.Key()], NewEntry(rec, load))
	return nil
}

// Merge copies every entry of other into r.
func (r *Registry) Merge(other *Registry) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, es := range other.entries {
		r.entries[k] = append(r.entries[k], es...)
	}
}

// Resolve looks up all plugins registered under key. Exactly one match is
// required: zero matches yield ErrPluginNotFound, several ErrPluginAmbiguous.
// The returned Resolution is populated in every case.
func (r *Registry) Resolve(key Key) (Resolution, error) {
	r.mu.RLock()
	matches := append([]*Entry(nil), r.entries[key]...)
	r.mu.RUnlock()

	res := Resolution{Key: key, Matches: matches}
	switch len(matches) {
	case 0:
		res.Status = NotFound
		return res, fmt.Errorf("%w: a preprocessor plugin for '%s' FEA is not installed", ErrPluginNotFound, key.Name)
	case 1:
		res.Status = Found
		return res, nil
	default:
		res.Status = Ambiguous
		descs := make([]string, 0, len(matches))
		for _, m := range matches {
			descs = append(descs, fmt.Sprintf("%s [%s]", m.Record, m.Record.Source))
		}
		return res, fmt.Errorf("%w for %s: %s", ErrPluginAmbiguous, key, strings.Join(descs, "; "))
	}
}

// Records returns the records registered under group, sorted by name then
// distribution.
func (r *Registry) Records(group string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for k, es := range r.entries {
		if k.Group != group {
			continue
		}
		for _, e := range es {
			out = append(out, e.Record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Distribution < out[j].Distribution
	})
	return out
}

// builtin holds plugins linked into the binary.
var builtin = NewRegistry()

// Register makes a linked-in plugin available, typically from an init
// function. It panics on an invalid record.
func Register(rec Record, load LoadFunc) {
	if rec.Source == "" {
		rec.Source = "builtin"
	}
	if err := builtin.Add(rec, load); err != nil {
		panic("plugin: Register: " + err.Error())
	}
}

// Builtin returns a snapshot registry of the linked-in plugins.
func Builtin() *Registry {
	r := NewRegistry()
	r.Merge(builtin)
	return r
}
