package planner

// EntryKind tags a keymap entry as a plain column or a relationship branch.
type EntryKind int

const (
	// KindColumn maps a logical field to a physical output column label.
	KindColumn EntryKind = iota
	// KindForeignKey marks a nested branch unpacked from the same row.
	KindForeignKey
	// KindManyToMany marks a nested branch that fans out across rows.
	KindManyToMany
)

// Entry is one keymap slot: a column label or a relationship branch.
type Entry struct {
	Kind   EntryKind
	Label  string  // set for KindColumn
	Branch *Keymap // set for relationship kinds
}

// Keymap maps logical field names to physical output column labels or
// nested relationship branches. Every level carries the label of its
// primary key column; the unpacking engine needs it to detect row-group
// boundaries, so it is present even when the caller did not request the
// primary key.
type Keymap struct {
	PKLabel string

	names   []string
	entries map[string]Entry
}

// NewKeymap returns an empty keymap whose primary key appears under the
// given output label.
func NewKeymap(pkLabel string) *Keymap {
	return &Keymap{
		PKLabel: pkLabel,
		entries: make(map[string]Entry),
	}
}

func (k *Keymap) set(name string, entry Entry) {
	if _, exists := k.entries[name]; !exists {
		k.names = append(k.names, name)
	}
	k.entries[name] = entry
}

// SetColumn maps a logical field to an output column label.
func (k *Keymap) SetColumn(name, label string) {
	k.set(name, Entry{Kind: KindColumn, Label: label})
}

// SetForeignKey attaches a foreign-key branch under the given field name.
func (k *Keymap) SetForeignKey(name string, branch *Keymap) {
	k.set(name, Entry{Kind: KindForeignKey, Branch: branch})
}

// SetManyToMany attaches a many-to-many branch under the given field name.
func (k *Keymap) SetManyToMany(name string, branch *Keymap) {
	k.set(name, Entry{Kind: KindManyToMany, Branch: branch})
}

// Names returns the field names in insertion order.
func (k *Keymap) Names() []string {
	return k.names
}

// Get returns the entry stored under a field name.
func (k *Keymap) Get(name string) (Entry, bool) {
	entry, ok := k.entries[name]
	return entry, ok
}

// Len returns the number of entries at this level.
func (k *Keymap) Len() int {
	return len(k.entries)
}
