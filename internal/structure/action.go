package structure

import "fmt"

// Kind identifies what an action does to a path
type Kind string

const (
	KindAdd    Kind = "add"
	KindEdit   Kind = "edit"
	KindDelete Kind = "delete"
	KindRename Kind = "rename"
)

// Kinds lists every action kind in a stable order.
var Kinds = []Kind{KindAdd, KindEdit, KindDelete, KindRename}

// Valid reports whether k is a known action kind
func (k Kind) Valid() bool {
	switch k {
	case KindAdd, KindEdit, KindDelete, KindRename:
		return true
	}
	return false
}

// Action is a single planned file-level mutation.
// NewPath is only set for renames. Reason is a short human rationale used by
// the story log and never by planning.
type Action struct {
	Kind    Kind
	Path    string
	NewPath string
	Reason  string
}

// Add creates an add action
func Add(path string) Action { return Action{Kind: KindAdd, Path: path} }

// Edit creates an edit action
func Edit(path string) Action { return Action{Kind: KindEdit, Path: path} }

// Delete creates a delete action
func Delete(path string) Action { return Action{Kind: KindDelete, Path: path} }

// Rename creates a rename action
func Rename(oldPath, newPath string) Action {
	return Action{Kind: KindRename, Path: oldPath, NewPath: newPath}
}

// WithReason returns a copy of the action carrying the given rationale.
func (a Action) WithReason(reason string) Action {
	a.Reason = reason
	return a
}

// Touches returns every path the action reads or writes.
func (a Action) Touches() []string {
	if a.Kind == KindRename {
		return []string{a.Path, a.NewPath}
	}
	return []string{a.Path}
}

func (a Action) String() string {
	if a.Kind == KindRename {
		return fmt.Sprintf("rename %s -> %s", a.Path, a.NewPath)
	}
	return fmt.Sprintf("%s %s", a.Kind, a.Path)
}

// Sequence is an ordered list of actions planned for one day. Later actions
// may depend on the structural effects of earlier ones.
type Sequence []Action

// Kinds returns the action kinds in order, mostly for logging.
func (s Sequence) Kinds() []Kind {
	kinds := make([]Kind, len(s))
	for i, a := range s {
		kinds[i] = a.Kind
	}
	return kinds
}

// Concat joins batches back into a single sequence.
func Concat(batches []Sequence) Sequence {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	out := make(Sequence, 0, n)
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}
