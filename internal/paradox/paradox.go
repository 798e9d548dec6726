package paradox

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/schaermu/gitcom/internal/structure"
)

var (
	ErrInvalidAction  = errors.New("invalid action")
	ErrAlreadyExists  = errors.New("path already exists")
	ErrNotFound       = errors.New("path does not exist")
	ErrProtected      = errors.New("path is protected")
	ErrAlreadyTouched = errors.New("path already touched in this batch")
)

// FallbackPath is the first path tried when a batch has to be rescued.
const FallbackPath = "src/fallback_note.md"

// FallbackReason is the story rationale attached to a synthesized fallback.
const FallbackReason = "fallback note"

// Paradox describes why an action is inadmissible against a state.
type Paradox struct {
	Kind   error
	Action structure.Action
	Path   string
}

func (p *Paradox) Error() string {
	if p.Path == "" {
		return fmt.Sprintf("%s: %s", p.Action, p.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", p.Action, p.Kind, p.Path)
}

func (p *Paradox) Unwrap() error { return p.Kind }

// Rejection records an action dropped by ValidateBatch.
type Rejection struct {
	Index  int
	Action structure.Action
	Err    error
}

// Reason returns a short label for the rejection, used as a metric attribute.
func (r Rejection) Reason() string {
	switch {
	case errors.Is(r.Err, ErrAlreadyTouched):
		return "touched"
	case errors.Is(r.Err, ErrAlreadyExists):
		return "exists"
	case errors.Is(r.Err, ErrNotFound):
		return "missing"
	case errors.Is(r.Err, ErrProtected):
		return "protected"
	default:
		return "invalid"
	}
}

// Batch is the outcome of validating a proposed sequence.
type Batch struct {
	Actions    structure.Sequence
	Final      structure.State
	Rejections []Rejection
	Fallback   bool
}

// Validator decides whether actions are admissible against a structural
// state and computes the resulting state without touching its input.
type Validator struct {
	rules  Rules
	logger *slog.Logger
}

// New creates a validator. A nil logger discards output.
func New(rules Rules, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validator{rules: rules, logger: logger}
}

// Rules returns the validator's rule set
func (v *Validator) Rules() Rules {
	return v.rules
}

// IsAdmissible reports whether a can be applied to s.
func (v *Validator) IsAdmissible(s structure.State, a structure.Action) bool {
	return v.Check(s, a) == nil
}

// Check returns nil when a is admissible against s, otherwise a *Paradox
// describing the violated precondition.
func (v *Validator) Check(s structure.State, a structure.Action) error {
	if err := checkShape(a); err != nil {
		return err
	}

	switch a.Kind {
	case structure.KindAdd:
		if IsInternal(a.Path) || IsPlaceholder(a.Path) {
			return &Paradox{Kind: ErrProtected, Action: a, Path: a.Path}
		}
		if s.Has(a.Path) {
			return &Paradox{Kind: ErrAlreadyExists, Action: a, Path: a.Path}
		}

	case structure.KindEdit:
		if IsInternal(a.Path) || IsPlaceholder(a.Path) {
			return &Paradox{Kind: ErrProtected, Action: a, Path: a.Path}
		}
		if v.rules.EditRequiresExistence && !s.Has(a.Path) {
			return &Paradox{Kind: ErrNotFound, Action: a, Path: a.Path}
		}

	case structure.KindDelete:
		if v.rules.IsProtected(a.Path) {
			return &Paradox{Kind: ErrProtected, Action: a, Path: a.Path}
		}
		if !s.Has(a.Path) {
			return &Paradox{Kind: ErrNotFound, Action: a, Path: a.Path}
		}

	case structure.KindRename:
		if v.rules.IsProtected(a.Path) {
			return &Paradox{Kind: ErrProtected, Action: a, Path: a.Path}
		}
		if IsInternal(a.NewPath) || IsPlaceholder(a.NewPath) {
			return &Paradox{Kind: ErrProtected, Action: a, Path: a.NewPath}
		}
		if !s.Has(a.Path) {
			return &Paradox{Kind: ErrNotFound, Action: a, Path: a.Path}
		}
		if s.Has(a.NewPath) {
			return &Paradox{Kind: ErrAlreadyExists, Action: a, Path: a.NewPath}
		}
	}

	return nil
}

// Apply returns the state that results from a. The caller must have checked
// admissibility first; applying an inadmissible action is a programming
// error and panics.
func (v *Validator) Apply(s structure.State, a structure.Action) structure.State {
	if err := v.Check(s, a); err != nil {
		panic(fmt.Sprintf("paradox: apply of inadmissible action: %v", err))
	}

	switch a.Kind {
	case structure.KindAdd:
		return s.With(a.Path)
	case structure.KindDelete:
		return s.Without(a.Path)
	case structure.KindRename:
		return s.Without(a.Path).With(a.NewPath)
	default:
		return s
	}
}

// ApplyAll folds a sequence of actions over s. Every action must be
// admissible at its position.
func (v *Validator) ApplyAll(s structure.State, seq structure.Sequence) structure.State {
	for _, a := range seq {
		s = v.Apply(s, a)
	}
	return s
}

// ValidateBatch filters a proposed sequence down to the actions that are
// admissible in order. Within one batch a path may be touched by a single
// action only; later actions on a touched path are dropped. If nothing
// survives, one add on a freshly minted fallback path is synthesized so the
// result is never empty.
func (v *Validator) ValidateBatch(s structure.State, seq structure.Sequence) Batch {
	current := s
	touched := make(map[string]bool)
	out := Batch{Actions: make(structure.Sequence, 0, len(seq))}

	for i, a := range seq {
		if p, ok := firstTouched(touched, a); ok {
			rej := Rejection{Index: i, Action: a, Err: &Paradox{Kind: ErrAlreadyTouched, Action: a, Path: p}}
			out.Rejections = append(out.Rejections, rej)
			v.logger.Debug("dropped action", "index", i, "action", a.String(), "reason", rej.Err)
			continue
		}
		if err := v.Check(current, a); err != nil {
			out.Rejections = append(out.Rejections, Rejection{Index: i, Action: a, Err: err})
			v.logger.Debug("dropped action", "index", i, "action", a.String(), "reason", err)
			continue
		}

		current = v.Apply(current, a)
		for _, p := range a.Touches() {
			touched[p] = true
		}
		out.Actions = append(out.Actions, a)
	}

	if len(out.Actions) == 0 {
		fb := structure.Add(FallbackPathFor(current)).WithReason(FallbackReason)
		current = v.Apply(current, fb)
		out.Actions = append(out.Actions, fb)
		out.Fallback = true
		v.logger.Info("no actions survived validation, using fallback", "action", fb.String())
	}

	out.Final = current
	return out
}

// FallbackPathFor returns FallbackPath, or the first numbered variant of it
// that does not exist in s.
func FallbackPathFor(s structure.State) string {
	if !s.Has(FallbackPath) {
		return FallbackPath
	}
	ext := path.Ext(FallbackPath)
	stem := strings.TrimSuffix(FallbackPath, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !s.Has(candidate) {
			return candidate
		}
	}
}

func firstTouched(touched map[string]bool, a structure.Action) (string, bool) {
	for _, p := range a.Touches() {
		if touched[p] {
			return p, true
		}
	}
	return "", false
}

// checkShape rejects actions that are malformed regardless of state.
func checkShape(a structure.Action) error {
	if !a.Kind.Valid() {
		return &Paradox{Kind: ErrInvalidAction, Action: a}
	}
	if !validPath(a.Path) {
		return &Paradox{Kind: ErrInvalidAction, Action: a, Path: a.Path}
	}
	if a.Kind == structure.KindRename {
		if !validPath(a.NewPath) || a.NewPath == a.Path {
			return &Paradox{Kind: ErrInvalidAction, Action: a, Path: a.NewPath}
		}
	} else if a.NewPath != "" {
		return &Paradox{Kind: ErrInvalidAction, Action: a, Path: a.NewPath}
	}
	return nil
}

// validPath accepts non-empty relative paths that stay inside the repository.
func validPath(p string) bool {
	if strings.TrimSpace(p) == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\x00") {
		return false
	}
	clean := Normalize(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}
	return true
}
