// Package message turns already planned actions into short, human-sounding
// commit messages.
package message

import (
	_ "embed"
	"fmt"
	"os"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/gitcom/internal/chance"
	"github.com/schaermu/gitcom/internal/structure"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

const (
	qualifierProbability = 0.6
	fillerProbability    = 0.3
	// redraws made when a message was used recently
	maxRedraws = 3
)

// Phase of the simulated timeline
const (
	PhaseBootstrap = "bootstrap"
	PhaseRegular   = "regular"
)

// Pace of a single day
const (
	PaceFast   = "fast"
	PaceSteady = "steady"
	PaceSlow   = "slow"
)

// Tempo is the context a message is phrased in
type Tempo struct {
	Phase string
	Pace  string
}

// TempoFor derives the tempo of the day at dayIndex (0-based within a run)
// that carries the given number of validated actions.
func TempoFor(dayIndex, bootstrapDays, actions int) Tempo {
	t := Tempo{Phase: PhaseRegular, Pace: PaceSteady}
	if dayIndex < bootstrapDays {
		t.Phase = PhaseBootstrap
	}
	switch {
	case actions >= 4:
		t.Pace = PaceFast
	case actions <= 1:
		t.Pace = PaceSlow
	}
	return t
}

// Mood selects the qualifier pool
func (t Tempo) Mood() string {
	switch {
	case t.Phase == PhaseBootstrap:
		return "early"
	case t.Pace == PaceFast:
		return "rough"
	case t.Pace == PaceSlow:
		return "careful"
	default:
		return "neutral"
	}
}

// Lexicon is the vocabulary messages are built from
type Lexicon struct {
	Verbs      map[structure.Kind][]string `yaml:"verbs"`
	Qualifiers map[string][]string         `yaml:"qualifiers"`
	Fillers    []string                    `yaml:"fillers"`
}

// DefaultLexicon returns the built-in vocabulary
func DefaultLexicon() (*Lexicon, error) {
	return ParseLexicon(defaultLexicon)
}

// LoadLexicon reads a YAML lexicon from path
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon: %w", err)
	}
	return ParseLexicon(data)
}

// ParseLexicon decodes a YAML lexicon
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}
	for k := range lex.Verbs {
		if !k.Valid() {
			return nil, fmt.Errorf("lexicon: unknown action kind %q", k)
		}
	}
	return &lex, nil
}

// Selector phrases messages and remembers the most recent ones so the same
// line does not repeat back to back.
type Selector struct {
	lex    *Lexicon
	recent *lru.Cache[string, struct{}]
}

// NewSelector creates a selector. window is the number of recent messages
// avoided; 0 disables the memory.
func NewSelector(lex *Lexicon, window int) (*Selector, error) {
	s := &Selector{lex: lex}
	if window > 0 {
		cache, err := lru.New[string, struct{}](window)
		if err != nil {
			return nil, fmt.Errorf("failed to create recent message cache: %w", err)
		}
		s.recent = cache
	}
	return s, nil
}

// Message describes a.
func (s *Selector) Message(a structure.Action, tempo Tempo, src chance.Source) string {
	var msg string
	for i := 0; i <= maxRedraws; i++ {
		msg = s.compose(a, tempo, src)
		if s.recent == nil || !s.recent.Contains(msg) {
			break
		}
	}
	if s.recent != nil {
		s.recent.Add(msg, struct{}{})
	}
	return msg
}

// BatchMessage describes a commit batch by its leading action.
func (s *Selector) BatchMessage(batch structure.Sequence, tempo Tempo, src chance.Source) string {
	if len(batch) == 0 {
		return "update"
	}
	return s.Message(batch[0], tempo, src)
}

func (s *Selector) compose(a structure.Action, tempo Tempo, src chance.Source) string {
	mood := tempo.Mood()

	verb := string(a.Kind)
	if verbs := s.lex.Verbs[a.Kind]; len(verbs) > 0 {
		verb = chance.Pick(src, verbs)
	}

	parts := []string{verb}
	if pool := s.lex.Qualifiers[mood]; len(pool) > 0 {
		if ok, _ := chance.Roll(src, qualifierProbability); ok {
			parts = append(parts, chance.Pick(src, pool))
		}
	}

	target := a.Path
	if a.Kind == structure.KindRename {
		target = a.NewPath
	}
	if target != "" {
		parts = append(parts, path.Base(target))
	}

	if len(s.lex.Fillers) > 0 {
		if ok, _ := chance.Roll(src, fillerProbability); ok {
			parts = append(parts, chance.Pick(src, s.lex.Fillers))
		}
	}

	return strings.TrimSpace(strings.Join(parts, " "))
}
