package mapping

import (
	"github.com/fepforge/fepforge/internal/domain/molecule"
)

// ElementMode controls how strictly the map builder matches atom pairs.
type ElementMode int

const (
	// ElementStrict requires identical elements.
	ElementStrict ElementMode = iota
	// ElementCategory requires matching element categories, so Cl can map
	// to Br but not to O.
	ElementCategory
	// ElementPermissive additionally allows the explicit substitution pairs
	// in Options.Substitutions.
	ElementPermissive
)

// TieBreaker orders equally sized candidate mappings.  Breakers are applied
// in the sequence given by Options.TieBreakers until one discriminates.
type TieBreaker int

const (
	// TieBreakPreservation prefers the mapping that keeps more ring
	// membership and stereocenter parity intact across the morph.
	TieBreakPreservation TieBreaker = iota
	// TieBreakRMSD prefers the mapping whose paired atoms superpose with
	// the lower rigid-body RMSD.
	TieBreakRMSD
	// TieBreakLexicographic is the deterministic final resort: the
	// smallest pair list wins.
	TieBreakLexicographic
)

// Substitution is an unordered element pair that ElementPermissive mode
// accepts as mappable in either direction.
type Substitution struct {
	First  molecule.Element
	Second molecule.Element
}

// Matches reports whether the pair (a, b) is this substitution in either
// orientation.
func (s Substitution) Matches(a, b molecule.Element) bool {
	return (s.First == a && s.Second == b) || (s.First == b && s.Second == a)
}

// Options configures a map-building run.  The zero value is not usable;
// construct via DefaultOptions and override.
type Options struct {
	// ElementMode selects the atom compatibility relation.
	ElementMode ElementMode

	// Substitutions lists the extra pairs ElementPermissive accepts.
	// Ignored in the other modes.
	Substitutions []Substitution

	// AllowRingBreak permits mappings whose core boundary cuts through a
	// ring. Off by default: a half-mapped ring produces an open-ring
	// intermediate state that samples poorly.
	AllowRingBreak bool

	// MaxPerturbationFraction caps appearing+disappearing atoms as a
	// fraction of the union atom count. Exceeding it fails the pair with
	// CodeMapPerturbationTooLarge.
	MaxPerturbationFraction float64

	// MinCoreSize is the minimum number of mapped pairs for a mapping to
	// count as a common substructure at all. Pairs below it report
	// CodeMapNoCommonSubstructure.
	MinCoreSize int

	// TieBreakers orders the criteria applied to equally sized candidates.
	TieBreakers []TieBreaker
}

// DefaultOptions returns the production defaults: category-level matching
// with the classical hydrogen/halogen and oxygen/sulfur swaps pre-registered
// for permissive mode, no ring breaking, a 50% perturbation budget, and the
// preservation → RMSD → lexicographic tie-break chain.
func DefaultOptions() Options {
	return Options{
		ElementMode: ElementCategory,
		Substitutions: []Substitution{
			{First: molecule.H, Second: molecule.F},
			{First: molecule.H, Second: molecule.Cl},
			{First: molecule.H, Second: molecule.Br},
			{First: molecule.O, Second: molecule.S},
		},
		AllowRingBreak:          false,
		MaxPerturbationFraction: 0.5,
		MinCoreSize:             3,
		TieBreakers: []TieBreaker{
			TieBreakPreservation,
			TieBreakRMSD,
			TieBreakLexicographic,
		},
	}
}

// compatible reports whether atom a of molA may map to atom b of molB under
// the configured element mode.  Bond environment is checked separately by
// the search.
func (o Options) compatible(a, b molecule.Atom) bool {
	if a.Element == b.Element {
		return true
	}
	switch o.ElementMode {
	case ElementStrict:
		return false
	case ElementCategory:
		return a.Element.Category() == b.Element.Category()
	case ElementPermissive:
		if a.Element.Category() == b.Element.Category() {
			return true
		}
		for _, s := range o.Substitutions {
			if s.Matches(a.Element, b.Element) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
