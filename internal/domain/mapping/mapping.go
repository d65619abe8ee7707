package mapping

import (
	"fmt"
	"sort"

	"github.com/fepforge/fepforge/internal/domain/molecule"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// Pair maps atom index A in the first molecule to atom index B in the
// second.
type Pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

// AtomMapping is an injective partial correspondence between the atoms of
// two ligands.  It is immutable after construction; NewAtomMapping enforces
// injectivity and index sanity, Validate re-checks the full invariant set
// against concrete molecules.
type AtomMapping struct {
	pairs []Pair // sorted by A
	aToB  map[int]int
	bToA  map[int]int
}

// NewAtomMapping builds a mapping from raw pairs.  Duplicate A or B indices
// are rejected: a dual-topology core must be one-to-one.
func NewAtomMapping(pairs []Pair) (*AtomMapping, error) {
	m := &AtomMapping{
		pairs: append([]Pair(nil), pairs...),
		aToB:  make(map[int]int, len(pairs)),
		bToA:  make(map[int]int, len(pairs)),
	}
	for _, p := range m.pairs {
		if p.A < 0 || p.B < 0 {
			return nil, apperrors.Newf(apperrors.CodeInvalidParam,
				"negative atom index in pair %d-%d", p.A, p.B)
		}
		if _, dup := m.aToB[p.A]; dup {
			return nil, apperrors.Newf(apperrors.CodeInvalidParam,
				"atom %d mapped twice on the A side", p.A)
		}
		if _, dup := m.bToA[p.B]; dup {
			return nil, apperrors.Newf(apperrors.CodeInvalidParam,
				"atom %d mapped twice on the B side", p.B)
		}
		m.aToB[p.A] = p.B
		m.bToA[p.B] = p.A
	}
	sort.Slice(m.pairs, func(i, j int) bool { return m.pairs[i].A < m.pairs[j].A })
	return m, nil
}

// Len returns the number of mapped pairs.
func (m *AtomMapping) Len() int { return len(m.pairs) }

// Pairs returns a copy of the pair list sorted by A index.
func (m *AtomMapping) Pairs() []Pair { return append([]Pair(nil), m.pairs...) }

// ToB returns the B-side partner of A-side atom a.
func (m *AtomMapping) ToB(a int) (int, bool) {
	b, ok := m.aToB[a]
	return b, ok
}

// ToA returns the A-side partner of B-side atom b.
func (m *AtomMapping) ToA(b int) (int, bool) {
	a, ok := m.bToA[b]
	return a, ok
}

// DisappearingAtoms returns the A-side atom indices absent from the core,
// sorted ascending.  These become dummy atoms at the λ=1 endpoint.
func (m *AtomMapping) DisappearingAtoms(molA *molecule.Molecule) []int {
	var out []int
	for i := 0; i < molA.NumAtoms(); i++ {
		if _, ok := m.aToB[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// AppearingAtoms returns the B-side atom indices absent from the core,
// sorted ascending.  These become dummy atoms at the λ=0 endpoint.
func (m *AtomMapping) AppearingAtoms(molB *molecule.Molecule) []int {
	var out []int
	for i := 0; i < molB.NumAtoms(); i++ {
		if _, ok := m.bToA[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// PerturbationFraction returns (appearing + disappearing) over the union
// atom count.  The union counts each core pair once.
func (m *AtomMapping) PerturbationFraction(molA, molB *molecule.Molecule) float64 {
	union := molA.NumAtoms() + molB.NumAtoms() - len(m.pairs)
	if union == 0 {
		return 0
	}
	perturbed := (molA.NumAtoms() - len(m.pairs)) + (molB.NumAtoms() - len(m.pairs))
	return float64(perturbed) / float64(union)
}

// Validate checks the mapping invariants against concrete molecules:
// indices in range, element compatibility under opts, and a connected mapped
// substructure on both sides.
func (m *AtomMapping) Validate(molA, molB *molecule.Molecule, opts Options) error {
	if len(m.pairs) == 0 {
		return apperrors.New(apperrors.CodeMapNoCommonSubstructure, "mapping is empty")
	}
	for _, p := range m.pairs {
		if p.A >= molA.NumAtoms() || p.B >= molB.NumAtoms() {
			return apperrors.Newf(apperrors.CodeInvalidParam,
				"pair %d-%d out of range", p.A, p.B)
		}
		if !opts.compatible(molA.Atom(p.A), molB.Atom(p.B)) {
			return apperrors.Newf(apperrors.CodeInvalidParam,
				"pair %d-%d maps incompatible elements %s and %s",
				p.A, p.B, molA.Atom(p.A).Element, molB.Atom(p.B).Element)
		}
	}
	if !m.coreConnected(molA, sideA) {
		return apperrors.New(apperrors.CodeInvalidParam,
			"mapped substructure is disconnected in the first molecule")
	}
	if !m.coreConnected(molB, sideB) {
		return apperrors.New(apperrors.CodeInvalidParam,
			"mapped substructure is disconnected in the second molecule")
	}
	return nil
}

type side int

const (
	sideA side = iota
	sideB
)

// coreConnected reports whether the mapped atoms induce a connected subgraph
// of mol on the given side.
func (m *AtomMapping) coreConnected(mol *molecule.Molecule, s side) bool {
	if len(m.pairs) <= 1 {
		return true
	}
	inCore := func(i int) bool {
		if s == sideA {
			_, ok := m.aToB[i]
			return ok
		}
		_, ok := m.bToA[i]
		return ok
	}

	start := -1
	total := 0
	for i := 0; i < mol.NumAtoms(); i++ {
		if inCore(i) {
			total++
			if start < 0 {
				start = i
			}
		}
	}

	seen := map[int]bool{start: true}
	stack := []int{start}
	reached := 0
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		reached++
		for _, nb := range mol.Neighbors(cur) {
			if inCore(nb) && !seen[nb] {
				seen[nb] = true
				stack = append(stack, nb)
			}
		}
	}
	return reached == total
}

// String implements fmt.Stringer for log output.
func (m *AtomMapping) String() string {
	return fmt.Sprintf("mapping(%d pairs)", len(m.pairs))
}
