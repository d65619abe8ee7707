package mapping

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fepforge/fepforge/internal/domain/molecule"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// substitutedBenzene builds a benzene ring with one ring hydrogen replaced
// by the given element at atom index 6.  Atoms 0-5 are the aromatic carbons,
// atom 6 is the substituent on C0, atoms 7-11 are the remaining hydrogens on
// C1-C5.  Geometry is shared across calls so that a correct mapping
// superposes exactly.
func substitutedBenzene(t *testing.T, name string, sub molecule.Element) *molecule.Molecule {
	t.Helper()
	atoms := make([]molecule.Atom, 12)
	var bonds []molecule.Bond
	for i := 0; i < 6; i++ {
		angle := float64(i) * math.Pi / 3
		atoms[i] = molecule.Atom{Element: molecule.C,
			Position: molecule.Vec3{X: 1.39 * math.Cos(angle), Y: 1.39 * math.Sin(angle)}}
		bonds = append(bonds, molecule.Bond{A: i, B: (i + 1) % 6, Order: molecule.BondAromatic})
	}
	atoms[6] = molecule.Atom{Element: sub, Position: molecule.Vec3{X: 2.49}}
	bonds = append(bonds, molecule.Bond{A: 0, B: 6, Order: molecule.BondSingle})
	for i := 1; i < 6; i++ {
		angle := float64(i) * math.Pi / 3
		atoms[6+i] = molecule.Atom{Element: molecule.H,
			Position: molecule.Vec3{X: 2.49 * math.Cos(angle), Y: 2.49 * math.Sin(angle)}}
		bonds = append(bonds, molecule.Bond{A: i, B: 6 + i, Order: molecule.BondSingle})
	}
	m, err := molecule.NewMolecule(name, atoms, bonds)
	require.NoError(t, err)
	return m
}

// carbonChain builds a single-bonded chain of n carbons, optionally closed
// into a ring.
func carbonChain(t *testing.T, name string, n int, ring bool) *molecule.Molecule {
	t.Helper()
	atoms := make([]molecule.Atom, n)
	var bonds []molecule.Bond
	for i := 0; i < n; i++ {
		atoms[i] = molecule.Atom{Element: molecule.C, Position: molecule.Vec3{X: float64(i) * 1.54}}
		if i > 0 {
			bonds = append(bonds, molecule.Bond{A: i - 1, B: i, Order: molecule.BondSingle})
		}
	}
	if ring {
		for i := 0; i < n; i++ {
			angle := 2 * math.Pi * float64(i) / float64(n)
			atoms[i].Position = molecule.Vec3{X: 1.5 * math.Cos(angle), Y: 1.5 * math.Sin(angle)}
		}
		bonds = append(bonds, molecule.Bond{A: n - 1, B: 0, Order: molecule.BondSingle})
	}
	m, err := molecule.NewMolecule(name, atoms, bonds)
	require.NoError(t, err)
	return m
}

// branchedChain builds a 3-carbon chain with a 3-atom tail of the given
// element attached to the last carbon.
func branchedChain(t *testing.T, name string, tail molecule.Element) *molecule.Molecule {
	t.Helper()
	atoms := []molecule.Atom{
		{Element: molecule.C, Position: molecule.Vec3{X: 0}},
		{Element: molecule.C, Position: molecule.Vec3{X: 1.5}},
		{Element: molecule.C, Position: molecule.Vec3{X: 3.0}},
		{Element: tail, Position: molecule.Vec3{X: 4.5}},
		{Element: tail, Position: molecule.Vec3{X: 6.0}},
		{Element: tail, Position: molecule.Vec3{X: 7.5}},
	}
	bonds := []molecule.Bond{
		{A: 0, B: 1, Order: molecule.BondSingle},
		{A: 1, B: 2, Order: molecule.BondSingle},
		{A: 2, B: 3, Order: molecule.BondSingle},
		{A: 3, B: 4, Order: molecule.BondSingle},
		{A: 4, B: 5, Order: molecule.BondSingle},
	}
	m, err := molecule.NewMolecule(name, atoms, bonds)
	require.NoError(t, err)
	return m
}

func permissiveOptions() Options {
	opts := DefaultOptions()
	opts.ElementMode = ElementPermissive
	return opts
}

func TestBuild_HydrogenToFluorineSwap(t *testing.T) {
	molA := substitutedBenzene(t, "benzene", molecule.H)
	molB := substitutedBenzene(t, "fluorobenzene", molecule.F)

	b := NewBuilder(permissiveOptions(), nil)
	m, err := b.Build(molA, molB)
	require.NoError(t, err)

	// All atoms map except the swapped position.
	assert.Equal(t, 11, m.Len())
	assert.Equal(t, []int{6}, m.DisappearingAtoms(molA))
	assert.Equal(t, []int{6}, m.AppearingAtoms(molB))

	// The shared geometry forces the identity correspondence.
	for _, p := range m.Pairs() {
		assert.Equal(t, p.A, p.B)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	molA := substitutedBenzene(t, "benzene", molecule.H)
	molB := substitutedBenzene(t, "fluorobenzene", molecule.F)
	b := NewBuilder(permissiveOptions(), nil)

	first, err := b.Build(molA, molB)
	require.NoError(t, err)
	second, err := b.Build(molA, molB)
	require.NoError(t, err)
	assert.Equal(t, first.Pairs(), second.Pairs())
}

func TestBuild_NoCommonSubstructure(t *testing.T) {
	// Aromatic ring vs. saturated ring: bond orders never match, so no
	// seed can grow to the minimum core size.
	aromatic := substitutedBenzene(t, "benzene", molecule.H)
	saturated := carbonChain(t, "cyclopentane", 5, true)

	b := NewBuilder(DefaultOptions(), nil)
	_, err := b.Build(aromatic, saturated)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMapNoCommonSubstructure, apperrors.GetCode(err))
}

func TestBuild_RingBreakRejected(t *testing.T) {
	ring := carbonChain(t, "cyclohexane", 6, true)
	chain := carbonChain(t, "hexane", 6, false)

	b := NewBuilder(DefaultOptions(), nil)
	_, err := b.Build(ring, chain)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMapRingBreakRejected, apperrors.GetCode(err))
}

func TestBuild_RingBreakAllowed(t *testing.T) {
	ring := carbonChain(t, "cyclohexane", 6, true)
	chain := carbonChain(t, "hexane", 6, false)

	opts := DefaultOptions()
	opts.AllowRingBreak = true
	b := NewBuilder(opts, nil)
	m, err := b.Build(ring, chain)
	require.NoError(t, err)
	// One ring bond cannot be matched by the open chain, leaving one atom
	// unmapped on each side.
	assert.Equal(t, 5, m.Len())
}

func TestBuild_PerturbationBudget(t *testing.T) {
	// Shared 3-carbon core, 3-atom tails of incompatible elements: 6 of 9
	// union atoms perturbed (67%).
	molA := branchedChain(t, "nitro-tail", molecule.N)
	molB := branchedChain(t, "oxo-tail", molecule.O)

	strict := DefaultOptions()
	strict.MaxPerturbationFraction = 0.5
	_, err := NewBuilder(strict, nil).Build(molA, molB)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMapPerturbationTooLarge, apperrors.GetCode(err))

	loose := DefaultOptions()
	loose.MaxPerturbationFraction = 0.8
	m, err := NewBuilder(loose, nil).Build(molA, molB)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	assert.InDelta(t, 2.0/3.0, m.PerturbationFraction(molA, molB), 1e-9)
}

func TestBuild_StrictElementMode(t *testing.T) {
	// Category mode maps Cl onto Br; strict mode must not.
	molA := substitutedBenzene(t, "chlorobenzene", molecule.Cl)
	molB := substitutedBenzene(t, "bromobenzene", molecule.Br)

	category := DefaultOptions()
	m, err := NewBuilder(category, nil).Build(molA, molB)
	require.NoError(t, err)
	assert.Equal(t, 12, m.Len())

	strict := DefaultOptions()
	strict.ElementMode = ElementStrict
	m, err = NewBuilder(strict, nil).Build(molA, molB)
	require.NoError(t, err)
	assert.Equal(t, 11, m.Len())
	assert.Equal(t, []int{6}, m.DisappearingAtoms(molA))
}

func TestNewAtomMapping_Injectivity(t *testing.T) {
	_, err := NewAtomMapping([]Pair{{A: 0, B: 1}, {A: 0, B: 2}})
	require.Error(t, err)

	_, err = NewAtomMapping([]Pair{{A: 0, B: 1}, {A: 2, B: 1}})
	require.Error(t, err)

	_, err = NewAtomMapping([]Pair{{A: -1, B: 0}})
	require.Error(t, err)

	m, err := NewAtomMapping([]Pair{{A: 3, B: 0}, {A: 1, B: 2}})
	require.NoError(t, err)
	// Pairs come back sorted by A.
	assert.Equal(t, []Pair{{A: 1, B: 2}, {A: 3, B: 0}}, m.Pairs())
	b, ok := m.ToB(3)
	require.True(t, ok)
	assert.Equal(t, 0, b)
	a, ok := m.ToA(2)
	require.True(t, ok)
	assert.Equal(t, 1, a)
	_, ok = m.ToB(99)
	assert.False(t, ok)
}

func TestValidate_DisconnectedCore(t *testing.T) {
	chain := carbonChain(t, "pentane", 5, false)

	// Atoms 0,1 and 3,4 mapped but not 2: connected in neither molecule.
	m, err := NewAtomMapping([]Pair{{A: 0, B: 0}, {A: 1, B: 1}, {A: 3, B: 3}, {A: 4, B: 4}})
	require.NoError(t, err)
	err = m.Validate(chain, chain, DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disconnected")
}

func TestValidate_ElementCompatibility(t *testing.T) {
	molA := carbonChain(t, "propane", 3, false)
	molB := branchedChain(t, "tail", molecule.O)

	// Mapping a carbon onto an oxygen violates category compatibility.
	m, err := NewAtomMapping([]Pair{{A: 0, B: 2}, {A: 1, B: 3}, {A: 2, B: 4}})
	require.NoError(t, err)
	err = m.Validate(molA, molB, DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidParam, apperrors.GetCode(err))
}
