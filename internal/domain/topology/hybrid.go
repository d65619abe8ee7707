package topology

import (
	"github.com/fepforge/fepforge/internal/domain/molecule"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/chem"
)

// TermState flags which physical endpoint an atom or bonded term belongs to.
type TermState string

const (
	// StateBoth marks common-core members present at every λ.
	StateBoth TermState = "both"
	// StateA marks members that exist only in the λ=0 endpoint and fade
	// out along the path.
	StateA TermState = "A"
	// StateB marks members that exist only in the λ=1 endpoint and fade
	// in along the path.
	StateB TermState = "B"
)

// CorePair records one common-core atom: its source index in each endpoint
// molecule and its index in the hybrid atom list.
type CorePair struct {
	A      int `json:"a"`
	B      int `json:"b"`
	Hybrid int `json:"hybrid"`
}

// HybridAtom is one atom of the merged topology.  Core atoms carry
// parameters for both states; dummy atoms carry only their native state's
// parameters and are softcore-treated on the other side.
type HybridAtom struct {
	Index    int              `json:"index"`
	Element  molecule.Element `json:"element"`
	Position molecule.Vec3    `json:"position"`
	State    TermState        `json:"state"`

	ParamsA *chem.AtomParameters `json:"params_a,omitempty"`
	ParamsB *chem.AtomParameters `json:"params_b,omitempty"`
}

// HybridBond is a harmonic bond in hybrid indexing.  For StateBoth the A and
// B term variants are both set and the engine interpolates between them; for
// single-state terms only the native variant is set.
type HybridBond struct {
	I     int            `json:"i"`
	J     int            `json:"j"`
	State TermState      `json:"state"`
	A     *chem.BondTerm `json:"a,omitempty"`
	B     *chem.BondTerm `json:"b,omitempty"`
}

// HybridAngle is a harmonic angle in hybrid indexing.
type HybridAngle struct {
	I     int             `json:"i"`
	J     int             `json:"j"`
	K     int             `json:"k"`
	State TermState       `json:"state"`
	A     *chem.AngleTerm `json:"a,omitempty"`
	B     *chem.AngleTerm `json:"b,omitempty"`
}

// HybridTorsion is a periodic dihedral in hybrid indexing.
type HybridTorsion struct {
	I     int               `json:"i"`
	J     int               `json:"j"`
	K     int               `json:"k"`
	L     int               `json:"l"`
	State TermState         `json:"state"`
	A     *chem.TorsionTerm `json:"a,omitempty"`
	B     *chem.TorsionTerm `json:"b,omitempty"`
}

// RestraintBond tethers a dummy atom to its common-core anchor so the dummy
// cannot drift once its interactions are scaled away.  The equilibrium
// length is the source bond length rescaled toward the anchor.
type RestraintBond struct {
	Dummy             int       `json:"dummy"`
	Anchor            int       `json:"anchor"`
	State             TermState `json:"state"`
	ForceConstant     float64   `json:"force_constant"`
	EquilibriumLength float64   `json:"equilibrium_length"`
}

// HybridTopology is the merged alchemical topology for one ligand pair,
// ready to be serialized into a simulation bundle together with its
// λ-schedule.
type HybridTopology struct {
	Name string `json:"name"`

	ForceField   chem.ForceField   `json:"force_field"`
	ChargeMethod chem.ChargeMethod `json:"charge_method"`

	Atoms     []HybridAtom `json:"atoms"`
	CorePairs []CorePair   `json:"core_pairs"`

	Bonds      []HybridBond    `json:"bonds"`
	Angles     []HybridAngle   `json:"angles"`
	Torsions   []HybridTorsion `json:"torsions"`
	Restraints []RestraintBond `json:"restraints"`

	Schedule *LambdaSchedule `json:"-"`

	// Source atom counts, kept for the conservation check.
	NumAtomsA int `json:"num_atoms_a"`
	NumAtomsB int `json:"num_atoms_b"`
}

// DummyAtomsA returns the hybrid indices of atoms that disappear along the
// path, ascending.
func (t *HybridTopology) DummyAtomsA() []int { return t.atomsInState(StateA) }

// DummyAtomsB returns the hybrid indices of atoms that appear along the
// path, ascending.
func (t *HybridTopology) DummyAtomsB() []int { return t.atomsInState(StateB) }

func (t *HybridTopology) atomsInState(s TermState) []int {
	var out []int
	for _, a := range t.Atoms {
		if a.State == s {
			out = append(out, a.Index)
		}
	}
	return out
}

// Validate checks the structural invariants of the merged topology:
//
//   - atom conservation: hybrid atoms = atoms(A) + atoms(B) - core pairs;
//   - every term references in-range atoms and carries the variants its
//     state requires;
//   - every dummy atom either has a restraint to a core anchor or reaches
//     the core through same-state bonds.
func (t *HybridTopology) Validate() error {
	wantAtoms := t.NumAtomsA + t.NumAtomsB - len(t.CorePairs)
	if len(t.Atoms) != wantAtoms {
		return apperrors.Newf(apperrors.CodeInternal,
			"atom conservation violated: %d hybrid atoms, want %d (%d + %d - %d core)",
			len(t.Atoms), wantAtoms, t.NumAtomsA, t.NumAtomsB, len(t.CorePairs))
	}

	n := len(t.Atoms)
	inRange := func(idxs ...int) bool {
		for _, i := range idxs {
			if i < 0 || i >= n {
				return false
			}
		}
		return true
	}

	for i, a := range t.Atoms {
		if a.Index != i {
			return apperrors.Newf(apperrors.CodeInternal, "atom %d has index %d", i, a.Index)
		}
		switch a.State {
		case StateBoth:
			if a.ParamsA == nil || a.ParamsB == nil {
				return apperrors.Newf(apperrors.CodeInternal,
					"core atom %d missing parameters for one state", i)
			}
		case StateA:
			if a.ParamsA == nil {
				return apperrors.Newf(apperrors.CodeInternal, "dummy atom %d missing A parameters", i)
			}
		case StateB:
			if a.ParamsB == nil {
				return apperrors.Newf(apperrors.CodeInternal, "dummy atom %d missing B parameters", i)
			}
		default:
			return apperrors.Newf(apperrors.CodeInternal, "atom %d has invalid state %q", i, a.State)
		}
	}

	for _, b := range t.Bonds {
		if !inRange(b.I, b.J) {
			return apperrors.Newf(apperrors.CodeInternal, "bond %d-%d out of range", b.I, b.J)
		}
		if err := checkVariants(b.State, b.A != nil, b.B != nil, "bond"); err != nil {
			return err
		}
	}
	for _, a := range t.Angles {
		if !inRange(a.I, a.J, a.K) {
			return apperrors.Newf(apperrors.CodeInternal, "angle %d-%d-%d out of range", a.I, a.J, a.K)
		}
		if err := checkVariants(a.State, a.A != nil, a.B != nil, "angle"); err != nil {
			return err
		}
	}
	for _, tr := range t.Torsions {
		if !inRange(tr.I, tr.J, tr.K, tr.L) {
			return apperrors.Newf(apperrors.CodeInternal,
				"torsion %d-%d-%d-%d out of range", tr.I, tr.J, tr.K, tr.L)
		}
		if err := checkVariants(tr.State, tr.A != nil, tr.B != nil, "torsion"); err != nil {
			return err
		}
	}
	for _, r := range t.Restraints {
		if !inRange(r.Dummy, r.Anchor) {
			return apperrors.Newf(apperrors.CodeInternal,
				"restraint %d-%d out of range", r.Dummy, r.Anchor)
		}
		if t.Atoms[r.Anchor].State != StateBoth {
			return apperrors.Newf(apperrors.CodeInternal,
				"restraint anchor %d is not a core atom", r.Anchor)
		}
	}

	return t.validateDummyAnchoring()
}

func checkVariants(s TermState, hasA, hasB bool, kind string) error {
	switch s {
	case StateBoth:
		if !hasA || !hasB {
			return apperrors.Newf(apperrors.CodeInternal, "core %s missing a state variant", kind)
		}
	case StateA:
		if !hasA {
			return apperrors.Newf(apperrors.CodeInternal, "state-A %s missing its term", kind)
		}
	case StateB:
		if !hasB {
			return apperrors.Newf(apperrors.CodeInternal, "state-B %s missing its term", kind)
		}
	default:
		return apperrors.Newf(apperrors.CodeInternal, "%s has invalid state %q", kind, s)
	}
	return nil
}

// validateDummyAnchoring walks each endpoint's dummy region and confirms
// every dummy atom is held in place: directly restrained, or connected
// through same-state bonds to a restrained dummy.
func (t *HybridTopology) validateDummyAnchoring() error {
	restrained := make(map[int]bool, len(t.Restraints))
	for _, r := range t.Restraints {
		restrained[r.Dummy] = true
	}

	for _, state := range []TermState{StateA, StateB} {
		dummies := t.atomsInState(state)
		if len(dummies) == 0 {
			continue
		}
		adj := make(map[int][]int)
		for _, b := range t.Bonds {
			if b.State != state {
				continue
			}
			adj[b.I] = append(adj[b.I], b.J)
			adj[b.J] = append(adj[b.J], b.I)
		}

		anchored := make(map[int]bool)
		var stack []int
		for _, d := range dummies {
			if restrained[d] {
				anchored[d] = true
				stack = append(stack, d)
			}
		}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, nb := range adj[cur] {
				if t.Atoms[nb].State == state && !anchored[nb] {
					anchored[nb] = true
					stack = append(stack, nb)
				}
			}
		}
		for _, d := range dummies {
			if !anchored[d] {
				return apperrors.Newf(apperrors.CodeMergeUnresolvedDummyAtom,
					"dummy atom %d (state %s) is not anchored to the core", d, state)
			}
		}
	}
	return nil
}
