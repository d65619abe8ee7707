package topology

import (
	"fmt"
	"sort"

	"github.com/fepforge/fepforge/internal/domain/mapping"
	"github.com/fepforge/fepforge/internal/domain/molecule"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/chem"
)

// defaultRestraintK is the harmonic force constant applied to dummy-anchor
// restraints when the source bond carries none, in kJ/mol/nm^2.
const defaultRestraintK = 250000

// Merger combines two parameterized ligands and their atom mapping into a
// single hybrid topology.
type Merger struct {
	dummyBondScale float64
	log            logging.Logger
}

// NewMerger constructs a Merger.  dummyBondScale shortens dummy-anchor
// restraint lengths relative to the source bond; it must lie in (0.5, 1] so
// a shrunk dummy can neither collapse onto its anchor nor sit at full bond
// length where it would distort the core's bonded environment.
func NewMerger(dummyBondScale float64, log logging.Logger) (*Merger, error) {
	if dummyBondScale <= 0.5 || dummyBondScale > 1 {
		return nil, apperrors.Newf(apperrors.CodeInvalidParam,
			"dummy bond scale %g outside (0.5, 1]", dummyBondScale)
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Merger{dummyBondScale: dummyBondScale, log: log.Named("merger")}, nil
}

// Merge builds the hybrid topology for the pair (molA, molB).  Both
// parameter sets must cover their molecule atom-for-atom and agree on force
// field and charge method; the mapping must be non-empty.  The returned
// topology has passed Validate.
func (m *Merger) Merge(
	molA, molB *molecule.Molecule,
	paramsA, paramsB *chem.ParameterSet,
	amap *mapping.AtomMapping,
	schedule *LambdaSchedule,
) (*HybridTopology, error) {
	if err := m.checkInputs(molA, molB, paramsA, paramsB, amap, schedule); err != nil {
		return nil, err
	}

	t := &HybridTopology{
		Name:         fmt.Sprintf("%s~%s", molA.Name(), molB.Name()),
		ForceField:   paramsA.ForceField,
		ChargeMethod: paramsA.ChargeMethod,
		Schedule:     schedule,
		NumAtomsA:    molA.NumAtoms(),
		NumAtomsB:    molB.NumAtoms(),
	}

	aIdx, bIdx := m.assignAtoms(t, molA, molB, paramsA, paramsB, amap)

	if err := m.mergeBonds(t, molA, molB, paramsA, paramsB, aIdx, bIdx, amap); err != nil {
		return nil, err
	}
	if err := m.mergeAngles(t, paramsA, paramsB, aIdx, bIdx, amap); err != nil {
		return nil, err
	}
	if err := m.mergeTorsions(t, paramsA, paramsB, aIdx, bIdx, amap); err != nil {
		return nil, err
	}
	if err := m.buildRestraints(t, molA, molB, paramsA, paramsB, aIdx, bIdx, amap); err != nil {
		return nil, err
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	m.log.Debug("topology merged",
		logging.String("name", t.Name),
		logging.Int("atoms", len(t.Atoms)),
		logging.Int("core", len(t.CorePairs)),
		logging.Int("restraints", len(t.Restraints)),
	)
	return t, nil
}

func (m *Merger) checkInputs(
	molA, molB *molecule.Molecule,
	paramsA, paramsB *chem.ParameterSet,
	amap *mapping.AtomMapping,
	schedule *LambdaSchedule,
) error {
	if molA == nil || molB == nil || amap == nil {
		return apperrors.New(apperrors.CodeInvalidParam, "merge requires both molecules and a mapping")
	}
	if schedule == nil {
		return apperrors.New(apperrors.CodeMergeInvalidSchedule, "merge requires a lambda schedule")
	}
	if amap.Len() == 0 {
		return apperrors.New(apperrors.CodeInvalidParam, "merge requires a non-empty mapping")
	}
	for side, pair := range map[string]struct {
		params *chem.ParameterSet
		mol    *molecule.Molecule
	}{"A": {paramsA, molA}, "B": {paramsB, molB}} {
		if pair.params == nil {
			return apperrors.Newf(apperrors.CodeMergeIncompatibleParams,
				"parameter set %s is missing", side)
		}
		if err := pair.params.Validate(); err != nil {
			return apperrors.Wrap(err, apperrors.CodeMergeIncompatibleParams,
				"parameter set "+side+" is invalid")
		}
		if len(pair.params.Atoms) != pair.mol.NumAtoms() {
			return apperrors.Newf(apperrors.CodeMergeIncompatibleParams,
				"parameter set %s covers %d atoms, molecule has %d",
				side, len(pair.params.Atoms), pair.mol.NumAtoms())
		}
	}
	if !paramsA.Compatible(paramsB) {
		return apperrors.Newf(apperrors.CodeMergeIncompatibleParams,
			"parameter sets disagree: %s/%s vs %s/%s",
			paramsA.ForceField, paramsA.ChargeMethod, paramsB.ForceField, paramsB.ChargeMethod)
	}
	return nil
}

// assignAtoms lays out the hybrid atom list (core pairs by ascending A
// index, then A-only, then B-only) and returns the source-to-hybrid index
// maps for each side.
func (m *Merger) assignAtoms(
	t *HybridTopology,
	molA, molB *molecule.Molecule,
	paramsA, paramsB *chem.ParameterSet,
	amap *mapping.AtomMapping,
) (aIdx, bIdx []int) {
	aIdx = make([]int, molA.NumAtoms())
	bIdx = make([]int, molB.NumAtoms())
	for i := range aIdx {
		aIdx[i] = -1
	}
	for i := range bIdx {
		bIdx[i] = -1
	}

	for _, p := range amap.Pairs() {
		h := len(t.Atoms)
		aIdx[p.A] = h
		bIdx[p.B] = h
		pa := paramsA.Atoms[p.A]
		pb := paramsB.Atoms[p.B]
		t.CorePairs = append(t.CorePairs, CorePair{A: p.A, B: p.B, Hybrid: h})
		t.Atoms = append(t.Atoms, HybridAtom{
			Index:    h,
			Element:  molA.Atom(p.A).Element,
			Position: molA.Atom(p.A).Position,
			State:    StateBoth,
			ParamsA:  &pa,
			ParamsB:  &pb,
		})
	}
	for _, a := range amap.DisappearingAtoms(molA) {
		h := len(t.Atoms)
		aIdx[a] = h
		pa := paramsA.Atoms[a]
		t.Atoms = append(t.Atoms, HybridAtom{
			Index:    h,
			Element:  molA.Atom(a).Element,
			Position: molA.Atom(a).Position,
			State:    StateA,
			ParamsA:  &pa,
		})
	}
	for _, b := range amap.AppearingAtoms(molB) {
		h := len(t.Atoms)
		bIdx[b] = h
		pb := paramsB.Atoms[b]
		t.Atoms = append(t.Atoms, HybridAtom{
			Index:    h,
			Element:  molB.Atom(b).Element,
			Position: molB.Atom(b).Position,
			State:    StateB,
			ParamsB:  &pb,
		})
	}
	return aIdx, bIdx
}

func bondTermKey(i, j int) [2]int {
	if i > j {
		i, j = j, i
	}
	return [2]int{i, j}
}

func (m *Merger) mergeBonds(
	t *HybridTopology,
	molA, molB *molecule.Molecule,
	paramsA, paramsB *chem.ParameterSet,
	aIdx, bIdx []int,
	amap *mapping.AtomMapping,
) error {
	bBonds := make(map[[2]int]chem.BondTerm, len(paramsB.Bonds))
	for _, b := range paramsB.Bonds {
		bBonds[bondTermKey(b.I, b.J)] = b
	}

	for _, ab := range paramsA.Bonds {
		a := ab
		hi, hj := aIdx[a.I], aIdx[a.J]
		_, iCore := amap.ToB(a.I)
		_, jCore := amap.ToB(a.J)

		if iCore && jCore {
			bi, _ := amap.ToB(a.I)
			bj, _ := amap.ToB(a.J)
			bb, ok := bBonds[bondTermKey(bi, bj)]
			if !ok {
				return apperrors.Newf(apperrors.CodeMergeIncompatibleParams,
					"core bond %d-%d has no counterpart in the second parameter set", a.I, a.J)
			}
			t.Bonds = append(t.Bonds, HybridBond{I: hi, J: hj, State: StateBoth, A: &a, B: &bb})
			continue
		}
		t.Bonds = append(t.Bonds, HybridBond{I: hi, J: hj, State: StateA, A: &a})
	}

	for _, bb := range paramsB.Bonds {
		b := bb
		_, iCore := amap.ToA(b.I)
		_, jCore := amap.ToA(b.J)
		if iCore && jCore {
			continue // already emitted as the StateBoth variant
		}
		t.Bonds = append(t.Bonds, HybridBond{I: bIdx[b.I], J: bIdx[b.J], State: StateB, B: &b})
	}
	return nil
}

func angleTermKey(i, j, k int) [3]int {
	if i > k {
		i, k = k, i
	}
	return [3]int{i, j, k}
}

func (m *Merger) mergeAngles(
	t *HybridTopology,
	paramsA, paramsB *chem.ParameterSet,
	aIdx, bIdx []int,
	amap *mapping.AtomMapping,
) error {
	bAngles := make(map[[3]int]chem.AngleTerm, len(paramsB.Angles))
	for _, a := range paramsB.Angles {
		bAngles[angleTermKey(a.I, a.J, a.K)] = a
	}

	for _, aa := range paramsA.Angles {
		a := aa
		bi, iCore := amap.ToB(a.I)
		bj, jCore := amap.ToB(a.J)
		bk, kCore := amap.ToB(a.K)
		if iCore && jCore && kCore {
			if bb, ok := bAngles[angleTermKey(bi, bj, bk)]; ok {
				t.Angles = append(t.Angles, HybridAngle{
					I: aIdx[a.I], J: aIdx[a.J], K: aIdx[a.K], State: StateBoth, A: &a, B: &bb,
				})
				continue
			}
		}
		t.Angles = append(t.Angles, HybridAngle{
			I: aIdx[a.I], J: aIdx[a.J], K: aIdx[a.K], State: StateA, A: &a,
		})
	}

	for _, ba := range paramsB.Angles {
		b := ba
		ai, iCore := amap.ToA(b.I)
		aj, jCore := amap.ToA(b.J)
		ak, kCore := amap.ToA(b.K)
		if iCore && jCore && kCore {
			if aHasAngle(paramsA, ai, aj, ak) {
				continue
			}
		}
		t.Angles = append(t.Angles, HybridAngle{
			I: bIdx[b.I], J: bIdx[b.J], K: bIdx[b.K], State: StateB, B: &b,
		})
	}
	return nil
}

func aHasAngle(p *chem.ParameterSet, i, j, k int) bool {
	want := angleTermKey(i, j, k)
	for _, a := range p.Angles {
		if angleTermKey(a.I, a.J, a.K) == want {
			return true
		}
	}
	return false
}

func torsionTermKey(i, j, k, l int) [4]int {
	if i > l || (i == l && j > k) {
		i, j, k, l = l, k, j, i
	}
	return [4]int{i, j, k, l}
}

func (m *Merger) mergeTorsions(
	t *HybridTopology,
	paramsA, paramsB *chem.ParameterSet,
	aIdx, bIdx []int,
	amap *mapping.AtomMapping,
) error {
	bTorsions := make(map[[4]int][]chem.TorsionTerm, len(paramsB.Torsions))
	for _, tr := range paramsB.Torsions {
		k := torsionTermKey(tr.I, tr.J, tr.K, tr.L)
		bTorsions[k] = append(bTorsions[k], tr)
	}

	for _, ta := range paramsA.Torsions {
		a := ta
		bi, iCore := amap.ToB(a.I)
		bj, jCore := amap.ToB(a.J)
		bk, kCore := amap.ToB(a.K)
		bl, lCore := amap.ToB(a.L)
		hybrid := HybridTorsion{
			I: aIdx[a.I], J: aIdx[a.J], K: aIdx[a.K], L: aIdx[a.L], State: StateA, A: &a,
		}
		if iCore && jCore && kCore && lCore {
			if matches := bTorsions[torsionTermKey(bi, bj, bk, bl)]; len(matches) > 0 {
				// Pair by periodicity; unmatched periodicities stay
				// single-state.
				for mi := range matches {
					if matches[mi].Periodicity == a.Periodicity {
						hybrid.State = StateBoth
						hybrid.B = &matches[mi]
						break
					}
				}
			}
		}
		t.Torsions = append(t.Torsions, hybrid)
	}

	for _, tb := range paramsB.Torsions {
		b := tb
		ai, iCore := amap.ToA(b.I)
		aj, jCore := amap.ToA(b.J)
		ak, kCore := amap.ToA(b.K)
		al, lCore := amap.ToA(b.L)
		if iCore && jCore && kCore && lCore && aHasTorsion(paramsA, ai, aj, ak, al, b.Periodicity) {
			continue
		}
		t.Torsions = append(t.Torsions, HybridTorsion{
			I: bIdx[b.I], J: bIdx[b.J], K: bIdx[b.K], L: bIdx[b.L], State: StateB, B: &b,
		})
	}
	return nil
}

func aHasTorsion(p *chem.ParameterSet, i, j, k, l, periodicity int) bool {
	want := torsionTermKey(i, j, k, l)
	for _, tr := range p.Torsions {
		if torsionTermKey(tr.I, tr.J, tr.K, tr.L) == want && tr.Periodicity == periodicity {
			return true
		}
	}
	return false
}

// buildRestraints tethers every dummy atom that sits directly on the core
// boundary.  A dummy bonded to more than one core atom cannot be restrained
// unambiguously and fails the merge.
func (m *Merger) buildRestraints(
	t *HybridTopology,
	molA, molB *molecule.Molecule,
	paramsA, paramsB *chem.ParameterSet,
	aIdx, bIdx []int,
	amap *mapping.AtomMapping,
) error {
	type sideSpec struct {
		mol     *molecule.Molecule
		params  *chem.ParameterSet
		idx     []int
		dummies []int
		state   TermState
		inCore  func(int) bool
	}

	sides := []sideSpec{
		{
			mol: molA, params: paramsA, idx: aIdx,
			dummies: amap.DisappearingAtoms(molA), state: StateA,
			inCore: func(i int) bool { _, ok := amap.ToB(i); return ok },
		},
		{
			mol: molB, params: paramsB, idx: bIdx,
			dummies: amap.AppearingAtoms(molB), state: StateB,
			inCore: func(i int) bool { _, ok := amap.ToA(i); return ok },
		},
	}

	for _, s := range sides {
		bondTerms := make(map[[2]int]chem.BondTerm, len(s.params.Bonds))
		for _, b := range s.params.Bonds {
			bondTerms[bondTermKey(b.I, b.J)] = b
		}

		for _, d := range s.dummies {
			var anchors []int
			for _, nb := range s.mol.Neighbors(d) {
				if s.inCore(nb) {
					anchors = append(anchors, nb)
				}
			}
			if len(anchors) == 0 {
				continue // anchored through the dummy cluster, checked by Validate
			}
			if len(anchors) > 1 {
				sort.Ints(anchors)
				return apperrors.Newf(apperrors.CodeMergeUnresolvedDummyAtom,
					"dummy atom %d (%s) bonds to %d core atoms %v, restraint is ambiguous",
					d, s.mol.Atom(d).Element, len(anchors), anchors)
			}

			anchor := anchors[0]
			k := float64(defaultRestraintK)
			length := s.mol.Atom(d).Position.Distance(s.mol.Atom(anchor).Position) / 10 // Angstrom to nm
			if bt, ok := bondTerms[bondTermKey(d, anchor)]; ok {
				length = bt.EquilibriumLength
				if bt.ForceConstant > 0 {
					k = bt.ForceConstant
				}
			}
			t.Restraints = append(t.Restraints, RestraintBond{
				Dummy:             s.idx[d],
				Anchor:            s.idx[anchor],
				State:             s.state,
				ForceConstant:     k,
				EquilibriumLength: length * m.dummyBondScale,
			})
		}
	}
	return nil
}
