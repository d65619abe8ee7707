// Package chem holds force-field parameter DTOs exchanged between the ligand
// parameterizer (infrastructure) and the topology merger (domain).  Keeping
// them here avoids an import cycle between the two layers, mirroring the
// platform convention of cross-layer DTO packages under pkg/types.
package chem

import "fmt"

// ForceField identifies the small-molecule force field used to type a ligand.
type ForceField string

const (
	FFGAFF  ForceField = "gaff"
	FFGAFF2 ForceField = "gaff2"
)

// IsValid reports whether the force field is one the parameterizer supports.
func (f ForceField) IsValid() bool {
	return f == FFGAFF || f == FFGAFF2
}

// ChargeMethod identifies the partial-charge derivation scheme.
type ChargeMethod string

const (
	ChargeAM1BCC    ChargeMethod = "bcc"
	ChargeGasteiger ChargeMethod = "gas"
	ChargeMulliken  ChargeMethod = "mul"
)

// IsValid reports whether the charge method is recognised.
func (c ChargeMethod) IsValid() bool {
	switch c {
	case ChargeAM1BCC, ChargeGasteiger, ChargeMulliken:
		return true
	}
	return false
}

// AtomParameters holds the per-atom force-field assignment: atom type,
// partial charge, and Lennard-Jones well parameters.
type AtomParameters struct {
	AtomType      string  `json:"atom_type"`
	PartialCharge float64 `json:"partial_charge"`
	Sigma         float64 `json:"sigma"`   // nm
	Epsilon       float64 `json:"epsilon"` // kJ/mol
}

// BondTerm is a harmonic bond between atom indices I and J.
type BondTerm struct {
	I                 int     `json:"i"`
	J                 int     `json:"j"`
	ForceConstant     float64 `json:"force_constant"`     // kJ/mol/nm^2
	EquilibriumLength float64 `json:"equilibrium_length"` // nm
}

// AngleTerm is a harmonic angle over atom indices I-J-K.
type AngleTerm struct {
	I                int     `json:"i"`
	J                int     `json:"j"`
	K                int     `json:"k"`
	ForceConstant    float64 `json:"force_constant"`    // kJ/mol/rad^2
	EquilibriumAngle float64 `json:"equilibrium_angle"` // rad
}

// TorsionTerm is a periodic dihedral over atom indices I-J-K-L.
type TorsionTerm struct {
	I           int     `json:"i"`
	J           int     `json:"j"`
	K           int     `json:"k"`
	L           int     `json:"l"`
	Barrier     float64 `json:"barrier"` // kJ/mol
	Phase       float64 `json:"phase"`   // rad
	Periodicity int     `json:"periodicity"`
}

// ParameterSet is the complete force-field parameterization of one molecule.
// It is produced once per canonical molecule identity and cached; the
// topology merger consumes it read-only.
type ParameterSet struct {
	MoleculeIdentity string       `json:"molecule_identity"`
	ForceField       ForceField   `json:"force_field"`
	ChargeMethod     ChargeMethod `json:"charge_method"`
	Atoms            []AtomParameters `json:"atoms"`
	Bonds            []BondTerm       `json:"bonds"`
	Angles           []AngleTerm      `json:"angles"`
	Torsions         []TorsionTerm    `json:"torsions"`
}

// Validate checks internal consistency: the per-atom slice must be non-empty
// and every bonded term must reference atoms inside it.
func (p *ParameterSet) Validate() error {
	n := len(p.Atoms)
	if n == 0 {
		return fmt.Errorf("chem: parameter set %s has no atoms", p.MoleculeIdentity)
	}
	inRange := func(idx int) bool { return idx >= 0 && idx < n }
	for _, b := range p.Bonds {
		if !inRange(b.I) || !inRange(b.J) {
			return fmt.Errorf("chem: bond term (%d,%d) out of range [0,%d)", b.I, b.J, n)
		}
	}
	for _, a := range p.Angles {
		if !inRange(a.I) || !inRange(a.J) || !inRange(a.K) {
			return fmt.Errorf("chem: angle term (%d,%d,%d) out of range [0,%d)", a.I, a.J, a.K, n)
		}
	}
	for _, tr := range p.Torsions {
		if !inRange(tr.I) || !inRange(tr.J) || !inRange(tr.K) || !inRange(tr.L) {
			return fmt.Errorf("chem: torsion term (%d,%d,%d,%d) out of range [0,%d)", tr.I, tr.J, tr.K, tr.L, n)
		}
	}
	return nil
}

// Compatible reports whether two parameter sets can be merged into one hybrid
// topology: same force field and same charge method.
func (p *ParameterSet) Compatible(other *ParameterSet) bool {
	if p == nil || other == nil {
		return false
	}
	return p.ForceField == other.ForceField && p.ChargeMethod == other.ChargeMethod
}
