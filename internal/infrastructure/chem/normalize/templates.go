package normalize

// solventResidues are stripped before any further processing: crystal
// waters, common cryoprotectants, and free ions.
var solventResidues = map[string]bool{
	"HOH": true, "WAT": true, "DOD": true, "SOL": true,
	"GOL": true, "EDO": true, "PEG": true, "DMS": true,
	"NA": true, "CL": true, "K": true, "MG": true, "CA": true,
	"ZN": false, // structural zincs are kept; they are often catalytic
	"SO4": true, "PO4": true, "ACT": true, "NO3": true,
}

// residueTemplate describes a standard polymer residue: its canonical
// heavy-atom names (side chain only; the backbone set is shared), the bond
// graph used to rebuild atoms a deposited structure left out, and its
// titration behaviour.
type residueTemplate struct {
	// SideChain lists the heavy atoms in growth order: every atom appears
	// after its parent.
	SideChain []string
	// Parents maps each side-chain atom to the atom it grows from.  CB
	// grows from the backbone CA.
	Parents map[string]string
	// Closures lists the side-chain bonds that close rings and are not
	// parent edges.
	Closures [][2]string
	// PKa is the side-chain pKa of titratable residues, 0 for fixed ones.
	PKa float64
	// ChargeIfProtonated / ChargeIfDeprotonated give the side-chain formal
	// charge on either side of the pKa.
	ChargeIfProtonated   int
	ChargeIfDeprotonated int
	// ChargeAtom names the atom that carries the formal charge.
	ChargeAtom string
}

// backboneAtoms is the shared protein backbone heavy-atom set.
var backboneAtoms = []string{"N", "CA", "C", "O"}

// residueTemplates covers the twenty standard amino acids.  Ligands and
// non-standard residues are handled by distance-based perception instead.
var residueTemplates = map[string]residueTemplate{
	"ALA": {
		SideChain: []string{"CB"},
		Parents:   map[string]string{"CB": "CA"},
	},
	"ARG": {
		SideChain: []string{"CB", "CG", "CD", "NE", "CZ", "NH1", "NH2"},
		Parents: map[string]string{
			"CB": "CA", "CG": "CB", "CD": "CG", "NE": "CD",
			"CZ": "NE", "NH1": "CZ", "NH2": "CZ",
		},
		PKa:                12.5,
		ChargeIfProtonated: 1, ChargeAtom: "NH2",
	},
	"ASN": {
		SideChain: []string{"CB", "CG", "OD1", "ND2"},
		Parents:   map[string]string{"CB": "CA", "CG": "CB", "OD1": "CG", "ND2": "CG"},
	},
	"ASP": {
		SideChain:            []string{"CB", "CG", "OD1", "OD2"},
		Parents:              map[string]string{"CB": "CA", "CG": "CB", "OD1": "CG", "OD2": "CG"},
		PKa:                  3.9,
		ChargeIfDeprotonated: -1, ChargeAtom: "OD2",
	},
	"CYS": {
		SideChain: []string{"CB", "SG"},
		Parents:   map[string]string{"CB": "CA", "SG": "CB"},
		PKa:       8.3,
		// Neutral when protonated; the thiolate is rare at neutral pH.
		ChargeIfDeprotonated: -1, ChargeAtom: "SG",
	},
	"GLN": {
		SideChain: []string{"CB", "CG", "CD", "OE1", "NE2"},
		Parents: map[string]string{
			"CB": "CA", "CG": "CB", "CD": "CG", "OE1": "CD", "NE2": "CD",
		},
	},
	"GLU": {
		SideChain: []string{"CB", "CG", "CD", "OE1", "OE2"},
		Parents: map[string]string{
			"CB": "CA", "CG": "CB", "CD": "CG", "OE1": "CD", "OE2": "CD",
		},
		PKa:                  4.1,
		ChargeIfDeprotonated: -1, ChargeAtom: "OE2",
	},
	"GLY": {},
	"HIS": {
		SideChain: []string{"CB", "CG", "ND1", "CD2", "CE1", "NE2"},
		Parents: map[string]string{
			"CB": "CA", "CG": "CB", "ND1": "CG", "CD2": "CG",
			"CE1": "ND1", "NE2": "CD2",
		},
		Closures:           [][2]string{{"CE1", "NE2"}},
		PKa:                6.0,
		ChargeIfProtonated: 1, ChargeAtom: "ND1",
	},
	"ILE": {
		SideChain: []string{"CB", "CG1", "CG2", "CD1"},
		Parents:   map[string]string{"CB": "CA", "CG1": "CB", "CG2": "CB", "CD1": "CG1"},
	},
	"LEU": {
		SideChain: []string{"CB", "CG", "CD1", "CD2"},
		Parents:   map[string]string{"CB": "CA", "CG": "CB", "CD1": "CG", "CD2": "CG"},
	},
	"LYS": {
		SideChain: []string{"CB", "CG", "CD", "CE", "NZ"},
		Parents: map[string]string{
			"CB": "CA", "CG": "CB", "CD": "CG", "CE": "CD", "NZ": "CE",
		},
		PKa:                10.5,
		ChargeIfProtonated: 1, ChargeAtom: "NZ",
	},
	"MET": {
		SideChain: []string{"CB", "CG", "SD", "CE"},
		Parents:   map[string]string{"CB": "CA", "CG": "CB", "SD": "CG", "CE": "SD"},
	},
	"PHE": {
		SideChain: []string{"CB", "CG", "CD1", "CD2", "CE1", "CE2", "CZ"},
		Parents: map[string]string{
			"CB": "CA", "CG": "CB", "CD1": "CG", "CD2": "CG",
			"CE1": "CD1", "CE2": "CD2", "CZ": "CE1",
		},
		Closures: [][2]string{{"CZ", "CE2"}},
	},
	"PRO": {
		SideChain: []string{"CB", "CG", "CD"},
		Parents:   map[string]string{"CB": "CA", "CG": "CB", "CD": "CG"},
		Closures:  [][2]string{{"CD", "N"}},
	},
	"SER": {
		SideChain: []string{"CB", "OG"},
		Parents:   map[string]string{"CB": "CA", "OG": "CB"},
	},
	"THR": {
		SideChain: []string{"CB", "OG1", "CG2"},
		Parents:   map[string]string{"CB": "CA", "OG1": "CB", "CG2": "CB"},
	},
	"TRP": {
		SideChain: []string{"CB", "CG", "CD1", "CD2", "NE1", "CE2", "CE3", "CZ2", "CZ3", "CH2"},
		Parents: map[string]string{
			"CB": "CA", "CG": "CB", "CD1": "CG", "CD2": "CG",
			"NE1": "CD1", "CE2": "CD2", "CE3": "CD2",
			"CZ2": "CE2", "CZ3": "CE3", "CH2": "CZ2",
		},
		Closures: [][2]string{{"NE1", "CE2"}, {"CH2", "CZ3"}},
	},
	"TYR": {
		SideChain: []string{"CB", "CG", "CD1", "CD2", "CE1", "CE2", "CZ", "OH"},
		Parents: map[string]string{
			"CB": "CA", "CG": "CB", "CD1": "CG", "CD2": "CG",
			"CE1": "CD1", "CE2": "CD2", "CZ": "CE1", "OH": "CZ",
		},
		Closures:             [][2]string{{"CZ", "CE2"}},
		PKa:                  10.1,
		ChargeIfDeprotonated: -1, ChargeAtom: "OH",
	},
	"VAL": {
		SideChain: []string{"CB", "CG1", "CG2"},
		Parents:   map[string]string{"CB": "CA", "CG1": "CB", "CG2": "CB"},
	},
}

// heavyAtoms returns the full canonical heavy-atom name set of the residue.
func (t residueTemplate) heavyAtoms() []string {
	out := append([]string(nil), backboneAtoms...)
	return append(out, t.SideChain...)
}

// parentOf returns the atom a heavy atom grows from.  The backbone O grows
// from C; the anchors N, CA and C have no parent.
func (t residueTemplate) parentOf(name string) string {
	if name == "O" {
		return "C"
	}
	return t.Parents[name]
}

// bondGraph returns heavy-atom adjacency within the residue: backbone
// edges, parent edges, and ring closures.
func (t residueTemplate) bondGraph() map[string][]string {
	g := make(map[string][]string)
	add := func(a, b string) {
		g[a] = append(g[a], b)
		g[b] = append(g[b], a)
	}
	add("N", "CA")
	add("CA", "C")
	add("C", "O")
	for child, parent := range t.Parents {
		add(child, parent)
	}
	for _, c := range t.Closures {
		add(c[0], c[1])
	}
	return g
}

// titratable reports whether the residue changes protonation near
// physiological conditions.
func (t residueTemplate) titratable() bool { return t.PKa != 0 }

// chargeAtPH returns the side-chain formal charge the residue adopts at the
// given pH.
func (t residueTemplate) chargeAtPH(ph float64) int {
	if !t.titratable() {
		return 0
	}
	if ph < t.PKa {
		return t.ChargeIfProtonated
	}
	return t.ChargeIfDeprotonated
}
