// Package normalize turns raw structure files into validated molecular
// graphs: alternate-location resolution, solvent stripping, residue template
// checks, protonation-state assignment, and disulfide perception.
package normalize

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/fepforge/fepforge/internal/domain/molecule"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// ambiguousPKaWindow is the pH distance from a residue pKa below which the
// protonation state is considered a coin toss rather than a call this code
// should silently make.
const ambiguousPKaWindow = 0.5

// bondTolerance is added to the covalent-radius sum during distance-based
// bond perception.
const bondTolerance = 0.45

// disulfideCutoff is the maximum SG-SG distance recognised as a disulfide
// bridge, in Angstrom.
const disulfideCutoff = 2.5

// Options configures normalization behaviour.
type Options struct {
	// PH is the target protonation pH.
	PH float64
	// ForceDefaultProtonation resolves ambiguous titration sites to their
	// pH-rule default instead of failing.
	ForceDefaultProtonation bool
	// KeepSolvent retains water and ion records.
	KeepSolvent bool
}

// Normalizer is the structure-normalization stage.
type Normalizer struct {
	opts Options
	log  logging.Logger
}

// New constructs a Normalizer.
func New(opts Options, log logging.Logger) *Normalizer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Normalizer{opts: opts, log: log.Named("normalizer")}
}

// NormalizeLigand parses a small-molecule structure file.  Solvent and ions
// are stripped, alternate locations resolved by occupancy, and connectivity
// taken from CONECT records when present or perceived from distances
// otherwise.  If stripping leaves several fragments the largest one is kept.
func (n *Normalizer) NormalizeLigand(ctx context.Context, name string, raw []byte) (*molecule.Molecule, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeJobCancelled, "normalization cancelled")
	}

	f, err := parsePDB(raw)
	if err != nil {
		return nil, err
	}
	atoms := resolveAltLocs(f.Atoms)
	if !n.opts.KeepSolvent {
		atoms = stripSolvent(atoms)
	}
	if len(atoms) == 0 {
		return nil, apperrors.Newf(apperrors.CodeStructUnparseable,
			"ligand %s contains only solvent records", name)
	}

	molAtoms := make([]molecule.Atom, len(atoms))
	serialToIdx := make(map[int]int, len(atoms))
	for i, a := range atoms {
		serialToIdx[a.Serial] = i
		molAtoms[i] = molecule.Atom{
			Element:      a.Element,
			Name:         a.Name,
			FormalCharge: a.Charge,
			Position:     molecule.Vec3{X: a.X, Y: a.Y, Z: a.Z},
		}
	}

	bonds := bondsFromConect(f.Conects, serialToIdx)
	if len(bonds) == 0 {
		bonds = perceiveBonds(molAtoms)
	}

	m, err := molecule.NewMolecule(name, molAtoms, bonds)
	if err != nil {
		return nil, err
	}

	if !m.Connected() {
		m, err = largestComponent(m)
		if err != nil {
			return nil, err
		}
		n.log.Warn("ligand had multiple fragments, kept the largest",
			logging.String("ligand", name),
			logging.Int("kept_atoms", m.NumAtoms()),
		)
	}

	n.log.Debug("ligand normalized",
		logging.String("ligand", name),
		logging.Int("atoms", m.NumAtoms()),
		logging.String("identity", m.Identity()),
	)
	return m, nil
}

// NormalizeProtein parses a receptor structure: every polymer residue must
// match a known template, heavy atoms the deposition left out are rebuilt
// from the template bond graph, titratable side chains are assigned a
// protonation state at the configured pH, and disulfide bridges are detected
// and bonded.  Only missing backbone anchors are fatal; their placement
// depends on the adjacent residues and cannot be rebuilt deterministically.
func (n *Normalizer) NormalizeProtein(ctx context.Context, name string, raw []byte) (*molecule.Molecule, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeJobCancelled, "normalization cancelled")
	}

	f, err := parsePDB(raw)
	if err != nil {
		return nil, err
	}
	atoms := resolveAltLocs(f.Atoms)
	if !n.opts.KeepSolvent {
		atoms = stripSolvent(atoms)
	}
	if len(atoms) == 0 {
		return nil, apperrors.Newf(apperrors.CodeStructUnparseable,
			"protein %s contains only solvent records", name)
	}

	residues, order := groupResidues(atoms)

	molAtoms := make([]molecule.Atom, 0, len(atoms))
	index := make(map[int]int, len(atoms)) // serial -> molecule index
	var sgAtoms []int                      // molecule indices of CYS SG, for disulfide search
	var extraBonds [][2]int                // template bonds of rebuilt atoms
	synthSerial := 0

	for _, key := range order {
		res := residues[key]
		resName := res[0].ResName

		tpl, isPolymer := residueTemplates[resName]
		if !res[0].Het && !isPolymer {
			return nil, apperrors.Newf(apperrors.CodeStructMissingTemplate,
				"no residue template for %s %c%d", resName, key.ChainID, key.ResSeq)
		}

		var missing []string
		if isPolymer {
			missing = missingHeavyAtoms(res, tpl)
			if len(missing) > 0 {
				res, err = rebuildResidue(res, missing, tpl, key, &synthSerial)
				if err != nil {
					return nil, err
				}
				n.log.Warn("rebuilt missing heavy atoms",
					logging.String("protein", name),
					logging.String("residue", fmt.Sprintf("%s %c%d", resName, key.ChainID, key.ResSeq)),
					logging.Int("atoms", len(missing)),
				)
			}
		}

		charge, chargeAtom, err := n.protonationState(resName, tpl, key)
		if err != nil {
			return nil, err
		}

		nameIdx := make(map[string]int, len(res))
		for _, a := range res {
			idx := len(molAtoms)
			index[a.Serial] = idx
			nameIdx[a.Name] = idx
			ma := molecule.Atom{
				Element:      a.Element,
				Name:         a.Name,
				FormalCharge: a.Charge,
				Position:     molecule.Vec3{X: a.X, Y: a.Y, Z: a.Z},
			}
			if isPolymer && a.Name == chargeAtom {
				ma.FormalCharge = charge
			}
			if resName == "CYS" && a.Name == "SG" {
				sgAtoms = append(sgAtoms, idx)
			}
			molAtoms = append(molAtoms, ma)
		}

		// Rebuilt positions are approximate, so their template bonds are
		// pinned instead of trusted to distance perception.
		if len(missing) > 0 {
			rebuilt := make(map[string]bool, len(missing))
			for _, name := range missing {
				rebuilt[name] = true
				extraBonds = append(extraBonds, [2]int{nameIdx[tpl.parentOf(name)], nameIdx[name]})
			}
			for _, c := range tpl.Closures {
				if rebuilt[c[0]] || rebuilt[c[1]] {
					extraBonds = append(extraBonds, [2]int{nameIdx[c[0]], nameIdx[c[1]]})
				}
			}
		}
	}

	bonds := perceiveBonds(molAtoms)
	for _, eb := range extraBonds {
		a, b := eb[0], eb[1]
		if a > b {
			a, b = b, a
		}
		if !containsBond(bonds, a, b) {
			bonds = append(bonds, molecule.Bond{A: a, B: b, Order: molecule.BondSingle})
		}
	}

	// Disulfide bridges: close SG pairs get an explicit bond, and a bridged
	// cystine is no longer titratable, so any thiolate charge is cleared.
	bridges := 0
	for i := 0; i < len(sgAtoms); i++ {
		for j := i + 1; j < len(sgAtoms); j++ {
			pi, pj := molAtoms[sgAtoms[i]].Position, molAtoms[sgAtoms[j]].Position
			if pi.Distance(pj) > disulfideCutoff {
				continue
			}
			molAtoms[sgAtoms[i]].FormalCharge = 0
			molAtoms[sgAtoms[j]].FormalCharge = 0
			if !containsBond(bonds, sgAtoms[i], sgAtoms[j]) {
				bonds = append(bonds, molecule.Bond{A: sgAtoms[i], B: sgAtoms[j], Order: molecule.BondSingle})
			}
			bridges++
		}
	}

	m, err := molecule.NewMolecule(name, molAtoms, bonds)
	if err != nil {
		return nil, err
	}

	n.log.Info("protein normalized",
		logging.String("protein", name),
		logging.Int("atoms", m.NumAtoms()),
		logging.Int("residues", len(order)),
		logging.Int("disulfides", bridges),
		logging.Float64("ph", n.opts.PH),
	)
	return m, nil
}

// protonationState decides the side-chain charge of one residue at the
// configured pH, failing with CodeStructAmbiguousProtonation when the pH
// sits inside the ambiguity window around the pKa.
func (n *Normalizer) protonationState(resName string, tpl residueTemplate, key residueKey) (int, string, error) {
	if !tpl.titratable() {
		return 0, "", nil
	}
	if math.Abs(n.opts.PH-tpl.PKa) < ambiguousPKaWindow && !n.opts.ForceDefaultProtonation {
		return 0, "", apperrors.Newf(apperrors.CodeStructAmbiguousProtonation,
			"residue %s %c%d titrates at pKa %.1f, too close to pH %.1f to assign a state",
			resName, key.ChainID, key.ResSeq, tpl.PKa, n.opts.PH)
	}
	return tpl.chargeAtPH(n.opts.PH), tpl.ChargeAtom, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Record filtering
// ───────────────────────────────────────────────────────────────────────────

// resolveAltLocs keeps exactly one location per atom: the highest occupancy,
// with the lexicographically smallest altLoc breaking ties.  Source order is
// preserved.
func resolveAltLocs(atoms []pdbAtom) []pdbAtom {
	type slot struct {
		key  residueKey
		name string
	}
	best := make(map[slot]pdbAtom)
	var order []slot
	for _, a := range atoms {
		s := slot{key: a.residue(), name: a.Name}
		cur, seen := best[s]
		if !seen {
			best[s] = a
			order = append(order, s)
			continue
		}
		if a.Occupancy > cur.Occupancy ||
			(a.Occupancy == cur.Occupancy && a.AltLoc < cur.AltLoc) {
			best[s] = a
		}
	}
	out := make([]pdbAtom, 0, len(order))
	for _, s := range order {
		out = append(out, best[s])
	}
	return out
}

func stripSolvent(atoms []pdbAtom) []pdbAtom {
	out := atoms[:0:0]
	for _, a := range atoms {
		if solventResidues[a.ResName] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// groupResidues buckets atoms per residue, preserving first-seen order.
func groupResidues(atoms []pdbAtom) (map[residueKey][]pdbAtom, []residueKey) {
	groups := make(map[residueKey][]pdbAtom)
	var order []residueKey
	for _, a := range atoms {
		k := a.residue()
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], a)
	}
	return groups, order
}

// missingHeavyAtoms returns the template atoms absent from the residue, in
// template growth order so a rebuild always places parents first.
func missingHeavyAtoms(res []pdbAtom, tpl residueTemplate) []string {
	present := make(map[string]bool, len(res))
	for _, a := range res {
		present[a.Name] = true
	}
	var missing []string
	for _, want := range tpl.heavyAtoms() {
		if !present[want] {
			missing = append(missing, want)
		}
	}
	return missing
}

// rebuildResidue synthesizes coordinate records for a residue's missing
// heavy atoms.  Each atom is placed one covalent bond length from its
// template parent, pointed away from the parent's known neighbors, which is
// good enough for the parameterization stage to refine.  The backbone
// anchors N, CA and C cannot be rebuilt: their placement depends on the
// adjacent residues.
func rebuildResidue(res []pdbAtom, missing []string, tpl residueTemplate, key residueKey, serial *int) ([]pdbAtom, error) {
	resName := res[0].ResName
	for _, name := range missing {
		if name == "N" || name == "CA" || name == "C" {
			return nil, apperrors.Newf(apperrors.CodeStructMissingTemplate,
				"residue %s %c%d is missing backbone atom %s and cannot be rebuilt",
				resName, key.ChainID, key.ResSeq, name)
		}
	}

	pos := make(map[string]molecule.Vec3, len(res)+len(missing))
	for _, a := range res {
		pos[a.Name] = molecule.Vec3{X: a.X, Y: a.Y, Z: a.Z}
	}
	graph := tpl.bondGraph()

	out := append([]pdbAtom(nil), res...)
	for _, name := range missing {
		parent := tpl.parentOf(name)
		anchor, ok := pos[parent]
		if !ok {
			return nil, apperrors.Newf(apperrors.CodeStructMissingTemplate,
				"residue %s %c%d has no anchor %s to grow %s from",
				resName, key.ChainID, key.ResSeq, parent, name)
		}
		elem := elementForAtomName(name)
		length := elem.CovalentRadius() + elementForAtomName(parent).CovalentRadius()
		p := anchor.Add(growthDirection(parent, pos, graph).Scale(length))
		pos[name] = p

		*serial--
		out = append(out, pdbAtom{
			Serial:    *serial,
			Name:      name,
			ResName:   resName,
			ChainID:   key.ChainID,
			ResSeq:    key.ResSeq,
			ICode:     key.ICode,
			X:         p.X,
			Y:         p.Y,
			Z:         p.Z,
			Occupancy: 1,
			Element:   elem,
		})
	}
	return out, nil
}

// growthDirection points away from the parent's known neighbors, so a
// rebuilt atom lands in the emptiest region of the parent's coordination
// sphere.
func growthDirection(parent string, pos map[string]molecule.Vec3, graph map[string][]string) molecule.Vec3 {
	anchor := pos[parent]
	var d, ref molecule.Vec3
	known := 0
	for _, nb := range graph[parent] {
		np, ok := pos[nb]
		if !ok {
			continue
		}
		u := np.Sub(anchor)
		n := u.Norm()
		if n < 1e-9 {
			continue
		}
		u = u.Scale(1 / n)
		d = d.Sub(u)
		ref = u
		known++
	}
	if known == 0 {
		return molecule.Vec3{X: 1}
	}
	if d.Norm() < 1e-6 {
		// Opposing neighbors cancel out; branch perpendicular to one of
		// them instead.
		return perpendicularTo(ref)
	}
	return d.Scale(1 / d.Norm())
}

func perpendicularTo(u molecule.Vec3) molecule.Vec3 {
	v := molecule.Vec3{X: 1}
	if math.Abs(u.X) > 0.9 {
		v = molecule.Vec3{Y: 1}
	}
	dot := u.X*v.X + u.Y*v.Y + u.Z*v.Z
	w := v.Sub(u.Scale(dot))
	n := w.Norm()
	if n < 1e-9 {
		return molecule.Vec3{Z: 1}
	}
	return w.Scale(1 / n)
}

// elementForAtomName deduces the element of a canonical template atom name.
func elementForAtomName(name string) molecule.Element {
	if name == "" {
		return molecule.C
	}
	switch name[0] {
	case 'N':
		return molecule.N
	case 'O':
		return molecule.O
	case 'S':
		return molecule.S
	}
	return molecule.C
}

// ───────────────────────────────────────────────────────────────────────────
// Bond perception
// ───────────────────────────────────────────────────────────────────────────

func bondsFromConect(conects map[int][]int, serialToIdx map[int]int) []molecule.Bond {
	seen := make(map[[2]int]bool)
	var bonds []molecule.Bond
	for from, tos := range conects {
		i, ok := serialToIdx[from]
		if !ok {
			continue
		}
		for _, to := range tos {
			j, ok := serialToIdx[to]
			if !ok || i == j {
				continue
			}
			a, b := i, j
			if a > b {
				a, b = b, a
			}
			if seen[[2]int{a, b}] {
				continue
			}
			seen[[2]int{a, b}] = true
			bonds = append(bonds, molecule.Bond{A: a, B: b, Order: molecule.BondSingle})
		}
	}
	sort.Slice(bonds, func(x, y int) bool {
		if bonds[x].A != bonds[y].A {
			return bonds[x].A < bonds[y].A
		}
		return bonds[x].B < bonds[y].B
	})
	return bonds
}

// perceiveBonds infers connectivity from interatomic distances against the
// covalent-radius sum.  Hydrogens are limited to their single nearest heavy
// partner.
func perceiveBonds(atoms []molecule.Atom) []molecule.Bond {
	var bonds []molecule.Bond
	hPartner := make(map[int]int)
	hDist := make(map[int]float64)

	for i := 0; i < len(atoms); i++ {
		for j := i + 1; j < len(atoms); j++ {
			ei, ej := atoms[i].Element, atoms[j].Element
			if !ei.IsHeavy() && !ej.IsHeavy() {
				continue
			}
			d := atoms[i].Position.Distance(atoms[j].Position)
			if d > ei.CovalentRadius()+ej.CovalentRadius()+bondTolerance || d < 0.4 {
				continue
			}
			switch {
			case !ei.IsHeavy():
				if prev, ok := hDist[i]; !ok || d < prev {
					hPartner[i], hDist[i] = j, d
				}
			case !ej.IsHeavy():
				if prev, ok := hDist[j]; !ok || d < prev {
					hPartner[j], hDist[j] = i, d
				}
			default:
				bonds = append(bonds, molecule.Bond{A: i, B: j, Order: molecule.BondSingle})
			}
		}
	}
	for h, heavy := range hPartner {
		a, b := h, heavy
		if a > b {
			a, b = b, a
		}
		bonds = append(bonds, molecule.Bond{A: a, B: b, Order: molecule.BondSingle})
	}
	sort.Slice(bonds, func(x, y int) bool {
		if bonds[x].A != bonds[y].A {
			return bonds[x].A < bonds[y].A
		}
		return bonds[x].B < bonds[y].B
	})
	return bonds
}

func containsBond(bonds []molecule.Bond, a, b int) bool {
	if a > b {
		a, b = b, a
	}
	for _, bd := range bonds {
		if bd.A == a && bd.B == b {
			return true
		}
	}
	return false
}

// largestComponent rebuilds a molecule from its biggest connected fragment.
func largestComponent(m *molecule.Molecule) (*molecule.Molecule, error) {
	comps := m.Components()
	best := comps[0]
	for _, c := range comps[1:] {
		if len(c) > len(best) {
			best = c
		}
	}

	remap := make(map[int]int, len(best))
	atoms := make([]molecule.Atom, len(best))
	for newIdx, oldIdx := range best {
		remap[oldIdx] = newIdx
		atoms[newIdx] = m.Atom(oldIdx)
	}
	var bonds []molecule.Bond
	for _, b := range m.Bonds() {
		ni, iOK := remap[b.A]
		nj, jOK := remap[b.B]
		if iOK && jOK {
			bonds = append(bonds, molecule.Bond{A: ni, B: nj, Order: b.Order})
		}
	}
	return molecule.NewMolecule(m.Name(), atoms, bonds)
}

// String implements fmt.Stringer for configuration logging.
func (o Options) String() string {
	return fmt.Sprintf("pH=%.1f force_default=%t keep_solvent=%t",
		o.PH, o.ForceDefaultProtonation, o.KeepSolvent)
}
