package molecule

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// ───────────────────────────────────────────────────────────────────────────
// Value types
// ───────────────────────────────────────────────────────────────────────────

// Vec3 is a 3D coordinate in Angstrom.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z} }

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z} }

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Distance returns the Euclidean distance between v and w.
func (v Vec3) Distance(w Vec3) float64 { return v.Sub(w).Norm() }

// StereoParity records tetrahedral chirality at an atom as perceived from
// the input structure.  ParityNone marks atoms that are not stereocenters.
type StereoParity int

const (
	ParityNone StereoParity = iota
	ParityClockwise
	ParityCounterClockwise
)

// BondOrder is the covalent bond order.  Aromatic bonds are kept distinct
// from alternating single/double so that aromatic systems only match each
// other during substructure search.
type BondOrder int

const (
	BondSingle   BondOrder = 1
	BondDouble   BondOrder = 2
	BondTriple   BondOrder = 3
	BondAromatic BondOrder = 4
)

// Atom is one atom of a molecular graph.  Atoms are referenced by their
// index in the owning Molecule; the struct itself carries no identity.
type Atom struct {
	Element      Element      `json:"element"`
	Name         string       `json:"name,omitempty"` // PDB-style atom name, informational
	FormalCharge int          `json:"formal_charge,omitempty"`
	Position     Vec3         `json:"position"`
	Stereo       StereoParity `json:"stereo,omitempty"`
}

// Bond is an undirected edge between two atom indices.  The constructor
// normalises A < B.
type Bond struct {
	A     int       `json:"a"`
	B     int       `json:"b"`
	Order BondOrder `json:"order"`
}

// ───────────────────────────────────────────────────────────────────────────
// Molecule
// ───────────────────────────────────────────────────────────────────────────

// Molecule is an immutable molecular graph with 3D coordinates.  All derived
// data (adjacency, ring perception, canonical identity) is computed once at
// construction; accessors return copies so callers cannot mutate shared
// state.
type Molecule struct {
	name     string
	atoms    []Atom
	bonds    []Bond
	adj      [][]int // neighbor atom indices, sorted
	bondIdx  map[[2]int]int
	ringBond []bool
	ringAtom []bool
	identity string
}

// NewMolecule validates atoms and bonds and builds the immutable graph.
// Bond endpoints must be in range, distinct, and unique per atom pair.
func NewMolecule(name string, atoms []Atom, bonds []Bond) (*Molecule, error) {
	if len(atoms) == 0 {
		return nil, apperrors.New(apperrors.CodeStructUnparseable, "molecule has no atoms")
	}

	m := &Molecule{
		name:    name,
		atoms:   append([]Atom(nil), atoms...),
		bonds:   make([]Bond, 0, len(bonds)),
		adj:     make([][]int, len(atoms)),
		bondIdx: make(map[[2]int]int, len(bonds)),
	}

	for _, b := range bonds {
		if b.A == b.B {
			return nil, apperrors.Newf(apperrors.CodeStructUnparseable,
				"self-bond on atom %d", b.A)
		}
		if b.A < 0 || b.A >= len(atoms) || b.B < 0 || b.B >= len(atoms) {
			return nil, apperrors.Newf(apperrors.CodeStructUnparseable,
				"bond %d-%d references atom out of range", b.A, b.B)
		}
		if b.Order < BondSingle || b.Order > BondAromatic {
			return nil, apperrors.Newf(apperrors.CodeStructUnparseable,
				"bond %d-%d has invalid order %d", b.A, b.B, b.Order)
		}
		key := bondKey(b.A, b.B)
		if _, dup := m.bondIdx[key]; dup {
			return nil, apperrors.Newf(apperrors.CodeStructUnparseable,
				"duplicate bond %d-%d", b.A, b.B)
		}
		nb := Bond{A: key[0], B: key[1], Order: b.Order}
		m.bondIdx[key] = len(m.bonds)
		m.bonds = append(m.bonds, nb)
		m.adj[nb.A] = append(m.adj[nb.A], nb.B)
		m.adj[nb.B] = append(m.adj[nb.B], nb.A)
	}

	for i := range m.adj {
		sort.Ints(m.adj[i])
	}

	m.perceiveRings()
	m.identity = m.canonicalHash()
	return m, nil
}

func bondKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// Name returns the molecule's display name.
func (m *Molecule) Name() string { return m.name }

// NumAtoms returns the total atom count.
func (m *Molecule) NumAtoms() int { return len(m.atoms) }

// NumBonds returns the total bond count.
func (m *Molecule) NumBonds() int { return len(m.bonds) }

// Atom returns the atom at index i.
func (m *Molecule) Atom(i int) Atom { return m.atoms[i] }

// Atoms returns a copy of the atom slice.
func (m *Molecule) Atoms() []Atom { return append([]Atom(nil), m.atoms...) }

// Bonds returns a copy of the bond slice.
func (m *Molecule) Bonds() []Bond { return append([]Bond(nil), m.bonds...) }

// Neighbors returns the sorted neighbor indices of atom i.
func (m *Molecule) Neighbors(i int) []int { return append([]int(nil), m.adj[i]...) }

// Degree returns the number of bonds incident to atom i.
func (m *Molecule) Degree(i int) int { return len(m.adj[i]) }

// BondBetween returns the bond joining atoms a and b, if any.
func (m *Molecule) BondBetween(a, b int) (Bond, bool) {
	idx, ok := m.bondIdx[bondKey(a, b)]
	if !ok {
		return Bond{}, false
	}
	return m.bonds[idx], true
}

// IsRingBond reports whether the bond joining a and b is part of a cycle.
func (m *Molecule) IsRingBond(a, b int) bool {
	idx, ok := m.bondIdx[bondKey(a, b)]
	return ok && m.ringBond[idx]
}

// IsRingAtom reports whether atom i belongs to at least one ring.
func (m *Molecule) IsRingAtom(i int) bool { return m.ringAtom[i] }

// HeavyAtomCount returns the number of non-hydrogen atoms.
func (m *Molecule) HeavyAtomCount() int {
	n := 0
	for _, a := range m.atoms {
		if a.Element.IsHeavy() {
			n++
		}
	}
	return n
}

// NetCharge returns the sum of formal charges.
func (m *Molecule) NetCharge() int {
	q := 0
	for _, a := range m.atoms {
		q += a.FormalCharge
	}
	return q
}

// Connected reports whether the graph is a single connected component.
func (m *Molecule) Connected() bool {
	return len(m.Components()) == 1
}

// Components returns the connected components as sorted atom-index slices,
// ordered by their smallest member.
func (m *Molecule) Components() [][]int {
	seen := make([]bool, len(m.atoms))
	var comps [][]int
	for start := range m.atoms {
		if seen[start] {
			continue
		}
		var comp []int
		stack := []int{start}
		seen[start] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, cur)
			for _, nb := range m.adj[cur] {
				if !seen[nb] {
					seen[nb] = true
					stack = append(stack, nb)
				}
			}
		}
		sort.Ints(comp)
		comps = append(comps, comp)
	}
	return comps
}

// Identity returns the canonical content hash of the molecule.  Two inputs
// describing the same chemical graph (same elements, charges, bonds, stereo)
// produce the same identity regardless of atom ordering, which is what makes
// cross-job parameter caching sound.
func (m *Molecule) Identity() string { return m.identity }

// String implements fmt.Stringer for log output.
func (m *Molecule) String() string {
	return fmt.Sprintf("%s (%d atoms, %d bonds, charge %+d)",
		m.name, len(m.atoms), len(m.bonds), m.NetCharge())
}

// ───────────────────────────────────────────────────────────────────────────
// Ring perception
// ───────────────────────────────────────────────────────────────────────────

// perceiveRings marks each bond whose removal leaves its endpoints connected
// (i.e. every cycle bond), then derives per-atom ring membership.  O(B·(V+E))
// is fine at ligand scale.
func (m *Molecule) perceiveRings() {
	m.ringBond = make([]bool, len(m.bonds))
	m.ringAtom = make([]bool, len(m.atoms))

	for bi, b := range m.bonds {
		if m.connectedWithout(b.A, b.B, bi) {
			m.ringBond[bi] = true
			m.ringAtom[b.A] = true
			m.ringAtom[b.B] = true
		}
	}
}

// connectedWithout reports whether from can reach to without traversing the
// bond at index skip.
func (m *Molecule) connectedWithout(from, to, skip int) bool {
	seen := make([]bool, len(m.atoms))
	stack := []int{from}
	seen[from] = true
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		for _, nb := range m.adj[cur] {
			if seen[nb] {
				continue
			}
			if idx := m.bondIdx[bondKey(cur, nb)]; idx == skip {
				continue
			}
			seen[nb] = true
			stack = append(stack, nb)
		}
	}
	return false
}

// ───────────────────────────────────────────────────────────────────────────
// Canonical identity
// ───────────────────────────────────────────────────────────────────────────

// canonicalHash derives an order-independent SHA-256 over the molecular
// graph using iterative neighborhood refinement (Morgan-style).  Each atom
// starts from its local invariant (element, charge, degree, stereo) and
// absorbs sorted neighbor codes (salted with bond order) across as many
// rounds as the graph diameter could require; the final multiset of codes is
// hashed.
func (m *Molecule) canonicalHash() string {
	n := len(m.atoms)
	codes := make([]uint64, n)
	for i, a := range m.atoms {
		h := sha256.New()
		h.Write([]byte(a.Element))
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(int64(a.FormalCharge)+128))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(len(m.adj[i])))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(a.Stereo))
		h.Write(buf[:])
		codes[i] = binary.BigEndian.Uint64(h.Sum(nil))
	}

	next := make([]uint64, n)
	scratch := make([]uint64, 0, 8)
	for round := 0; round < n; round++ {
		changed := false
		for i := range m.atoms {
			scratch = scratch[:0]
			for _, nb := range m.adj[i] {
				order, _ := m.BondBetween(i, nb)
				scratch = append(scratch, codes[nb]^(uint64(order.Order)<<56))
			}
			sort.Slice(scratch, func(a, b int) bool { return scratch[a] < scratch[b] })

			h := sha256.New()
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], codes[i])
			h.Write(buf[:])
			for _, c := range scratch {
				binary.BigEndian.PutUint64(buf[:], c)
				h.Write(buf[:])
			}
			next[i] = binary.BigEndian.Uint64(h.Sum(nil))
			if next[i] != codes[i] {
				changed = true
			}
		}
		codes, next = next, codes
		if !changed {
			break
		}
	}

	final := append([]uint64(nil), codes...)
	sort.Slice(final, func(a, b int) bool { return final[a] < final[b] })

	h := sha256.New()
	var buf [8]byte
	for _, c := range final {
		binary.BigEndian.PutUint64(buf[:], c)
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
