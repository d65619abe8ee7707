package mapping

import (
	"sort"

	"github.com/fepforge/fepforge/internal/domain/molecule"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// maxSearchSteps bounds the backtracking search.  Ligand-sized graphs finish
// far below it; pathological inputs degrade to best-found-so-far instead of
// hanging a worker.
const maxSearchSteps = 2_000_000

// Builder computes the maximum common connected substructure between two
// ligands and derives an AtomMapping from it.  The search is exhaustive
// backtracking with deterministic candidate ordering: the same pair of
// molecules always yields the same mapping.
type Builder struct {
	opts Options
	log  logging.Logger
}

// NewBuilder constructs a Builder with the given options.
func NewBuilder(opts Options, log logging.Logger) *Builder {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Builder{opts: opts, log: log.Named("mapbuilder")}
}

// Build maps molA onto molB.  Failure modes:
//
//   - CodeMapNoCommonSubstructure: no connected common substructure of at
//     least MinCoreSize pairs exists.
//   - CodeMapRingBreakRejected: every maximum candidate cuts a ring and
//     AllowRingBreak is off.
//   - CodeMapPerturbationTooLarge: the best mapping leaves more than the
//     budgeted fraction of atoms appearing or disappearing.
func (b *Builder) Build(molA, molB *molecule.Molecule) (*AtomMapping, error) {
	s := &search{
		opts: b.opts,
		molA: molA,
		molB: molB,
		aMap: make([]int, molA.NumAtoms()),
		bMap: make([]int, molB.NumAtoms()),
	}
	for i := range s.aMap {
		s.aMap[i] = -1
	}
	for i := range s.bMap {
		s.bMap[i] = -1
	}

	s.run()

	if len(s.best) == 0 {
		if s.ringRejectedSize >= b.opts.MinCoreSize {
			return nil, apperrors.Newf(apperrors.CodeMapRingBreakRejected,
				"every maximum common substructure between %s and %s cuts a ring",
				molA.Name(), molB.Name())
		}
		return nil, apperrors.Newf(apperrors.CodeMapNoCommonSubstructure,
			"no common substructure of at least %d atoms between %s and %s",
			b.opts.MinCoreSize, molA.Name(), molB.Name())
	}

	winner := b.pickWinner(s.best, molA, molB)
	winner = b.pruneLeafSubstitutions(winner, molA, molB)

	m, err := NewAtomMapping(winner)
	if err != nil {
		return nil, err
	}

	if frac := m.PerturbationFraction(molA, molB); frac > b.opts.MaxPerturbationFraction {
		return nil, apperrors.Newf(apperrors.CodeMapPerturbationTooLarge,
			"perturbation covers %.0f%% of the atom union, budget is %.0f%%",
			frac*100, b.opts.MaxPerturbationFraction*100)
	}

	if err := m.Validate(molA, molB, b.opts); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "map builder produced invalid mapping")
	}

	b.log.Debug("mapping built",
		logging.String("mol_a", molA.Name()),
		logging.String("mol_b", molB.Name()),
		logging.Int("pairs", m.Len()),
	)
	return m, nil
}

// pickWinner applies the configured tie-breakers to the equally sized
// maximum candidates.
func (b *Builder) pickWinner(cands [][]Pair, molA, molB *molecule.Molecule) []Pair {
	if len(cands) == 1 {
		return cands[0]
	}

	remaining := cands
	for _, tb := range b.opts.TieBreakers {
		if len(remaining) == 1 {
			break
		}
		switch tb {
		case TieBreakPreservation:
			remaining = keepMax(remaining, func(p []Pair) float64 {
				return float64(preservationScore(p, molA, molB))
			})
		case TieBreakRMSD:
			remaining = keepMax(remaining, func(p []Pair) float64 {
				return -mappedRMSD(p, molA, molB)
			})
		case TieBreakLexicographic:
			sort.Slice(remaining, func(i, j int) bool {
				return lessPairs(remaining[i], remaining[j])
			})
			remaining = remaining[:1]
		}
	}
	// TieBreakLexicographic may be absent from the configured chain; fall
	// back to it so the result stays deterministic.
	if len(remaining) > 1 {
		sort.Slice(remaining, func(i, j int) bool {
			return lessPairs(remaining[i], remaining[j])
		})
	}
	return remaining[0]
}

// pruneLeafSubstitutions demotes terminal hydrogen-to-heavy pairs from the
// core.  Mapping a terminal H onto a terminal F carries no downstream
// connectivity, and keeping the pair would put a hydrogen/heavy mutation
// inside the core; one appearing plus one disappearing atom is the cleaner
// dual topology.  Heavy-to-heavy swaps like Cl onto Br stay mapped.
func (b *Builder) pruneLeafSubstitutions(pairs []Pair, molA, molB *molecule.Molecule) []Pair {
	out := pairs[:0:0]
	for _, p := range pairs {
		ea := molA.Atom(p.A).Element
		eb := molB.Atom(p.B).Element
		if ea.IsHeavy() != eb.IsHeavy() && molA.Degree(p.A) <= 1 && molB.Degree(p.B) <= 1 {
			continue
		}
		out = append(out, p)
	}
	return out
}

func keepMax(cands [][]Pair, score func([]Pair) float64) [][]Pair {
	best := score(cands[0])
	for _, c := range cands[1:] {
		if s := score(c); s > best {
			best = s
		}
	}
	var out [][]Pair
	for _, c := range cands {
		if score(c) == best {
			out = append(out, c)
		}
	}
	return out
}

// preservationScore counts pairs that keep ring membership and stereo parity
// unchanged across the morph.
func preservationScore(pairs []Pair, molA, molB *molecule.Molecule) int {
	score := 0
	for _, p := range pairs {
		if molA.IsRingAtom(p.A) == molB.IsRingAtom(p.B) {
			score++
		}
		if molA.Atom(p.A).Stereo == molB.Atom(p.B).Stereo {
			score++
		}
	}
	return score
}

func mappedRMSD(pairs []Pair, molA, molB *molecule.Molecule) float64 {
	pa := make([]molecule.Vec3, len(pairs))
	pb := make([]molecule.Vec3, len(pairs))
	for i, p := range pairs {
		pa[i] = molA.Atom(p.A).Position
		pb[i] = molB.Atom(p.B).Position
	}
	return molecule.OptimalRMSD(pa, pb)
}

func lessPairs(a, b []Pair) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i].A != b[i].A {
			return a[i].A < b[i].A
		}
		if a[i].B != b[i].B {
			return a[i].B < b[i].B
		}
	}
	return len(a) < len(b)
}

// ───────────────────────────────────────────────────────────────────────────
// Backtracking search
// ───────────────────────────────────────────────────────────────────────────

// search holds the mutable state of one Build run.  Connected common
// subgraphs are enumerated by growing a mapped frontier from every seed
// pair; at each expansion the smallest unmapped frontier atom on the A side
// is branched over all compatible B partners plus the branch that excludes
// it, which enumerates each maximal candidate exactly once per seed.
type search struct {
	opts Options
	molA *molecule.Molecule
	molB *molecule.Molecule

	aMap []int // A index -> B index or -1
	bMap []int // B index -> A index or -1
	cur  []Pair

	minA  int
	steps int

	best             [][]Pair
	bestSize         int
	ringRejectedSize int
}

// maxBestCandidates caps the stored tie-break set.  Beyond it the
// lexicographically earliest candidates (found first) are kept.
const maxBestCandidates = 64

func (s *search) run() {
	for i := 0; i < s.molA.NumAtoms(); i++ {
		for j := 0; j < s.molB.NumAtoms(); j++ {
			if !s.opts.compatible(s.molA.Atom(i), s.molB.Atom(j)) {
				continue
			}
			s.minA = i
			s.place(i, j)
			s.extend(map[int]bool{})
			s.unplace(i, j)
		}
	}
}

func (s *search) place(a, b int) {
	s.aMap[a] = b
	s.bMap[b] = a
	s.cur = append(s.cur, Pair{A: a, B: b})
}

func (s *search) unplace(a, b int) {
	s.aMap[a] = -1
	s.bMap[b] = -1
	s.cur = s.cur[:len(s.cur)-1]
}

// extend grows the current mapping.  excluded marks A atoms barred from this
// subtree so that "without atom a" branches do not re-add it.
func (s *search) extend(excluded map[int]bool) {
	s.steps++
	if s.steps > maxSearchSteps {
		return
	}

	a, partners := s.nextFrontier(excluded)
	if a < 0 {
		s.record()
		return
	}

	for _, b := range partners {
		s.place(a, b)
		s.extend(excluded)
		s.unplace(a, b)
	}

	excluded[a] = true
	s.extend(excluded)
	delete(excluded, a)
}

// nextFrontier returns the smallest unmapped, unexcluded A atom adjacent to
// the current core together with its compatible B partners, or (-1, nil)
// when the mapping is maximal for this subtree.
func (s *search) nextFrontier(excluded map[int]bool) (int, []int) {
	for _, p := range s.cur {
		for _, a := range s.molA.Neighbors(p.A) {
			if s.aMap[a] >= 0 || excluded[a] || a < s.minA {
				continue
			}
			if partners := s.partnersFor(a); len(partners) > 0 {
				return a, partners
			}
		}
	}
	// Atoms with no compatible partner are skipped, not excluded: the
	// growing core can hand them partners on a later expansion.
	return -1, nil
}

// partnersFor lists B atoms that can consistently pair with frontier atom a,
// in ascending index order.
func (s *search) partnersFor(a int) []int {
	var partners []int
	seen := map[int]bool{}
	for _, an := range s.molA.Neighbors(a) {
		bn := s.aMap[an]
		if bn < 0 {
			continue
		}
		for _, b := range s.molB.Neighbors(bn) {
			if s.bMap[b] >= 0 || seen[b] {
				continue
			}
			seen[b] = true
			if s.opts.compatible(s.molA.Atom(a), s.molB.Atom(b)) && s.edgeConsistent(a, b) {
				partners = append(partners, b)
			}
		}
	}
	sort.Ints(partners)
	return partners
}

// edgeConsistent checks that adding the pair (a, b) keeps the core's bond
// sets in exact correspondence: every bond from a into the mapped core must
// exist with the same order on the B side, and vice versa.
func (s *search) edgeConsistent(a, b int) bool {
	for _, an := range s.molA.Neighbors(a) {
		bn := s.aMap[an]
		if bn < 0 {
			continue
		}
		ba, _ := s.molA.BondBetween(a, an)
		bb, ok := s.molB.BondBetween(b, bn)
		if !ok || ba.Order != bb.Order {
			return false
		}
	}
	for _, bn := range s.molB.Neighbors(b) {
		an := s.bMap[bn]
		if an < 0 {
			continue
		}
		if _, ok := s.molA.BondBetween(a, an); !ok {
			return false
		}
	}
	return true
}

// record scores a maximal candidate.  Ring-cutting candidates are remembered
// only to attribute the eventual failure.
func (s *search) record() {
	n := len(s.cur)
	if n < s.opts.MinCoreSize || n < s.bestSize {
		return
	}

	if !s.opts.AllowRingBreak && s.cutsRing() {
		if n > s.ringRejectedSize {
			s.ringRejectedSize = n
		}
		return
	}

	cand := append([]Pair(nil), s.cur...)
	sort.Slice(cand, func(i, j int) bool { return cand[i].A < cand[j].A })

	if n > s.bestSize {
		s.bestSize = n
		s.best = s.best[:0]
	}
	if len(s.best) < maxBestCandidates && !s.containsCandidate(cand) {
		s.best = append(s.best, cand)
	}
}

func (s *search) containsCandidate(cand []Pair) bool {
	for _, existing := range s.best {
		if equalPairs(existing, cand) {
			return true
		}
	}
	return false
}

func equalPairs(a, b []Pair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// cutsRing reports whether the current core boundary severs a ring bond on
// either side: a mapped atom with a ring bond to an unmapped atom means the
// morph would open that ring.
func (s *search) cutsRing() bool {
	for _, p := range s.cur {
		for _, an := range s.molA.Neighbors(p.A) {
			if s.aMap[an] < 0 && s.molA.IsRingBond(p.A, an) {
				return true
			}
		}
		for _, bn := range s.molB.Neighbors(p.B) {
			if s.bMap[bn] < 0 && s.molB.IsRingBond(p.B, bn) {
				return true
			}
		}
	}
	return false
}
