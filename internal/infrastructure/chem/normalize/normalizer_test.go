package normalize

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fepforge/fepforge/internal/domain/molecule"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// rec renders one fixed-column coordinate record.
func rec(record string, serial int, name string, altLoc byte, resName string, chain byte, resSeq int, x, y, z, occ float64, element string) string {
	return fmt.Sprintf("%-6s%5d %-4s%c%-3s %c%4d    %8.3f%8.3f%8.3f%6.2f%6.2f          %2s",
		record, serial, name, altLoc, resName, chain, resSeq, x, y, z, occ, 0.0, element)
}

func pdb(lines ...string) []byte {
	return []byte(strings.Join(append(lines, "END"), "\n"))
}

func defaultNormalizer() *Normalizer {
	return New(Options{PH: 7.0}, nil)
}

func TestNormalizeLigand_WithConect(t *testing.T) {
	raw := pdb(
		rec("HETATM", 1, "C1", ' ', "LIG", 'A', 1, 0, 0, 0, 1, "C"),
		rec("HETATM", 2, "C2", ' ', "LIG", 'A', 1, 1.5, 0, 0, 1, "C"),
		rec("HETATM", 3, "O1", ' ', "LIG", 'A', 1, 2.2, 1.2, 0, 1, "O"),
		"CONECT    1    2",
		"CONECT    2    3",
	)
	m, err := defaultNormalizer().NormalizeLigand(context.Background(), "lig1", raw)
	require.NoError(t, err)
	assert.Equal(t, 3, m.NumAtoms())
	assert.Equal(t, 2, m.NumBonds())
	assert.True(t, m.Connected())
	assert.Equal(t, molecule.O, m.Atom(2).Element)
	assert.NotEmpty(t, m.Identity())
}

func TestNormalizeLigand_DistancePerception(t *testing.T) {
	// No CONECT records: connectivity must come from covalent radii.
	raw := pdb(
		rec("HETATM", 1, "C1", ' ', "LIG", 'A', 1, 0, 0, 0, 1, "C"),
		rec("HETATM", 2, "C2", ' ', "LIG", 'A', 1, 1.54, 0, 0, 1, "C"),
		rec("HETATM", 3, "O1", ' ', "LIG", 'A', 1, 2.3, 1.2, 0, 1, "O"),
		rec("HETATM", 4, "H1", ' ', "LIG", 'A', 1, -1.0, 0.4, 0, 1, "H"),
	)
	m, err := defaultNormalizer().NormalizeLigand(context.Background(), "lig", raw)
	require.NoError(t, err)
	assert.Equal(t, 4, m.NumAtoms())
	assert.Equal(t, 3, m.NumBonds())
	// The hydrogen bonds to its single nearest heavy atom.
	_, ok := m.BondBetween(0, 3)
	assert.True(t, ok)
}

func TestNormalizeLigand_AltLocHighestOccupancy(t *testing.T) {
	raw := pdb(
		rec("HETATM", 1, "C1", 'A', "LIG", 'A', 1, 0, 0, 0, 0.4, "C"),
		rec("HETATM", 2, "C1", 'B', "LIG", 'A', 1, 9, 9, 9, 0.6, "C"),
	)
	m, err := defaultNormalizer().NormalizeLigand(context.Background(), "lig", raw)
	require.NoError(t, err)
	require.Equal(t, 1, m.NumAtoms())
	// The B location won on occupancy.
	assert.InDelta(t, 9.0, m.Atom(0).Position.X, 1e-9)
}

func TestNormalizeLigand_StripsSolvent(t *testing.T) {
	raw := pdb(
		rec("HETATM", 1, "C1", ' ', "LIG", 'A', 1, 0, 0, 0, 1, "C"),
		rec("HETATM", 2, "O", ' ', "HOH", 'A', 2, 8, 8, 8, 1, "O"),
		rec("HETATM", 3, "NA", ' ', "NA", 'A', 3, 12, 12, 12, 1, "Na"),
	)
	m, err := defaultNormalizer().NormalizeLigand(context.Background(), "lig", raw)
	require.NoError(t, err)
	assert.Equal(t, 1, m.NumAtoms())

	onlySolvent := pdb(rec("HETATM", 1, "O", ' ', "HOH", 'A', 1, 0, 0, 0, 1, "O"))
	_, err = defaultNormalizer().NormalizeLigand(context.Background(), "lig", onlySolvent)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStructUnparseable, apperrors.GetCode(err))
}

func TestNormalizeLigand_KeepsLargestFragment(t *testing.T) {
	raw := pdb(
		rec("HETATM", 1, "C1", ' ', "LIG", 'A', 1, 0, 0, 0, 1, "C"),
		rec("HETATM", 2, "C2", ' ', "LIG", 'A', 1, 1.5, 0, 0, 1, "C"),
		// A stray fragment far away.
		rec("HETATM", 3, "C3", ' ', "LIG", 'A', 1, 50, 50, 50, 1, "C"),
	)
	m, err := defaultNormalizer().NormalizeLigand(context.Background(), "lig", raw)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumAtoms())
	assert.True(t, m.Connected())
}

func TestNormalizeLigand_Unparseable(t *testing.T) {
	_, err := defaultNormalizer().NormalizeLigand(context.Background(), "lig", []byte("REMARK nothing here\nEND\n"))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStructUnparseable, apperrors.GetCode(err))

	garbled := []byte("ATOM       x bad line\n")
	_, err = defaultNormalizer().NormalizeLigand(context.Background(), "lig", garbled)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStructUnparseable, apperrors.GetCode(err))
}

// dipeptide returns GLY-ALA coordinate records with chemically sensible
// geometry.
func dipeptide() []string {
	return []string{
		rec("ATOM", 1, "N", ' ', "GLY", 'A', 1, 0, 0, 0, 1, "N"),
		rec("ATOM", 2, "CA", ' ', "GLY", 'A', 1, 1.45, 0, 0, 1, "C"),
		rec("ATOM", 3, "C", ' ', "GLY", 'A', 1, 2.0, 1.4, 0, 1, "C"),
		rec("ATOM", 4, "O", ' ', "GLY", 'A', 1, 1.4, 2.4, 0, 1, "O"),
		rec("ATOM", 5, "N", ' ', "ALA", 'A', 2, 3.3, 1.6, 0, 1, "N"),
		rec("ATOM", 6, "CA", ' ', "ALA", 'A', 2, 4.2, 2.7, 0, 1, "C"),
		rec("ATOM", 7, "C", ' ', "ALA", 'A', 2, 5.6, 2.5, 0, 1, "C"),
		rec("ATOM", 8, "O", ' ', "ALA", 'A', 2, 6.3, 3.5, 0, 1, "O"),
		rec("ATOM", 9, "CB", ' ', "ALA", 'A', 2, 4.0, 4.2, 0, 1, "C"),
	}
}

func TestNormalizeProtein_Dipeptide(t *testing.T) {
	m, err := defaultNormalizer().NormalizeProtein(context.Background(), "gly-ala", pdb(dipeptide()...))
	require.NoError(t, err)
	assert.Equal(t, 9, m.NumAtoms())
	assert.True(t, m.Connected())
	// The peptide bond crosses the residue boundary.
	_, ok := m.BondBetween(2, 4)
	assert.True(t, ok)
}

func TestNormalizeProtein_MissingTemplate(t *testing.T) {
	raw := pdb(rec("ATOM", 1, "C1", ' ', "XYZ", 'A', 1, 0, 0, 0, 1, "C"))
	_, err := defaultNormalizer().NormalizeProtein(context.Background(), "p", raw)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStructMissingTemplate, apperrors.GetCode(err))
}

func TestNormalizeProtein_RebuildsMissingSideChainAtom(t *testing.T) {
	lines := dipeptide()
	// Drop the alanine CB; the normalizer must grow it back from CA.
	lines = lines[:len(lines)-1]
	m, err := defaultNormalizer().NormalizeProtein(context.Background(), "p", pdb(lines...))
	require.NoError(t, err)
	require.Equal(t, 9, m.NumAtoms())

	var ca, cb int = -1, -1
	for i := 0; i < m.NumAtoms(); i++ {
		switch m.Atom(i).Name {
		case "CA":
			if i > 4 { // alanine CA, not glycine's
				ca = i
			}
		case "CB":
			cb = i
		}
	}
	require.GreaterOrEqual(t, ca, 0)
	require.GreaterOrEqual(t, cb, 0)
	assert.Equal(t, molecule.C, m.Atom(cb).Element)

	// Rebuilt at a single C-C bond length, bonded to its parent.
	d := m.Atom(ca).Position.Distance(m.Atom(cb).Position)
	assert.InDelta(t, 1.52, d, 0.1)
	_, bonded := m.BondBetween(ca, cb)
	assert.True(t, bonded)
	assert.True(t, m.Connected())
}

func TestNormalizeProtein_RebuildsBranchedSideChain(t *testing.T) {
	// An aspartate stripped of both carboxylate oxygens: the rebuild must
	// place OD1 and OD2 at distinct positions off CG.
	lines := []string{
		rec("ATOM", 1, "N", ' ', "ASP", 'A', 1, 0, 0, 0, 1, "N"),
		rec("ATOM", 2, "CA", ' ', "ASP", 'A', 1, 1.45, 0, 0, 1, "C"),
		rec("ATOM", 3, "C", ' ', "ASP", 'A', 1, 2.0, 1.4, 0, 1, "C"),
		rec("ATOM", 4, "O", ' ', "ASP", 'A', 1, 1.4, 2.4, 0, 1, "O"),
		rec("ATOM", 5, "CB", ' ', "ASP", 'A', 1, 2.2, -1.2, 0, 1, "C"),
		rec("ATOM", 6, "CG", ' ', "ASP", 'A', 1, 3.6, -1.3, 0, 1, "C"),
	}
	m, err := defaultNormalizer().NormalizeProtein(context.Background(), "p", pdb(lines...))
	require.NoError(t, err)
	require.Equal(t, 8, m.NumAtoms())

	idx := make(map[string]int)
	for i := 0; i < m.NumAtoms(); i++ {
		idx[m.Atom(i).Name] = i
	}
	od1, od2 := m.Atom(idx["OD1"]), m.Atom(idx["OD2"])
	assert.Equal(t, molecule.O, od1.Element)
	assert.Greater(t, od1.Position.Distance(od2.Position), 0.5)
	_, bonded := m.BondBetween(idx["CG"], idx["OD1"])
	assert.True(t, bonded)
	_, bonded = m.BondBetween(idx["CG"], idx["OD2"])
	assert.True(t, bonded)
	// The carboxylate charge lands on the rebuilt OD2 at pH 7.
	assert.Equal(t, -1, od2.FormalCharge)
}

func TestNormalizeProtein_MissingBackboneIsFatal(t *testing.T) {
	lines := dipeptide()
	// Drop the alanine CA; backbone anchors cannot be rebuilt.
	lines = append(lines[:5], lines[6:]...)
	_, err := defaultNormalizer().NormalizeProtein(context.Background(), "p", pdb(lines...))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStructMissingTemplate, apperrors.GetCode(err))
	assert.Contains(t, err.Error(), "CA")
}

// histidine returns a full HIS residue with rough side-chain geometry.
func histidine() []string {
	return []string{
		rec("ATOM", 1, "N", ' ', "HIS", 'A', 1, 0, 0, 0, 1, "N"),
		rec("ATOM", 2, "CA", ' ', "HIS", 'A', 1, 1.45, 0, 0, 1, "C"),
		rec("ATOM", 3, "C", ' ', "HIS", 'A', 1, 2.0, 1.4, 0, 1, "C"),
		rec("ATOM", 4, "O", ' ', "HIS", 'A', 1, 1.4, 2.4, 0, 1, "O"),
		rec("ATOM", 5, "CB", ' ', "HIS", 'A', 1, 2.2, -1.2, 0, 1, "C"),
		rec("ATOM", 6, "CG", ' ', "HIS", 'A', 1, 3.6, -1.3, 0, 1, "C"),
		rec("ATOM", 7, "ND1", ' ', "HIS", 'A', 1, 4.5, -0.4, 0, 1, "N"),
		rec("ATOM", 8, "CD2", ' ', "HIS", 'A', 1, 4.3, -2.4, 0, 1, "C"),
		rec("ATOM", 9, "CE1", ' ', "HIS", 'A', 1, 5.8, -0.9, 0, 1, "C"),
		rec("ATOM", 10, "NE2", ' ', "HIS", 'A', 1, 5.7, -2.2, 0, 1, "N"),
	}
}

func TestNormalizeProtein_AmbiguousProtonation(t *testing.T) {
	// pH 6.2 sits within the ambiguity window of the histidine pKa (6.0).
	n := New(Options{PH: 6.2}, nil)
	_, err := n.NormalizeProtein(context.Background(), "p", pdb(histidine()...))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStructAmbiguousProtonation, apperrors.GetCode(err))
	assert.Contains(t, err.Error(), "HIS")

	// Forcing defaults resolves it: below the pKa the imidazole is
	// protonated and carries +1.
	n = New(Options{PH: 5.8, ForceDefaultProtonation: true}, nil)
	m, err := n.NormalizeProtein(context.Background(), "p", pdb(histidine()...))
	require.NoError(t, err)
	var nd1 molecule.Atom
	for i := 0; i < m.NumAtoms(); i++ {
		if m.Atom(i).Name == "ND1" {
			nd1 = m.Atom(i)
		}
	}
	assert.Equal(t, 1, nd1.FormalCharge)
	assert.Equal(t, 1, m.NetCharge())
}

// cystinePair returns two complete CYS residues whose SG atoms sit at
// disulfide distance.
func cystinePair() []string {
	return []string{
		rec("ATOM", 1, "N", ' ', "CYS", 'A', 1, 0, 0, 0, 1, "N"),
		rec("ATOM", 2, "CA", ' ', "CYS", 'A', 1, 1.45, 0, 0, 1, "C"),
		rec("ATOM", 3, "C", ' ', "CYS", 'A', 1, 2.0, 1.4, 0, 1, "C"),
		rec("ATOM", 4, "O", ' ', "CYS", 'A', 1, 1.4, 2.4, 0, 1, "O"),
		rec("ATOM", 5, "CB", ' ', "CYS", 'A', 1, 2.3, -1.2, 0, 1, "C"),
		rec("ATOM", 6, "SG", ' ', "CYS", 'A', 1, 3.2, -2.5, 0, 1, "S"),
		rec("ATOM", 7, "N", ' ', "CYS", 'B', 1, 0, -7.0, 0, 1, "N"),
		rec("ATOM", 8, "CA", ' ', "CYS", 'B', 1, 1.45, -7.0, 0, 1, "C"),
		rec("ATOM", 9, "C", ' ', "CYS", 'B', 1, 2.0, -8.4, 0, 1, "C"),
		rec("ATOM", 10, "O", ' ', "CYS", 'B', 1, 1.4, -9.4, 0, 1, "O"),
		rec("ATOM", 11, "CB", ' ', "CYS", 'B', 1, 2.3, -5.8, 0, 1, "C"),
		rec("ATOM", 12, "SG", ' ', "CYS", 'B', 1, 3.2, -4.53, 0, 1, "S"),
	}
}

func TestNormalizeProtein_DisulfideDetection(t *testing.T) {
	// pH 9.5 would deprotonate free cysteines, but a bridged cystine is
	// not titratable: the bond is added and the thiolate charge cleared.
	n := New(Options{PH: 9.5}, nil)
	m, err := n.NormalizeProtein(context.Background(), "p", pdb(cystinePair()...))
	require.NoError(t, err)

	var sgIdx []int
	for i := 0; i < m.NumAtoms(); i++ {
		if m.Atom(i).Name == "SG" {
			sgIdx = append(sgIdx, i)
		}
	}
	require.Len(t, sgIdx, 2)
	_, bonded := m.BondBetween(sgIdx[0], sgIdx[1])
	assert.True(t, bonded)
	assert.Equal(t, 0, m.Atom(sgIdx[0]).FormalCharge)
	assert.Equal(t, 0, m.Atom(sgIdx[1]).FormalCharge)
	assert.True(t, m.Connected())
}

func TestWritePDB_RoundTrip(t *testing.T) {
	raw := pdb(
		rec("HETATM", 1, "C1", ' ', "LIG", 'A', 1, 0, 0, 0, 1, "C"),
		rec("HETATM", 2, "C2", ' ', "LIG", 'A', 1, 1.5, 0, 0, 1, "C"),
		rec("HETATM", 3, "O1", ' ', "LIG", 'A', 1, 2.2, 1.2, 0, 1, "O"),
		"CONECT    1    2",
		"CONECT    2    3",
	)
	n := defaultNormalizer()
	m, err := n.NormalizeLigand(context.Background(), "lig", raw)
	require.NoError(t, err)

	out := WritePDB(m, "LIG")
	m2, err := n.NormalizeLigand(context.Background(), "lig", out)
	require.NoError(t, err)
	assert.Equal(t, m.Identity(), m2.Identity())
}

func TestNormalize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := defaultNormalizer().NormalizeLigand(ctx, "lig", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeJobCancelled, apperrors.GetCode(err))
}
