package normalize

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/fepforge/fepforge/internal/domain/molecule"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// pdbAtom is one ATOM/HETATM record in source order.
type pdbAtom struct {
	Serial    int
	Name      string
	AltLoc    byte
	ResName   string
	ChainID   byte
	ResSeq    int
	ICode     byte
	X, Y, Z   float64
	Occupancy float64
	Element   molecule.Element
	Charge    int
	Het       bool
}

// residueKey identifies one residue instance within a model.
type residueKey struct {
	ChainID byte
	ResSeq  int
	ICode   byte
}

func (a pdbAtom) residue() residueKey {
	return residueKey{ChainID: a.ChainID, ResSeq: a.ResSeq, ICode: a.ICode}
}

// pdbFile is the parsed record set of one structure file.  Only the first
// MODEL of a multi-model file is read.
type pdbFile struct {
	Atoms   []pdbAtom
	Conects map[int][]int // serial -> bonded serials
}

// parsePDB reads the fixed-column PDB format.  Short lines are tolerated to
// the extent the mandatory columns are present; anything less fails with
// CodeStructUnparseable.
func parsePDB(raw []byte) (*pdbFile, error) {
	f := &pdbFile{Conects: make(map[int][]int)}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	inFirstModel := true
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if len(line) < 6 {
			continue
		}
		record := strings.TrimSpace(line[:6])
		switch record {
		case "MODEL":
			// Records before the first MODEL belong to it.
		case "ENDMDL":
			inFirstModel = false
		case "ATOM", "HETATM":
			if !inFirstModel {
				continue
			}
			a, err := parseAtomLine(line)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeStructUnparseable,
					fmt.Sprintf("line %d is not a valid coordinate record", lineNo))
			}
			f.Atoms = append(f.Atoms, a)
		case "CONECT":
			serials, err := parseConectLine(line)
			if err != nil || len(serials) < 2 {
				continue // malformed CONECT records are ignored, bonds fall back to distance
			}
			from := serials[0]
			f.Conects[from] = append(f.Conects[from], serials[1:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStructUnparseable, "failed to read structure")
	}
	if len(f.Atoms) == 0 {
		return nil, apperrors.New(apperrors.CodeStructUnparseable, "structure contains no coordinate records")
	}
	return f, nil
}

func parseAtomLine(line string) (pdbAtom, error) {
	if len(line) < 54 {
		return pdbAtom{}, fmt.Errorf("record too short (%d columns)", len(line))
	}
	// Pad so optional trailing columns can be sliced uniformly.
	if len(line) < 80 {
		line = line + strings.Repeat(" ", 80-len(line))
	}

	a := pdbAtom{
		Name:    strings.TrimSpace(line[12:16]),
		AltLoc:  line[16],
		ResName: strings.TrimSpace(line[17:20]),
		ChainID: line[21],
		ICode:   line[26],
		Het:     strings.HasPrefix(line, "HETATM"),
	}

	var err error
	if a.Serial, err = atoiTrim(line[6:11]); err != nil {
		return a, fmt.Errorf("bad serial: %w", err)
	}
	if a.ResSeq, err = atoiTrim(line[22:26]); err != nil {
		return a, fmt.Errorf("bad residue number: %w", err)
	}
	if a.X, err = parseFloatTrim(line[30:38]); err != nil {
		return a, fmt.Errorf("bad x coordinate: %w", err)
	}
	if a.Y, err = parseFloatTrim(line[38:46]); err != nil {
		return a, fmt.Errorf("bad y coordinate: %w", err)
	}
	if a.Z, err = parseFloatTrim(line[46:54]); err != nil {
		return a, fmt.Errorf("bad z coordinate: %w", err)
	}
	if occ, err := parseFloatTrim(line[54:60]); err == nil {
		a.Occupancy = occ
	} else {
		a.Occupancy = 1
	}

	a.Element = parseElement(line[76:78], a.Name)
	if a.Element == "" {
		return a, fmt.Errorf("cannot determine element of atom %q", a.Name)
	}
	a.Charge = parseCharge(line[78:80])
	return a, nil
}

func atoiTrim(s string) (int, error)           { return strconv.Atoi(strings.TrimSpace(s)) }
func parseFloatTrim(s string) (float64, error) { return strconv.ParseFloat(strings.TrimSpace(s), 64) }

// parseElement reads the element column, falling back to deduction from the
// atom name the way most tools do for legacy files.
func parseElement(col, name string) molecule.Element {
	s := strings.TrimSpace(col)
	if s != "" {
		return normalizeElementSymbol(s)
	}
	// Atom names start with the element, optionally prefixed by a digit
	// ("1HB1").  Two-letter elements are only assumed when unambiguous.
	name = strings.TrimLeft(name, "0123456789")
	if name == "" {
		return ""
	}
	if len(name) >= 2 {
		two := normalizeElementSymbol(name[:2])
		switch two {
		case molecule.Cl, molecule.Br, molecule.Fe, molecule.Zn, molecule.Mg, molecule.Na:
			return two
		}
	}
	return normalizeElementSymbol(name[:1])
}

func normalizeElementSymbol(s string) molecule.Element {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToUpper(s)
	if len(s) == 1 {
		return molecule.Element(s)
	}
	return molecule.Element(s[:1] + strings.ToLower(s[1:]))
}

// parseCharge reads the "2+"/"1-" style formal charge column.
func parseCharge(col string) int {
	s := strings.TrimSpace(col)
	if len(s) != 2 {
		return 0
	}
	n := int(s[0] - '0')
	if n < 0 || n > 9 {
		return 0
	}
	switch s[1] {
	case '+':
		return n
	case '-':
		return -n
	}
	return 0
}

func parseConectLine(line string) ([]int, error) {
	fields := strings.Fields(line[6:])
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// WritePDB renders a molecule as HETATM records with CONECT connectivity,
// the format the simulation bundle carries for each endpoint structure.
func WritePDB(mol *molecule.Molecule, resName string) []byte {
	var sb strings.Builder
	if resName == "" {
		resName = "LIG"
	}
	for i := 0; i < mol.NumAtoms(); i++ {
		a := mol.Atom(i)
		name := a.Name
		if name == "" {
			name = fmt.Sprintf("%s%d", strings.ToUpper(string(a.Element)), i+1)
		}
		if len(name) > 4 {
			name = name[:4]
		}
		charge := "  "
		if a.FormalCharge > 0 {
			charge = fmt.Sprintf("%d+", a.FormalCharge)
		} else if a.FormalCharge < 0 {
			charge = fmt.Sprintf("%d-", -a.FormalCharge)
		}
		fmt.Fprintf(&sb, "HETATM%5d %-4s %-3s A%4d    %8.3f%8.3f%8.3f%6.2f%6.2f          %2s%s\n",
			i+1, name, resName, 1,
			a.Position.X, a.Position.Y, a.Position.Z,
			1.00, 0.00,
			strings.ToUpper(string(a.Element)), charge)
	}
	for i := 0; i < mol.NumAtoms(); i++ {
		nbs := mol.Neighbors(i)
		if len(nbs) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "CONECT%5d", i+1)
		for _, nb := range nbs {
			fmt.Fprintf(&sb, "%5d", nb+1)
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("END\n")
	return []byte(sb.String())
}
