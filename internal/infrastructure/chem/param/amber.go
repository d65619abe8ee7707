package param

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fepforge/fepforge/internal/infrastructure/chem/normalize"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/chem"
)

// AmberConfig configures the external toolchain invocation.
type AmberConfig struct {
	// AntechamberBin and Parmchk2Bin name the executables; bare names are
	// resolved against PATH.
	AntechamberBin string
	Parmchk2Bin    string
	// WorkDir is the parent for per-run scratch directories; empty means
	// the system temp dir.
	WorkDir string
	// Timeout bounds one full toolchain run.
	Timeout time.Duration
}

func (c *AmberConfig) applyDefaults() {
	if c.AntechamberBin == "" {
		c.AntechamberBin = "antechamber"
	}
	if c.Parmchk2Bin == "" {
		c.Parmchk2Bin = "parmchk2"
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Minute
	}
}

// AmberBackend runs antechamber (atom typing + partial charges) followed by
// parmchk2 (missing bonded parameters) and assembles a ParameterSet from the
// outputs plus built-in force-field defaults.
type AmberBackend struct {
	cfg AmberConfig
	log logging.Logger
}

// NewAmberBackend constructs the backend.
func NewAmberBackend(cfg AmberConfig, log logging.Logger) *AmberBackend {
	cfg.applyDefaults()
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &AmberBackend{cfg: cfg, log: log.Named("amber")}
}

// Parameterize implements Backend.
func (b *AmberBackend) Parameterize(ctx context.Context, req Request) (*chem.ParameterSet, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	dir, err := os.MkdirTemp(b.cfg.WorkDir, "fepforge-param-*")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "cannot create scratch directory")
	}
	defer os.RemoveAll(dir)

	inPDB := filepath.Join(dir, "ligand.pdb")
	outMol2 := filepath.Join(dir, "ligand.mol2")
	outFrcmod := filepath.Join(dir, "ligand.frcmod")

	if err := os.WriteFile(inPDB, normalize.WritePDB(req.Molecule, "LIG"), 0o644); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "cannot write ligand input")
	}

	started := time.Now()
	if err := b.runAntechamber(ctx, dir, inPDB, outMol2, req); err != nil {
		return nil, err
	}
	if err := b.runParmchk2(ctx, dir, outMol2, outFrcmod, req.ForceField); err != nil {
		return nil, err
	}

	mol2, err := os.ReadFile(outMol2)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeParamChargeMethodFailure,
			"antechamber produced no mol2 output")
	}
	types, charges, err := parseMol2Atoms(mol2)
	if err != nil {
		return nil, err
	}
	if len(types) != req.Molecule.NumAtoms() {
		return nil, apperrors.Newf(apperrors.CodeParamChargeMethodFailure,
			"antechamber typed %d atoms, molecule has %d", len(types), req.Molecule.NumAtoms())
	}

	var overrides frcmodTable
	if raw, err := os.ReadFile(outFrcmod); err == nil {
		overrides = parseFrcmod(raw)
	}

	ps := b.assemble(req, types, charges, overrides)
	if err := ps.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "assembled parameter set is inconsistent")
	}

	b.log.Info("ligand parameterized",
		logging.String("identity", req.Molecule.Identity()),
		logging.String("force_field", string(req.ForceField)),
		logging.Duration("took", time.Since(started)),
	)
	return ps, nil
}

func (b *AmberBackend) runAntechamber(ctx context.Context, dir, in, out string, req Request) error {
	args := []string{
		"-i", in, "-fi", "pdb",
		"-o", out, "-fo", "mol2",
		"-c", string(req.ChargeMethod),
		"-at", string(req.ForceField),
		"-nc", strconv.Itoa(req.Molecule.NetCharge()),
		"-s", "2", "-pf", "y",
	}
	return b.run(ctx, dir, b.cfg.AntechamberBin, args, classifyAntechamber)
}

func (b *AmberBackend) runParmchk2(ctx context.Context, dir, in, out string, ff chem.ForceField) error {
	args := []string{"-i", in, "-f", "mol2", "-o", out, "-s", string(ff)}
	return b.run(ctx, dir, b.cfg.Parmchk2Bin, args, classifyParmchk2)
}

// run executes one tool and classifies failures into the PARAM_ error
// family.
func (b *AmberBackend) run(ctx context.Context, dir, bin string, args []string, classify func(output string) apperrors.ErrorCode) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if err == nil {
		return nil
	}

	output := buf.String()
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return apperrors.Wrap(err, apperrors.CodeParamToolUnavailable,
			fmt.Sprintf("%s is not installed or not on PATH", bin))
	case ctx.Err() != nil:
		return apperrors.Wrap(ctx.Err(), apperrors.CodeTimeout,
			fmt.Sprintf("%s exceeded the stage timeout", bin))
	default:
		code := classify(output)
		return apperrors.Wrap(err, code, fmt.Sprintf("%s failed", bin)).
			WithDetail(tailOf(output, 500))
	}
}

// classifyAntechamber maps tool output to a permanent failure code.  Valence
// and typing complaints mean the chemistry is outside the force field;
// anything mentioning the charge derivation (sqm, bcc) is a charge-method
// failure.
func classifyAntechamber(output string) apperrors.ErrorCode {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "valence"),
		strings.Contains(lower, "unrecognized atom"),
		strings.Contains(lower, "atom type"):
		return apperrors.CodeParamUnsupportedGroup
	case strings.Contains(lower, "sqm"),
		strings.Contains(lower, "charge"),
		strings.Contains(lower, "bcc"):
		return apperrors.CodeParamChargeMethodFailure
	default:
		return apperrors.CodeParamUnsupportedGroup
	}
}

func classifyParmchk2(string) apperrors.ErrorCode {
	return apperrors.CodeParamUnsupportedGroup
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}

// ───────────────────────────────────────────────────────────────────────────
// Output parsing
// ───────────────────────────────────────────────────────────────────────────

// parseMol2Atoms extracts atom types and partial charges from the
// @<TRIPOS>ATOM section, in atom order.
func parseMol2Atoms(raw []byte) (types []string, charges []float64, err error) {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	inAtoms := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "@<TRIPOS>") {
			inAtoms = line == "@<TRIPOS>ATOM"
			continue
		}
		if !inAtoms || line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			return nil, nil, apperrors.Newf(apperrors.CodeParamChargeMethodFailure,
				"malformed mol2 atom record: %q", line)
		}
		q, err := strconv.ParseFloat(fields[8], 64)
		if err != nil {
			return nil, nil, apperrors.Wrap(err, apperrors.CodeParamChargeMethodFailure,
				"malformed mol2 charge column")
		}
		types = append(types, fields[5])
		charges = append(charges, q)
	}
	if len(types) == 0 {
		return nil, nil, apperrors.New(apperrors.CodeParamChargeMethodFailure,
			"mol2 output has no atom section")
	}
	return types, charges, nil
}

// frcmodTable holds parmchk2 overrides for parameters absent from the base
// force field, keyed by sorted atom-type tuples.
type frcmodTable struct {
	bonds  map[[2]string]chem.BondTerm
	angles map[[3]string]chem.AngleTerm
}

// parseFrcmod reads the BOND and ANGLE sections.  Lengths arrive in
// Angstrom and force constants in kcal/mol; both are converted to the
// kJ/nm unit system used throughout.
func parseFrcmod(raw []byte) frcmodTable {
	t := frcmodTable{
		bonds:  make(map[[2]string]chem.BondTerm),
		angles: make(map[[3]string]chem.AngleTerm),
	}
	section := ""
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case "BOND", "ANGLE", "DIHE", "IMPROPER", "NONBON", "MASS":
			section = trimmed
			continue
		case "":
			section = ""
			continue
		}
		switch section {
		case "BOND":
			// "ca-ca  478.40  1.387"
			if len(line) < 7 {
				continue
			}
			typesPart := strings.ReplaceAll(line[:7], " ", "")
			parts := strings.SplitN(typesPart, "-", 2)
			fields := strings.Fields(line[7:])
			if len(parts) != 2 || len(fields) < 2 {
				continue
			}
			k, err1 := strconv.ParseFloat(fields[0], 64)
			r, err2 := strconv.ParseFloat(fields[1], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			t.bonds[bondTypeKey(parts[0], parts[1])] = chem.BondTerm{
				ForceConstant:     k * 4.184 * 100 * 2, // kcal/mol/A^2 -> kJ/mol/nm^2, with the factor-2 convention
				EquilibriumLength: r / 10,
			}
		case "ANGLE":
			// "ca-ca-ca  67.2  119.97"
			if len(line) < 11 {
				continue
			}
			typesPart := strings.ReplaceAll(line[:11], " ", "")
			parts := strings.SplitN(typesPart, "-", 3)
			fields := strings.Fields(line[11:])
			if len(parts) != 3 || len(fields) < 2 {
				continue
			}
			k, err1 := strconv.ParseFloat(fields[0], 64)
			deg, err2 := strconv.ParseFloat(fields[1], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			t.angles[angleTypeKey(parts[0], parts[1], parts[2])] = chem.AngleTerm{
				ForceConstant:    k * 4.184 * 2,
				EquilibriumAngle: deg * degToRad,
			}
		}
	}
	return t
}

const degToRad = 3.14159265358979323846 / 180

func bondTypeKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func angleTypeKey(a, b, c string) [3]string {
	if a > c {
		a, c = c, a
	}
	return [3]string{a, b, c}
}

// ───────────────────────────────────────────────────────────────────────────
// Parameter assembly
// ───────────────────────────────────────────────────────────────────────────

// ljParams is the Lennard-Jones table for GAFF atom-type prefixes, sigma in
// nm and epsilon in kJ/mol.  Lookup takes the longest matching prefix so
// "cl" wins over "c" for chlorine types.
var ljParams = map[string][2]float64{
	"c":  {0.340, 0.360},
	"n":  {0.325, 0.711},
	"o":  {0.296, 0.879},
	"s":  {0.356, 1.046},
	"p":  {0.374, 0.837},
	"h":  {0.247, 0.066},
	"f":  {0.312, 0.255},
	"cl": {0.347, 1.108},
	"br": {0.365, 1.339},
	"i":  {0.400, 1.674},
}

func lookupLJ(atomType string) (sigma, epsilon float64) {
	lower := strings.ToLower(atomType)
	bestLen := 0
	lj := [2]float64{0.34, 0.36}
	for prefix, v := range ljParams {
		if strings.HasPrefix(lower, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			lj = v
		}
	}
	return lj[0], lj[1]
}

// Generic bonded-term fallbacks applied when parmchk2 supplies no override;
// the base force-field values for common bonds cluster near these.
const (
	fallbackBondK      = 250000.0 // kJ/mol/nm^2
	fallbackAngleK     = 400.0    // kJ/mol/rad^2
	fallbackAngleEq    = 1.9199   // 110 degrees
	fallbackTorsionK   = 4.6      // kJ/mol
	fallbackTorsionPer = 3
)

// assemble builds the ParameterSet from the typed atoms and the molecular
// graph: every bond, angle (connected triple), and torsion (connected
// quadruple) gets a term, preferring parmchk2 overrides.
func (b *AmberBackend) assemble(req Request, types []string, charges []float64, overrides frcmodTable) *chem.ParameterSet {
	mol := req.Molecule
	ps := &chem.ParameterSet{
		MoleculeIdentity: mol.Identity(),
		ForceField:       req.ForceField,
		ChargeMethod:     req.ChargeMethod,
	}

	for i := range types {
		sigma, epsilon := lookupLJ(types[i])
		ps.Atoms = append(ps.Atoms, chem.AtomParameters{
			AtomType:      types[i],
			PartialCharge: charges[i],
			Sigma:         sigma,
			Epsilon:       epsilon,
		})
	}

	for _, bd := range mol.Bonds() {
		term := chem.BondTerm{
			I: bd.A, J: bd.B,
			ForceConstant:     fallbackBondK,
			EquilibriumLength: mol.Atom(bd.A).Position.Distance(mol.Atom(bd.B).Position) / 10,
		}
		if o, ok := overrides.bonds[bondTypeKey(types[bd.A], types[bd.B])]; ok {
			term.ForceConstant = o.ForceConstant
			term.EquilibriumLength = o.EquilibriumLength
		}
		ps.Bonds = append(ps.Bonds, term)
	}

	for j := 0; j < mol.NumAtoms(); j++ {
		nbs := mol.Neighbors(j)
		for x := 0; x < len(nbs); x++ {
			for y := x + 1; y < len(nbs); y++ {
				term := chem.AngleTerm{
					I: nbs[x], J: j, K: nbs[y],
					ForceConstant:    fallbackAngleK,
					EquilibriumAngle: fallbackAngleEq,
				}
				if o, ok := overrides.angles[angleTypeKey(types[nbs[x]], types[j], types[nbs[y]])]; ok {
					term.ForceConstant = o.ForceConstant
					term.EquilibriumAngle = o.EquilibriumAngle
				}
				ps.Angles = append(ps.Angles, term)
			}
		}
	}

	for _, bd := range mol.Bonds() {
		for _, i := range mol.Neighbors(bd.A) {
			if i == bd.B {
				continue
			}
			for _, l := range mol.Neighbors(bd.B) {
				if l == bd.A || l == i {
					continue
				}
				ps.Torsions = append(ps.Torsions, chem.TorsionTerm{
					I: i, J: bd.A, K: bd.B, L: l,
					Barrier:     fallbackTorsionK,
					Phase:       0,
					Periodicity: fallbackTorsionPer,
				})
			}
		}
	}

	return ps
}

var _ Backend = (*AmberBackend)(nil)
