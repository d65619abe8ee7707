package prep

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/fepforge/fepforge/internal/domain/mapping"
	"github.com/fepforge/fepforge/internal/domain/molecule"
	"github.com/fepforge/fepforge/internal/domain/topology"
	"github.com/fepforge/fepforge/internal/infrastructure/chem/normalize"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/chem"
)

// Bundle file names.  Consumers key on these, so they are part of the
// output contract.
const (
	fileTopology   = "topology.json"
	fileReceptor   = "receptor.pdb"
	fileEndpointA  = "endpoint_a.pdb"
	fileEndpointB  = "endpoint_b.pdb"
	fileSchedule   = "lambda_schedule.json"
	fileMapping    = "mapping.json"
	fileManifest   = "manifest.json"
	fileLigand     = "ligand.pdb"
	fileParameters = "parameters.json"
)

// manifest summarises a bundle for consumers that do not want to parse the
// full topology.  Pair-only fields are omitted from single-ligand bundles.
type manifest struct {
	Job              string    `json:"job"`
	Protein          string    `json:"protein,omitempty"`
	ProteinIdentity  string    `json:"protein_identity,omitempty"`
	LigandA          string    `json:"ligand_a"`
	LigandB          string    `json:"ligand_b,omitempty"`
	IdentityA        string    `json:"identity_a"`
	IdentityB        string    `json:"identity_b,omitempty"`
	ForceField       string    `json:"force_field"`
	ChargeMethod     string    `json:"charge_method"`
	HybridAtoms      int       `json:"hybrid_atoms,omitempty"`
	CoreAtoms        int       `json:"core_atoms,omitempty"`
	PerturbationFrac float64   `json:"perturbation_fraction,omitempty"`
	LambdaWindows    int       `json:"lambda_windows,omitempty"`
	Files            []string  `json:"files"`
	CreatedAt        time.Time `json:"created_at"`
}

type mappingDoc struct {
	Pairs        []mapping.Pair `json:"pairs"`
	Disappearing []int          `json:"disappearing"`
	Appearing    []int          `json:"appearing"`
}

// buildBundle lays out the flat files a simulation engine needs to run the
// perturbation: the hybrid topology, the receptor, both endpoint
// structures, the λ schedule, the atom mapping, and a manifest.
func buildBundle(
	jobName string,
	receptor *molecule.Molecule,
	molA, molB *molecule.Molecule,
	amap *mapping.AtomMapping,
	hybrid *topology.HybridTopology,
	schedule *topology.LambdaSchedule,
) (map[string][]byte, error) {
	topo, err := json.MarshalIndent(hybrid, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSerialization, "encode hybrid topology")
	}
	sched, err := json.MarshalIndent(schedule.Windows(), "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSerialization, "encode lambda schedule")
	}
	mdoc, err := json.MarshalIndent(mappingDoc{
		Pairs:        amap.Pairs(),
		Disappearing: amap.DisappearingAtoms(molA),
		Appearing:    amap.AppearingAtoms(molB),
	}, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSerialization, "encode mapping")
	}

	files := map[string][]byte{
		fileTopology:  topo,
		fileEndpointA: normalize.WritePDB(molA, "LGA"),
		fileEndpointB: normalize.WritePDB(molB, "LGB"),
		fileSchedule:  sched,
		fileMapping:   mdoc,
	}

	man := manifest{
		Job:              jobName,
		LigandA:          molA.Name(),
		LigandB:          molB.Name(),
		IdentityA:        molA.Identity(),
		IdentityB:        molB.Identity(),
		ForceField:       string(hybrid.ForceField),
		ChargeMethod:     string(hybrid.ChargeMethod),
		HybridAtoms:      len(hybrid.Atoms),
		CoreAtoms:        amap.Len(),
		PerturbationFrac: amap.PerturbationFraction(molA, molB),
		LambdaWindows:    schedule.NumWindows(),
		CreatedAt:        time.Now().UTC(),
	}
	if receptor != nil {
		files[fileReceptor] = normalize.WritePDB(receptor, "REC")
		man.Protein = receptor.Name()
		man.ProteinIdentity = receptor.Identity()
	}
	return sealBundle(files, man)
}

// buildParamBundle lays out the files of a parameterization-only job: the
// normalized ligand and its force-field parameter set.
func buildParamBundle(jobName string, mol *molecule.Molecule, ps *chem.ParameterSet) (map[string][]byte, error) {
	params, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSerialization, "encode parameter set")
	}
	files := map[string][]byte{
		fileLigand:     normalize.WritePDB(mol, "LIG"),
		fileParameters: params,
	}
	man := manifest{
		Job:          jobName,
		LigandA:      mol.Name(),
		IdentityA:    mol.Identity(),
		ForceField:   string(ps.ForceField),
		ChargeMethod: string(ps.ChargeMethod),
		CreatedAt:    time.Now().UTC(),
	}
	return sealBundle(files, man)
}

// sealBundle records the file listing and appends the manifest.
func sealBundle(files map[string][]byte, man manifest) (map[string][]byte, error) {
	for name := range files {
		man.Files = append(man.Files, name)
	}
	sort.Strings(man.Files)

	raw, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSerialization, "encode manifest")
	}
	files[fileManifest] = raw
	return files, nil
}
