package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fepforge/fepforge/internal/application/prep"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// batchManifest is the YAML file handed to `submit` and `run`.  Structure
// paths are resolved relative to the manifest's own directory.  The
// top-level protein is the shared receptor; a pair may override it, and a
// pair without ligand_b is a parameterization-only job.
type batchManifest struct {
	Name    string `yaml:"name"`
	Protein string `yaml:"protein"`
	Pairs   []struct {
		Name    string `yaml:"name"`
		Protein string `yaml:"protein"`
		LigandA string `yaml:"ligand_a"`
		LigandB string `yaml:"ligand_b"`
	} `yaml:"pairs"`
}

// loadManifest parses a batch manifest and reads every referenced structure
// file into the returned request.
func loadManifest(path string) (prep.BatchRequest, error) {
	var req prep.BatchRequest

	raw, err := os.ReadFile(path)
	if err != nil {
		return req, apperrors.Wrapf(err, apperrors.CodeInvalidParam, "read manifest %s", path)
	}
	var m batchManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return req, apperrors.Wrap(err, apperrors.CodeInvalidParam, "parse manifest")
	}
	if len(m.Pairs) == 0 {
		return req, apperrors.New(apperrors.CodeInvalidParam, "manifest has no ligand pairs")
	}

	base := filepath.Dir(path)
	req.Name = m.Name
	if m.Protein != "" {
		if req.Protein, err = readStructure(base, m.Protein); err != nil {
			return prep.BatchRequest{}, err
		}
	}
	for _, p := range m.Pairs {
		if p.LigandA == "" {
			return prep.BatchRequest{}, apperrors.Newf(apperrors.CodeInvalidParam,
				"manifest pair %q is missing a ligand path", p.Name)
		}
		a, err := readStructure(base, p.LigandA)
		if err != nil {
			return prep.BatchRequest{}, err
		}
		pair := prep.LigandPair{Name: p.Name, LigandA: a}
		if p.LigandB != "" {
			if pair.LigandB, err = readStructure(base, p.LigandB); err != nil {
				return prep.BatchRequest{}, err
			}
		}
		if p.Protein != "" {
			if pair.Protein, err = readStructure(base, p.Protein); err != nil {
				return prep.BatchRequest{}, err
			}
		}
		req.Pairs = append(req.Pairs, pair)
	}
	return req, nil
}

func readStructure(base, path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeInvalidParam, "read structure %s", path)
	}
	return data, nil
}
