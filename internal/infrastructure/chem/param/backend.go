// Package param assigns force-field parameters to normalized ligands.  The
// heavy lifting is delegated to the AMBER small-molecule toolchain; a
// caching decorator keyed on canonical molecule identity makes repeated
// parameterization of the same ligand free and coalesces concurrent requests.
package param

import (
	"context"
	"fmt"

	"github.com/fepforge/fepforge/internal/domain/molecule"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/chem"
)

// Request describes one parameterization task.
type Request struct {
	Molecule     *molecule.Molecule
	ForceField   chem.ForceField
	ChargeMethod chem.ChargeMethod
}

// Validate checks the request is complete.
func (r Request) Validate() error {
	if r.Molecule == nil {
		return apperrors.New(apperrors.CodeInvalidParam, "parameterization requires a molecule")
	}
	if !r.ForceField.IsValid() {
		return apperrors.Newf(apperrors.CodeInvalidParam, "unsupported force field %q", r.ForceField)
	}
	if !r.ChargeMethod.IsValid() {
		return apperrors.Newf(apperrors.CodeInvalidParam, "unsupported charge method %q", r.ChargeMethod)
	}
	return nil
}

// CacheKey is the cache identity of the request: same molecule, force field
// and charge method always produce the same parameter set.
func (r Request) CacheKey() string {
	return fmt.Sprintf("%s:%s:%s", r.Molecule.Identity(), r.ForceField, r.ChargeMethod)
}

// Backend produces a parameter set for a request.  Implementations must
// return AppErrors from the PARAM_ family so the orchestrator can classify
// retryability.
type Backend interface {
	Parameterize(ctx context.Context, req Request) (*chem.ParameterSet, error)
}
