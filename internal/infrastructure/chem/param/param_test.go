package param

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fepforge/fepforge/internal/domain/molecule"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/chem"
)

func testMolecule(t *testing.T) *molecule.Molecule {
	t.Helper()
	m, err := molecule.NewMolecule("ethanol", []molecule.Atom{
		{Element: molecule.C, Position: molecule.Vec3{X: 0}},
		{Element: molecule.C, Position: molecule.Vec3{X: 1.5}},
		{Element: molecule.O, Position: molecule.Vec3{X: 2.2, Y: 1.2}},
	}, []molecule.Bond{
		{A: 0, B: 1, Order: molecule.BondSingle},
		{A: 1, B: 2, Order: molecule.BondSingle},
	})
	require.NoError(t, err)
	return m
}

func testRequest(t *testing.T) Request {
	return Request{
		Molecule:     testMolecule(t),
		ForceField:   chem.FFGAFF2,
		ChargeMethod: chem.ChargeAM1BCC,
	}
}

func TestRequest_Validate(t *testing.T) {
	req := testRequest(t)
	require.NoError(t, req.Validate())

	bad := req
	bad.Molecule = nil
	require.Error(t, bad.Validate())

	bad = req
	bad.ForceField = "opls"
	require.Error(t, bad.Validate())

	bad = req
	bad.ChargeMethod = "resp"
	require.Error(t, bad.Validate())
}

func TestRequest_CacheKey(t *testing.T) {
	req := testRequest(t)
	other := testRequest(t)
	assert.Equal(t, req.CacheKey(), other.CacheKey())

	other.ForceField = chem.FFGAFF
	assert.NotEqual(t, req.CacheKey(), other.CacheKey())
}

func TestParseMol2Atoms(t *testing.T) {
	mol2 := []byte(`@<TRIPOS>MOLECULE
LIG
 3 2 1
SMALL
bcc
@<TRIPOS>ATOM
      1 C1    0.0000  0.0000  0.0000 c3  1 LIG  -0.0971
      2 C2    1.5000  0.0000  0.0000 c3  1 LIG   0.1312
      3 O1    2.2000  1.2000  0.0000 oh  1 LIG  -0.5988
@<TRIPOS>BOND
     1 1 2 1
     2 2 3 1
`)
	types, charges, err := parseMol2Atoms(mol2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c3", "c3", "oh"}, types)
	assert.InDelta(t, -0.5988, charges[2], 1e-9)

	_, _, err = parseMol2Atoms([]byte("@<TRIPOS>MOLECULE\nLIG\n"))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeParamChargeMethodFailure, apperrors.GetCode(err))
}

func TestParseFrcmod(t *testing.T) {
	frcmod := []byte(`Remark line goes here
MASS

BOND
c3-oh  316.70   1.423

ANGLE
c3-c3-oh   67.72    109.43

DIHE
c3-c3-oh-ho   1    0.160       0.000     3.000

NONBON
`)
	table := parseFrcmod(frcmod)

	b, ok := table.bonds[bondTypeKey("oh", "c3")]
	require.True(t, ok)
	assert.InDelta(t, 0.1423, b.EquilibriumLength, 1e-9)
	assert.InDelta(t, 316.70*4.184*100*2, b.ForceConstant, 1e-6)

	a, ok := table.angles[angleTypeKey("c3", "c3", "oh")]
	require.True(t, ok)
	assert.InDelta(t, 109.43*degToRad, a.EquilibriumAngle, 1e-9)
}

func TestLookupLJ(t *testing.T) {
	// Longest prefix wins: "cl" must not fall through to carbon.
	sigma, _ := lookupLJ("cl")
	assert.InDelta(t, 0.347, sigma, 1e-9)
	sigma, _ = lookupLJ("c3")
	assert.InDelta(t, 0.340, sigma, 1e-9)
	// Unknown types get the generic fallback.
	sigma, epsilon := lookupLJ("zz")
	assert.Greater(t, sigma, 0.0)
	assert.Greater(t, epsilon, 0.0)
}

func TestAssemble(t *testing.T) {
	b := NewAmberBackend(AmberConfig{}, nil)
	req := testRequest(t)
	overrides := frcmodTable{
		bonds:  map[[2]string]chem.BondTerm{bondTypeKey("c3", "oh"): {ForceConstant: 111, EquilibriumLength: 0.142}},
		angles: map[[3]string]chem.AngleTerm{},
	}

	ps := b.assemble(req, []string{"c3", "c3", "oh"}, []float64{-0.1, 0.13, -0.6}, overrides)
	require.NoError(t, ps.Validate())

	assert.Equal(t, req.Molecule.Identity(), ps.MoleculeIdentity)
	require.Len(t, ps.Atoms, 3)
	assert.Equal(t, "oh", ps.Atoms[2].AtomType)

	require.Len(t, ps.Bonds, 2)
	// C-C falls back to the generic constant, C-O takes the override.
	assert.Equal(t, fallbackBondK, ps.Bonds[0].ForceConstant)
	assert.Equal(t, 111.0, ps.Bonds[1].ForceConstant)
	assert.InDelta(t, 0.142, ps.Bonds[1].EquilibriumLength, 1e-9)

	// One angle (C-C-O), no proper torsions in a 3-atom chain.
	assert.Len(t, ps.Angles, 1)
	assert.Empty(t, ps.Torsions)
}

func TestClassifyAntechamber(t *testing.T) {
	assert.Equal(t, apperrors.CodeParamUnsupportedGroup,
		classifyAntechamber("Error: Weird atomic valence for atom 7"))
	assert.Equal(t, apperrors.CodeParamChargeMethodFailure,
		classifyAntechamber("Error: cannot run sqm minimization"))
	assert.Equal(t, apperrors.CodeParamUnsupportedGroup,
		classifyAntechamber("something else entirely"))
}

// ───────────────────────────────────────────────────────────────────────────
// Caching decorator
// ───────────────────────────────────────────────────────────────────────────

type fakeBackend struct {
	mu    sync.Mutex
	calls int32
	delay time.Duration
	err   error
}

func (f *fakeBackend) Parameterize(_ context.Context, req Request) (*chem.ParameterSet, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &chem.ParameterSet{
		MoleculeIdentity: req.Molecule.Identity(),
		ForceField:       req.ForceField,
		ChargeMethod:     req.ChargeMethod,
		Atoms:            []chem.AtomParameters{{AtomType: "c3"}},
	}, nil
}

type fakeStore struct {
	mu     sync.Mutex
	data   map[string]*chem.ParameterSet
	getErr error
	sets   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]*chem.ParameterSet)}
}

func (s *fakeStore) GetParameterSet(_ context.Context, key string) (*chem.ParameterSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.data[key], nil
}

func (s *fakeStore) SetParameterSet(_ context.Context, key string, ps *chem.ParameterSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.data[key] = ps
	return nil
}

func TestCached_WriteThrough(t *testing.T) {
	backend := &fakeBackend{}
	store := newFakeStore()
	cached := NewCached(backend, store, nil, nil)
	req := testRequest(t)

	first, err := cached.Parameterize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.calls))
	assert.Equal(t, 1, store.sets)

	// Second call is served from the store without touching the backend.
	second, err := cached.Parameterize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.calls))
	assert.Equal(t, first.MoleculeIdentity, second.MoleculeIdentity)
}

func TestCached_CoalescesConcurrentRequests(t *testing.T) {
	backend := &fakeBackend{delay: 50 * time.Millisecond}
	cached := NewCached(backend, newFakeStore(), nil, nil)
	req := testRequest(t)

	const goroutines = 8
	var wg sync.WaitGroup
	results := make([]*chem.ParameterSet, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ps, err := cached.Parameterize(context.Background(), req)
			assert.NoError(t, err)
			results[i] = ps
		}(i)
	}
	wg.Wait()

	// All callers shared a single backend run.
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.calls))
	for _, ps := range results {
		assert.Same(t, results[0], ps)
	}
}

func TestCached_StoreFailureDegradesToMiss(t *testing.T) {
	backend := &fakeBackend{}
	store := newFakeStore()
	store.getErr = apperrors.New(apperrors.CodeCacheError, "redis down")
	cached := NewCached(backend, store, nil, nil)

	ps, err := cached.Parameterize(context.Background(), testRequest(t))
	require.NoError(t, err)
	require.NotNil(t, ps)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.calls))
}

func TestCached_ErrorsPropagateAndForgetAllowsRetry(t *testing.T) {
	backend := &fakeBackend{err: apperrors.New(apperrors.CodeParamToolUnavailable, "antechamber missing")}
	cached := NewCached(backend, newFakeStore(), nil, nil)
	req := testRequest(t)

	_, err := cached.Parameterize(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))

	// After the tool comes back, a retry succeeds.
	cached.Forget(req)
	backend.err = nil
	_, err = cached.Parameterize(context.Background(), req)
	require.NoError(t, err)
}

func TestErrToolFamily(t *testing.T) {
	assert.True(t, ErrToolFamily(apperrors.New(apperrors.CodeParamUnsupportedGroup, "x")))
	assert.False(t, ErrToolFamily(apperrors.New(apperrors.CodeMapRingBreakRejected, "x")))
	assert.False(t, ErrToolFamily(nil))
}
