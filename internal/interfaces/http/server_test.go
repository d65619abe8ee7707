package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fepforge/fepforge/internal/application/prep"
	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/domain/job"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/prometheus"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/common"
)

type fakeService struct {
	batch     *job.Batch
	status    *prep.BatchStatus
	job       *job.PipelineJob
	audit     []job.AuditRecord
	err       error
	lastSub   prep.BatchRequest
	submitCt  int
	cancelled []common.ID
}

func (f *fakeService) SubmitBatch(_ context.Context, req prep.BatchRequest) (*job.Batch, error) {
	f.submitCt++
	f.lastSub = req
	return f.batch, f.err
}

func (f *fakeService) CancelBatch(_ context.Context, id common.ID) error {
	f.cancelled = append(f.cancelled, id)
	return f.err
}

func (f *fakeService) BatchStatus(context.Context, common.ID) (*prep.BatchStatus, error) {
	return f.status, f.err
}

func (f *fakeService) Job(context.Context, common.ID) (*job.PipelineJob, error) {
	return f.job, f.err
}

func (f *fakeService) JobAudit(context.Context, common.ID) ([]job.AuditRecord, error) {
	return f.audit, f.err
}

type fakeChecker struct {
	name string
	err  error
}

func (f fakeChecker) Name() string                { return f.name }
func (f fakeChecker) Check(context.Context) error { return f.err }

func newTestServer(svc PipelineService, checkers ...HealthChecker) *Server {
	return NewServer(config.ServerConfig{Port: 8080, Mode: "test"}, svc, prometheus.NewMetrics(), checkers, nil)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitBatch(t *testing.T) {
	b := job.NewBatch("series")
	svc := &fakeService{batch: b}
	s := newTestServer(svc)

	rec := doRequest(s, http.MethodPost, "/api/v1/batches", `{
		"name": "series",
		"protein": "ATOM...",
		"pairs": [{"name": "l1~l2", "ligand_a": "HETATM...", "ligand_b": "HETATM..."}]
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, svc.submitCt)
	assert.Equal(t, "series", svc.lastSub.Name)
	assert.Equal(t, []byte("ATOM..."), svc.lastSub.Protein)
	require.Len(t, svc.lastSub.Pairs, 1)
	assert.Equal(t, []byte("HETATM..."), svc.lastSub.Pairs[0].LigandA)

	var resp common.APIResponse[*job.Batch]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, b.ID, resp.Data.ID)
	assert.NotEmpty(t, resp.RequestID)
}

func TestSubmitBatch_BadPayload(t *testing.T) {
	s := newTestServer(&fakeService{})

	rec := doRequest(s, http.MethodPost, "/api/v1/batches", `{"name": "x", "pairs": []}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp common.APIResponse[struct{}]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "COMMON_007", resp.Error.Code)
}

func TestSubmitBatch_SingleLigandAllowed(t *testing.T) {
	svc := &fakeService{batch: job.NewBatch("params-only")}
	s := newTestServer(svc)

	rec := doRequest(s, http.MethodPost, "/api/v1/batches", `{
		"name": "params-only",
		"pairs": [{"name": "l1", "ligand_a": "HETATM..."}]
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.lastSub.Pairs, 1)
	assert.Empty(t, svc.lastSub.Pairs[0].LigandB)
}

func TestCancelBatch(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc)

	rec := doRequest(s, http.MethodPost, "/api/v1/batches/b-1/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.cancelled, 1)
	assert.Equal(t, common.ID("b-1"), svc.cancelled[0])
}

func TestCancelBatch_AlreadyDrained(t *testing.T) {
	svc := &fakeService{err: apperrors.Newf(apperrors.CodeBatchAlreadyDrained,
		"batch b-1 has no jobs left to cancel")}
	s := newTestServer(svc)

	rec := doRequest(s, http.MethodPost, "/api/v1/batches/b-1/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp common.APIResponse[struct{}]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "JOB_007", resp.Error.Code)
}

func TestBatchStatus_NotFound(t *testing.T) {
	svc := &fakeService{err: apperrors.Newf(apperrors.CodeBatchNotFound, "batch nope not found")}
	s := newTestServer(svc)

	rec := doRequest(s, http.MethodGet, "/api/v1/batches/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp common.APIResponse[struct{}]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "JOB_002", resp.Error.Code)
}

func TestGetJob(t *testing.T) {
	j := job.New("batch-1", "l1~l2", 3)
	s := newTestServer(&fakeService{job: j})

	rec := doRequest(s, http.MethodGet, "/api/v1/jobs/"+string(j.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp common.APIResponse[*job.PipelineJob]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, job.StatusPending, resp.Data.Status)
}

func TestJobAudit(t *testing.T) {
	s := newTestServer(&fakeService{audit: []job.AuditRecord{
		{JobID: "j", From: job.StatusPending, To: job.StatusNormalizing},
	}})

	rec := doRequest(s, http.MethodGet, "/api/v1/jobs/j/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp common.APIResponse[[]job.AuditRecord]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, job.StatusNormalizing, resp.Data[0].To)
}

func TestHealthProbes(t *testing.T) {
	s := newTestServer(&fakeService{},
		fakeChecker{name: "postgres"},
		fakeChecker{name: "redis", err: apperrors.New(apperrors.CodeCacheError, "down")})

	rec := doRequest(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
	assert.Contains(t, rec.Body.String(), `"postgres"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeService{})
	// Generate one observed request first.
	doRequest(s, http.MethodGet, "/healthz", "")

	rec := doRequest(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fepforge_http_requests_total")
}

func TestRequestIDPropagation(t *testing.T) {
	s := newTestServer(&fakeService{job: job.New("b", "p", 0)})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
	assert.Contains(t, rec.Body.String(), `"request_id":"req-42"`)
}

func TestBatchJobs(t *testing.T) {
	b := job.NewBatch("series")
	j := job.New(b.ID, "l1~l2", 3)
	svc := &fakeService{status: &prep.BatchStatus{Batch: b, Jobs: []*job.PipelineJob{j}}}
	s := newTestServer(svc)

	rec := doRequest(s, http.MethodGet, "/api/v1/batches/"+string(b.ID)+"/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp common.APIResponse[[]*job.PipelineJob]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, j.ID, resp.Data[0].ID)
	assert.Equal(t, job.StatusPending, resp.Data[0].Status)
}
