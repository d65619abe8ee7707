package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fepforge/fepforge/internal/application/prep"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/common"
)

// pairSpec is the wire form of one preparation unit.  LigandB is absent for
// parameterization-only jobs; Protein overrides the batch-level receptor.
type pairSpec struct {
	Name    string `json:"name" binding:"required"`
	Protein string `json:"protein"`
	LigandA string `json:"ligand_a" binding:"required"`
	LigandB string `json:"ligand_b"`
}

type submitBatchRequest struct {
	Name    string     `json:"name" binding:"required"`
	Protein string     `json:"protein"`
	Pairs   []pairSpec `json:"pairs" binding:"required,min=1"`
}

func (s *Server) submitBatch(c *gin.Context) {
	var req submitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.CodeValidation, "invalid batch submission"))
		return
	}

	breq := prep.BatchRequest{Name: req.Name, Protein: []byte(req.Protein)}
	for _, p := range req.Pairs {
		breq.Pairs = append(breq.Pairs, prep.LigandPair{
			Name:    p.Name,
			Protein: []byte(p.Protein),
			LigandA: []byte(p.LigandA),
			LigandB: []byte(p.LigandB),
		})
	}

	b, err := s.svc.SubmitBatch(c.Request.Context(), breq)
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusAccepted, b)
}

func (s *Server) batchStatus(c *gin.Context) {
	status, err := s.svc.BatchStatus(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, status)
}

func (s *Server) batchJobs(c *gin.Context) {
	status, err := s.svc.BatchStatus(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, status.Jobs)
}

func (s *Server) cancelBatch(c *gin.Context) {
	id := common.ID(c.Param("id"))
	if err := s.svc.CancelBatch(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusAccepted, gin.H{"batch_id": id, "cancelled": true})
}

func (s *Server) getJob(c *gin.Context) {
	j, err := s.svc.Job(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, j)
}

func (s *Server) jobAudit(c *gin.Context) {
	recs, err := s.svc.JobAudit(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, recs)
}

func (s *Server) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readiness(c *gin.Context) {
	type componentCheck struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Error   string `json:"error,omitempty"`
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := make(map[string]componentCheck, len(s.checkers))
	healthy := true
	for _, checker := range s.checkers {
		started := time.Now()
		err := checker.Check(ctx)
		check := componentCheck{Status: "up", Latency: time.Since(started).String()}
		if err != nil {
			healthy = false
			check.Status = "down"
			check.Error = err.Error()
		}
		components[checker.Name()] = check
	}

	code := http.StatusOK
	status := "ready"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	c.JSON(code, gin.H{"status": status, "components": components})
}

func writeData[T any](c *gin.Context, code int, data T) {
	c.JSON(code, common.APIResponse[T]{
		Success:   true,
		Data:      data,
		RequestID: c.GetString(requestIDKey),
		Timestamp: time.Now().UTC(),
	})
}

// writeError maps an application error to its HTTP status and the standard
// envelope.
func writeError(c *gin.Context, err error) {
	code := apperrors.GetCode(err)
	c.JSON(apperrors.HTTPStatus(code), common.APIResponse[struct{}]{
		Success: false,
		Error: &common.ErrorDetail{
			Code:    code.String(),
			Message: err.Error(),
		},
		RequestID: c.GetString(requestIDKey),
		Timestamp: time.Now().UTC(),
	})
}
