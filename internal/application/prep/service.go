package prep

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/domain/job"
	"github.com/fepforge/fepforge/internal/domain/mapping"
	"github.com/fepforge/fepforge/internal/domain/molecule"
	"github.com/fepforge/fepforge/internal/domain/topology"
	"github.com/fepforge/fepforge/internal/infrastructure/chem/param"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/chem"
	"github.com/fepforge/fepforge/pkg/types/common"
)

// LigandPair is one preparation unit: a name, the receptor structure, and
// the raw structure text of both ligands.  A pair without LigandB is a
// parameterization-only job; it needs no receptor.
type LigandPair struct {
	Name    string
	Protein []byte
	LigandA []byte
	LigandB []byte
}

// BatchRequest is a group of pairs submitted together.  Protein is the
// shared receptor applied to every pair that does not carry its own.
type BatchRequest struct {
	Name    string
	Protein []byte
	Pairs   []LigandPair
}

// BatchStatus is the poll view of a batch.
type BatchStatus struct {
	Batch  *job.Batch          `json:"batch"`
	Jobs   []*job.PipelineJob  `json:"jobs"`
	Counts common.StatusCounts `json:"counts"`
}

// Drained reports whether every job reached a terminal state.
func (s BatchStatus) Drained() bool { return s.Counts.Drained() }

type task struct {
	job  *job.PipelineJob
	pair LigandPair
}

// Service is the pipeline orchestrator.
type Service struct {
	workerCfg config.WorkerConfig
	chemCfg   config.ChemConfig

	repo       Repository
	audit      AuditSink
	bundles    BundleSink
	normalizer Normalizer
	params     Parameterizer
	mapper     Mapper
	merger     TopologyMerger
	metrics    Metrics
	log        logging.Logger

	tasks chan task
	wg    sync.WaitGroup

	// failedLigands memoizes permanent parameterization failures by
	// canonical molecule identity so sibling jobs sharing the ligand are
	// skipped instead of re-failing.
	failedLigands sync.Map // string → apperrors.ErrorCode

	// cancelledBatches marks batches whose remaining work must not start.
	cancelledBatches sync.Map // common.ID → struct{}

	queued  sync.WaitGroup
	rngMu   sync.Mutex
	rng     *rand.Rand
	started bool
	mu      sync.Mutex
}

// NewService wires the orchestrator.  audit, bundles and metrics may be nil
// in tests; repo and the four stages are required.
func NewService(
	workerCfg config.WorkerConfig,
	chemCfg config.ChemConfig,
	repo Repository,
	audit AuditSink,
	bundles BundleSink,
	normalizer Normalizer,
	params Parameterizer,
	mapper Mapper,
	merger TopologyMerger,
	metrics Metrics,
	log logging.Logger,
) *Service {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	if workerCfg.Concurrency < 1 {
		workerCfg.Concurrency = 4
	}
	if workerCfg.QueueDepth < 1 {
		workerCfg.QueueDepth = 256
	}
	if workerCfg.RetryBackoff <= 0 {
		workerCfg.RetryBackoff = time.Second
	}
	if workerCfg.MaxBackoff <= 0 {
		workerCfg.MaxBackoff = time.Minute
	}
	return &Service{
		workerCfg:  workerCfg,
		chemCfg:    chemCfg,
		repo:       repo,
		audit:      audit,
		bundles:    bundles,
		normalizer: normalizer,
		params:     params,
		mapper:     mapper,
		merger:     merger,
		metrics:    metrics,
		log:        log.Named("prep"),
		tasks:      make(chan task, workerCfg.QueueDepth),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// in-flight job has finished.
func (s *Service) Run(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.log.Info("worker pool starting",
		logging.Int("concurrency", s.workerCfg.Concurrency),
		logging.Int("queue_depth", s.workerCfg.QueueDepth))

	for i := 0; i < s.workerCfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.wg.Wait()
	s.drainQueue()
	s.log.Info("worker pool drained")
}

// drainQueue fails every job still waiting in the queue after the workers
// have exited.  In-flight jobs run their stage to its own timeout; unstarted
// ones must not stay pending forever.
func (s *Service) drainQueue() {
	for {
		select {
		case t := <-s.tasks:
			j := t.job
			from := j.Status
			cause := apperrors.New(apperrors.CodeJobCancelled,
				"pipeline shut down before the job started")
			if err := j.Fail(cause); err != nil {
				s.log.Error("cannot cancel queued job",
					logging.String("job", string(j.ID)), logging.Err(err))
			} else {
				s.recordTransition(context.Background(), j, from)
				s.metrics.JobFinished(string(job.StatusFailed), j.FailureCode.String())
			}
			s.queued.Done()
		default:
			return
		}
	}
}

func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	log := s.log.With(logging.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.tasks:
			s.metrics.SetQueueDepth(len(s.tasks))
			s.metrics.AddActiveWorkers(1)
			s.processJob(ctx, t, log)
			s.metrics.AddActiveWorkers(-1)
			s.queued.Done()
		}
	}
}

// SubmitBatch validates, persists, and enqueues a batch.  The returned batch
// carries the job IDs clients poll with.
func (s *Service) SubmitBatch(ctx context.Context, req BatchRequest) (*job.Batch, error) {
	if len(req.Pairs) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "batch has no ligand pairs")
	}
	for i, p := range req.Pairs {
		if p.Name == "" {
			return nil, apperrors.Newf(apperrors.CodeInvalidParam, "pair %d has no name", i)
		}
		if len(p.LigandA) == 0 {
			return nil, apperrors.Newf(apperrors.CodeInvalidParam,
				"pair %q is missing ligand structure data", p.Name)
		}
		if len(p.Protein) == 0 {
			req.Pairs[i].Protein = req.Protein
		}
		// A perturbation edge needs the receptor it is computed against;
		// a lone ligand is parameterized without one.
		if len(p.LigandB) > 0 && len(req.Pairs[i].Protein) == 0 {
			return nil, apperrors.Newf(apperrors.CodeInvalidParam,
				"pair %q has no receptor structure", p.Name)
		}
	}

	b := job.NewBatch(req.Name)
	jobs := make([]*job.PipelineJob, 0, len(req.Pairs))
	for _, p := range req.Pairs {
		j := job.New(b.ID, p.Name, s.workerCfg.MaxRetries)
		jobs = append(jobs, j)
		b.JobIDs = append(b.JobIDs, j.ID)
	}
	if err := s.repo.SaveBatch(ctx, b, jobs); err != nil {
		return nil, err
	}
	s.metrics.BatchAccepted(len(jobs))
	s.log.Info("batch accepted",
		logging.String("batch", string(b.ID)),
		logging.String("name", b.Name),
		logging.Int("jobs", len(jobs)))

	for i, j := range jobs {
		s.queued.Add(1)
		select {
		case s.tasks <- task{job: j, pair: req.Pairs[i]}:
			s.metrics.SetQueueDepth(len(s.tasks))
		case <-ctx.Done():
			s.queued.Done()
			return b, apperrors.Wrap(ctx.Err(), apperrors.CodeJobCancelled,
				"submission interrupted before all jobs were queued")
		}
	}
	return b, nil
}

// WaitIdle blocks until every queued job has been processed.  Test hook.
func (s *Service) WaitIdle() { s.queued.Wait() }

// BatchStatus returns the batch, its jobs, and derived counters.
func (s *Service) BatchStatus(ctx context.Context, batchID common.ID) (*BatchStatus, error) {
	b, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.repo.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &BatchStatus{Batch: b, Jobs: jobs, Counts: job.CountStatuses(jobs)}, nil
}

// CancelBatch stops one batch without touching its siblings: jobs that have
// not started are failed as cancelled immediately, in-flight jobs run their
// current stage to completion or its own timeout and then fail the same way.
func (s *Service) CancelBatch(ctx context.Context, batchID common.ID) error {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return err
	}
	jobs, err := s.repo.ListByBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if job.CountStatuses(jobs).Drained() {
		return apperrors.Newf(apperrors.CodeBatchAlreadyDrained,
			"batch %s has no jobs left to cancel", batchID)
	}

	s.cancelledBatches.Store(batchID, struct{}{})
	cancelled := 0
	for _, j := range jobs {
		if j.Status != job.StatusPending {
			continue
		}
		from := j.Status
		if err := j.Fail(apperrors.New(apperrors.CodeJobCancelled, "batch cancelled")); err != nil {
			s.log.Error("cannot cancel pending job",
				logging.String("job", string(j.ID)), logging.Err(err))
			continue
		}
		s.recordTransition(ctx, j, from)
		s.metrics.JobFinished(string(job.StatusFailed), j.FailureCode.String())
		cancelled++
	}
	s.log.Info("batch cancelled",
		logging.String("batch", string(batchID)),
		logging.Int("pending_failed", cancelled))
	return nil
}

// Job returns one job by ID.
func (s *Service) Job(ctx context.Context, id common.ID) (*job.PipelineJob, error) {
	return s.repo.GetJob(ctx, id)
}

// JobAudit returns a job's transition history.
func (s *Service) JobAudit(ctx context.Context, id common.ID) ([]job.AuditRecord, error) {
	return s.repo.ListAudit(ctx, id)
}

// ─────────────────────────────────────────────────────────────────────────────
// Job execution
// ─────────────────────────────────────────────────────────────────────────────

// pipelineState accumulates the artifacts a job produces on its way through
// the stages.
type pipelineState struct {
	receptor   *molecule.Molecule
	molA, molB *molecule.Molecule
	psA, psB   *chem.ParameterSet
	amap       *mapping.AtomMapping
	schedule   *topology.LambdaSchedule
	hybrid     *topology.HybridTopology
	files      map[string][]byte
	location   string
}

func (s *Service) processJob(ctx context.Context, t task, log logging.Logger) {
	j := t.job
	if _, ok := s.cancelledBatches.Load(j.BatchID); ok && j.Status == job.StatusPending {
		// CancelBatch already terminalized the stored row.
		return
	}
	log = log.With(
		logging.String("job", string(j.ID)),
		logging.String("pair", j.Name))
	st := &pipelineState{}

	type stage struct {
		status job.Status
		run    func(context.Context) error
	}
	stages := []stage{
		{job.StatusNormalizing, func(c context.Context) error { return s.stageNormalize(c, j, t.pair, st) }},
		{job.StatusParameterizing, func(c context.Context) error { return s.stageParameterize(c, j, st) }},
	}
	// A pair-less job ends after parameterization; its bundle is built
	// inside that stage.
	if len(t.pair.LigandB) > 0 {
		stages = append(stages,
			stage{job.StatusMapping, func(c context.Context) error { return s.stageMap(c, st) }},
			stage{job.StatusMerging, func(c context.Context) error { return s.stageMerge(c, j, st) }},
		)
	}

	for _, sg := range stages {
		if err := s.runStage(ctx, j, sg.status, sg.run, log); err != nil {
			if apperrors.IsCode(err, apperrors.CodePrerequisiteFailed) {
				s.finishSkip(ctx, j, err, log)
			} else {
				s.finishFail(ctx, j, err, log)
			}
			return
		}
	}

	from := j.Status
	if err := j.Succeed(st.location); err != nil {
		log.Error("cannot mark job succeeded", logging.Err(err))
		return
	}
	s.recordTransition(ctx, j, from)
	s.metrics.JobFinished(string(job.StatusSucceeded), "")
	s.metrics.BundleEmitted()
	log.Info("job succeeded", logging.String("bundle", st.location))
}

// runStage executes one stage with the configured timeout, retrying
// transient failures with exponential backoff until the job's budget runs
// out.
func (s *Service) runStage(ctx context.Context, j *job.PipelineJob, status job.Status,
	run func(context.Context) error, log logging.Logger) error {

	for {
		if ctx.Err() != nil {
			return apperrors.Wrap(ctx.Err(), apperrors.CodeJobCancelled, "pipeline shutting down")
		}
		if _, cancelled := s.cancelledBatches.Load(j.BatchID); cancelled {
			return apperrors.New(apperrors.CodeJobCancelled, "batch cancelled")
		}
		from := j.Status
		if err := j.Start(status); err != nil {
			return err
		}
		s.recordTransition(ctx, j, from)

		stageCtx := ctx
		cancel := func() {}
		if s.workerCfg.StageTimeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, s.workerCfg.StageTimeout)
		}
		started := time.Now()
		err := run(stageCtx)
		cancel()
		s.metrics.ObserveStage(string(status), time.Since(started))

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return apperrors.Wrap(ctx.Err(), apperrors.CodeJobCancelled, "pipeline shutting down")
		}
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			err = apperrors.Wrapf(err, apperrors.CodeTimeout,
				"stage %s exceeded %s", status, s.workerCfg.StageTimeout)
		}

		if !apperrors.IsTransient(err) {
			return err
		}
		from = j.Status
		if markErr := j.MarkRetrying(err); markErr != nil {
			// Retry budget exhausted; the wrapped error carries the cause.
			return markErr
		}
		s.recordTransition(ctx, j, from)
		s.metrics.JobRetried()
		s.persist(ctx, j, log)

		delay := s.backoff(j.Retries)
		log.Warn("transient failure, retrying",
			logging.String("stage", string(status)),
			logging.Int("attempt", j.Retries),
			logging.Duration("backoff", delay),
			logging.Err(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return apperrors.Wrap(ctx.Err(), apperrors.CodeJobCancelled, "pipeline shutting down")
		}
	}
}

// backoff computes the delay before retry n with full jitter.
func (s *Service) backoff(n int) time.Duration {
	d := s.workerCfg.RetryBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= s.workerCfg.MaxBackoff {
			d = s.workerCfg.MaxBackoff
			break
		}
	}
	s.rngMu.Lock()
	jitter := time.Duration(s.rng.Int63n(int64(d)/2 + 1))
	s.rngMu.Unlock()
	return d/2 + jitter
}

func (s *Service) stageNormalize(ctx context.Context, j *job.PipelineJob, pair LigandPair, st *pipelineState) error {
	if len(pair.Protein) > 0 {
		receptor, err := s.normalizer.NormalizeProtein(ctx, pair.Name+"_receptor", pair.Protein)
		if err != nil {
			return err
		}
		st.receptor = receptor
		j.ProteinIdentity = receptor.Identity()
	}

	molA, err := s.normalizer.NormalizeLigand(ctx, pair.Name+"_a", pair.LigandA)
	if err != nil {
		return err
	}
	st.molA = molA
	j.LigandIdentityA = molA.Identity()

	if len(pair.LigandB) > 0 {
		molB, err := s.normalizer.NormalizeLigand(ctx, pair.Name+"_b", pair.LigandB)
		if err != nil {
			return err
		}
		st.molB = molB
		j.LigandIdentityB = molB.Identity()
	}

	// Identity in hand, check whether a sibling job already proved one of
	// these ligands unusable.
	for _, id := range []string{j.LigandIdentityA, j.LigandIdentityB} {
		if id == "" {
			continue
		}
		if code, ok := s.failedLigands.Load(id); ok {
			return apperrors.Newf(apperrors.CodePrerequisiteFailed,
				"ligand %s already failed parameterization (%s)", shortIdentity(id), code)
		}
	}
	return nil
}

func (s *Service) stageParameterize(ctx context.Context, j *job.PipelineJob, st *pipelineState) error {
	ff := chem.ForceField(s.chemCfg.ForceField)
	method := chem.ChargeMethod(s.chemCfg.ChargeMethod)

	psA, err := s.params.Parameterize(ctx, param.Request{
		Molecule: st.molA, ForceField: ff, ChargeMethod: method,
	})
	if err != nil {
		s.memoizeParamFailure(j.LigandIdentityA, err)
		return err
	}
	st.psA = psA

	if st.molB == nil {
		// Parameterization-only job: emit the single-ligand bundle here,
		// there is nothing to map or merge.
		files, err := buildParamBundle(j.Name, st.molA, psA)
		if err != nil {
			return err
		}
		st.files = files
		location, err := s.bundles.UploadBundle(ctx, j.BatchID, j.ID, files)
		if err != nil {
			return err
		}
		st.location = location
		return nil
	}

	psB, err := s.params.Parameterize(ctx, param.Request{
		Molecule: st.molB, ForceField: ff, ChargeMethod: method,
	})
	if err != nil {
		s.memoizeParamFailure(j.LigandIdentityB, err)
		return err
	}
	st.psB = psB
	return nil
}

// memoizeParamFailure records a permanent parameterization failure so other
// jobs sharing the ligand are skipped.  Transient failures are not recorded;
// the ligand may parameterize fine once the tool is back.
func (s *Service) memoizeParamFailure(identity string, err error) {
	if identity == "" || apperrors.IsTransient(err) {
		return
	}
	s.failedLigands.Store(identity, apperrors.GetCode(err))
}

func (s *Service) stageMap(_ context.Context, st *pipelineState) error {
	amap, err := s.mapper.Build(st.molA, st.molB)
	if err != nil {
		return err
	}
	st.amap = amap
	return nil
}

func (s *Service) stageMerge(ctx context.Context, j *job.PipelineJob, st *pipelineState) error {
	schedule, err := topology.UniformSchedule(s.chemCfg.LambdaWindows)
	if err != nil {
		return err
	}
	if s.chemCfg.LambdaDescending {
		schedule = schedule.Reversed()
	}
	st.schedule = schedule

	hybrid, err := s.merger.Merge(st.molA, st.molB, st.psA, st.psB, st.amap, schedule)
	if err != nil {
		return err
	}
	st.hybrid = hybrid

	files, err := buildBundle(j.Name, st.receptor, st.molA, st.molB, st.amap, hybrid, schedule)
	if err != nil {
		return err
	}
	st.files = files

	location, err := s.bundles.UploadBundle(ctx, j.BatchID, j.ID, files)
	if err != nil {
		return err
	}
	st.location = location
	return nil
}

func (s *Service) finishFail(ctx context.Context, j *job.PipelineJob, cause error, log logging.Logger) {
	from := j.Status
	if err := j.Fail(cause); err != nil {
		log.Error("cannot mark job failed", logging.Err(err))
		return
	}
	s.recordTransition(ctx, j, from)
	s.metrics.JobFinished(string(job.StatusFailed), j.FailureCode.String())
	log.Warn("job failed",
		logging.String("code", j.FailureCode.String()),
		logging.Err(cause))
}

func (s *Service) finishSkip(ctx context.Context, j *job.PipelineJob, cause error, log logging.Logger) {
	from := j.Status
	if err := j.Skip(cause.Error()); err != nil {
		log.Error("cannot mark job skipped", logging.Err(err))
		return
	}
	s.recordTransition(ctx, j, from)
	s.metrics.JobFinished(string(job.StatusSkipped), j.FailureCode.String())
	log.Info("job skipped", logging.String("reason", j.SkipReason))
}

// recordTransition persists the job and emits the audit record.  Both are
// best effort: audit plumbing must never change a job's fate.
func (s *Service) recordTransition(ctx context.Context, j *job.PipelineJob, from job.Status) {
	s.persist(ctx, j, s.log)
	rec := job.NewAuditRecord(j, from)
	if err := s.repo.SaveAudit(ctx, rec); err != nil {
		s.log.Warn("audit row not saved", logging.Err(err))
	}
	if s.audit != nil {
		if err := s.audit.PublishAudit(ctx, rec); err != nil {
			s.log.Warn("audit record not published", logging.Err(err))
		}
	}
}

func (s *Service) persist(ctx context.Context, j *job.PipelineJob, log logging.Logger) {
	// Persistence runs on Background when the pool is shutting down so the
	// final status still lands in the store.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.repo.UpdateJob(ctx, j); err != nil {
		log.Error("job state not persisted",
			logging.String("job", string(j.ID)), logging.Err(err))
	}
}

func shortIdentity(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
