package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"codeduel/internal/common/mq"
	"codeduel/internal/execution/model"
	"codeduel/internal/execution/sandbox"
	matchmodel "codeduel/internal/match/model"
	"codeduel/internal/metrics"
	pkgerrors "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

// Executor runs code once in the sandbox.
type Executor interface {
	Execute(ctx context.Context, language, code, stdin string) (*sandbox.ExecuteResponse, error)
}

// Archiver keeps a copy of submitted sources.
type Archiver interface {
	Save(ctx context.Context, matchID, jobID, source string) (string, error)
}

// Config controls the execution consumer.
type Config struct {
	Topic          string        `yaml:"topic"`
	Concurrency    int           `yaml:"concurrency"`
	RatePerSecond  int           `yaml:"ratePerSecond"`
	ResultBuffer   int           `yaml:"resultBuffer"`
	ArchiveTimeout time.Duration `yaml:"archiveTimeout"`
}

func DefaultConfig() Config {
	return Config{
		Topic:          "execution.jobs",
		Concurrency:    5,
		RatePerSecond:  10,
		ResultBuffer:   256,
		ArchiveTimeout: 5 * time.Second,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.Topic == "" {
		c.Topic = def.Topic
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = def.RatePerSecond
	}
	if c.ResultBuffer <= 0 {
		c.ResultBuffer = def.ResultBuffer
	}
	if c.ArchiveTimeout <= 0 {
		c.ArchiveTimeout = def.ArchiveTimeout
	}
}

// Pipeline queues execution jobs and judges them with a bounded pool of
// workers. Every consumed job yields exactly one Result.
type Pipeline struct {
	queue    mq.MessageQueue
	executor Executor
	archive  Archiver
	limiter  mq.FetchLimiter
	cfg      Config
	now      func() time.Time

	results chan model.Result
}

// Deps groups the collaborators of a Pipeline. Archive and Limiter are optional.
type Deps struct {
	Queue    mq.MessageQueue
	Executor Executor
	Archive  Archiver
	Limiter  mq.FetchLimiter
}

func NewPipeline(deps Deps, cfg Config) *Pipeline {
	cfg.setDefaults()
	return &Pipeline{
		queue:    deps.Queue,
		executor: deps.Executor,
		archive:  deps.Archive,
		limiter:  deps.Limiter,
		cfg:      cfg,
		now:      time.Now,
		results:  make(chan model.Result, cfg.ResultBuffer),
	}
}

// Results delivers one result per consumed job.
func (p *Pipeline) Results() <-chan model.Result { return p.results }

// Enqueue builds the job for req against problem and queues it.
func (p *Pipeline) Enqueue(ctx context.Context, req model.ExecutionRequest, problem *matchmodel.Problem) (model.Job, error) {
	src := req.Source()
	if len(src.Code) > model.MaxCodeBytes {
		return model.Job{}, pkgerrors.New(pkgerrors.CodeTooLarge)
	}
	if _, ok := sandbox.LookupLanguage(strings.ToLower(src.Language)); !ok {
		return model.Job{}, pkgerrors.Newf(pkgerrors.UnsupportedLanguage, "Unsupported language: %s", src.Language)
	}

	job := model.NewJob(req, problem, p.now())
	body, err := json.Marshal(job)
	if err != nil {
		return model.Job{}, pkgerrors.Wrapf(err, pkgerrors.ExecutionEnqueueFailed, "encode job failed")
	}
	msg := mq.NewMessage(job.ID, body)
	msg.SetHeader("mode", string(job.Mode))
	msg.SetHeader("match_id", job.MatchID)
	if err := p.queue.Publish(ctx, p.cfg.Topic, msg); err != nil {
		return model.Job{}, pkgerrors.Wrapf(err, pkgerrors.ExecutionEnqueueFailed, "publish job failed")
	}
	logger.Info(ctx, "execution job queued",
		zap.String("job_id", job.ID),
		zap.String("mode", string(job.Mode)),
		zap.Int("cases", len(job.TestCases)),
	)
	return job, nil
}

// Start subscribes the worker pool. Retries are disabled: a job runs once.
func (p *Pipeline) Start(ctx context.Context) error {
	return p.queue.Subscribe(ctx, p.cfg.Topic, p.handle, &mq.SubscribeOptions{
		Concurrency: p.cfg.Concurrency,
		MaxRetries:  0,
		Limiter:     p.limiter,
		Abandoned:   p.abandon,
	})
}

// abandon reports a job whose worker died before finishing it. The job is
// not executed again.
func (p *Pipeline) abandon(ctx context.Context, msg *mq.Message) error {
	var job model.Job
	if err := json.Unmarshal(msg.Body, &job); err != nil || job.ID == "" {
		logger.Error(ctx, "drop undecodable abandoned job",
			zap.String("message_id", msg.ID),
			zap.String("match_id", msg.Headers["match_id"]),
			zap.Error(err),
		)
		return nil
	}
	logger.Warn(ctx, "execution job abandoned by its worker", zap.String("job_id", job.ID))
	res := model.FailedResult(&job, pkgerrors.New(pkgerrors.ExecutionInterrupted), 0)
	metrics.ExecutionFinished(string(job.Mode), false, 0)

	select {
	case p.results <- res:
	case <-ctx.Done():
		logger.Warn(ctx, "result dropped on shutdown", zap.String("job_id", job.ID))
	}
	return nil
}

func (p *Pipeline) handle(ctx context.Context, msg *mq.Message) error {
	var job model.Job
	if err := json.Unmarshal(msg.Body, &job); err != nil || job.ID == "" {
		logger.Error(ctx, "drop undecodable execution job",
			zap.String("message_id", msg.ID),
			zap.String("match_id", msg.Headers["match_id"]),
			zap.Error(err),
		)
		return nil
	}

	start := p.now()
	res, err := p.process(ctx, &job)
	elapsed := p.now().Sub(start)
	if err != nil {
		logger.Error(ctx, "execution job failed", zap.String("job_id", job.ID), zap.Error(err))
		res = model.FailedResult(&job, err, elapsed)
	}
	metrics.ExecutionFinished(string(job.Mode), res.Success, elapsed)
	logger.Info(ctx, "execution job finished",
		zap.String("job_id", job.ID),
		zap.Int("passed", res.TestsPassed),
		zap.Int("total", res.TestsTotal),
		zap.Duration("elapsed", elapsed),
	)

	select {
	case p.results <- res:
	case <-ctx.Done():
		logger.Warn(ctx, "result dropped on shutdown", zap.String("job_id", job.ID))
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, job *model.Job) (res model.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("execution panicked: %v", r)
		}
	}()

	if job.Mode == model.ModeSubmit {
		p.archiveSource(ctx, job)
	}

	cases := make([]model.CaseResult, 0, len(job.TestCases))
	var fatal error
	for _, tc := range job.TestCases {
		if err := ctx.Err(); err != nil {
			return model.Result{}, err
		}
		if fatal != nil {
			cases = append(cases, failedCase(tc, fatal, 0))
			continue
		}
		cr, err := p.evaluate(ctx, job, tc)
		if pkgerrors.Is(err, pkgerrors.UnsupportedLanguage) {
			fatal = err
		}
		cases = append(cases, cr)
	}
	return model.Aggregate(job, cases), nil
}

// evaluate runs one case. The returned error is the sandbox error, already
// folded into the case result.
func (p *Pipeline) evaluate(ctx context.Context, job *model.Job, tc matchmodel.TestCase) (model.CaseResult, error) {
	start := p.now()
	resp, err := p.executor.Execute(ctx, job.Language, job.Code, tc.Input)
	elapsed := p.now().Sub(start).Milliseconds()
	if err != nil {
		return failedCase(tc, err, elapsed), err
	}

	out := model.CaseResult{Input: tc.Input, ExpectedOutput: tc.ExpectedOutput, Hidden: tc.IsHidden, ExecutionTime: elapsed}
	if resp.Compile != nil && resp.Compile.ExitCode() != 0 {
		msg := firstNonEmpty(resp.Compile.Stderr, resp.Compile.Output, "Compilation failed")
		out.Error = &msg
		return out, nil
	}

	actual := resp.Run.Stdout
	if resp.Run.ExitCode() != 0 || resp.Run.Killed() || resp.Run.Stderr != "" {
		signal := "Runtime error"
		if resp.Run.Killed() {
			signal = "Killed by " + *resp.Run.Signal
		}
		msg := firstNonEmpty(resp.Run.Stderr, resp.Run.Output, signal)
		out.Error = &msg
	} else if actual == "" {
		actual = resp.Run.Output
	}
	out.ActualOutput = strings.TrimSpace(actual)
	out.Passed = out.Error == nil && out.ActualOutput == strings.TrimSpace(tc.ExpectedOutput)
	return out, nil
}

func (p *Pipeline) archiveSource(ctx context.Context, job *model.Job) {
	if p.archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, p.cfg.ArchiveTimeout)
	defer cancel()
	key, err := p.archive.Save(actx, job.MatchID, job.ID, job.Code)
	if err != nil {
		logger.Warn(ctx, "archive submission failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	logger.Debug(ctx, "submission archived", zap.String("job_id", job.ID), zap.String("key", key))
}

func failedCase(tc matchmodel.TestCase, err error, elapsed int64) model.CaseResult {
	msg := err.Error()
	return model.CaseResult{
		Input:          tc.Input,
		ExpectedOutput: tc.ExpectedOutput,
		Hidden:         tc.IsHidden,
		ExecutionTime:  elapsed,
		Error:          &msg,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
