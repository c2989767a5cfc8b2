package analysis

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marketpulse/review-analysis/internal/cache"
	"github.com/marketpulse/review-analysis/internal/engine"
	"github.com/marketpulse/review-analysis/internal/metrics"
	"github.com/marketpulse/review-analysis/internal/notifier"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// EngineClient is the outbound surface the orchestrator needs from the
// analysis engine.
type EngineClient interface {
	StartJob(ctx context.Context, req engine.StartJobRequest) (engine.StartJobResponse, error)
	PollStatus(ctx context.Context, productID string) (engine.StatusResponse, error)
}

// Config holds the orchestrator's knobs.
type Config struct {
	// CallbackURL is the absolute address the engine calls back on completion.
	CallbackURL string
	// TTLs per key class: results long-lived, statuses short-lived,
	// task-index entries medium-lived.
	ResultTTL time.Duration
	StatusTTL time.Duration
	TaskTTL   time.Duration
	// TopicPrefix namespaces the per-task notification topics.
	TopicPrefix string
}

// Service orchestrates analysis submissions, status lookups, callback
// reconciliation and cache invalidation. The cache is strictly best-effort:
// every cache failure degrades to a live poll or a lost side effect, never
// to a failed request.
type Service struct {
	cfg       Config
	store     cache.Store
	engine    EngineClient
	publisher notifier.Publisher
	clock     Clock
	logger    *zap.Logger
}

// NewService wires the orchestrator.
func NewService(
	cfg Config,
	store cache.Store,
	engineClient EngineClient,
	publisher notifier.Publisher,
	clock Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		engine:    engineClient,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// RequestInput is a caller's analysis submission.
type RequestInput struct {
	ProductID string
	URL       string
	Keywords  []string
	UserID    string
	// Force invalidates any cached state before submitting.
	Force bool
}

// Submission acknowledges an accepted or already-running analysis.
type Submission struct {
	TaskID               string `json:"task_id"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
}

// Request validates the input, short-circuits on cached in-flight or
// completed work, and otherwise starts a new engine job. Two concurrent
// cold-cache requests for the same product may both reach the engine; that
// duplication is accepted rather than serialized with a distributed lock.
func (s *Service) Request(ctx context.Context, in RequestInput) (Submission, error) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	if in.ProductID == "" {
		metrics.ObserveAnalysisRequest("validation_error")
		return Submission{}, NewError(CodeValidation, "product_id is required")
	}
	if in.URL != "" {
		parsed, err := url.Parse(in.URL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			metrics.ObserveAnalysisRequest("validation_error")
			return Submission{}, NewError(CodeValidation, "url must be a well-formed http(s) URL")
		}
	}

	if in.Force {
		if _, err := s.Invalidate(ctx, in.ProductID, ""); err != nil {
			return Submission{}, err
		}
	} else if task, ok := s.cachedSubmission(ctx, in.ProductID); ok {
		metrics.ObserveAnalysisRequest("cached")
		return Submission{TaskID: task.TaskID, EstimatedTimeSeconds: task.EstimatedTimeSeconds}, nil
	}

	resp, err := s.engine.StartJob(ctx, engine.StartJobRequest{
		ProductID:   in.ProductID,
		URL:         in.URL,
		Keywords:    in.Keywords,
		UserID:      in.UserID,
		CallbackURL: s.cfg.CallbackURL,
	})
	if err != nil {
		mapped := s.mapEngineError(err)
		metrics.ObserveAnalysisRequest(string(mapped.Code))
		return Submission{}, mapped
	}

	task := Task{
		ProductID:            in.ProductID,
		TaskID:               resp.TaskID,
		Status:               StatusPending,
		EstimatedTimeSeconds: resp.EstimatedTimeSeconds,
		CreatedAt:            s.clock.Now(),
	}
	s.putTask(ctx, cache.StatusKey(in.ProductID), task, s.cfg.StatusTTL)
	s.putRaw(ctx, cache.TaskKey(resp.TaskID), []byte(in.ProductID), s.cfg.TaskTTL)

	s.logger.Info("analysis job started",
		zap.String("product_id", in.ProductID),
		zap.String("task_id", resp.TaskID),
		zap.Int("estimated_time_seconds", resp.EstimatedTimeSeconds),
	)
	metrics.ObserveAnalysisRequest("accepted")
	return Submission{TaskID: resp.TaskID, EstimatedTimeSeconds: resp.EstimatedTimeSeconds}, nil
}

// Status serves the task state cache-first, falling back to a live engine
// poll on miss. Poll results refresh the short-lived status entry.
func (s *Service) Status(ctx context.Context, productID string) (Task, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Task{}, NewError(CodeValidation, "product_id is required")
	}

	if task, ok := s.getTask(ctx, cache.StatusKey(productID)); ok {
		return task, nil
	}
	if task, ok := s.getTask(ctx, cache.ResultKey(productID)); ok {
		return task, nil
	}

	resp, err := s.engine.PollStatus(ctx, productID)
	if err != nil {
		return Task{}, s.mapEngineError(err)
	}

	status, parseErr := ParseStatus(resp.Status)
	if parseErr != nil {
		s.logger.Warn("engine returned unknown status, assuming processing",
			zap.String("product_id", productID),
			zap.String("status", resp.Status),
		)
		status = StatusProcessing
	}
	task := Task{
		ProductID:            productID,
		Status:               status,
		Progress:             resp.Progress,
		EstimatedTimeSeconds: resp.EstimatedTimeSeconds,
	}
	s.putTask(ctx, cache.StatusKey(productID), task, s.cfg.StatusTTL)
	return task, nil
}

// Result returns the cached terminal task for a product.
func (s *Service) Result(ctx context.Context, productID string) (Task, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Task{}, NewError(CodeValidation, "product_id is required")
	}
	if task, ok := s.getTask(ctx, cache.ResultKey(productID)); ok {
		return task, nil
	}
	return Task{}, NewError(CodeNotFound, "no analysis result for this product")
}

// HandleCallback reconciles an engine webhook against cached state. It
// never returns an error: the engine delivers at-least-once and must always
// see success for a callback it already delivered. Unresolvable and
// duplicate deliveries are absorbed; the notification side effect fires at
// most once per task.
func (s *Service) HandleCallback(ctx context.Context, p CallbackPayload) error {
	if err := p.Validate(); err != nil {
		s.logger.Warn("discarding invalid callback", zap.Error(err))
		metrics.ObserveCallback("invalid")
		return nil
	}

	raw, ok := s.getRaw(ctx, cache.TaskKey(p.TaskID))
	if !ok {
		s.logger.Info("callback for unknown task ignored", zap.String("task_id", p.TaskID))
		metrics.ObserveCallback("unresolved")
		return nil
	}
	productID := string(raw)

	if s.terminalCached(ctx, productID, p.TaskID) {
		s.logger.Debug("duplicate callback ignored",
			zap.String("task_id", p.TaskID),
			zap.String("product_id", productID),
		)
		metrics.ObserveCallback("duplicate")
		return nil
	}

	now := s.clock.Now()
	task, found := s.getTask(ctx, cache.StatusKey(productID))
	if !found || task.TaskID != p.TaskID {
		task = Task{ProductID: productID, TaskID: p.TaskID, CreatedAt: now}
	}
	task.Status = p.TerminalStatus()
	task.CompletedAt = &now
	task.EstimatedTimeSeconds = 0
	if task.Status == StatusCompleted {
		task.Progress = 100
		task.Result = p.Result
		task.ErrorMessage = ""
	} else {
		task.Result = nil
		task.ErrorMessage = p.Error
	}

	s.putTask(ctx, cache.ResultKey(productID), task, s.cfg.ResultTTL)
	s.putTask(ctx, cache.StatusKey(productID), task, s.cfg.StatusTTL)

	topic := notifier.TaskTopic(s.cfg.TopicPrefix, p.TaskID)
	notification := Notification{
		TaskID:    p.TaskID,
		Status:    task.Status,
		Result:    task.Result,
		Error:     task.ErrorMessage,
		Timestamp: now,
	}
	if _, err := s.publisher.Publish(ctx, topic, notification); err != nil {
		s.logger.Warn("notification publish failed",
			zap.String("topic", topic),
			zap.Error(err),
		)
	} else {
		metrics.ObserveNotification()
	}

	s.logger.Info("analysis task finished",
		zap.String("product_id", productID),
		zap.String("task_id", p.TaskID),
		zap.String("status", string(task.Status)),
	)
	metrics.ObserveCallback("applied")
	return nil
}

// Invalidate deletes the cached result and status entries for a product,
// plus the task index entry when a task ID is supplied.
func (s *Service) Invalidate(ctx context.Context, productID, taskID string) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, NewError(CodeValidation, "product_id is required")
	}
	keys := []string{cache.ResultKey(productID), cache.StatusKey(productID)}
	if taskID != "" {
		keys = append(keys, cache.TaskKey(taskID))
	}
	deleted, err := s.store.DeleteKeys(ctx, keys...)
	if err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("product_id", productID), zap.Error(err))
		metrics.ObserveCacheOperation("delete", "error")
		return 0, nil
	}
	metrics.ObserveCacheOperation("delete", "ok")
	return deleted, nil
}

// cachedSubmission reports an in-flight or completed task that should
// short-circuit a new submission. A cached failed task does not: callers
// may resubmit after a failure.
func (s *Service) cachedSubmission(ctx context.Context, productID string) (Task, bool) {
	if task, ok := s.getTask(ctx, cache.StatusKey(productID)); ok && task.Status != StatusFailed {
		return task, true
	}
	if task, ok := s.getTask(ctx, cache.ResultKey(productID)); ok && task.Status == StatusCompleted {
		return task, true
	}
	return Task{}, false
}

// terminalCached reports whether the task already reached a terminal state
// in cache, which makes a callback a duplicate delivery.
func (s *Service) terminalCached(ctx context.Context, productID, taskID string) bool {
	if task, ok := s.getTask(ctx, cache.ResultKey(productID)); ok && task.TaskID == taskID && task.Status.Terminal() {
		return true
	}
	if task, ok := s.getTask(ctx, cache.StatusKey(productID)); ok && task.TaskID == taskID && task.Status.Terminal() {
		return true
	}
	return false
}

// mapEngineError converts a classified engine failure into the caller-facing
// taxonomy. The classification is preserved, never re-wrapped away.
func (s *Service) mapEngineError(err error) *Error {
	class, ok := engine.ClassOf(err)
	if !ok {
		return WrapError(CodeInternal, "analysis request failed", err)
	}
	switch class {
	case engine.ClassConnection:
		return WrapError(CodeExternalService, "analysis engine is unreachable", err)
	case engine.ClassTimeout:
		return WrapError(CodeTimeout, "analysis engine timed out", err)
	case engine.ClassAuth:
		return WrapError(CodeExternalAuth, "analysis engine rejected our credentials", err)
	case engine.ClassNotFound:
		return WrapError(CodeNotFound, "no analysis found for this product", err)
	case engine.ClassValidation:
		return WrapError(CodeValidation, "analysis engine rejected the request", err)
	default:
		return WrapError(CodeExternalService, "analysis engine failed", err)
	}
}

func (s *Service) getTask(ctx context.Context, key string) (Task, bool) {
	raw, ok := s.getRaw(ctx, key)
	if !ok {
		return Task{}, false
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return Task{}, false
	}
	return task, true
}

func (s *Service) getRaw(ctx context.Context, key string) ([]byte, bool) {
	raw, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		metrics.ObserveCacheOperation("get", "error")
		return nil, false
	}
	if !found {
		metrics.ObserveCacheOperation("get", "miss")
		return nil, false
	}
	metrics.ObserveCacheOperation("get", "hit")
	return raw, true
}

func (s *Service) putTask(ctx context.Context, key string, task Task, ttl time.Duration) {
	raw, err := json.Marshal(task)
	if err != nil {
		s.logger.Warn("cache entry marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	s.putRaw(ctx, key, raw, ttl)
}

func (s *Service) putRaw(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := s.store.SetWithTTL(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache write failed, continuing", zap.String("key", key), zap.Error(err))
		metrics.ObserveCacheOperation("set", "error")
		return
	}
	metrics.ObserveCacheOperation("set", "ok")
}
