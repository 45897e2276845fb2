package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
	"github.com/ternarybob/fleetsync/internal/services/auth"
	"github.com/ternarybob/fleetsync/internal/services/extractor"
	"github.com/ternarybob/fleetsync/internal/services/parser"
	"github.com/ternarybob/fleetsync/internal/services/reconcile"
)

// pausedPipeline holds what a platform pipeline needs to continue once a
// human resolves its challenge or supplies a one-time code
type pausedPipeline struct {
	executionID string
	platform    string
	attemptID   string
	handle      interfaces.SessionHandle
	profile     *models.PlatformProfile
	dateRange   models.DateRange
}

// Orchestrator sequences the session -> auth -> extract -> parse -> reconcile
// pipeline across a tenant's configured platforms. Platforms run one after
// another to bound live browser count; a failed platform never aborts its
// siblings.
type Orchestrator struct {
	cfg        *common.Config
	sessions   interfaces.SessionStore
	authSvc    *auth.Service
	driver     *extractor.Driver
	parser     *parser.Service
	reconciler *reconcile.Service
	creds      interfaces.CredentialSource
	platforms  interfaces.PlatformRegistry
	syncLog    interfaces.SyncLogStorage
	settings   interfaces.KeyValueStorage
	events     interfaces.EventService
	notifier   interfaces.Notifier
	logger     arbor.ILogger

	mu     sync.Mutex
	paused map[string]*pausedPipeline // keyed executionID/platform
}

// NewOrchestrator wires the sync pipeline
func NewOrchestrator(
	cfg *common.Config,
	sessions interfaces.SessionStore,
	authSvc *auth.Service,
	driver *extractor.Driver,
	fileParser *parser.Service,
	reconciler *reconcile.Service,
	creds interfaces.CredentialSource,
	platforms interfaces.PlatformRegistry,
	syncLog interfaces.SyncLogStorage,
	settings interfaces.KeyValueStorage,
	events interfaces.EventService,
	notifier interfaces.Notifier,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		sessions:   sessions,
		authSvc:    authSvc,
		driver:     driver,
		parser:     fileParser,
		reconciler: reconciler,
		creds:      creds,
		platforms:  platforms,
		syncLog:    syncLog,
		settings:   settings,
		events:     events,
		notifier:   notifier,
		logger:     logger,
		paused:     make(map[string]*pausedPipeline),
	}
}

// RunSync executes one sync across the given platforms for a tenant. The
// returned execution enumerates every platform with a structured outcome.
func (o *Orchestrator) RunSync(ctx context.Context, tenant string, platformKeys []string, dateRange models.DateRange) (*models.SyncExecution, error) {
	exec := &models.SyncExecution{
		ID:        common.NewExecutionID(),
		Tenant:    tenant,
		Platforms: platformKeys,
		Range:     dateRange,
		Status:    models.SyncRunning,
		StartedAt: time.Now(),
	}
	if err := o.syncLog.SaveExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to record sync execution: %w", err)
	}

	o.logger.Info().
		Str("execution_id", exec.ID).
		Str("tenant", tenant).
		Int("platforms", len(platformKeys)).
		Str("range", dateRange.String()).
		Msg("Sync started")

	o.publish(ctx, interfaces.EventSyncStarted, exec)

	for _, key := range platformKeys {
		result := o.runPlatform(ctx, exec, key, dateRange)
		exec.Results = append(exec.Results, result)

		if err := o.syncLog.SaveExecution(ctx, exec); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to persist execution progress")
		}
		o.publish(ctx, interfaces.EventPlatformCompleted, &result)
	}

	o.finish(ctx, exec)
	return exec, nil
}

// runPlatform runs one platform's full pipeline and always returns a result,
// converting every escalated error into a structured outcome
func (o *Orchestrator) runPlatform(ctx context.Context, exec *models.SyncExecution, platformKey string, dateRange models.DateRange) models.PlatformResult {
	result := models.PlatformResult{
		Platform:  platformKey,
		StartedAt: time.Now(),
	}

	profile, err := o.platforms.Get(platformKey)
	if err != nil {
		return failed(result, fmt.Errorf("unknown platform: %w", err))
	}

	handle, err := o.sessions.Acquire(ctx, exec.Tenant, platformKey)
	if err != nil {
		return failed(result, fmt.Errorf("session unavailable: %w", err))
	}

	verified, err := o.ensureAuthenticated(ctx, exec, handle, profile, dateRange, &result)
	if err != nil {
		o.releaseHandle(handle)
		return failed(result, err)
	}
	if !verified {
		// Paused for human input; the handle stays alive for the resume
		return result
	}

	o.extractAndCommit(ctx, exec.Tenant, handle, profile, dateRange, &result)
	o.releaseHandle(handle)
	return result
}

// ensureAuthenticated verifies the session and logs in when needed. Returns
// false with a populated result when the pipeline paused for human input.
func (o *Orchestrator) ensureAuthenticated(ctx context.Context, exec *models.SyncExecution, handle interfaces.SessionHandle, profile *models.PlatformProfile, dateRange models.DateRange, result *models.PlatformResult) (bool, error) {
	verify, err := o.sessions.VerifyActive(ctx, handle, profile)
	if err != nil {
		return false, fmt.Errorf("session verification failed: %w", err)
	}
	if verify.Valid {
		o.logger.Info().
			Str("tenant", exec.Tenant).
			Str("platform", profile.Key).
			Msg("Existing session still authenticated, skipping login")
		return true, nil
	}

	cred, err := o.creds.GetCredential(ctx, exec.Tenant, profile.Key)
	if err != nil {
		return false, fmt.Errorf("credential unavailable: %w", err)
	}

	page, err := handle.Page(ctx)
	if err != nil {
		return false, err
	}

	attempt, err := o.authSvc.Login(ctx, page, profile, cred)
	if attempt != nil {
		result.AttemptID = attempt.ID
		result.Artifacts = attempt.Artifacts
	}
	if err != nil {
		return false, fmt.Errorf("login failed: %w", err)
	}

	switch attempt.State {
	case models.StateVerified:
		if err := o.sessions.MarkVerified(exec.Tenant, profile.Key); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to persist session verification")
		}
		return true, nil

	case models.StateSecondFactor, models.StateNeedsManualChallenge:
		o.pause(exec, handle, profile, dateRange, attempt, result)
		return false, nil

	default:
		msg := "login failed"
		if attempt.BannerText != "" {
			msg = fmt.Sprintf("login rejected: %s", attempt.BannerText)
		}
		return false, fmt.Errorf("%s", msg)
	}
}

// pause records a needs-manual-action outcome and registers the pipeline for
// ResumePlatform
func (o *Orchestrator) pause(exec *models.SyncExecution, handle interfaces.SessionHandle, profile *models.PlatformProfile, dateRange models.DateRange, attempt *models.AuthAttempt, result *models.PlatformResult) {
	result.Outcome = models.OutcomeNeedsManualAction
	now := time.Now()
	result.CompletedAt = &now

	o.mu.Lock()
	o.paused[pauseKey(exec.ID, profile.Key)] = &pausedPipeline{
		executionID: exec.ID,
		platform:    profile.Key,
		attemptID:   attempt.ID,
		handle:      handle,
		profile:     profile,
		dateRange:   dateRange,
	}
	o.mu.Unlock()

	o.logger.Warn().
		Str("execution_id", exec.ID).
		Str("platform", profile.Key).
		Str("attempt_id", attempt.ID).
		Str("state", string(attempt.State)).
		Msg("Platform pipeline paused for manual action")

	o.publish(context.Background(), interfaces.EventAuthActionRequired, attempt)
}

// ResumePlatform continues a paused platform pipeline with the operator's
// one-time code (or after a manually solved challenge), finishes extraction
// and re-aggregates the execution.
func (o *Orchestrator) ResumePlatform(ctx context.Context, executionID, platform, code string) (*models.SyncExecution, error) {
	o.mu.Lock()
	pipeline, ok := o.paused[pauseKey(executionID, platform)]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no paused pipeline for execution %s platform %s", executionID, platform)
	}

	exec, err := o.syncLog.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("execution %s not found", executionID)
	}
	result := exec.Result(platform)
	if result == nil {
		return nil, fmt.Errorf("execution %s has no result for platform %s", executionID, platform)
	}

	attempt, err := o.authSvc.Resume(ctx, pipeline.attemptID, code)
	if attempt != nil {
		result.Artifacts = attempt.Artifacts
	}
	if err != nil {
		return exec, err
	}

	switch {
	case attempt.State == models.StateVerified:
		if err := o.sessions.MarkVerified(exec.Tenant, platform); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to persist session verification")
		}

		result.Outcome = ""
		result.Error = ""
		o.extractAndCommit(ctx, exec.Tenant, pipeline.handle, pipeline.profile, pipeline.dateRange, result)
		o.releaseHandle(pipeline.handle)
		o.removePaused(executionID, platform)

	case attempt.State.Paused():
		// Still waiting, e.g. challenge solved but a second factor remains
		return exec, nil

	default:
		*result = failed(*result, fmt.Errorf("login rejected after resume: %s", attempt.BannerText))
		o.releaseHandle(pipeline.handle)
		o.removePaused(executionID, platform)
	}

	o.finish(ctx, exec)
	return exec, nil
}

// extractAndCommit pulls every dataset the platform exposes, parses and
// reconciles it, accumulating counts into the result. Each dataset pull is
// recorded as an ExtractionJob on the result so a failed platform shows
// exactly which pull stopped and what the earlier ones produced.
func (o *Orchestrator) extractAndCommit(ctx context.Context, tenant string, handle interfaces.SessionHandle, profile *models.PlatformProfile, dateRange models.DateRange, result *models.PlatformResult) {
	for dataset := range profile.Datasets {
		job := models.ExtractionJob{
			ID:        common.NewJobID(),
			Tenant:    tenant,
			Platform:  profile.Key,
			Dataset:   dataset,
			Range:     dateRange,
			Status:    models.ExtractionQueued,
			CreatedAt: time.Now(),
		}

		job.Status = models.ExtractionRunning
		artifact, err := o.driver.Extract(ctx, handle, profile, dataset, dateRange)
		if err != nil {
			result.Jobs = append(result.Jobs, finishJob(job, err))
			*result = failed(*result, fmt.Errorf("extraction of %s failed: %w", dataset, err))
			return
		}
		job.ArtifactPath = artifact.FilePath

		records, err := o.parser.Parse(artifact)
		if err != nil {
			result.Jobs = append(result.Jobs, finishJob(job, err))
			*result = failed(*result, fmt.Errorf("parsing %s failed: %w", dataset, err))
			return
		}

		_, summary, err := o.reconciler.Reconcile(ctx, tenant, records)
		if err != nil {
			result.Jobs = append(result.Jobs, finishJob(job, err))
			*result = failed(*result, fmt.Errorf("reconciling %s failed: %w", dataset, err))
			return
		}

		result.Jobs = append(result.Jobs, finishJob(job, nil))
		result.RowCount += summary.Total
		result.Inserted += summary.Inserted
		result.Updated += summary.Updated
		result.Unmatched += summary.Unmatched
	}

	if result.RowCount == 0 {
		result.Outcome = models.OutcomeZeroRows
	} else {
		result.Outcome = models.OutcomeSucceeded
	}
	now := time.Now()
	result.CompletedAt = &now
}

// finish aggregates, persists and notifies
func (o *Orchestrator) finish(ctx context.Context, exec *models.SyncExecution) {
	exec.Status = exec.Aggregate()

	// An execution with paused platforms stays open until they resolve
	if o.hasPaused(exec.ID) {
		exec.Status = models.SyncRunning
	} else if exec.CompletedAt == nil {
		now := time.Now()
		exec.CompletedAt = &now
	}

	if err := o.syncLog.SaveExecution(ctx, exec); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to persist execution result")
	}

	if exec.Status == models.SyncRunning {
		return
	}

	if exec.Status == models.SyncSuccess {
		o.recordWatermark(ctx, exec)
	}

	o.logger.Info().
		Str("execution_id", exec.ID).
		Str("status", string(exec.Status)).
		Msg("Sync completed")

	o.publish(ctx, interfaces.EventSyncCompleted, exec)
	o.notify(ctx, exec)
}

// recordWatermark persists when the tenant last synced every platform cleanly.
// The execution's start time is stored, not its end, so rows posted while it
// ran fall inside the next window.
func (o *Orchestrator) recordWatermark(ctx context.Context, exec *models.SyncExecution) {
	if o.settings == nil {
		return
	}
	if err := o.settings.Set(ctx, watermarkKey(exec.Tenant), exec.StartedAt.Format(time.RFC3339)); err != nil {
		o.logger.Warn().
			Str("tenant", exec.Tenant).
			Err(err).
			Msg("Failed to record sync watermark")
	}
}

// RangeSinceLastSuccess builds the extraction window for a recurring sync:
// the default number of days back from today, stretched further back when the
// tenant's last clean sync is older than that. A missed schedule or a string
// of failed runs widens the next window instead of leaving a gap.
func (o *Orchestrator) RangeSinceLastSuccess(ctx context.Context, tenant string, defaultDays int) models.DateRange {
	dateRange := models.LastDays(defaultDays)
	if o.settings == nil {
		return dateRange
	}

	stored, err := o.settings.Get(ctx, watermarkKey(tenant))
	if err != nil {
		return dateRange
	}
	watermark, err := time.Parse(time.RFC3339, stored)
	if err != nil {
		o.logger.Warn().
			Str("tenant", tenant).
			Str("value", stored).
			Msg("Unreadable sync watermark, using default range")
		return dateRange
	}

	if day := watermark.Truncate(24 * time.Hour); day.Before(dateRange.From) {
		dateRange.From = day
	}
	return dateRange
}

func watermarkKey(tenant string) string {
	return "sync/last_success/" + tenant
}

// notify builds the completion payload and hands it to the delivery channel
func (o *Orchestrator) notify(ctx context.Context, exec *models.SyncExecution) {
	if o.notifier == nil {
		return
	}

	n := &models.Notification{
		ExecutionID: exec.ID,
		Tenant:      exec.Tenant,
		Status:      exec.Status,
		Summary:     make(map[string]string, len(exec.Results)),
		CompletedAt: time.Now(),
	}

	for _, r := range exec.Results {
		text := string(r.Outcome)
		if r.Error != "" {
			text = fmt.Sprintf("%s: %s", r.Outcome, r.Error)
		}
		n.Summary[r.Platform] = text

		if r.Outcome == models.OutcomeNeedsManualAction {
			n.FollowUps = append(n.FollowUps, models.NotificationAction{
				Platform:  r.Platform,
				AttemptID: r.AttemptID,
				Prompt:    fmt.Sprintf("Resolve the pending login step for %s and resume the sync", r.Platform),
			})
		}
	}

	if err := o.notifier.Deliver(ctx, n); err != nil {
		o.logger.Warn().Err(err).Msg("Notification delivery failed")
	}
}

// RecoverOrphans closes executions left running by a previous process, so
// operators never see a sync stuck in running forever
func (o *Orchestrator) RecoverOrphans(ctx context.Context) error {
	orphans, err := o.syncLog.GetRunning(ctx)
	if err != nil {
		return err
	}

	for _, exec := range orphans {
		for i := range exec.Results {
			if exec.Results[i].CompletedAt == nil {
				exec.Results[i].Outcome = models.OutcomeFailed
				exec.Results[i].Error = "interrupted by process restart"
			}
		}
		exec.Status = models.SyncFailure
		now := time.Now()
		exec.CompletedAt = &now

		if err := o.syncLog.SaveExecution(ctx, exec); err != nil {
			o.logger.Warn().
				Str("execution_id", exec.ID).
				Err(err).
				Msg("Failed to close orphaned execution")
			continue
		}
		o.logger.Warn().
			Str("execution_id", exec.ID).
			Msg("Closed orphaned execution from previous run")
	}

	return nil
}

func (o *Orchestrator) releaseHandle(handle interfaces.SessionHandle) {
	if err := handle.Close(o.cfg.Session.KeepAlive); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to release session handle")
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		o.logger.Debug().Err(err).Msg("Event publish failed")
	}
}

func (o *Orchestrator) hasPaused(executionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.paused {
		if p.executionID == executionID {
			return true
		}
	}
	return false
}

func (o *Orchestrator) removePaused(executionID, platform string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.paused, pauseKey(executionID, platform))
}

func pauseKey(executionID, platform string) string {
	return executionID + "/" + platform
}

// finishJob stamps a job's terminal state
func finishJob(job models.ExtractionJob, err error) models.ExtractionJob {
	now := time.Now()
	job.CompletedAt = &now
	if err != nil {
		job.Status = models.ExtractionFailed
		job.Error = err.Error()
	} else {
		job.Status = models.ExtractionSucceeded
	}
	return job
}

// failed stamps a result with a failure outcome
func failed(result models.PlatformResult, err error) models.PlatformResult {
	result.Outcome = models.OutcomeFailed
	result.Error = err.Error()
	now := time.Now()
	result.CompletedAt = &now
	return result
}
