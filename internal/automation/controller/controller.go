// Package controller implements RunController: the top-level attempt/retry
// loop that resolves strategy order, submits to the cloud bridge, consults
// the agent gateway, and derives a run's final status. Grounded on
// automation.rs's run_automation and, for overall shape (validate first,
// then a synchronous driver loop producing one result value), on
// internal/attractor/engine/run_with_config.go's RunWithConfig.
package controller

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/danshapiro/recomp/internal/automation/agentpolicy"
	"github.com/danshapiro/recomp/internal/automation/attempt"
	"github.com/danshapiro/recomp/internal/automation/cloud"
	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/hashutil"
	"github.com/danshapiro/recomp/internal/automation/manifest"
	"github.com/danshapiro/recomp/internal/automation/pathresolve"
	"github.com/danshapiro/recomp/internal/automation/stage"
	"github.com/danshapiro/recomp/internal/automation/strategy"
)

// Controller drives one run's attempt/retry loop end to end.
type Controller struct {
	Store    manifest.Store
	RunPaths pathresolve.RunPaths
}

// New builds a Controller wired to runPaths with the default on-disk store.
func New(runPaths pathresolve.RunPaths) Controller {
	return Controller{Store: manifest.Store{}, RunPaths: runPaths}
}

// Outcome is what Run produces: the final run manifest and its audit
// summary, both already persisted to work_root.
type Outcome struct {
	Manifest manifest.RunManifest
	Summary  manifest.RunSummary
}

// Run executes cfg's full attempt/retry loop, returning the completed (or
// halted) run. It never returns a non-nil error for a failed/needs_review
// attempt outcome — only for conditions spec.md §7 classifies as fatal.
func (c Controller) Run(ctx context.Context, cfg config.AutomationConfig) (Outcome, error) {
	started := time.Now()

	if cfg.Cloud.Mode == config.CloudAWSHybrid {
		if err := pathresolve.ValidateWorkRootOutsideRepo(c.RunPaths.RepoRoot, c.RunPaths.WorkRoot); err != nil {
			return Outcome{}, err
		}
	}
	for _, dir := range []string{c.RunPaths.WorkRoot, c.RunPaths.AttemptsRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Outcome{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	inputs, err := attempt.GatherInputs(cfg, c.RunPaths)
	if err != nil {
		return Outcome{}, err
	}
	fingerprint := hashutil.Fingerprint(inputs)
	runID := fmt.Sprintf("run-%d-%s", started.Unix(), fingerprint[:8])

	resume := cfg.Run.Resume == nil || *cfg.Run.Resume

	var previousManifest *manifest.RunManifest
	if m, loadErr := c.Store.LoadRunManifest(c.RunPaths.RunManifest); loadErr == nil {
		previousManifest = &m
	}

	bridge := cloud.Bridge{
		Store:                 c.Store,
		AWSCLIPath:            cfg.Cloud.AWSCLIPath,
		StatusLogPath:         c.RunPaths.CloudStatusLog,
		SubmissionReceiptPath: c.RunPaths.CloudSubmissionReceipt,
		WorkDir:               c.RunPaths.ConfigDir,
	}

	if resume && cfg.Cloud.Mode == config.CloudAWSHybrid {
		if receipt, loadErr := c.Store.LoadCloudSubmissionReceipt(c.RunPaths.CloudSubmissionReceipt); loadErr == nil && receipt != nil && receipt.InputFingerprint == fingerprint {
			runID = receipt.RunID
		}
	}

	if resume && previousManifest != nil && previousManifest.InputFingerprint == fingerprint &&
		previousManifest.FinalStatus != nil && *previousManifest.FinalStatus == manifest.RunPassed &&
		stage.ManifestOutputsExist(c.RunPaths.ConfigDir, *previousManifest) {
		return Outcome{Manifest: *previousManifest, Summary: priorSummary(previousManifest)}, nil
	}

	order, err := strategy.ResolveOrder(cfg)
	if err != nil {
		return Outcome{}, err
	}

	maxAttempts := 1
	if cfg.Loop.Enabled {
		maxAttempts = 1 + cfg.Loop.MaxRetries
	}

	if cfg.Cloud.Mode == config.CloudAWSHybrid {
		if err := c.submitToCloud(ctx, cfg, bridge, runID, fingerprint, maxAttempts); err != nil {
			return Outcome{}, err
		}
	}

	var gatewaySchema *agentpolicy.GatewaySchema
	if cfg.Agent.Enabled {
		schemaPath := config.ResolveAgentGatewaySchemaPath(c.RunPaths.RepoRoot, cfg.Agent)
		loaded, loadErr := agentpolicy.LoadGatewaySchema(schemaPath)
		if loadErr != nil {
			return Outcome{}, loadErr
		}
		gatewaySchema = &loaded
		if err := c.audit(runID, "policy_initialized", nil, "", "", agentpolicy.ApprovalMode(cfg.Agent), true, "agent policy initialized"); err != nil {
			return Outcome{}, err
		}
	}

	mutationState := strategy.NewMutationState()
	mutationState.PerceptualOffsetSeconds = cfg.Gates.Perceptual.OffsetSeconds

	runner := attempt.Runner{Store: c.Store, RunPaths: c.RunPaths}
	runningCfg := cfg

	var (
		records        []manifest.AttemptRecord
		lastTriage     *manifest.TriageReport
		lastHashGate   *manifest.HashGateResult
		winningAttempt *int
		haltedReason   string
		used           = map[strategy.Kind]bool{}
		attemptsRun    int
		finalManifest  manifest.RunManifest
	)

loop:
	for n := 0; n < maxAttempts; n++ {
		if cfg.Loop.Enabled && time.Since(started) > time.Duration(cfg.Loop.MaxRuntimeMinutes)*time.Minute {
			haltedReason = "max_runtime_exceeded"
			break loop
		}

		var selected *strategy.Kind
		if n > 0 {
			hint := ""
			if lastTriage != nil {
				hint = lastTriage.NextStrategy
			}
			k, ok := strategy.SelectNext(order, hint, used, runningCfg)
			if !ok {
				haltedReason = "strategy_exhausted"
				break loop
			}
			selected = &k
		}

		attemptPaths := pathresolve.DeriveAttemptPaths(c.RunPaths, n)

		if n > 0 && cfg.Agent.Enabled {
			allowed, reason, err := c.evaluateAgentPolicy(ctx, runningCfg, runID, n, *selected, lastTriage, gatewaySchema)
			if err != nil {
				return Outcome{}, err
			}
			attemptNum := n
			if auditErr := c.audit(runID, "strategy_decision", &attemptNum, selected.ID(), cfg.Agent.Model, agentpolicy.ApprovalMode(cfg.Agent), allowed, reason); auditErr != nil {
				return Outcome{}, auditErr
			}
			if !allowed {
				haltedReason = reason
				break loop
			}
		}

		if n > 0 {
			if err := mutationState.Apply(*selected, &runningCfg, attemptPaths.MutationsDir, lastHashGate); err != nil {
				return Outcome{}, err
			}
			used[*selected] = true
		}

		var previousForAttempt *manifest.RunManifest
		if n == 0 {
			previousForAttempt = previousManifest
		}

		exec, err := runner.RunAttempt(ctx, runningCfg, n, selected, previousForAttempt, mutationState.PerceptualOffsetSeconds)
		if err != nil {
			return Outcome{}, err
		}
		attemptsRun = n + 1
		finalManifest = exec.Manifest

		record := manifest.AttemptRecord{
			Attempt:         n,
			Status:          exec.Status,
			AttemptManifest: exec.AttemptManifestPath,
			GateResults:     exec.GateResultsPath,
			Triage:          exec.TriagePath,
		}
		if selected != nil {
			record.Strategy = selected.ID()
		}
		records = append(records, record)

		triageCopy := exec.Triage
		lastTriage = &triageCopy
		hashGateCopy := exec.HashGate
		lastHashGate = &hashGateCopy

		if exec.Status == manifest.AttemptPassed && winningAttempt == nil {
			w := n
			winningAttempt = &w
		}

		if cfg.Cloud.Mode == config.CloudAWSHybrid {
			attemptNum := n
			status := exec.Status
			if err := bridge.AppendStatus(runID, "attempt_completed", &attemptNum, &status, nil,
				fmt.Sprintf("strategy=%s", record.Strategy)); err != nil {
				return Outcome{}, err
			}
		}

		if exec.Status == manifest.AttemptPassed && (cfg.Loop.StopOnFirstPass == nil || *cfg.Loop.StopOnFirstPass) {
			break loop
		}
	}

	finalStatus := deriveFinalStatus(records, haltedReason, attemptsRun, maxAttempts)
	durationMS := time.Since(started).Milliseconds()

	if attemptsRun == 0 {
		finalManifest = manifest.RunManifest{
			SchemaVersion:    manifest.RunManifestSchemaVersion,
			InputFingerprint: fingerprint,
			Inputs:           inputs,
		}
	}
	finalManifest.Attempts = records
	finalManifest.WinningAttempt = winningAttempt
	fs := finalStatus
	finalManifest.FinalStatus = &fs
	strategyCatalog := make([]string, len(order))
	for i, k := range order {
		strategyCatalog[i] = k.ID()
	}
	finalManifest.StrategyCatalog = strategyCatalog

	summary := manifest.RunSummary{
		SchemaVersion:    manifest.RunSummarySchemaVersion,
		RunID:            runID,
		InputFingerprint: fingerprint,
		Status:           finalStatus,
		Attempts:         attemptsRun,
		WinningAttempt:   winningAttempt,
		DurationMS:       durationMS,
		CloudMode:        string(cfg.Cloud.Mode),
		AgentEnabled:     cfg.Agent.Enabled,
		HaltedReason:     haltedReason,
	}
	if cfg.Cloud.Mode == config.CloudAWSHybrid {
		summary.CloudRunRequest = c.RunPaths.CloudRunRequest
		summary.CloudStatusLog = c.RunPaths.CloudStatusLog
	}
	if cfg.Agent.Enabled {
		summary.AgentAuditLog = c.RunPaths.AgentAuditLog
	}
	finalManifest.RunSummary = &summary

	if err := c.Store.WriteJSON(c.RunPaths.RunManifest, finalManifest); err != nil {
		return Outcome{}, err
	}
	if err := c.Store.WriteJSON(c.RunPaths.RunSummary, summary); err != nil {
		return Outcome{}, err
	}

	if cfg.Cloud.Mode == config.CloudAWSHybrid {
		fsPtr := finalStatus
		if err := bridge.AppendStatus(runID, "run_completed", nil, nil, &fsPtr, haltedReason); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Manifest: finalManifest, Summary: summary}, nil
}

func (c Controller) submitToCloud(ctx context.Context, cfg config.AutomationConfig, bridge cloud.Bridge, runID, fingerprint string, maxAttempts int) error {
	runRequest := manifest.CloudRunRequest{
		SchemaVersion:     manifest.CloudRunRequestSchemaVersion,
		RunID:             runID,
		QueueName:         cfg.Cloud.QueueName,
		ArtifactURI:       cfg.Cloud.ArtifactURI,
		StateMachineARN:   cfg.Cloud.StateMachineARN,
		InputFingerprint:  fingerprint,
		MaxAttempts:       maxAttempts,
		MaxRuntimeMinutes: cfg.Loop.MaxRuntimeMinutes,
		SubmittedUnix:     time.Now().Unix(),
	}
	stateInput := manifest.CloudStateMachineInput{
		RunID:            runID,
		RunRequestPath:   c.RunPaths.CloudRunRequest,
		InputFingerprint: fingerprint,
		MaxAttempts:      maxAttempts,
	}
	if err := c.Store.WriteJSON(c.RunPaths.CloudRunRequest, runRequest); err != nil {
		return err
	}
	if err := c.Store.WriteJSON(c.RunPaths.CloudStateMachineInput, stateInput); err != nil {
		return err
	}
	receipt, err := bridge.Submit(ctx, cfg.Cloud, runID, runRequest, stateInput)
	if err != nil {
		return err
	}
	return bridge.Observe(ctx, cfg.Cloud, runID, receipt.ExecutionARN)
}

// evaluateAgentPolicy always runs both the gateway check and the local
// policy check (each is a no-op allow when agent.enabled=false) and combines
// them: either denier's reason wins outright, and only the allow/allow path
// joins both reasons. Mirrors the evaluate_agent_gateway_strategy/
// evaluate_agent_strategy_policy call site in run_automation.
func (c Controller) evaluateAgentPolicy(ctx context.Context, cfg config.AutomationConfig, runID string, attemptNum int, selected strategy.Kind, lastTriage *manifest.TriageReport, schema *agentpolicy.GatewaySchema) (bool, string, error) {
	gatewayAllowed, gatewayReason, err := agentpolicy.EvaluateGateway(ctx, cfg.Agent, agentpolicy.GatewayContext{
		RunID:          runID,
		Attempt:        attemptNum,
		Strategy:       selected,
		PreviousTriage: lastTriage,
		Env:            attempt.SubprocessEnv(c.RunPaths, cfg),
		WorkDir:        c.RunPaths.ConfigDir,
		Schema:         schema,
	})
	if err != nil {
		return false, "", err
	}
	policyAllowed, policyReason := agentpolicy.EvaluateLocalPolicy(cfg.Agent)

	allowed := gatewayAllowed && policyAllowed
	switch {
	case !gatewayAllowed:
		return false, gatewayReason, nil
	case !policyAllowed:
		return false, policyReason, nil
	default:
		return allowed, gatewayReason + "; " + policyReason, nil
	}
}

func (c Controller) audit(runID, event string, attemptNum *int, strategyID, model, approvalMode string, allowed bool, reason string) error {
	return c.Store.AppendJSONL(c.RunPaths.AgentAuditLog, manifest.AgentAuditEvent{
		SchemaVersion: manifest.AgentAuditSchemaVersion,
		RunID:         runID,
		Event:         event,
		Unix:          time.Now().Unix(),
		Attempt:       attemptNum,
		Strategy:      strategyID,
		Model:         model,
		ApprovalMode:  approvalMode,
		Allowed:       allowed,
		Reason:        reason,
		Redacted:      true,
	})
}

// deriveFinalStatus implements spec.md §4.13's priority rules: a pass
// anywhere wins outright; a halt (without a pass) reads as needs_review;
// otherwise needs_review vs. exhausted is decided by whether the loop ran
// its full attempt budget.
func deriveFinalStatus(records []manifest.AttemptRecord, haltedReason string, attemptsRun, maxAttempts int) manifest.RunFinalStatus {
	anyPassed := false
	anyNeedsReview := false
	for _, r := range records {
		switch r.Status {
		case manifest.AttemptPassed:
			anyPassed = true
		case manifest.AttemptNeedsReview:
			anyNeedsReview = true
		}
	}
	switch {
	case anyPassed:
		return manifest.RunPassed
	case haltedReason != "":
		return manifest.RunNeedsReview
	case anyNeedsReview:
		if attemptsRun >= maxAttempts {
			return manifest.RunNeedsReview
		}
		return manifest.RunExhausted
	case attemptsRun >= maxAttempts:
		return manifest.RunExhausted
	default:
		return manifest.RunFailed
	}
}

func priorSummary(m *manifest.RunManifest) manifest.RunSummary {
	if m.RunSummary != nil {
		return *m.RunSummary
	}
	return manifest.RunSummary{}
}
