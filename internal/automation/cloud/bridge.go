// Package cloud implements the AWS-hybrid submission and observation path
// by shelling out to the aws CLI, grounded on automation.rs's
// submit_aws_hybrid/observe_aws_execution. No AWS SDK is used: the original
// source itself only ever invokes an external aws binary for this surface.
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/manifest"
	"github.com/danshapiro/recomp/internal/automation/procexec"
)

var terminalExecutionStatuses = map[string]bool{
	"SUCCEEDED": true,
	"FAILED":    true,
	"TIMED_OUT": true,
	"ABORTED":   true,
}

// IsTerminalExecutionStatus reports whether a Step Functions execution
// status is one of the four terminal states.
func IsTerminalExecutionStatus(status string) bool {
	return terminalExecutionStatuses[status]
}

// Bridge submits and observes AWS-hybrid runs via an external aws CLI.
type Bridge struct {
	Store             manifest.Store
	AWSCLIPath        string
	StatusLogPath     string
	SubmissionReceiptPath string
	WorkDir           string
}

func (b Bridge) awsCLI() string {
	if b.AWSCLIPath != "" {
		return b.AWSCLIPath
	}
	return "aws"
}

// Submit mirrors submit_aws_hybrid: reuse a prior receipt for the same run
// id if one exists, otherwise resolve the queue URL, send the run request,
// start the state-machine execution, and persist the resulting receipt.
func (b Bridge) Submit(ctx context.Context, cloud config.Cloud, runID string, runRequest manifest.CloudRunRequest, stateInput manifest.CloudStateMachineInput) (manifest.CloudSubmissionReceipt, error) {
	existing, err := b.Store.LoadCloudSubmissionReceipt(b.SubmissionReceiptPath)
	if err != nil {
		return manifest.CloudSubmissionReceipt{}, err
	}
	if existing != nil && existing.RunID == runID {
		if err := b.appendStatus(runID, "submission_reused", nil, nil, nil,
			fmt.Sprintf("existing execution reused: %s", existing.ExecutionARN)); err != nil {
			return manifest.CloudSubmissionReceipt{}, err
		}
		return *existing, nil
	}

	if cloud.StateMachineARN == "" {
		return manifest.CloudSubmissionReceipt{}, fmt.Errorf("cloud.state_machine_arn is required when mode=aws_hybrid")
	}
	if cloud.QueueName == "" {
		return manifest.CloudSubmissionReceipt{}, fmt.Errorf("cloud.queue_name is required when mode=aws_hybrid")
	}

	if err := procexec.EnsureWorks(ctx, "aws CLI availability", b.WorkDir, []string{b.awsCLI(), "--version"}); err != nil {
		return manifest.CloudSubmissionReceipt{}, err
	}

	if err := b.appendStatus(runID, "submit_started", nil, nil, nil, "submitting aws_hybrid run request"); err != nil {
		return manifest.CloudSubmissionReceipt{}, err
	}

	queueURL := cloud.QueueURL
	if queueURL == "" {
		out, err := procexec.Run(ctx, "aws sqs get-queue-url", b.WorkDir, nil, []string{
			b.awsCLI(), "sqs", "get-queue-url", "--queue-name", cloud.QueueName, "--output", "json",
		})
		if err != nil {
			return manifest.CloudSubmissionReceipt{}, err
		}
		queueURL, err = requiredJSONString(out.Stdout, "QueueUrl", "aws sqs get-queue-url")
		if err != nil {
			return manifest.CloudSubmissionReceipt{}, err
		}
	}

	messageBody, err := json.Marshal(runRequest)
	if err != nil {
		return manifest.CloudSubmissionReceipt{}, fmt.Errorf("serialize run request: %w", err)
	}
	out, err := procexec.Run(ctx, "aws sqs send-message", b.WorkDir, nil, []string{
		b.awsCLI(), "sqs", "send-message", "--queue-url", queueURL, "--message-body", string(messageBody), "--output", "json",
	})
	if err != nil {
		return manifest.CloudSubmissionReceipt{}, err
	}
	sqsMessageID, err := requiredJSONString(out.Stdout, "MessageId", "aws sqs send-message")
	if err != nil {
		return manifest.CloudSubmissionReceipt{}, err
	}
	if err := b.appendStatus(runID, "sqs_message_submitted", nil, nil, nil,
		fmt.Sprintf("queue_url=%s;message_id=%s", queueURL, sqsMessageID)); err != nil {
		return manifest.CloudSubmissionReceipt{}, err
	}

	executionInput, err := json.Marshal(stateInput)
	if err != nil {
		return manifest.CloudSubmissionReceipt{}, fmt.Errorf("serialize state input: %w", err)
	}
	out, err = procexec.Run(ctx, "aws stepfunctions start-execution", b.WorkDir, nil, []string{
		b.awsCLI(), "stepfunctions", "start-execution",
		"--state-machine-arn", cloud.StateMachineARN,
		"--name", runID,
		"--input", string(executionInput),
		"--output", "json",
	})
	if err != nil {
		return manifest.CloudSubmissionReceipt{}, err
	}
	executionARN, err := requiredJSONString(out.Stdout, "executionArn", "aws stepfunctions start-execution")
	if err != nil {
		return manifest.CloudSubmissionReceipt{}, err
	}

	receipt := manifest.CloudSubmissionReceipt{
		SchemaVersion:    manifest.CloudSubmissionReceiptSchemaVersion,
		RunID:            runID,
		InputFingerprint: runRequest.InputFingerprint,
		QueueURL:         queueURL,
		SQSMessageID:     sqsMessageID,
		ExecutionARN:     executionARN,
		ExecutionName:    runID,
		SubmittedUnix:    time.Now().Unix(),
	}
	if err := b.Store.WriteJSON(b.SubmissionReceiptPath, receipt); err != nil {
		return manifest.CloudSubmissionReceipt{}, err
	}
	if err := b.appendStatus(runID, "worker_execution_started", nil, nil, nil, executionARN); err != nil {
		return manifest.CloudSubmissionReceipt{}, err
	}

	return receipt, nil
}

// Observe mirrors observe_aws_execution: poll describe-execution until a
// terminal status is seen or the poll budget is exhausted, logging a
// status event at each step. A no-op when cloud.observe_execution is false.
func (b Bridge) Observe(ctx context.Context, cloud config.Cloud, runID, executionARN string) error {
	if cloud.ObserveExecution != nil && !*cloud.ObserveExecution {
		return nil
	}

	if err := procexec.EnsureWorks(ctx, "aws CLI availability", b.WorkDir, []string{b.awsCLI(), "--version"}); err != nil {
		return err
	}

	maxPolls := cloud.ObserveMaxPolls
	for poll := 0; poll < maxPolls; poll++ {
		out, err := procexec.Run(ctx, "aws stepfunctions describe-execution", b.WorkDir, nil, []string{
			b.awsCLI(), "stepfunctions", "describe-execution", "--execution-arn", executionARN, "--output", "json",
		})
		if err != nil {
			return err
		}
		status, err := requiredJSONString(out.Stdout, "status", "aws stepfunctions describe-execution")
		if err != nil {
			return err
		}
		if err := b.appendStatus(runID, "worker_execution_observed", nil, nil, nil,
			fmt.Sprintf("execution_arn=%s;status=%s", executionARN, status)); err != nil {
			return err
		}

		if IsTerminalExecutionStatus(status) {
			return b.appendStatus(runID, "worker_execution_terminal", nil, nil, nil,
				fmt.Sprintf("execution_arn=%s;status=%s", executionARN, status))
		}

		if poll+1 < maxPolls {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(cloud.ObservePollIntervalSeconds) * time.Second):
			}
		}
	}

	return b.appendStatus(runID, "worker_execution_observe_timeout", nil, nil, nil,
		fmt.Sprintf("execution_arn=%s;polls=%d", executionARN, maxPolls))
}

// AppendStatus appends a generic run-lifecycle cloud status event, used by
// the controller for "run_completed"-style events bracketing the attempt
// loop.
func (b Bridge) AppendStatus(runID, event string, attempt *int, status *manifest.AttemptStatus, final *manifest.RunFinalStatus, detail string) error {
	return b.appendStatus(runID, event, attempt, status, final, detail)
}

func (b Bridge) appendStatus(runID, event string, attempt *int, status *manifest.AttemptStatus, final *manifest.RunFinalStatus, detail string) error {
	return b.Store.AppendCloudStatusEvent(b.StatusLogPath, manifest.CloudStatusEvent{
		SchemaVersion: manifest.CloudStatusEventSchemaVersion,
		RunID:         runID,
		Event:         event,
		Unix:          time.Now().Unix(),
		Attempt:       attempt,
		Status:        status,
		FinalStatus:   final,
		Detail:        detail,
	})
}

func requiredJSONString(raw, field, label string) (string, error) {
	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return "", fmt.Errorf("parse %s output as json: %w", label, err)
	}
	s, ok := value[field].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s output missing required field %q", label, field)
	}
	return s, nil
}
