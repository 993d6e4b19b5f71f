package cloud

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/manifest"
)

func writeFakeAWS(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "aws")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake aws: %v", err)
	}
	return path
}

func TestIsTerminalExecutionStatus(t *testing.T) {
	for _, s := range []string{"SUCCEEDED", "FAILED", "TIMED_OUT", "ABORTED"} {
		if !IsTerminalExecutionStatus(s) {
			t.Fatalf("expected %s terminal", s)
		}
	}
	if IsTerminalExecutionStatus("RUNNING") {
		t.Fatalf("RUNNING should not be terminal")
	}
}

func TestBridge_Submit_HappyPath(t *testing.T) {
	fakeAWS := writeFakeAWS(t, `
case "$1 $2" in
  "--version "*) exit 0;;
esac
if [ "$1" = "--version" ]; then exit 0; fi
if [ "$1" = "sqs" ] && [ "$2" = "get-queue-url" ]; then
  echo '{"QueueUrl":"https://sqs.example/queue"}'
  exit 0
fi
if [ "$1" = "sqs" ] && [ "$2" = "send-message" ]; then
  echo '{"MessageId":"msg-1"}'
  exit 0
fi
if [ "$1" = "stepfunctions" ] && [ "$2" = "start-execution" ]; then
  echo '{"executionArn":"arn:aws:states:exec-1"}'
  exit 0
fi
exit 1
`)
	dir := t.TempDir()
	bridge := Bridge{
		Store:                 manifest.Store{},
		AWSCLIPath:            fakeAWS,
		StatusLogPath:         filepath.Join(dir, "status.jsonl"),
		SubmissionReceiptPath: filepath.Join(dir, "receipt.json"),
		WorkDir:               dir,
	}
	cloud := config.Cloud{
		Mode:            config.CloudAWSHybrid,
		QueueName:       "recomp-queue",
		StateMachineARN: "arn:aws:states:::stateMachine:recomp",
	}
	receipt, err := bridge.Submit(context.Background(), cloud, "run-1",
		manifest.CloudRunRequest{SchemaVersion: manifest.CloudRunRequestSchemaVersion, RunID: "run-1"},
		manifest.CloudStateMachineInput{RunID: "run-1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.ExecutionARN != "arn:aws:states:exec-1" || receipt.SQSMessageID != "msg-1" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if _, err := os.Stat(bridge.SubmissionReceiptPath); err != nil {
		t.Fatalf("expected receipt persisted: %v", err)
	}
}

func TestBridge_Submit_ReusesExistingReceiptForSameRunID(t *testing.T) {
	dir := t.TempDir()
	store := manifest.Store{}
	receiptPath := filepath.Join(dir, "receipt.json")
	existing := manifest.CloudSubmissionReceipt{
		SchemaVersion: manifest.CloudSubmissionReceiptSchemaVersion,
		RunID:         "run-1",
		ExecutionARN:  "arn:aws:states:exec-existing",
	}
	if err := store.WriteJSON(receiptPath, existing); err != nil {
		t.Fatalf("seed receipt: %v", err)
	}
	bridge := Bridge{
		Store:                 store,
		StatusLogPath:         filepath.Join(dir, "status.jsonl"),
		SubmissionReceiptPath: receiptPath,
		WorkDir:               dir,
	}
	receipt, err := bridge.Submit(context.Background(), config.Cloud{}, "run-1", manifest.CloudRunRequest{}, manifest.CloudStateMachineInput{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.ExecutionARN != "arn:aws:states:exec-existing" {
		t.Fatalf("expected reused receipt, got %+v", receipt)
	}
}

func TestBridge_Observe_NoOpWhenObserveExecutionFalse(t *testing.T) {
	disabled := false
	dir := t.TempDir()
	bridge := Bridge{StatusLogPath: filepath.Join(dir, "status.jsonl"), WorkDir: dir}
	if err := bridge.Observe(context.Background(), config.Cloud{ObserveExecution: &disabled}, "run-1", "arn:exec"); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if _, err := os.Stat(bridge.StatusLogPath); err == nil {
		t.Fatalf("expected no status log written when observe disabled")
	}
}

func TestBridge_Observe_StopsAtTerminalStatus(t *testing.T) {
	fakeAWS := writeFakeAWS(t, `
if [ "$1" = "--version" ]; then exit 0; fi
if [ "$1" = "stepfunctions" ] && [ "$2" = "describe-execution" ]; then
  echo '{"status":"SUCCEEDED"}'
  exit 0
fi
exit 1
`)
	dir := t.TempDir()
	bridge := Bridge{
		Store:         manifest.Store{},
		AWSCLIPath:    fakeAWS,
		StatusLogPath: filepath.Join(dir, "status.jsonl"),
		WorkDir:       dir,
	}
	cloud := config.Cloud{ObserveMaxPolls: 5, ObservePollIntervalSeconds: 0}
	if err := bridge.Observe(context.Background(), cloud, "run-1", "arn:exec"); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	raw, err := os.ReadFile(bridge.StatusLogPath)
	if err != nil {
		t.Fatalf("read status log: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected status events written")
	}
}
