// Package agentpolicy implements the two-layer external approval oracle a
// strategy mutation must pass before it is applied: a local policy check
// and, when a gateway command is configured, a remote gateway subprocess
// check whose JSON response is schema-validated. Grounded on automation.rs's
// evaluate_agent_strategy_policy/evaluate_agent_gateway_strategy/
// validate_agent_gateway_response.
package agentpolicy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/manifest"
	"github.com/danshapiro/recomp/internal/automation/procexec"
	"github.com/danshapiro/recomp/internal/automation/strategy"
)

// ApprovalMode returns the agent's configured approval mode, defaulting to
// "config_patch_only" when unset.
func ApprovalMode(agent config.Agent) string {
	if agent.ApprovalMode == "" {
		return "config_patch_only"
	}
	return agent.ApprovalMode
}

// EvaluateLocalPolicy mirrors evaluate_agent_strategy_policy: a disabled
// agent always allows (there is nothing to gate), a zero-or-negative cost
// cap always denies, and otherwise the decision is fixed by approval mode.
func EvaluateLocalPolicy(agent config.Agent) (allowed bool, reason string) {
	if !agent.Enabled {
		return true, "agent disabled"
	}
	if agent.MaxCostUSD != nil && *agent.MaxCostUSD <= 0 {
		return false, "agent max_cost_usd exhausted"
	}
	switch ApprovalMode(agent) {
	case "manual":
		return false, "manual approval required"
	case "disabled":
		return false, "agent approval mode disabled mutations"
	default:
		return true, "approved by policy"
	}
}

// GatewaySchema is the subset of the JSON schema document this package
// needs to validate a gateway response beyond generic schema compliance:
// the exact schema_version constant and the permitted strategy enum.
type GatewaySchema struct {
	Compiled         *jsonschema.Schema
	SchemaVersionConst string
	StrategyEnum     map[string]bool
}

// LoadGatewaySchema compiles path with jsonschema/v5 and extracts the
// schema_version const and strategy enum this package's validation needs,
// mirroring load_agent_gateway_schema.
func LoadGatewaySchema(path string) (GatewaySchema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return GatewaySchema{}, fmt.Errorf("read agent gateway schema %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return GatewaySchema{}, fmt.Errorf("parse agent gateway schema %s: %w", path, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(path, strings.NewReader(string(raw))); err != nil {
		return GatewaySchema{}, fmt.Errorf("compile agent gateway schema %s: %w", path, err)
	}
	compiled, err := compiler.Compile(path)
	if err != nil {
		return GatewaySchema{}, fmt.Errorf("compile agent gateway schema %s: %w", path, err)
	}

	schemaVersionConst, ok := pointerString(doc, "properties", "schema_version", "const")
	if !ok {
		return GatewaySchema{}, fmt.Errorf("agent gateway schema %s missing /properties/schema_version/const", path)
	}

	enumValues, ok := pointerSlice(doc, "properties", "strategy", "enum")
	if !ok {
		return GatewaySchema{}, fmt.Errorf("agent gateway schema %s missing /properties/strategy/enum", path)
	}
	strategyEnum := map[string]bool{}
	for _, v := range enumValues {
		s, ok := v.(string)
		if !ok {
			return GatewaySchema{}, fmt.Errorf("agent gateway schema %s has non-string strategy enum value", path)
		}
		strategyEnum[s] = true
	}
	if len(strategyEnum) == 0 {
		return GatewaySchema{}, fmt.Errorf("agent gateway schema %s has empty strategy enum", path)
	}

	return GatewaySchema{Compiled: compiled, SchemaVersionConst: schemaVersionConst, StrategyEnum: strategyEnum}, nil
}

func pointerString(doc map[string]any, keys ...string) (string, bool) {
	node, ok := walk(doc, keys)
	if !ok {
		return "", false
	}
	s, ok := node.(string)
	return s, ok
}

func pointerSlice(doc map[string]any, keys ...string) ([]any, bool) {
	node, ok := walk(doc, keys)
	if !ok {
		return nil, false
	}
	s, ok := node.([]any)
	return s, ok
}

func walk(doc map[string]any, keys []string) (any, bool) {
	var current any = doc
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// GatewayContext carries the dependencies EvaluateGateway needs beyond the
// config: the run id, attempt, strategy, previous triage (nil for the
// first attempt), and environment to inject into the subprocess.
type GatewayContext struct {
	RunID             string
	Attempt           int
	Strategy          strategy.Kind
	PreviousTriage     *manifest.TriageReport
	Env               []string
	WorkDir           string
	Schema            *GatewaySchema
}

// EvaluateGateway invokes the configured gateway command, passing an
// AgentGatewayRequest via RECOMP_AGENT_GATEWAY_REQUEST, and validates the
// JSON response against ctx.Schema. Mirrors evaluate_agent_gateway_strategy.
func EvaluateGateway(ctx context.Context, agent config.Agent, gctx GatewayContext) (allowed bool, reason string, err error) {
	if !agent.Enabled {
		return true, "agent disabled", nil
	}
	if len(agent.Gateway.Command) == 0 {
		return false, "agent.gateway.command is required for strategy decisions", nil
	}

	var previousCategories, previousFindings []string
	if gctx.PreviousTriage != nil {
		previousCategories = gctx.PreviousTriage.Categories
		previousFindings = gctx.PreviousTriage.Findings
	}

	request := manifest.AgentGatewayRequest{
		SchemaVersion:      manifest.AgentGatewayRequestSchemaVersion,
		RequestID:          ulid.Make().String(),
		RunID:              gctx.RunID,
		Attempt:            gctx.Attempt,
		Strategy:           gctx.Strategy.ID(),
		PreviousCategories: previousCategories,
		PreviousFindings:   previousFindings,
	}
	requestJSON, err := json.Marshal(request)
	if err != nil {
		return false, "", fmt.Errorf("serialize agent gateway request: %w", err)
	}

	env := append(append([]string{}, gctx.Env...), "RECOMP_AGENT_GATEWAY_REQUEST="+string(requestJSON))
	result, runErr := procexec.Run(ctx, "agent_gateway", gctx.WorkDir, env, agent.Gateway.Command)
	if runErr != nil {
		return false, "", fmt.Errorf("run agent gateway command failed: %w", runErr)
	}

	stdout := strings.TrimSpace(result.Stdout)
	if stdout == "" {
		return false, "agent gateway returned empty response", nil
	}

	var response manifest.AgentGatewayResponse
	if err := json.Unmarshal([]byte(stdout), &response); err != nil {
		return false, "", fmt.Errorf("invalid agent gateway response JSON: %w", err)
	}
	if gctx.Schema == nil {
		return false, "", fmt.Errorf("agent gateway schema context is missing")
	}

	if err := validateGatewayResponse(response, gctx.Strategy, agent.Gateway.ReasonMaxLen, *gctx.Schema); err != nil {
		return false, fmt.Sprintf("gateway rejected strategy (request_id=%s): %v", request.RequestID, err), nil
	}
	if gctx.Schema.Compiled != nil {
		var instance any
		if err := json.Unmarshal([]byte(stdout), &instance); err != nil {
			return false, "", fmt.Errorf("invalid agent gateway response JSON: %w", err)
		}
		if err := gctx.Schema.Compiled.Validate(instance); err != nil {
			return false, fmt.Sprintf("gateway rejected strategy (request_id=%s): %v", request.RequestID, err), nil
		}
	}
	return true, fmt.Sprintf("gateway approved strategy=%s confidence=%.3f cost_usd=%.6f request_id=%s",
		response.Strategy, response.Confidence, response.CostUSD, request.RequestID), nil
}

func validateGatewayResponse(response manifest.AgentGatewayResponse, selected strategy.Kind, maxReasonLen int, schema GatewaySchema) error {
	if response.SchemaVersion != manifest.AgentGatewayResponseSchemaVersion {
		return fmt.Errorf("schema_version=%s is unsupported", response.SchemaVersion)
	}
	if response.SchemaVersion != schema.SchemaVersionConst {
		return fmt.Errorf("schema_version=%s does not match schema const %s", response.SchemaVersion, schema.SchemaVersionConst)
	}
	if !schema.StrategyEnum[response.Strategy] {
		return fmt.Errorf("strategy `%s` not permitted by schema enum", response.Strategy)
	}
	gatewayStrategy, ok := strategy.FromID(response.Strategy)
	if !ok {
		return fmt.Errorf("unknown strategy `%s`", response.Strategy)
	}
	if gatewayStrategy != selected {
		return fmt.Errorf("strategy mismatch (gateway=%s, selected=%s)", gatewayStrategy.ID(), selected.ID())
	}
	if response.Confidence != response.Confidence || response.Confidence < 0 || response.Confidence > 1 {
		return fmt.Errorf("confidence %v is outside [0, 1]", response.Confidence)
	}
	reason := strings.TrimSpace(response.Reason)
	if reason == "" {
		return fmt.Errorf("reason must be non-empty")
	}
	if len(response.Reason) > maxReasonLen {
		return fmt.Errorf("reason length %d exceeds max %d", len(response.Reason), maxReasonLen)
	}
	return nil
}
