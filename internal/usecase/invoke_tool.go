package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/i2y/storagemcp/internal/domain"
)

// FilterParamKey is the argument holding free-form query filters.
// Its entries are merged into the outgoing parameters and win over top-level keys.
const FilterParamKey = "queryParams"

// reservedKeys are argument keys that never reach the appliance: credentials,
// the filter wrapper, and identifiers injected by agent frameworks.
var reservedKeys = map[string]struct{}{
	domain.CredentialHost:     {},
	domain.CredentialUsername: {},
	domain.CredentialPassword: {},
	FilterParamKey:            {},
	"sessionId":               {},
	"session_id":              {},
	"action":                  {},
	"chatInput":               {},
	"chat_input":              {},
	"toolCallId":              {},
	"tool_call_id":            {},
	"tool":                    {},
	"toolName":                {},
	"tool_name":               {},
	"requestId":               {},
	"request_id":              {},
	"messageId":               {},
	"message_id":              {},
}

// Call outcomes reported to MetricsRecorder.
const (
	OutcomeSuccess        = "success"
	OutcomeExecutionError = "execution_error"
	OutcomeInvalidArgs    = "invalid_arguments"
	OutcomeToolNotFound   = "tool_not_found"
)

const (
	invokeToolTracerName   = "github.com/i2y/storagemcp/internal/usecase"
	pathNotResolvedMessage = "could not determine API path for tool: "
)

// InvocationDetails holds what the gateway needs to call the operation behind a tool.
type InvocationDetails struct {
	// HTTPMethod is the upper-case HTTP verb.
	HTTPMethod string `json:"http_method"`

	// HTTPPath is the path template as written in the document, e.g. "/api/instances/lun/{id}".
	HTTPPath string `json:"http_path"`

	// BasePath is the API root prefixed to HTTPPath.
	BasePath string `json:"base_path,omitempty"`

	// PathParams lists placeholder names substituted into HTTPPath.
	PathParams []string `json:"path_params,omitempty"`

	// QueryParams lists the declared query parameter names.
	QueryParams []string `json:"query_params,omitempty"`

	// OperationID is the declared operation identifier, if any.
	OperationID string `json:"operation_id,omitempty"`

	// BaseName is the name derived before collision suffixes were applied.
	BaseName string `json:"base_name"`

	// ContentType of a request body for methods that send one.
	ContentType string `json:"content_type,omitempty"`
}

// InvokeToolUseCase validates a tool call, resolves its operation and runs it through the ToolInvoker.
type InvokeToolUseCase struct {
	repository ToolRepository
	invoker    ToolInvoker
	metrics    MetricsRecorder
	tracer     trace.Tracer
	logger     *slog.Logger
}

// InvokeOption configures an InvokeToolUseCase.
type InvokeOption func(*InvokeToolUseCase)

// WithMetrics sets the recorder for call outcomes.
func WithMetrics(m MetricsRecorder) InvokeOption {
	return func(uc *InvokeToolUseCase) {
		if m != nil {
			uc.metrics = m
		}
	}
}

// NewInvokeToolUseCase creates a new InvokeToolUseCase.
func NewInvokeToolUseCase(repo ToolRepository, invoker ToolInvoker, logger *slog.Logger, opts ...InvokeOption) *InvokeToolUseCase {
	uc := &InvokeToolUseCase{
		repository: repo,
		invoker:    invoker,
		metrics:    noopMetrics{},
		tracer:     otel.Tracer(invokeToolTracerName),
		logger:     logger.With("usecase", "InvokeTool"),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Execute runs one tool call.
//
// Malformed calls (missing credentials, unknown tool) return a Go error, which the MCP
// server reports as a protocol error. Failures of the appliance itself return a result
// with IsError set and a JSON envelope describing the failure.
func (uc *InvokeToolUseCase) Execute(ctx context.Context, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	start := time.Now()
	log := uc.logger.With(slog.String("tool_name", toolName), slog.String("invocation_id", uuid.NewString()))

	ctx, span := uc.tracer.Start(ctx, "InvokeTool", trace.WithAttributes(attribute.String("tool.name", toolName)))
	defer span.End()

	result, outcome, err := uc.execute(ctx, log, span, toolName, args)
	uc.metrics.RecordToolCall(toolName, outcome, time.Since(start))
	span.SetAttributes(attribute.String("tool.outcome", outcome))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (uc *InvokeToolUseCase) execute(ctx context.Context, log *slog.Logger, span trace.Span, toolName string, args map[string]interface{}) (*mcp.CallToolResult, string, error) {
	// 1. Credentials
	if len(args) == 0 {
		log.Warn("Tool called without arguments")
		return nil, OutcomeInvalidArgs, &InvalidArgumentsError{Tool: toolName, Missing: append([]string(nil), domain.CredentialNames...)}
	}
	var missing []string
	for _, name := range domain.CredentialNames {
		if isFalsy(args[name]) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		log.Warn("Tool called with missing credentials", slog.Any("missing", missing))
		return nil, OutcomeInvalidArgs, &InvalidArgumentsError{Tool: toolName, Missing: missing}
	}
	creds := domain.Credentials{
		Host:     stringArg(args[domain.CredentialHost]),
		Username: stringArg(args[domain.CredentialUsername]),
		Password: stringArg(args[domain.CredentialPassword]),
	}

	// 2. Catalog lookup
	if _, err := uc.repository.FindToolByName(ctx, toolName); err != nil {
		log.Warn("Tool definition not found", slog.Any("error", err))
		return nil, OutcomeToolNotFound, &ToolNotFoundError{Tool: toolName}
	}

	// 3. Operation lookup
	details, err := uc.resolveDetails(ctx, toolName)
	if err != nil {
		log.Warn("Could not resolve API path", slog.Any("error", err))
		return nil, OutcomeToolNotFound, err
	}
	span.SetAttributes(
		attribute.String("http.route", details.HTTPPath),
		attribute.String("http.request.method", details.HTTPMethod),
	)

	// 4. Parameters
	params := BuildRequestParams(args)
	log.Debug("Invoking upstream API",
		slog.String("method", details.HTTPMethod),
		slog.String("path", details.HTTPPath),
		slog.Int("param_count", len(params)))

	// 5. Upstream call
	body, err := uc.invoker.Invoke(ctx, creds, *details, params)
	if err != nil {
		log.Error("Upstream call failed", slog.Any("error", err))
		span.RecordError(err)
		return executionErrorResult(toolName, err), OutcomeExecutionError, nil
	}

	log.Info("Tool invocation successful", slog.Int("response_bytes", len(body)))
	return mcp.NewToolResultText(string(body)), OutcomeSuccess, nil
}

// resolveDetails finds the operation for toolName: the exact index entry first, then any
// entry whose operationId or base name equals toolName or prefixes it as "<base>_".
// The scan only runs against repositories that hold a tool without its details;
// memrepo indexes both under one name, so it always hits the first lookup.
func (uc *InvokeToolUseCase) resolveDetails(ctx context.Context, toolName string) (*InvocationDetails, error) {
	if d, err := uc.repository.FindInvocationDetailsByName(ctx, toolName); err == nil && d.HTTPPath != "" {
		return d, nil
	}

	all, err := uc.repository.ListInvocationDetails(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocation details: %w", err)
	}
	for i := range all {
		if matchesBase(toolName, all[i].OperationID) {
			return &all[i], nil
		}
	}
	for i := range all {
		if matchesBase(toolName, all[i].BaseName) {
			return &all[i], nil
		}
	}
	return nil, &ToolNotFoundError{Tool: toolName, Message: pathNotResolvedMessage + toolName}
}

func matchesBase(toolName, base string) bool {
	if base == "" {
		return false
	}
	return toolName == base || strings.HasPrefix(toolName, base+"_")
}

// BuildRequestParams strips reserved and null arguments and merges the filter object on top.
// Reserved keys are stripped from the filter object too, so credentials never become query parameters.
func BuildRequestParams(args map[string]interface{}) map[string]interface{} {
	params := make(map[string]interface{}, len(args))
	for k, v := range args {
		if _, reserved := reservedKeys[k]; reserved || v == nil {
			continue
		}
		params[k] = v
	}
	if filters, ok := args[FilterParamKey].(map[string]interface{}); ok {
		for k, v := range filters {
			if _, reserved := reservedKeys[k]; reserved || v == nil {
				continue
			}
			params[k] = v
		}
	}
	return params
}

type errorEnvelope struct {
	Error      string         `json:"error"`
	Message    string         `json:"message"`
	Tool       string         `json:"tool"`
	StatusCode int            `json:"status_code,omitempty"`
	RetryAfter int            `json:"retry_after,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func executionErrorResult(toolName string, err error) *mcp.CallToolResult {
	env := errorEnvelope{
		Error:   string(domain.KindToolExecution),
		Message: err.Error(),
		Tool:    toolName,
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		env.Error = string(apiErr.Kind)
		env.Message = apiErr.Message
		env.StatusCode = apiErr.StatusCode
		env.RetryAfter = apiErr.RetryAfter
		if apiErr.ResponseBody != "" {
			env.Details = map[string]any{"response_body": apiErr.ResponseBody}
		}
	}
	b, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return mcp.NewToolResultError(env.Message)
	}
	return mcp.NewToolResultError(string(b))
}

// isFalsy reports whether a credential argument counts as not supplied.
func isFalsy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	case json.Number:
		return t.String() == "0"
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	}
	return false
}

func stringArg(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
