package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/i2y/storagemcp/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
	mcpGoServer "github.com/mark3labs/mcp-go/server"
)

// Standard errors returned by use cases and adapters.
var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrCatalogSealed    = errors.New("tool catalog already initialized")
)

// InvalidArgumentsError reports missing or empty required arguments.
type InvalidArgumentsError struct {
	Tool    string
	Missing []string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("missing required parameters: %s", strings.Join(e.Missing, ", "))
}

func (e *InvalidArgumentsError) Is(target error) bool { return target == ErrInvalidArguments }

// ToolNotFoundError reports an unknown tool or a tool whose path cannot be resolved.
type ToolNotFoundError struct {
	Tool    string
	Message string
}

func (e *ToolNotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "tool not found: " + e.Tool
}

func (e *ToolNotFoundError) Is(target error) bool { return target == ErrToolNotFound }

// --- Spec Source Related ---

// SchemaLoader reads an API description from a local file.
type SchemaLoader interface {
	Load(ctx context.Context, path string) (domain.APISchema, error)
}

// ToolGenerator compiles a loaded APISchema into Tools and index-aligned InvocationDetails.
type ToolGenerator interface {
	Generate(schema domain.APISchema) ([]domain.Tool, []InvocationDetails, error)
}

// ToolRepository stores the compiled catalog.
// Save succeeds once; afterwards the catalog is read-only and safe for concurrent reads.
type ToolRepository interface {
	Save(ctx context.Context, tools []domain.Tool, details []InvocationDetails) error

	// List returns tools in compilation order.
	List(ctx context.Context) ([]domain.Tool, error)

	FindToolByName(ctx context.Context, name string) (*domain.Tool, error)

	FindInvocationDetailsByName(ctx context.Context, name string) (*InvocationDetails, error)

	// ListInvocationDetails returns every index entry in compilation order.
	ListInvocationDetails(ctx context.Context) ([]InvocationDetails, error)
}

// --- MCP Server Abstraction ---

// MCPServerAdapter is the part of the mcp-go server used during catalog sync.
type MCPServerAdapter interface {
	AddTool(tool mcp.Tool, handlerFunc mcpGoServer.ToolHandlerFunc)
}

// --- Tool Invocation Related ---

// ToolInvoker executes one upstream API call.
type ToolInvoker interface {
	Invoke(ctx context.Context, creds domain.Credentials, details InvocationDetails, params map[string]interface{}) (json.RawMessage, error)
}

// MetricsRecorder receives per-call outcomes. Implementations must be safe for concurrent use.
type MetricsRecorder interface {
	RecordToolCall(tool, outcome string, duration time.Duration)
	SetCatalogSize(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordToolCall(string, string, time.Duration) {}
func (noopMetrics) SetCatalogSize(int)                           {}
