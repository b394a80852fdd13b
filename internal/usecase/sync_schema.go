package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpGoServer "github.com/mark3labs/mcp-go/server"
)

// SyncSchemaUseCase builds the tool catalog from an OpenAPI document and
// registers every tool with the MCP server. It runs once, before any transport starts.
type SyncSchemaUseCase struct {
	loader     SchemaLoader
	generator  ToolGenerator
	repository ToolRepository
	mcpServer  MCPServerAdapter
	invoker    *InvokeToolUseCase
	metrics    MetricsRecorder
	logger     *slog.Logger
}

// NewSyncSchemaUseCase creates a new SyncSchemaUseCase.
func NewSyncSchemaUseCase(
	loader SchemaLoader,
	generator ToolGenerator,
	repository ToolRepository,
	mcpServer MCPServerAdapter,
	invoker *InvokeToolUseCase,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *SyncSchemaUseCase {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &SyncSchemaUseCase{
		loader:     loader,
		generator:  generator,
		repository: repository,
		mcpServer:  mcpServer,
		invoker:    invoker,
		metrics:    metrics,
		logger:     logger.With("usecase", "SyncSchema"),
	}
}

// Execute loads specPath, compiles it, stores the catalog and registers the tools.
// It returns the number of registered tools.
func (uc *SyncSchemaUseCase) Execute(ctx context.Context, specPath string) (int, error) {
	log := uc.logger.With(slog.String("spec_path", specPath))
	log.Info("Starting schema sync")

	schema, err := uc.loader.Load(ctx, specPath)
	if err != nil {
		log.Error("Failed to load schema", slog.Any("error", err))
		return 0, fmt.Errorf("failed to load schema from %s: %w", specPath, err)
	}
	log.Info("Schema loaded", slog.String("schema_type", string(schema.Type)))

	tools, details, err := uc.generator.Generate(schema)
	if err != nil {
		log.Error("Failed to generate tools", slog.Any("error", err))
		return 0, fmt.Errorf("failed to generate tools for %s: %w", specPath, err)
	}

	if err := uc.repository.Save(ctx, tools, details); err != nil {
		log.Error("Failed to save generated tools", slog.Any("error", err))
		return 0, fmt.Errorf("failed to save generated tools: %w", err)
	}

	registered := 0
	for _, tool := range tools {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			log.Warn("Skipping tool with unencodable input schema", slog.String("tool_name", tool.Name), slog.Any("error", err))
			continue
		}
		uc.mcpServer.AddTool(mcp.NewToolWithRawSchema(tool.Name, tool.Description, raw), uc.handlerFor(tool.Name))
		registered++
	}
	uc.metrics.SetCatalogSize(registered)

	log.Info("Successfully synced schema and tools", slog.Int("tool_count", registered))
	return registered, nil
}

func (uc *SyncSchemaUseCase) handlerFor(toolName string) mcpGoServer.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return uc.invoker.Execute(ctx, toolName, req.GetArguments())
	}
}
