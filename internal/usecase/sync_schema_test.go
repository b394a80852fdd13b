package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpGoServer "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i2y/storagemcp/internal/domain"
	"github.com/i2y/storagemcp/internal/usecase"
)

// MockSchemaLoader is a mock implementation of the SchemaLoader interface.
type MockSchemaLoader struct {
	mock.Mock
}

func (m *MockSchemaLoader) Load(ctx context.Context, path string) (domain.APISchema, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(domain.APISchema), args.Error(1)
}

// MockToolGenerator is a mock implementation of the ToolGenerator interface.
type MockToolGenerator struct {
	mock.Mock
}

func (m *MockToolGenerator) Generate(schema domain.APISchema) ([]domain.Tool, []usecase.InvocationDetails, error) {
	args := m.Called(schema)
	var toolsSlice []domain.Tool
	var detailsSlice []usecase.InvocationDetails
	if tools := args.Get(0); tools != nil {
		toolsSlice = tools.([]domain.Tool)
	}
	if details := args.Get(1); details != nil {
		detailsSlice = details.([]usecase.InvocationDetails)
	}
	return toolsSlice, detailsSlice, args.Error(2)
}

// fakeMCPServer records registered tools.
type fakeMCPServer struct {
	tools    []mcp.Tool
	handlers map[string]mcpGoServer.ToolHandlerFunc
}

func (f *fakeMCPServer) AddTool(tool mcp.Tool, handler mcpGoServer.ToolHandlerFunc) {
	if f.handlers == nil {
		f.handlers = make(map[string]mcpGoServer.ToolHandlerFunc)
	}
	f.tools = append(f.tools, tool)
	f.handlers[tool.Name] = handler
}

func TestSyncSchemaUseCase_Execute(t *testing.T) {
	ctx := context.Background()
	specPath := "/specs/unity.json"
	schema := domain.APISchema{Source: specPath, Type: domain.SchemaTypeOpenAPI, ParsedData: "parsed"}
	tools := []domain.Tool{
		{
			Name:        "getTypesLunInstances",
			Description: "List LUNs",
			InputSchema: domain.JSONSchemaProps{
				Type:                 "object",
				Properties:           map[string]domain.JSONSchemaProps{"host": {Type: "string"}},
				Required:             []string{"host"},
				AdditionalProperties: false,
			},
		},
	}
	details := []usecase.InvocationDetails{{HTTPMethod: "GET", HTTPPath: "/api/types/lun/instances", BaseName: "getTypesLunInstances"}}
	loadErr := &domain.SpecError{Kind: domain.SpecLoadError, Path: specPath, Err: errors.New("no such file")}

	tests := []struct {
		name        string
		mockSetup   func(*MockSchemaLoader, *MockToolGenerator, *MockToolRepository)
		wantCount   int
		wantErrText string
	}{
		{
			name: "Success - tools registered",
			mockSetup: func(l *MockSchemaLoader, g *MockToolGenerator, r *MockToolRepository) {
				l.On("Load", ctx, specPath).Return(schema, nil).Once()
				g.On("Generate", schema).Return(tools, details, nil).Once()
				r.On("Save", ctx, tools, details).Return(nil).Once()
			},
			wantCount: 1,
		},
		{
			name: "Failure - load error",
			mockSetup: func(l *MockSchemaLoader, _ *MockToolGenerator, _ *MockToolRepository) {
				l.On("Load", ctx, specPath).Return(domain.APISchema{}, loadErr).Once()
			},
			wantErrText: "failed to load schema from /specs/unity.json: cannot load spec /specs/unity.json: no such file",
		},
		{
			name: "Failure - generate error",
			mockSetup: func(l *MockSchemaLoader, g *MockToolGenerator, _ *MockToolRepository) {
				l.On("Load", ctx, specPath).Return(schema, nil).Once()
				g.On("Generate", schema).Return(nil, nil, errors.New("bad doc")).Once()
			},
			wantErrText: "failed to generate tools for /specs/unity.json: bad doc",
		},
		{
			name: "Failure - catalog sealed",
			mockSetup: func(l *MockSchemaLoader, g *MockToolGenerator, r *MockToolRepository) {
				l.On("Load", ctx, specPath).Return(schema, nil).Once()
				g.On("Generate", schema).Return(tools, details, nil).Once()
				r.On("Save", ctx, tools, details).Return(usecase.ErrCatalogSealed).Once()
			},
			wantErrText: "failed to save generated tools: tool catalog already initialized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := new(MockSchemaLoader)
			generator := new(MockToolGenerator)
			repo := new(MockToolRepository)
			srv := &fakeMCPServer{}
			metrics := &fakeMetrics{}
			tt.mockSetup(loader, generator, repo)

			invokeUC := usecase.NewInvokeToolUseCase(repo, new(MockToolInvoker), testLogger())
			uc := usecase.NewSyncSchemaUseCase(loader, generator, repo, srv, invokeUC, metrics, testLogger())
			count, err := uc.Execute(ctx, specPath)

			if tt.wantErrText != "" {
				assert.EqualError(t, err, tt.wantErrText)
				assert.Empty(t, srv.tools)
			} else {
				require.NoError(t, err)
				require.Len(t, srv.tools, 1)
				assert.Equal(t, "getTypesLunInstances", srv.tools[0].Name)
				assert.Equal(t, "List LUNs", srv.tools[0].Description)
				assert.JSONEq(t,
					`{"type":"object","properties":{"host":{"type":"string"}},"required":["host"],"additionalProperties":false}`,
					string(srv.tools[0].RawInputSchema))
			}
			assert.Equal(t, tt.wantCount, count)
			assert.Equal(t, tt.wantCount, metrics.catalog)

			loader.AssertExpectations(t)
			generator.AssertExpectations(t)
			repo.AssertExpectations(t)
		})
	}
}

func TestSyncSchemaUseCase_HandlerDispatches(t *testing.T) {
	ctx := context.Background()
	schema := domain.APISchema{Source: "s.json", ParsedData: "parsed"}
	tools := []domain.Tool{{Name: "getVolume", InputSchema: domain.JSONSchemaProps{Type: "object"}}}
	details := []usecase.InvocationDetails{{HTTPMethod: "GET", HTTPPath: "/volume", BaseName: "getVolume"}}

	loader := new(MockSchemaLoader)
	generator := new(MockToolGenerator)
	repo := new(MockToolRepository)
	invoker := new(MockToolInvoker)
	srv := &fakeMCPServer{}

	loader.On("Load", ctx, "s.json").Return(schema, nil)
	generator.On("Generate", schema).Return(tools, details, nil)
	repo.On("Save", ctx, tools, details).Return(nil)
	repo.On("FindToolByName", mock.Anything, "getVolume").Return(&tools[0], nil)
	repo.On("FindInvocationDetailsByName", mock.Anything, "getVolume").Return(&details[0], nil)
	invoker.On("Invoke", mock.Anything, mock.Anything, details[0], map[string]interface{}{"limit": float64(5)}).
		Return(json.RawMessage(`{"ok":true}`), nil).Once()

	invokeUC := usecase.NewInvokeToolUseCase(repo, invoker, testLogger())
	uc := usecase.NewSyncSchemaUseCase(loader, generator, repo, srv, invokeUC, nil, testLogger())
	_, err := uc.Execute(ctx, "s.json")
	require.NoError(t, err)

	var req mcp.CallToolRequest
	req.Params.Name = "getVolume"
	req.Params.Arguments = withCreds(map[string]interface{}{"limit": float64(5)})

	res, err := srv.handlers["getVolume"](ctx, req)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, `{"ok":true}`, resultText(t, res))
	invoker.AssertExpectations(t)
}
