package memrepo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/i2y/storagemcp/internal/domain"
	"github.com/i2y/storagemcp/internal/usecase"
)

// catalog is the immutable snapshot published by Save.
type catalog struct {
	tools   []domain.Tool
	details []usecase.InvocationDetails
	byName  map[string]int
}

// InMemoryToolRepository holds the compiled catalog for the process lifetime.
// It is written once by Save and read lock-free afterwards.
type InMemoryToolRepository struct {
	current atomic.Pointer[catalog]
	logger  *slog.Logger
}

// NewInMemoryToolRepository creates an empty, unsealed repository.
func NewInMemoryToolRepository(logger *slog.Logger) *InMemoryToolRepository {
	return &InMemoryToolRepository{
		logger: logger.With("component", "mem_repo"),
	}
}

// Save stores tools and their index-aligned invocation details and seals the repository.
func (r *InMemoryToolRepository) Save(ctx context.Context, tools []domain.Tool, details []usecase.InvocationDetails) error {
	if len(tools) != len(details) {
		msg := fmt.Sprintf("mismatch between number of tools (%d) and invocation details (%d)", len(tools), len(details))
		r.logger.Error("Failed to save tools and details", slog.String("reason", msg))
		return fmt.Errorf("save failed: %s", msg)
	}

	c := &catalog{
		tools:   make([]domain.Tool, 0, len(tools)),
		details: make([]usecase.InvocationDetails, 0, len(details)),
		byName:  make(map[string]int, len(tools)),
	}
	for i, tool := range tools {
		if tool.Name == "" {
			r.logger.Warn("Skipping tool with empty name during save", slog.Int("index", i))
			continue
		}
		if _, dup := c.byName[tool.Name]; dup {
			return fmt.Errorf("save failed: duplicate tool name %q", tool.Name)
		}
		c.byName[tool.Name] = len(c.tools)
		c.tools = append(c.tools, tool)
		c.details = append(c.details, details[i])
	}

	if !r.current.CompareAndSwap(nil, c) {
		r.logger.Error("Rejected second catalog save")
		return usecase.ErrCatalogSealed
	}
	r.logger.Info("Saved tools and invocation details", slog.Int("count", len(c.tools)))
	return nil
}

// List returns all tools in compilation order.
func (r *InMemoryToolRepository) List(ctx context.Context) ([]domain.Tool, error) {
	c := r.current.Load()
	if c == nil {
		return []domain.Tool{}, nil
	}
	out := make([]domain.Tool, len(c.tools))
	copy(out, c.tools)
	return out, nil
}

// FindToolByName retrieves a tool definition by its name.
func (r *InMemoryToolRepository) FindToolByName(ctx context.Context, name string) (*domain.Tool, error) {
	c := r.current.Load()
	if c == nil {
		return nil, usecase.ErrToolNotFound
	}
	i, ok := c.byName[name]
	if !ok {
		r.logger.Debug("Tool definition not found", slog.String("tool_name", name))
		return nil, usecase.ErrToolNotFound
	}
	tool := c.tools[i]
	return &tool, nil
}

// FindInvocationDetailsByName retrieves invocation details by tool name.
func (r *InMemoryToolRepository) FindInvocationDetailsByName(ctx context.Context, name string) (*usecase.InvocationDetails, error) {
	c := r.current.Load()
	if c == nil {
		return nil, usecase.ErrToolNotFound
	}
	i, ok := c.byName[name]
	if !ok {
		return nil, usecase.ErrToolNotFound
	}
	details := c.details[i]
	return &details, nil
}

// ListInvocationDetails returns every index entry in compilation order.
func (r *InMemoryToolRepository) ListInvocationDetails(ctx context.Context) ([]usecase.InvocationDetails, error) {
	c := r.current.Load()
	if c == nil {
		return []usecase.InvocationDetails{}, nil
	}
	out := make([]usecase.InvocationDetails, len(c.details))
	copy(out, c.details)
	return out, nil
}
