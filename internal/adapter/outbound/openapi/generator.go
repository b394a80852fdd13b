package openapi

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/i2y/storagemcp/internal/domain"
	"github.com/i2y/storagemcp/internal/usecase"
)

// GeneratorConfig controls which operations become tools and how they are shaped.
type GeneratorConfig struct {
	// AllowedMethods are the HTTP methods compiled into tools, in emission order. Defaults to GET.
	AllowedMethods []string
	// APIRoot overrides the base path taken from the document's servers.
	APIRoot string
	// Convention names the collection convenience parameters.
	Convention QueryConvention
}

// ToolGenerator implements the usecase.ToolGenerator interface for OpenAPI documents.
type ToolGenerator struct {
	cfg    GeneratorConfig
	logger *slog.Logger
}

// NewToolGenerator creates a new OpenAPI ToolGenerator.
func NewToolGenerator(cfg GeneratorConfig, logger *slog.Logger) *ToolGenerator {
	if len(cfg.AllowedMethods) == 0 {
		cfg.AllowedMethods = []string{"GET"}
	}
	if cfg.Convention.SelectParam == "" {
		cfg.Convention = StandardConvention
	}
	return &ToolGenerator{
		cfg:    cfg,
		logger: logger.With("component", "openapi_generator"),
	}
}

// Generate converts an OpenAPI document into MCP Tools and corresponding InvocationDetails.
// Paths are visited in sorted order so names and ordering are stable across runs.
func (g *ToolGenerator) Generate(schema domain.APISchema) ([]domain.Tool, []usecase.InvocationDetails, error) {
	log := g.logger.With(slog.String("source", schema.Source))
	log.Info("Generating tools from OpenAPI schema.")

	doc, ok := schema.ParsedData.(*openapi3.T)
	if !ok || doc == nil {
		log.Error("Invalid or missing parsed OpenAPI document in APISchema.")
		return nil, nil, fmt.Errorf("invalid or missing parsed OpenAPI document in APISchema")
	}

	basePath := g.cfg.APIRoot
	if basePath == "" {
		basePath = basePathFromServers(doc.Servers)
	}
	basePath = strings.TrimSuffix(basePath, "/")
	log.Debug("Determined API root.", slog.String("base_path", basePath))

	tools := []domain.Tool{}
	detailsList := []usecase.InvocationDetails{}
	if doc.Paths == nil {
		log.Info("Document has no paths.")
		return tools, detailsList, nil
	}

	pathMap := doc.Paths.Map()
	paths := make([]string, 0, len(pathMap))
	for p := range pathMap {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	names := newNameRegistry()
	skippedCount := 0
	for _, path := range paths {
		pathItem := pathMap[path]
		if pathItem == nil {
			continue
		}
		for _, method := range g.cfg.AllowedMethods {
			method = strings.ToUpper(method)
			operation := pathItem.GetOperation(method)
			if operation == nil {
				continue
			}
			log := log.With(slog.String("path", path), slog.String("method", method))

			tool, details, err := g.compileOperation(doc, names, basePath, path, method, pathItem, operation)
			if err != nil {
				log.Warn("Skipping operation that failed to compile.", slog.Any("error", err))
				skippedCount++
				continue
			}
			tools = append(tools, tool)
			detailsList = append(detailsList, details)
			log.Debug("Generated tool.", slog.String("tool_name", tool.Name))
		}
	}

	log.Info("Finished generating tools from OpenAPI schema.",
		slog.Int("generated_count", len(tools)),
		slog.Int("skipped_count", skippedCount))
	return tools, detailsList, nil
}

// compileOperation turns one operation into a tool. A panic from a malformed
// document is reported as an error so only this operation is skipped.
func (g *ToolGenerator) compileOperation(
	doc *openapi3.T,
	names *nameRegistry,
	basePath, path, method string,
	pathItem *openapi3.PathItem,
	op *openapi3.Operation,
) (tool domain.Tool, details usecase.InvocationDetails, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while compiling %s %s: %v", method, path, r)
		}
	}()

	baseName := sanitizeToolName(op.OperationID)
	if baseName == "" {
		baseName = derivedName(method, path)
	}
	if baseName == "" {
		return tool, details, fmt.Errorf("cannot derive a tool name")
	}

	if refs := unresolvedRefs(op); len(refs) > 0 {
		return tool, details, fmt.Errorf("unresolved parameter references: %s", strings.Join(refs, ", "))
	}
	for _, list := range []openapi3.Parameters{pathItem.Parameters, op.Parameters} {
		for _, ref := range list {
			if ref != nil && ref.Value == nil && ref.Ref != "" {
				return tool, details, fmt.Errorf("unresolved parameter reference %s", ref.Ref)
			}
		}
	}
	params := mergeParameters(pathItem.Parameters, op.Parameters)
	collection := isCollectionPath(path)
	resource := resourceName(path)
	props := resourceProperties(doc, resource)

	var fields []string
	if collection {
		fields = sortedFieldNames(props)
	}

	// Names are assigned last so a failed operation does not consume one.
	tool = domain.Tool{
		Description: describe(baseDescription(method, path, op), resource, props, collection, g.cfg.Convention),
		InputSchema: buildInputSchema(params, collection, g.cfg.Convention, fields),
	}
	details = invocationDetails(basePath, path, method, op, params)
	details.BaseName = baseName
	tool.Name = names.assign(baseName, path)
	return tool, details, nil
}

// unresolvedRefs returns the parameter references the loader had to drop from op.
func unresolvedRefs(op *openapi3.Operation) []string {
	marks, _ := op.Extensions[unresolvedRefsExt].([]interface{})
	refs := make([]string, 0, len(marks))
	for _, m := range marks {
		if ref, ok := m.(string); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// mergeParameters applies operation parameters over path-level ones with the same name and location.
func mergeParameters(pathParams, opParams openapi3.Parameters) openapi3.Parameters {
	if len(pathParams) == 0 {
		return opParams
	}
	type key struct{ name, in string }
	seen := map[key]struct{}{}
	merged := make(openapi3.Parameters, 0, len(pathParams)+len(opParams))
	for _, ref := range opParams {
		if ref != nil && ref.Value != nil {
			seen[key{ref.Value.Name, ref.Value.In}] = struct{}{}
		}
		merged = append(merged, ref)
	}
	for _, ref := range pathParams {
		if ref == nil || ref.Value == nil {
			continue
		}
		if _, dup := seen[key{ref.Value.Name, ref.Value.In}]; !dup {
			merged = append(merged, ref)
		}
	}
	return merged
}

func invocationDetails(basePath, path, method string, op *openapi3.Operation, params openapi3.Parameters) usecase.InvocationDetails {
	details := usecase.InvocationDetails{
		HTTPMethod:  method,
		HTTPPath:    path,
		BasePath:    basePath,
		OperationID: op.OperationID,
		PathParams:  []string{},
		QueryParams: []string{},
	}
	for _, ref := range params {
		if ref == nil || ref.Value == nil {
			continue
		}
		switch ref.Value.In {
		case openapi3.ParameterInPath:
			details.PathParams = append(details.PathParams, ref.Value.Name)
		case openapi3.ParameterInQuery:
			details.QueryParams = append(details.QueryParams, ref.Value.Name)
		}
	}
	if op.RequestBody != nil {
		details.ContentType = "application/json"
	}
	return details
}

// basePathFromServers returns the path component of the first usable server URL,
// with server variables replaced by their defaults.
func basePathFromServers(servers openapi3.Servers) string {
	for _, server := range servers {
		if server == nil || server.URL == "" {
			continue
		}
		raw := server.URL
		for name, v := range server.Variables {
			if v != nil {
				raw = strings.ReplaceAll(raw, "{"+name+"}", v.Default)
			}
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		p := u.Path
		if p == "/" {
			p = ""
		}
		return p
	}
	return ""
}
