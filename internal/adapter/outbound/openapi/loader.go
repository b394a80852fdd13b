package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/i2y/storagemcp/internal/domain"
)

// SchemaLoader implements usecase.SchemaLoader for local OpenAPI 3 and Swagger 2 documents.
type SchemaLoader struct {
	logger *slog.Logger
}

// NewSchemaLoader creates a new SchemaLoader.
func NewSchemaLoader(logger *slog.Logger) *SchemaLoader {
	return &SchemaLoader{
		logger: logger.With("component", "openapi_loader"),
	}
}

// Load reads the document at path. The format is chosen by extension: .json is JSON,
// .yaml/.yml is YAML, anything else is tried as JSON and then as YAML.
// Swagger 2.0 documents are converted to OpenAPI 3.
func (l *SchemaLoader) Load(ctx context.Context, path string) (domain.APISchema, error) {
	log := l.logger.With(slog.String("path", path))
	log.Info("Loading OpenAPI document")

	info, err := os.Stat(path)
	if err != nil {
		log.Error("Spec file not accessible", slog.Any("error", err))
		return domain.APISchema{}, &domain.SpecError{Kind: domain.SpecLoadError, Path: path, Err: err}
	}
	if info.IsDir() {
		return domain.APISchema{}, &domain.SpecError{Kind: domain.SpecLoadError, Path: path, Err: errors.New("is a directory")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error("Failed to read spec file", slog.Any("error", err))
		return domain.APISchema{}, &domain.SpecError{Kind: domain.SpecLoadError, Path: path, Err: err}
	}

	tree, err := decodeTree(path, data)
	if err != nil {
		log.Error("Failed to decode spec file", slog.Any("error", err))
		return domain.APISchema{}, &domain.SpecError{Kind: domain.SpecParseError, Path: path, Err: err}
	}

	if pruned := pruneDanglingRefs(tree); len(pruned) > 0 {
		log.Warn("Dropped unresolvable references; affected operations are skipped or lose detail",
			slog.Any("refs", pruned))
	}

	jsonData, err := json.Marshal(tree)
	if err != nil {
		return domain.APISchema{}, &domain.SpecError{Kind: domain.SpecParseError, Path: path, Err: err}
	}

	schemaType := domain.SchemaTypeOpenAPI
	var doc *openapi3.T
	if version, _ := tree["swagger"].(string); strings.HasPrefix(version, "2") {
		schemaType = domain.SchemaTypeSwagger
		doc, err = convertSwagger(jsonData)
		if err == nil {
			applySwaggerBasePath(doc, tree)
		}
	} else {
		doc, err = l.loadOpenAPI3(ctx, log, jsonData)
	}
	if err != nil {
		log.Error("Failed to parse OpenAPI document", slog.Any("error", err))
		return domain.APISchema{}, &domain.SpecError{Kind: domain.SpecParseError, Path: path, Err: err}
	}

	if validateErr := doc.Validate(ctx); validateErr != nil {
		log.Debug("OpenAPI document does not validate strictly", slog.Any("validation_error", validateErr))
	}

	pathCount := 0
	if doc.Paths != nil {
		pathCount = doc.Paths.Len()
	}
	log.Info("Successfully loaded OpenAPI document",
		slog.String("schema_type", string(schemaType)),
		slog.Int("path_count", pathCount))
	return domain.APISchema{
		Source:     path,
		Type:       schemaType,
		RawData:    jsonData,
		ParsedData: doc,
	}, nil
}

// loadOpenAPI3 parses data and resolves its references. A reference that still
// cannot be resolved leaves the document partially resolved instead of rejecting it.
func (l *SchemaLoader) loadOpenAPI3(ctx context.Context, log *slog.Logger, data []byte) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err == nil {
		return doc, nil
	}

	doc = &openapi3.T{}
	if unmarshalErr := json.Unmarshal(data, doc); unmarshalErr != nil {
		return nil, err
	}
	if resolveErr := resolveRefs(ctx, doc); resolveErr != nil {
		log.Warn("Some references could not be resolved; continuing with a partially resolved document",
			slog.Any("error", resolveErr))
	}
	return doc, nil
}

func resolveRefs(ctx context.Context, doc *openapi3.T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reference resolution aborted: %v", r)
		}
	}()
	loader := openapi3.NewLoader()
	loader.Context = ctx
	return loader.ResolveRefsIn(doc, nil)
}

// applySwaggerBasePath keeps a Swagger 2 basePath when the document has no host,
// since the converter only emits a server for documents with one.
func applySwaggerBasePath(doc *openapi3.T, tree map[string]interface{}) {
	if len(doc.Servers) > 0 {
		return
	}
	basePath, _ := tree["basePath"].(string)
	basePath = strings.TrimSuffix(strings.TrimSpace(basePath), "/")
	if basePath == "" {
		return
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	doc.Servers = openapi3.Servers{{URL: basePath}}
}

func convertSwagger(data []byte) (*openapi3.T, error) {
	var doc2 openapi2.T
	if err := json.Unmarshal(data, &doc2); err != nil {
		return nil, fmt.Errorf("invalid swagger document: %w", err)
	}
	doc3, err := openapi2conv.ToV3(&doc2)
	if err != nil {
		return nil, fmt.Errorf("swagger conversion failed: %w", err)
	}
	return doc3, nil
}

// decodeTree parses data into a generic JSON-compatible tree.
func decodeTree(path string, data []byte) (map[string]interface{}, error) {
	var raw interface{}
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		if jsonErr := json.Unmarshal(data, &raw); jsonErr != nil {
			raw = nil
			if yamlErr := yaml.Unmarshal(data, &raw); yamlErr != nil {
				err = fmt.Errorf("neither JSON (%v) nor YAML (%w)", jsonErr, yamlErr)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	tree, ok := normalize(raw).(map[string]interface{})
	if !ok {
		return nil, errors.New("document root is not an object")
	}
	return tree, nil
}

// normalize converts YAML maps with non-string keys (e.g. response codes
// written as integers) into JSON-compatible maps.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case []interface{}:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	}
	return v
}
