package domain

// SchemaType defines the type of the source API schema.
type SchemaType string

const (
	SchemaTypeOpenAPI SchemaType = "openapi"
	SchemaTypeSwagger SchemaType = "swagger" // Swagger 2.0, converted to OpenAPI 3 on load
)

// APISchema represents a loaded API description before compilation into tools.
type APISchema struct {
	// Source is the file path the document was read from.
	Source string
	// Type records the document dialect as written on disk.
	Type SchemaType
	// RawData holds the document normalised to JSON.
	RawData []byte
	// ParsedData holds the parsed document, *openapi3.T for every supported dialect.
	// Kept as interface{} so the domain does not import the parser.
	ParsedData interface{}
}

// SpecErrorKind distinguishes failures to read a document from failures to understand it.
type SpecErrorKind string

const (
	SpecLoadError  SpecErrorKind = "SpecLoadError"
	SpecParseError SpecErrorKind = "SpecParseError"
)

// SpecError is returned when an OpenAPI document cannot be loaded.
type SpecError struct {
	Kind SpecErrorKind
	Path string
	Err  error
}

func (e *SpecError) Error() string {
	if e.Kind == SpecLoadError {
		return "cannot load spec " + e.Path + ": " + e.Err.Error()
	}
	return "cannot parse spec " + e.Path + ": " + e.Err.Error()
}

func (e *SpecError) Unwrap() error { return e.Err }
