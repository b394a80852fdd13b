package openapi

import (
	"fmt"
	"strings"

	"github.com/i2y/storagemcp/internal/usecase"
)

// QueryConvention names the convenience parameters added to collection queries.
type QueryConvention struct {
	Name string

	SelectParam       string
	PageSizeParam     string
	PageSizeHint      string
	OffsetParam       string
	OffsetHint        string
	FilterParam       string
	FilterDescription string
}

var (
	// StandardConvention uses OData-style select/limit/offset, as PowerStore does.
	StandardConvention = QueryConvention{
		Name:              "standard",
		SelectParam:       "select",
		PageSizeParam:     "limit",
		PageSizeHint:      "Maximum number of results to return",
		OffsetParam:       "offset",
		OffsetHint:        "Number of results to skip before returning",
		FilterParam:       usecase.FilterParamKey,
		FilterDescription: `Additional query filters passed through as query parameters (e.g., {"name": "eq.vol1"})`,
	}

	// UnityConvention uses the Unity REST names fields/per_page/page.
	UnityConvention = QueryConvention{
		Name:              "unity",
		SelectParam:       "fields",
		PageSizeParam:     "per_page",
		PageSizeHint:      "Maximum number of results per page (default: 2000)",
		OffsetParam:       "page",
		OffsetHint:        "Page number for pagination (starts at 1)",
		FilterParam:       usecase.FilterParamKey,
		FilterDescription: `Additional query filters using Unity filter syntax (e.g., {"filter": "severity eq 4", "compact": "true"})`,
	}
)

// ConventionByName returns the convention registered under name.
func ConventionByName(name string) (QueryConvention, error) {
	switch strings.ToLower(name) {
	case "", StandardConvention.Name:
		return StandardConvention, nil
	case UnityConvention.Name:
		return UnityConvention, nil
	}
	return QueryConvention{}, fmt.Errorf("unknown query style %q", name)
}

func (c QueryConvention) paramNames() []string {
	return []string{c.SelectParam, c.PageSizeParam, c.OffsetParam, c.FilterParam}
}
