package rest

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPIDocument is the loaded and validated admin API description.
type OpenAPIDocument struct {
	Doc *openapi3.T
	raw []byte
}

func LoadOpenAPI(ctx context.Context, path string) (*OpenAPIDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read openapi document: %w", err)
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	return &OpenAPIDocument{Doc: doc, raw: raw}, nil
}

// Operations lists "METHOD path" for every documented operation.
func (d *OpenAPIDocument) Operations() []string {
	var ops []string
	for path, item := range d.Doc.Paths.Map() {
		for method := range item.Operations() {
			ops = append(ops, method+" "+path)
		}
	}
	return ops
}

func (d *OpenAPIDocument) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(d.raw)
}
