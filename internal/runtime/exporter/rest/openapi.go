package rest

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/drblury/evalflow/internal/runtime/exporter"
	"github.com/drblury/evalflow/internal/runtime/request"
)

// routePath appends a segment for every path parameter the endpoint's
// route does not mention yet.
func routePath(ep exporter.Endpoint, descs []*request.Descriptor) string {
	path := ep.RoutePath()
	for _, d := range descs {
		if d.Location != request.LocationPath {
			continue
		}
		segment := "{" + d.Name + "}"
		if !strings.Contains(path, segment) {
			path = strings.TrimSuffix(path, "/") + "/" + segment
		}
	}
	return path
}

func operation(ep exporter.Endpoint, descs []*request.Descriptor) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = ep.Name
	op.Summary = ep.Name + " (" + ep.Pattern.String() + ")"

	body := openapi3.NewObjectSchema()
	hasBody := false
	for _, d := range descs {
		schema := schemaFor(d.Type)
		switch d.Location {
		case request.LocationPath:
			op.AddParameter(openapi3.NewPathParameter(d.Name).WithSchema(schema))
		case request.LocationQuery:
			op.AddParameter(openapi3.NewQueryParameter(d.Name).WithSchema(schema).WithRequired(required(d)))
		case request.LocationHeader:
			op.AddParameter(openapi3.NewHeaderParameter(d.Name).WithSchema(schema).WithRequired(required(d)))
		case request.LocationBody:
			body.WithProperty(d.Name, schema)
			if required(d) {
				body.Required = append(body.Required, d.Name)
			}
			hasBody = true
		case request.LocationContent:
			body = schema
			hasBody = true
		}
	}

	if hasBody {
		if ep.Pattern.ClientStreams() {
			body = openapi3.NewArraySchema().WithItems(body)
		}
		op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithJSONSchema(body)}
	}

	success := openapi3.NewResponse().WithDescription("Evaluation result")
	if ep.Pattern.ServiceStreams() {
		success.WithContent(openapi3.NewContentWithSchema(openapi3.NewObjectSchema(), []string{contentTypeNDJSON}))
	} else {
		success.WithJSONSchema(openapi3.NewObjectSchema())
	}
	op.AddResponse(http.StatusOK, success)
	op.AddResponse(http.StatusBadRequest, errorResponse("Malformed or missing parameters"))
	op.AddResponse(http.StatusInternalServerError, errorResponse("Evaluation failed"))
	return op
}

func required(d *request.Descriptor) bool {
	return !d.Optional && !d.HasDefault()
}

func errorResponse(description string) *openapi3.Response {
	detail := openapi3.NewObjectSchema().
		WithProperty("kind", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema())
	return openapi3.NewResponse().
		WithDescription(description).
		WithJSONSchema(openapi3.NewObjectSchema().WithProperty("error", detail))
}

func schemaFor(t reflect.Type) *openapi3.Schema {
	if t == nil {
		return openapi3.NewSchema()
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return openapi3.NewStringSchema()
	case reflect.Bool:
		return openapi3.NewBoolSchema()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return openapi3.NewIntegerSchema()
	case reflect.Float32, reflect.Float64:
		return openapi3.NewFloat64Schema()
	case reflect.Slice, reflect.Array:
		return openapi3.NewArraySchema().WithItems(schemaFor(t.Elem()))
	case reflect.Struct:
		schema := openapi3.NewObjectSchema()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag, ok := field.Tag.Lookup("json"); ok {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			}
			schema.WithProperty(name, schemaFor(field.Type))
		}
		return schema
	default:
		return openapi3.NewObjectSchema()
	}
}
