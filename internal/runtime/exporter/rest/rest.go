// Package rest exports endpoints over HTTP. Unary and client streaming
// endpoints answer with one JSON document, service streaming and
// bidirectional endpoints with newline delimited JSON.
package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
	"github.com/drblury/evalflow/internal/runtime/event"
	"github.com/drblury/evalflow/internal/runtime/exporter"
	"github.com/drblury/evalflow/internal/runtime/jsoncodec"
	"github.com/drblury/evalflow/internal/runtime/logging"
	"github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/request"
	"github.com/drblury/evalflow/internal/runtime/response"
)

const (
	Type = "rest"

	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"

	defaultMaxBodyBytes = 4 << 20
)

// Option configures an Exporter.
type Option func(*Exporter)

// WithErrorForwarder receives every evaluation error of every endpoint.
func WithErrorForwarder(f evaluation.ErrorForwarder) Option {
	return func(e *Exporter) { e.forwarder = f }
}

// WithBufferSize bounds the output buffer of streaming endpoints.
func WithBufferSize(n int) Option {
	return func(e *Exporter) { e.bufferSize = n }
}

// WithDropReporter is told how many stream responses were evicted from a
// full buffer once a stream ends.
func WithDropReporter(r exporter.DropReporter) Option {
	return func(e *Exporter) { e.dropped = r }
}

// WithMaxBodyBytes limits request bodies. Zero keeps the 4 MiB default.
func WithMaxBodyBytes(n int64) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.maxBodyBytes = n
		}
	}
}

// WithInfo sets the title and version of the OpenAPI document.
func WithInfo(title, version string) Option {
	return func(e *Exporter) {
		e.doc.Info.Title = title
		e.doc.Info.Version = version
	}
}

// Exporter serves endpoints through a chi router.
type Exporter struct {
	router       chi.Router
	logger       logging.ServiceLogger
	forwarder    evaluation.ErrorForwarder
	bufferSize   int
	maxBodyBytes int64
	dropped      exporter.DropReporter

	docMu sync.RWMutex
	doc   *openapi3.T
}

func New(logger logging.ServiceLogger, opts ...Option) *Exporter {
	if logger == nil {
		panic(errspkg.ErrLoggerRequired)
	}
	e := &Exporter{
		router:       chi.NewRouter(),
		logger:       logger.With(logging.LogFields{logging.FieldExporter: Type}),
		maxBodyBytes: defaultMaxBodyBytes,
		doc: &openapi3.T{
			OpenAPI: "3.0.3",
			Info:    &openapi3.Info{Title: "evalflow", Version: "1.0.0"},
			Paths:   openapi3.NewPaths(),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.router.Use(middleware.RequestID, middleware.Recoverer)
	e.router.Get("/openapi.json", e.serveDocument)
	return e
}

func (e *Exporter) Type() string { return Type }

// Handler returns the instrumented router.
func (e *Exporter) Handler() http.Handler {
	return otelhttp.NewHandler(e.router, "evalflow.rest")
}

func (e *Exporter) metadata() delegate.ExporterMetadata {
	return delegate.ExporterMetadata{Type: Type, ParameterNamespace: "http"}
}

// Export mounts ep and documents it.
func (e *Exporter) Export(ep exporter.Endpoint) error {
	descs, err := ep.Descriptors(e.metadata())
	if err != nil {
		return err
	}
	path := routePath(ep, descs)
	method := ep.RouteMethod()

	e.router.Method(method, path, e.serve(ep))

	e.docMu.Lock()
	e.doc.AddOperation(path, method, operation(ep, descs))
	e.docMu.Unlock()

	e.logger.Info("Endpoint exported", logging.LogFields{
		"endpoint": ep.Name,
		"method":   method,
		"path":     path,
		"pattern":  ep.Pattern.String(),
	})
	return nil
}

func (e *Exporter) serve(ep exporter.Endpoint) http.HandlerFunc {
	forwarder := ep.ForwarderOr(e.forwarder)
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := ep.Instance(e.metadata())
		if err != nil {
			e.writeError(w, err)
			return
		}
		requests, err := e.decode(w, r, ep.Pattern)
		if err != nil {
			e.writeError(w, err)
			return
		}

		ctx := r.Context()
		driver := evaluation.NewDriver(ev, evaluation.ResponseTransformer(),
			evaluation.WithErrorForwarder(forwarder),
			evaluation.WithBufferSize(e.bufferSize),
		)

		switch ep.Pattern {
		case evaluation.Unary:
			resp, err := driver.Unary(ctx, event.Of(event.Request(requests[0]), event.End()))
			e.writeResponse(w, resp, err)
		case evaluation.ClientStream:
			resp, err := driver.ClientStream(ctx, event.Subscribe(ctx, feed(requests), ev))
			e.writeResponse(w, resp, err)
		default:
			out := driver.Run(ctx, ep.Pattern, event.Subscribe(ctx, feed(requests), ev))
			e.writeStream(ctx, w, out)
			e.dropped.Report(ep.Name, Type, out.Dropped())
		}
	}
}

// decode turns the HTTP request into one request per message. Client
// streaming bodies carry a JSON array with one element per message.
func (e *Exporter) decode(w http.ResponseWriter, r *http.Request, pattern evaluation.Pattern) ([]request.Request, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.maxBodyBytes))
	if err != nil {
		return nil, errspkg.BadInput("The request body could not be read.", err)
	}

	base := request.Payload{
		Path:    pathParams(r),
		Query:   r.URL.Query(),
		Headers: headers(r.Header),
	}
	bodies := [][]byte{body}
	if pattern.ClientStreams() {
		elements, err := jsoncodec.SplitArray(body)
		if err != nil {
			return nil, errspkg.BadInput("Streaming requests expect a JSON array body.", err)
		}
		if len(elements) == 0 {
			return nil, errspkg.New(errspkg.KindBadInput, "Expected at least one request message.")
		}
		bodies = bodies[:0]
		for _, element := range elements {
			bodies = append(bodies, element)
		}
	}

	requests := make([]request.Request, 0, len(bodies))
	for _, b := range bodies {
		payload := &request.Payload{Path: base.Path, Query: base.Query, Headers: base.Headers, Body: b}
		requests = append(requests, request.NewDecoded(r.Context(), request.JSONStrategy{}, payload, r.RemoteAddr))
	}
	return requests, nil
}

func (e *Exporter) writeResponse(w http.ResponseWriter, resp response.Response[response.Erased], err error) {
	if err != nil {
		e.writeError(w, err)
		return
	}
	for name, value := range resp.Information.Headers() {
		w.Header().Set(name, value)
	}
	content, ok := resp.Content()
	status := resp.Status.HTTPCode(ok)
	if !ok || status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	payload, err := jsoncodec.Marshal(content)
	if err != nil {
		e.writeError(w, errspkg.Wrap(errspkg.KindServerError, "Encoding the response failed.", err))
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		e.logger.Error("Failed to write response", err, nil)
	}
}

// writeStream sends every response as one NDJSON record. Headers are held
// back until the first record so that early failures keep their status.
func (e *Exporter) writeStream(ctx context.Context, w http.ResponseWriter, out *event.Buffer[response.Response[response.Erased]]) {
	defer out.Cancel()
	flusher, _ := w.(http.Flusher)
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", contentTypeNDJSON)
		w.WriteHeader(http.StatusOK)
	}

	for {
		resp, err := out.Next(ctx)
		if errors.Is(err, io.EOF) {
			start()
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !started {
				e.writeError(w, err)
				return
			}
			if werr := jsoncodec.WriteLine(w, errorBody(err)); werr != nil {
				e.logger.Error("Failed to write stream error", werr, nil)
			}
			return
		}

		content, ok := resp.Content()
		if !ok {
			continue
		}
		start()
		if err := jsoncodec.WriteLine(w, content); err != nil {
			e.logger.Error("Failed to write stream record", err, nil)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (e *Exporter) writeError(w http.ResponseWriter, err error) {
	typed := errspkg.As(err)
	status := StatusCode(typed.Kind)
	if status >= http.StatusInternalServerError {
		e.logger.Error("Request failed", err, logging.LogFields{logging.FieldErrorKind: typed.Kind.String()})
	}
	payload, merr := jsoncodec.Marshal(errorBody(err))
	if merr != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func (e *Exporter) serveDocument(w http.ResponseWriter, _ *http.Request) {
	e.docMu.RLock()
	payload, err := e.doc.MarshalJSON()
	e.docMu.RUnlock()
	if err != nil {
		e.writeError(w, errspkg.Wrap(errspkg.KindServerError, "Encoding the API document failed.", err))
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	_, _ = w.Write(payload)
}

type errorPayload struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func errorBody(err error) errorPayload {
	typed := errspkg.As(err)
	return errorPayload{Error: errorDetail{Kind: typed.Kind.String(), Message: typed.StandardMessage()}}
}

// StatusCode maps an error kind onto an HTTP status code.
func StatusCode(kind errspkg.Kind) int {
	switch kind {
	case errspkg.KindBadInput:
		return http.StatusBadRequest
	case errspkg.KindNotFound:
		return http.StatusNotFound
	case errspkg.KindUnauthenticated:
		return http.StatusUnauthorized
	case errspkg.KindForbidden:
		return http.StatusForbidden
	case errspkg.KindNotAvailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func feed(requests []request.Request) <-chan request.Request {
	ch := make(chan request.Request, len(requests))
	for _, r := range requests {
		ch <- r
	}
	close(ch)
	return ch
}

func pathParams(r *http.Request) map[string]string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, key := range rctx.URLParams.Keys {
		if key == "*" {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return params
}

func headers(h http.Header) metadata.Metadata {
	md := make(metadata.Metadata, len(h))
	for name, values := range h {
		if len(values) > 0 {
			md[name] = values[0]
		}
	}
	return md
}
