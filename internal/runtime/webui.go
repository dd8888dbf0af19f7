package runtime

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	configpkg "github.com/drblury/evalflow/internal/runtime/config"
	"github.com/drblury/evalflow/internal/runtime/jsoncodec"
	transportpkg "github.com/drblury/evalflow/internal/runtime/transport"
)

// StartWebUIServer serves the endpoint registry and its statistics below /api.
func (s *Service) StartWebUIServer() {
	if !s.Conf.WebUIEnabled {
		return
	}

	port := s.Conf.WebUIPort
	if port == 0 {
		port = configpkg.DefaultWebUIPort
	}

	s.RegisterHTTPHandler(port, "/api/", s.webUIRouter())
}

func (s *Service) webUIRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.cors)
	r.Get("/endpoints", s.handleGetEndpoints)
	r.Get("/endpoints/{name}", s.handleGetEndpoint)
	r.Get("/transport", s.handleGetTransport)
	return r
}

func (s *Service) handleGetEndpoints(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Endpoints())
}

func (s *Service) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	info, ok := s.Endpoint(chi.URLParam(r, "name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleGetTransport(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, transportpkg.Capabilities(s.Conf))
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		s.Logger.Error("Failed to encode web UI response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// cors answers preflight requests and sets the allow headers for
// configured origins.
func (s *Service) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := s.allowedOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) allowedOrigin(origin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}
