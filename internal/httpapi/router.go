package httpapi

import (
	"net/http"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/0xgxthxb/bytehound/pkg/registry"
	"github.com/0xgxthxb/bytehound/pkg/script"
)

// devOrigin is the bundler dev-server origin execute_script alone
// exposes via Access-Control-Allow-Origin, per spec.md §6 ("to ease dev
// against a bundler").
const devOrigin = "http://localhost:1234"

// Server wires the registry, script engine, and exporters into a
// gorilla/mux route table, mirroring cmd/tempo/app/http_handler.go's
// muxWrapper-over-*mux.Router pattern.
type Server struct {
	router *mux.Router
	reg    *registry.Registry
	engine script.Engine
	logger log.Logger

	staticFS http.FileSystem
}

// NewServer builds the route table described in spec.md §4.8.
func NewServer(reg *registry.Registry, engine script.Engine, staticFS http.FileSystem, logger log.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		reg:      reg,
		engine:   engine,
		logger:   logger,
		staticFS: staticFS,
	}
	s.routes()
	return s
}

// Handler returns the fully wired http.Handler, with the permissive CORS
// policy spec.md §6 requires applied around the whole router.
func (s *Server) Handler() http.Handler {
	permissive := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return withRequestLogging(s.logger, permissive.Handler(s.router))
}

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/list", s.handleList).Methods(http.MethodGet)

	data := r.PathPrefix("/data/{id}").Subrouter()
	data.HandleFunc("/timeline", s.handleTimeline(false)).Methods(http.MethodGet)
	data.HandleFunc("/timeline_leaked", s.handleTimeline(true)).Methods(http.MethodGet)
	data.HandleFunc("/fragmentation_timeline", s.handleFragmentationTimeline).Methods(http.MethodGet)
	data.HandleFunc("/allocations", s.handleAllocations).Methods(http.MethodGet)
	data.HandleFunc("/allocation_groups", s.handleAllocationGroups).Methods(http.MethodGet)
	data.HandleFunc("/backtraces", s.handleBacktraces).Methods(http.MethodGet)
	data.HandleFunc("/backtrace/{btid}", s.handleBacktrace).Methods(http.MethodGet)
	data.HandleFunc("/regions", s.handleRegions).Methods(http.MethodGet)
	data.HandleFunc("/mmaps", s.handleMmaps).Methods(http.MethodGet)
	data.HandleFunc("/mallopts", s.handleMallopts).Methods(http.MethodGet)
	data.HandleFunc("/raw_allocations", s.handleRawAllocations).Methods(http.MethodGet)
	data.HandleFunc("/export/{format}", s.handleExport).Methods(http.MethodGet)
	data.HandleFunc("/allocation_ascii_tree", s.handleAllocationAsciiTree).Methods(http.MethodGet)
	data.HandleFunc("/tree", s.handleTree).Methods(http.MethodGet)
	data.HandleFunc("/dynamic_constants", s.handleDynamicConstants).Methods(http.MethodGet)
	data.HandleFunc("/dynamic_constants_ascii_tree", s.handleDynamicConstantsAsciiTree).Methods(http.MethodGet)
	data.HandleFunc("/dynamic_statics", s.handleDynamicStatics).Methods(http.MethodGet)
	data.HandleFunc("/dynamic_statics_ascii_tree", s.handleDynamicStaticsAsciiTree).Methods(http.MethodGet)
	data.HandleFunc("/execute_script", s.handleExecuteScript).Methods(http.MethodPost, http.MethodOptions)
	data.HandleFunc("/filter_to_script", s.handleFilterToScript).Methods(http.MethodGet)
	data.HandleFunc("/script_files/{hash}/{filename}", s.handleScriptFile).Methods(http.MethodGet)

	if s.staticFS != nil {
		r.PathPrefix("/").Handler(newStaticHandler(s.staticFS))
	}
}
