// ABOUTME: HTTP API for discovery, sessions, casting and speech
// ABOUTME: chi router with JSON handlers, CORS and a websocket status stream
package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/app"
	"github.com/Resonate-Protocol/cast-relay/internal/relay"
	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const (
	defaultMaxUpload      = 32 << 20
	defaultEventsInterval = 5 * time.Second
	multipartMemory       = 8 << 20
)

// API serves the relay endpoints
type API struct {
	svc    *app.Service
	logger *log.Logger

	maxUpload      int64
	corsOrigins    []string
	eventsInterval time.Duration
	upgrader       websocket.Upgrader
}

// New creates the API for svc
func New(svc *app.Service) *API {
	a := &API{
		svc:            svc,
		logger:         svc.Logger.WithPrefix("http"),
		maxUpload:      svc.Config.HTTP.MaxUploadBytes,
		corsOrigins:    svc.Config.HTTP.CORSOrigins,
		eventsInterval: svc.Config.HTTP.EventsInterval,
	}
	if a.maxUpload <= 0 {
		a.maxUpload = defaultMaxUpload
	}
	if a.eventsInterval <= 0 {
		a.eventsInterval = defaultEventsInterval
	}
	if len(a.corsOrigins) == 0 {
		a.corsOrigins = []string{"*"}
	}
	a.upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || a.originAllowed(origin)
	}}
	return a
}

// Handler returns the routed handler
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)
	r.Use(a.cors)

	r.Get("/health", a.handleHealth)
	r.Post("/synthesize", a.handleSynthesize)
	r.Get("/voices", a.handleVoices)
	r.Get("/cast", a.handleCastPage)
	r.Get(relay.ServePath+"{name}", a.handleServeAudio)

	r.Route("/api/cast", func(r chi.Router) {
		r.Get("/devices", a.handleDevices)
		r.Post("/scan", a.handleScan)
		r.Post("/connect", a.handleConnect)
		r.Post("/disconnect", a.handleDisconnect)
		r.Post("/cast_data", a.handleCastData)
		r.Post("/cast", a.handleCastURL)
		r.Post("/speak", a.handleSpeak)
		r.Get("/status", a.handleStatus)
		r.Post("/control", a.handleControl)
		r.Get("/events", a.handleEvents)
	})
	return r
}

func (a *API) originAllowed(origin string) bool {
	return slices.Contains(a.corsOrigins, "*") || slices.Contains(a.corsOrigins, origin)
}

// cors lets browser extensions on other origins call the API
func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && a.originAllowed(origin) {
			if slices.Contains(a.corsOrigins, "*") {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Debug("Request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
	})
}
