package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Tyrowin/chatdrop/internal/upload"
)

// Routes lists the collaborators the router dispatches to.
type Routes struct {
	Hub               *Hub
	Origins           *OriginPolicy
	Documents         *upload.Controller
	Audio             *upload.Controller
	UploadIdleTimeout time.Duration
	PublicDir         string
}

// NewRouter builds the HTTP handler tree:
//
//	GET  /health         liveness and counters
//	GET  /ws             real-time channel
//	GET  /files          stored document names
//	POST /files/upload   document upload
//	POST /audio/upload   voice clip upload
//	*                    WebSocket upgrade or static fallback
func NewRouter(rt Routes) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  logrus.StandardLogger(),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	ws := WebSocketHandler(rt.Hub, rt.Origins)
	static := StaticHandler(rt.PublicDir)
	fallback := func(w http.ResponseWriter, req *http.Request) {
		if websocket.IsWebSocketUpgrade(req) {
			ws(w, req)
			return
		}
		static(w, req)
	}

	r.Get("/health", HealthHandler(rt.Hub))
	r.Get("/ws", ws)

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowOriginFunc:  rt.Origins.Allowed,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		r.Get("/files", upload.HandleList(rt.Documents.Store()))
		r.Method(http.MethodPost, "/files/upload",
			otelhttp.NewHandler(upload.HandleUpload(rt.Documents, rt.UploadIdleTimeout), "POST /files/upload"))
		r.Method(http.MethodPost, "/audio/upload",
			otelhttp.NewHandler(upload.HandleUpload(rt.Audio, rt.UploadIdleTimeout), "POST /audio/upload"))
	})

	r.NotFound(fallback)
	r.MethodNotAllowed(fallback)
	return r
}
