package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/harrylevesque/mindgate/internal/auth"
	"github.com/harrylevesque/mindgate/internal/crypto"
	"github.com/harrylevesque/mindgate/internal/mlclient"
	"github.com/harrylevesque/mindgate/internal/proxy"
	"github.com/harrylevesque/mindgate/internal/utils"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	ML          *mlclient.Client
	Forwarder   http.Handler
	Auth        *auth.Middleware
	Pseudo      *crypto.Pseudonymizer
	Logger      *zap.Logger
	CORSOrigins []string
}

// NewHandler returns the router wrapped in the gateway middleware chain.
func NewHandler(d Deps) http.Handler {
	d = d.withDefaults()
	var h http.Handler = NewRouter(d)
	h = CORS(d.CORSOrigins)(h)
	h = AccessLog(d.Logger, d.Pseudo)(h)
	h = Recover(d.Logger)(h)
	return RequestID(h)
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Auth == nil {
		d.Auth = auth.NewMiddleware(nil, false, d.Logger)
	}
	if d.Pseudo == nil {
		d.Pseudo, _ = crypto.NewPseudonymizer(nil)
	}
	if d.Forwarder == nil {
		d.Forwarder = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proxy.WriteError(w, r, utils.New(utils.ErrNotFound, "no route for "+r.URL.Path))
		})
	}
	return d
}

// NewRouter registers the health checks, the ML endpoints and the catch-all
// backend proxy.
func NewRouter(d Deps) *mux.Router {
	d = d.withDefaults()
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		proxy.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/ready", readyHandler(d.ML)).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(d.Auth.Handler)

	if d.ML != nil {
		h := &mlHandlers{ml: d.ML, logger: d.Logger}
		ml := api.PathPrefix("/ml").Subrouter()
		ml.HandleFunc("/process", h.processText).Methods("POST")
		ml.HandleFunc("/depression-detection", h.detectDepression).Methods("POST")
		ml.HandleFunc("/risk-assessment", h.assessRisk).Methods("POST")
		ml.HandleFunc("/sentiment-analysis", h.analyzeSentiment).Methods("POST")
		ml.HandleFunc("/wellness-dimensions", h.analyzeWellness).Methods("POST")
		ml.HandleFunc("/health", h.mlHealth).Methods("GET")
		ml.HandleFunc("/digital-twin/generate", h.generateDigitalTwin).Methods("POST")
		ml.HandleFunc("/digital-twin/sessions", h.createSession).Methods("POST")
		ml.HandleFunc("/digital-twin/sessions/{sessionId}", h.getSession).Methods("GET")
		ml.HandleFunc("/digital-twin/sessions/{sessionId}/messages", h.sendMessage).Methods("POST")
		ml.HandleFunc("/digital-twin/sessions/{sessionId}/end", h.endSession).Methods("POST")
		ml.HandleFunc("/digital-twin/sessions/{sessionId}/insights", h.sessionInsights).Methods("GET")
		ml.HandleFunc("/phi/detect", h.detectPHI).Methods("POST")
		ml.HandleFunc("/phi/redact", h.redactPHI).Methods("POST")
		ml.HandleFunc("/phi/health", h.phiHealth).Methods("GET")
	}

	api.PathPrefix("/").Handler(d.Forwarder)
	return r
}

func readyHandler(ml *mlclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ml == nil {
			proxy.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		health, err := ml.CheckMLHealth(ctx)
		if err != nil {
			e := utils.Classify(err)
			proxy.WriteError(w, r, &utils.APIError{
				Type:    utils.ErrServiceUnavailable,
				Status:  http.StatusServiceUnavailable,
				Message: "ml service not ready: " + e.Message,
				Err:     err,
			})
			return
		}
		if !health.Healthy() {
			proxy.WriteError(w, r, utils.New(utils.ErrServiceUnavailable, "ml service reports status "+health.Status))
			return
		}
		proxy.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready", "ml": health.Status})
	}
}
