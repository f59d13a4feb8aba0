package app

import (
	"net/http"

	"chatwire/pkg/api"
	"chatwire/pkg/auth"
	"chatwire/pkg/banner"
	"chatwire/pkg/logger"
	"chatwire/pkg/store"
	"chatwire/pkg/telemetry"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

// setupHTTPHandlers mounts probes, metrics, docs and the chat API on the
// provided router.
func (a *App) setupHTTPHandlers(r *mux.Router) {
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs"))).Methods(http.MethodGet)

	api.Register(r, api.Deps{
		Coord:          a.coord,
		Hub:            a.hub,
		Chat:           a.eff.Config.Chat,
		AllowedOrigins: append([]string{}, a.eff.Config.Security.CORS.AllowedOrigins...),
		TokenTTL:       a.eff.Config.Auth.TokenTTL.Duration(),
	})
}

// readyzHandler reports readiness: the store must be open before the
// service takes traffic.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !store.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}

// healthzHandler handles the /healthz endpoint.
func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// startHTTP builds the handler chain, starts the HTTP server in a
// goroutine and returns a channel that will carry any server error.
func (a *App) startHTTP() <-chan error {
	r := mux.NewRouter()
	a.setupHTTPHandlers(r)

	secCfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, a.eff.Config.Security.CORS.AllowedOrigins...),
		RPS:            a.eff.Config.Security.RateLimit.RPS,
		Burst:          a.eff.Config.Security.RateLimit.Burst,
	}

	// wrap with auth middleware, then telemetry middleware
	wrapped := auth.AuthenticateRequestMiddleware(secCfg)(r)
	wrapped = telemetry.Middleware(wrapped)

	a.srv = &http.Server{Addr: a.eff.Addr, Handler: wrapped}

	errCh := make(chan error, 1)
	go func() {
		cert := a.eff.Config.Server.TLS.CertFile
		key := a.eff.Config.Server.TLS.KeyFile
		if cert != "" && key != "" {
			logger.Info("http_listening", "addr", a.eff.Addr, "tls", true)
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			logger.Info("http_listening", "addr", a.eff.Addr, "tls", false)
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}
