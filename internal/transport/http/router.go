package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"quiz-resume-service/internal/app"
)

// RouterOptions wires NewRouter.
type RouterOptions struct {
	Service *app.QuizService
	// Authenticate attaches the signed-in user to the request context.
	Authenticate func(http.Handler) http.Handler
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter builds the service's HTTP handler.
func NewRouter(opts RouterOptions) http.Handler {
	api := http.NewServeMux()
	NewHandler(opts.Service, opts.Logger).Register(api)
	api.HandleFunc("GET /ws", NewWSHandler(opts.Service, opts.Logger).ServeWS)

	var handler http.Handler = WithDevice(api)
	if opts.Authenticate != nil {
		handler = opts.Authenticate(handler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", handler)
	return mux
}
