package httpapi

import (
	"net/http"
	"time"

	"llm_fanout/internal/middleware"
	"llm_fanout/internal/utils"
)

// NewRouter registers every route. Session-authenticated routes go through
// the session middleware; the Stripe webhook authenticates by signature.
func NewRouter(h *Handler, tokens middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()
	session := middleware.SessionMiddleware(tokens)
	protected := func(fn http.HandlerFunc) http.Handler {
		return session(fn)
	}

	// Health check endpoint - public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.Handle("POST /v1/interactions", protected(h.CreateInteraction))
	mux.Handle("GET /v1/interactions/{id}", protected(h.GetInteraction))
	mux.Handle("POST /v1/interactions/{id}/turns", protected(h.ContinueInteraction))
	mux.Handle("POST /v1/interactions/{id}/summary", protected(h.SummarizeInteraction))

	if h.deps.History != nil {
		mux.Handle("GET /v1/interactions", protected(h.ListInteractions))
		mux.Handle("DELETE /v1/interactions/{id}", protected(h.DeleteInteraction))
	}
	if h.deps.Usage != nil {
		mux.Handle("GET /v1/usage", protected(h.ListUsage))
	}

	mux.Handle("GET /v1/balance", protected(h.GetBalance))
	mux.Handle("GET /v1/settings", protected(h.GetSettings))
	mux.Handle("PUT /v1/settings/credentials/{provider}", protected(h.StoreCredential))
	mux.Handle("DELETE /v1/settings/credentials/{provider}", protected(h.RemoveCredential))
	mux.Handle("PUT /v1/settings/preferences", protected(h.UpdatePreferences))

	// Payment routes exist only when Stripe is configured
	if h.deps.Checkout != nil {
		mux.Handle("POST /v1/checkout", protected(h.CreateCheckout))
	}
	if h.deps.Webhooks != nil {
		mux.HandleFunc("POST /v1/webhooks/stripe", h.StripeWebhook)
	}

	return logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// logRequests writes one access log line per request
func logRequests(next http.Handler) http.Handler {
	logger := utils.NewLogger("access")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		logger.Info("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}
