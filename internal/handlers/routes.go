package handlers

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes wires every endpoint onto a new ServeMux
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.HandleIndex)
	mux.Handle("GET /static/", h.HandleStatic())

	mux.HandleFunc("POST /process/file", h.HandleProcessFile)
	mux.HandleFunc("POST /process/submit", h.HandleProcessSubmit)
	mux.HandleFunc("POST /reconstruct/slots/{slot}", h.HandleAttach)
	mux.HandleFunc("POST /reconstruct/slots/{slot}/remove", h.HandleRemove)
	mux.HandleFunc("POST /reconstruct/submit", h.HandleReconstructSubmit)
	mux.HandleFunc("POST /workspace/reset", h.HandleReset)

	mux.HandleFunc("GET /api/state", h.HandleState)
	mux.HandleFunc("GET /ws", h.HandleLive)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	return mux
}
