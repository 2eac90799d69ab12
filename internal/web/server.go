// Package web serves the operator API: live status, a websocket snapshot
// stream and the engage/disengage/free-drive commands.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"agsteer/internal/pipeline"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const serviceName = "agsteer"

// Controller is the pipeline surface the API drives. Implementations must be
// safe for concurrent use.
type Controller interface {
	Latest() (pipeline.Snapshot, bool)
	Subscribe(buffer int) (<-chan pipeline.Snapshot, func())
	Engage()
	Disengage()
	SetFreeDrive(on bool)
	SetFreeDriveAngle(deg float64)
}

type Options struct {
	Logs *LogBuffer

	// Components adds per-component status (receiver, transport, ...) to
	// /api/status.
	Components func() map[string]any

	Log zerolog.Logger
}

type StatusResponse struct {
	Service     string             `json:"service"`
	NowUTC      string             `json:"now_utc"`
	HasSnapshot bool               `json:"has_snapshot"`
	Snapshot    *pipeline.Snapshot `json:"snapshot,omitempty"`
	Components  map[string]any     `json:"components,omitempty"`
}

// FreeDriveRequest is the body of POST /api/freedrive. A missing angle
// leaves the current angle unchanged.
type FreeDriveRequest struct {
	On       bool     `json:"on"`
	AngleDeg *float64 `json:"angle_deg,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func Handler(ctl Controller, opts Options) http.Handler {
	mux := http.NewServeMux()
	h := &handlers{ctl: ctl, opts: opts}

	mux.HandleFunc("/api/status", get(h.status))
	mux.HandleFunc("/api/stream", get(h.stream))
	mux.HandleFunc("/api/engage", post(func(w http.ResponseWriter, r *http.Request) {
		ctl.Engage()
		writeOK(w)
	}))
	mux.HandleFunc("/api/disengage", post(func(w http.ResponseWriter, r *http.Request) {
		ctl.Disengage()
		writeOK(w)
	}))
	mux.HandleFunc("/api/freedrive", post(h.freeDrive))
	mux.HandleFunc("/api/about", get(about))
	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}
	mux.HandleFunc("/", get(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	}))
	return mux
}

type handlers struct {
	ctl  Controller
	opts Options
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Service: serviceName,
		NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if snap, ok := h.ctl.Latest(); ok {
		resp.HasSnapshot = true
		resp.Snapshot = &snap
	}
	if h.opts.Components != nil {
		resp.Components = h.opts.Components()
	}
	writeJSON(w, http.StatusOK, resp)
}

// stream pushes every published snapshot as a JSON text message. The
// optional every query parameter decimates the stream.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	every := 1
	if s := r.URL.Query().Get("every"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > 1000 {
			http.Error(w, "every must be an integer in [1,1000]", http.StatusBadRequest)
			return
		}
		every = v
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.Log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	snaps, cancel := h.ctl.Subscribe(8)
	defer cancel()

	// The reader only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	n := 0
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			n++
			if (n-1)%every != 0 {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := conn.WriteJSON(snap); err != nil {
				h.opts.Log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func (h *handlers) freeDrive(w http.ResponseWriter, r *http.Request) {
	var req FreeDriveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.AngleDeg != nil {
		h.ctl.SetFreeDriveAngle(*req.AngleDeg)
	}
	h.ctl.SetFreeDrive(req.On)
	writeOK(w)
}

type AboutResponse struct {
	Service    string `json:"service"`
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
}

func about(w http.ResponseWriter, r *http.Request) {
	resp := AboutResponse{Service: serviceName, GoVersion: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		resp.ModulePath = bi.Main.Path
		resp.Version = bi.Main.Version
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				resp.Commit = s.Value
			case "vcs.modified":
				resp.Dirty = s.Value == "true"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func get(fn http.HandlerFunc) http.HandlerFunc {
	return method(http.MethodGet, fn)
}

func post(fn http.HandlerFunc) http.HandlerFunc {
	return method(http.MethodPost, fn)
}

func method(m string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			w.Header().Set("Allow", m)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func Serve(ctx context.Context, listenAddr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "web server")
	}
}

const indexHTML = `<!doctype html>
<html><head><meta charset="utf-8"><title>agsteer</title></head>
<body>
<h1>agsteer</h1>
<p>API: <a href="/api/status">/api/status</a>, <a href="/api/about">/api/about</a>, websocket /api/stream.</p>
</body></html>
`
