package gameserver

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/arenalabs/arena/internal/game/room"
)

// diagnosticsResponse is the payload served on /diagnostics.
type diagnosticsResponse struct {
	Connections int             `json:"connections"`
	Rooms       []room.Snapshot `json:"rooms"`
}

// NewMux returns the server's HTTP routes: the WebSocket endpoint plus
// health and diagnostics handlers.
//
// Precondition: svc and logger must be non-nil.
func NewMux(svc *Service, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(svc, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, _ *http.Request) {
		snaps := svc.Snapshots()
		if snaps == nil {
			snaps = []room.Snapshot{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(diagnosticsResponse{
			Connections: svc.ConnectionCount(),
			Rooms:       snaps,
		}); err != nil {
			logger.Warn("writing diagnostics response", zap.Error(err))
		}
	})
	return mux
}
