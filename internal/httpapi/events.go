package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams reading and alert events over a websocket. An optional
// farmer_id query parameter narrows the stream to one farmer.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var farmerFilter int64
	if v := strings.TrimSpace(r.URL.Query().Get("farmer_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid farmer_id", http.StatusBadRequest)
			return
		}
		farmerFilter = id
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	// Read pump: we only care about the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if farmerFilter != 0 && evt.FarmerID != farmerFilter {
				continue
			}
			msg, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}
