package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one message on the run event stream. Turn is set for "turn"
// events, Run for the final "status" event.
type Event struct {
	Type string             `json:"type"`
	Turn *conversation.Turn `json:"turn,omitempty"`
	Run  *store.Run         `json:"run,omitempty"`
}

const (
	EventTurn   = "turn"
	EventStatus = "status"
)

func (s *Server) handleEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		http.Error(w, "Missing run ID", http.StatusBadRequest)
		return
	}

	// Verify the run exists.
	if _, err := s.runs.GetRun(r.Context(), runID); err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	// Subscribe before the first sync so no change is missed in between.
	updates := s.runs.Subscribe()
	defer s.runs.Unsubscribe(updates)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	done := make(chan struct{})
	sentIDs := make(map[string]bool)

	finished, err := s.syncRun(ws, runID, sentIDs)
	if err != nil {
		slog.Error("Failed initial run sync", "runID", runID, "error", err)
		return
	}
	if finished {
		closeNormally(ws)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)

	// Writer goroutine: pushes new turns to the client.
	go func() {
		defer wg.Done()
		defer ws.Close()

		// Stores drop notifications for slow subscribers; the ticker
		// resyncs so a missed one only delays delivery.
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case id := <-updates:
				if id != runID {
					continue
				}
			case <-ticker.C:
			}
			finished, err := s.syncRun(ws, runID, sentIDs)
			if err != nil {
				slog.Error("Failed run sync", "runID", runID, "error", err)
				return
			}
			if finished {
				closeNormally(ws)
				return
			}
		}
	}()

	// Reader loop: the client sends nothing, but reading surfaces its close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read ended", "runID", runID, "error", err)
			}
			break
		}
	}

	close(done)
	wg.Wait()
}

// syncRun writes turns not yet sent and, once the run is terminal, a
// status event. It reports whether the run is terminal.
func (s *Server) syncRun(ws *websocket.Conn, runID string, sentIDs map[string]bool) (bool, error) {
	ctx := context.Background()

	// Read the run first so a terminal status implies all turns are visible.
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	turns, err := s.runs.GetTurns(ctx, runID)
	if err != nil {
		return false, err
	}

	for i := range turns {
		if sentIDs[turns[i].ID] {
			continue
		}
		if err := ws.WriteJSON(Event{Type: EventTurn, Turn: &turns[i]}); err != nil {
			return false, err
		}
		sentIDs[turns[i].ID] = true
	}

	if run.Status == store.StatusRunning {
		return false, nil
	}
	return true, ws.WriteJSON(Event{Type: EventStatus, Run: run})
}

func closeNormally(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
