package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

const (
	logPollInterval = 200 * time.Millisecond
	logWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamJobLogs streams job log lines over WebSocket, one message per
// line, and closes with the job's final status once every line is sent.
func (s *Server) StreamJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The client never sends data; reading only surfaces its close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	offset := 0
	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
		}

		n, done, err := sendLogs(conn, job, offset)
		offset += n
		if err != nil {
			return
		}
		if done {
			conn.SetWriteDeadline(time.Now().Add(logWriteTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, job.CurrentStatus()))
			return
		}
	}
}

// sendLogs writes the lines after offset. done is true once the job has
// finished and nothing is left to send. The status is read before the
// lines so that lines written just before the job finished are not lost.
func sendLogs(conn *websocket.Conn, job *models.Job, offset int) (sent int, done bool, err error) {
	finished := job.Done()
	lines := job.LogsSince(offset)
	for _, line := range lines {
		conn.SetWriteDeadline(time.Now().Add(logWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return sent, false, err
		}
		sent++
	}
	return sent, finished && len(lines) == 0, nil
}
