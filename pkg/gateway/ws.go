package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultStreamInterval = 50 * time.Millisecond
	minStreamInterval     = 5 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream upgrades to a WebSocket and pushes an encoded PDO snapshot at
// a configurable rate (?interval_ms=N, default 50) until the client
// disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	interval := defaultStreamInterval
	if raw := r.URL.Query().Get("interval_ms"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && time.Duration(ms)*time.Millisecond >= minStreamInterval {
			interval = time.Duration(ms) * time.Millisecond
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("gateway: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ticker.C:
			seq++
			if err := conn.WriteJSON(Snapshot{SequenceNb: seq, Joints: s.snapshot()}); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) snapshot() []JointSnapshot {
	joints := make([]JointSnapshot, 0, 20)
	for finger := 0; finger < 5; finger++ {
		for joint := 0; joint < 4; joint++ {
			joints = append(joints, JointSnapshot{
				Finger:      finger,
				Joint:       joint,
				PositionRad: s.handler.RealtimeGetJointPosition(finger, joint),
				EffortAmps:  s.handler.RealtimeGetJointActualEffort(finger, joint),
				ErrorCode:   s.handler.RealtimeGetJointErrorCode(finger, joint),
			})
		}
	}
	return joints
}
