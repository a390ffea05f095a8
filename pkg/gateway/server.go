// Package gateway is an HTTP+WebSocket facade over one handler.Handler,
// exposing raw object access and a live PDO snapshot stream for
// diagnostics and remote tooling. Out of the protocol core's hard path: it
// only calls the handler's public operation surface. Modeled on the
// teacher's CiA-309 HTTP gateway (net/http.ServeMux, JSON envelope
// responses), with the CANopen ASCII command grammar replaced by this
// device's raw-SDO/PDO vocabulary and a gorilla/websocket streaming leg the
// teacher's HTTP-only gateway never had.
package gateway

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/wujihand/wujihandgo/pkg/handler"
)

const defaultSDOTimeout = 500 * time.Millisecond

// Server is an HTTP server exposing a hand Handler's raw object access and
// PDO snapshot stream.
type Server struct {
	handler *handler.Handler
	logger  *slog.Logger
	mux     *http.ServeMux
	seq     atomic.Int64
}

// New builds a Server routing requests to h. It does not start listening;
// call ListenAndServe or use Handler() with your own http.Server.
//
// net/http serves each request on its own goroutine, so h must have been
// constructed with DisableThreadSafeCheck: true — the gateway is a
// diagnostics surface sitting outside the single-operation-thread contract
// the rest of the handler's API assumes.
func New(h *handler.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{handler: h, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /object/{index}/{sub}", s.handleReadObject)
	s.mux.HandleFunc("PUT /object/{index}/{sub}", s.handleWriteObject)
	s.mux.HandleFunc("GET /stream", s.handleStream)
	return s
}

// Handler returns the underlying http.Handler, for embedding in a larger
// mux or wrapping with middleware.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe blocks serving the gateway on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) nextSequence() int { return int(s.seq.Add(1)) }

func parseIndexSub(r *http.Request) (index uint16, sub uint8, err error) {
	rawIndex := r.PathValue("index")
	rawSub := r.PathValue("sub")
	idx, err := strconv.ParseUint(rawIndex, 0, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid index %q: %w", rawIndex, err)
	}
	s, err := strconv.ParseUint(rawSub, 0, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid sub-index %q: %w", rawSub, err)
	}
	return uint16(idx), uint8(s), nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("gateway: encode response failed", "error", err)
	}
}

func (s *Server) handleReadObject(w http.ResponseWriter, r *http.Request) {
	sequence := s.nextSequence()
	index, sub, err := parseIndexSub(r)
	if err != nil {
		s.writeJSON(w, newError(sequence, err))
		return
	}
	data, err := s.handler.RawSDORead(index, sub, defaultSDOTimeout)
	if err != nil {
		s.writeJSON(w, newError(sequence, err))
		return
	}
	s.writeJSON(w, ObjectReadResponse{ResponseBase: newOK(sequence), Data: hex.EncodeToString(data)})
}

func (s *Server) handleWriteObject(w http.ResponseWriter, r *http.Request) {
	sequence := s.nextSequence()
	index, sub, err := parseIndexSub(r)
	if err != nil {
		s.writeJSON(w, newError(sequence, err))
		return
	}
	var req ObjectWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, newError(sequence, fmt.Errorf("invalid request body: %w", err)))
		return
	}
	data, err := hex.DecodeString(req.Data)
	if err != nil {
		s.writeJSON(w, newError(sequence, fmt.Errorf("invalid hex data: %w", err)))
		return
	}
	if err := s.handler.RawSDOWrite(index, sub, data, defaultSDOTimeout); err != nil {
		s.writeJSON(w, newError(sequence, err))
		return
	}
	s.writeJSON(w, newOK(sequence))
}
