package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PiranhaCodes/shellpty/internal/journal"
	"github.com/PiranhaCodes/shellpty/internal/pty"
)

const defaultHistoryLimit = 50

// Server handles UNIX socket connections on top of a session registry.
type Server struct {
	socketPath string
	registry   *pty.Registry
	journal    *journal.Journal
	logger     *logrus.Logger

	transcriptDir string
	defaultCols   int
	defaultRows   int

	listener net.Listener
	stopChan chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	hubs map[*pty.Session]*hub
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *logrus.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTranscriptDir makes the server append every session's output to
// <dir>/<id>.log.
func WithTranscriptDir(dir string) ServerOption {
	return func(s *Server) { s.transcriptDir = dir }
}

// WithDefaultSize sets the geometry used when a spawn request omits it.
func WithDefaultSize(cols, rows int) ServerOption {
	return func(s *Server) {
		s.defaultCols = cols
		s.defaultRows = rows
	}
}

// WithJournal enables the history action.
func WithJournal(j *journal.Journal) ServerOption {
	return func(s *Server) { s.journal = j }
}

// NewServer creates a new server instance.
func NewServer(socketPath string, registry *pty.Registry, opts ...ServerOption) *Server {
	s := &Server{
		socketPath:  socketPath,
		registry:    registry,
		logger:      logrus.StandardLogger(),
		defaultCols: 80,
		defaultRows: 24,
		stopChan:    make(chan struct{}),
		hubs:        make(map[*pty.Session]*hub),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens on the socket and serves until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Listen binds the socket, replacing a stale one.
func (s *Server) Listen() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}

	s.listener = listener
	s.logger.WithField("socket", s.socketPath).Info("server listening")
	return nil
}

// Serve accepts connections until Stop is called.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

// Stop stops the server and closes the listener. Attached clients are
// released.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.listener != nil {
			s.listener.Close()
		}
		os.Remove(s.socketPath)
		s.logger.Info("server stopped")
	})
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		encoder.Encode(Response{Ok: false, Err: "invalid request: " + err.Error()})
		return
	}
	s.logger.WithField("action", req.Action).Debug("request")

	switch req.Action {
	case "spawn":
		s.handleSpawn(req.Data, encoder)
	case "write":
		s.handleWrite(req.Data, encoder)
	case "resize":
		s.handleResize(req.Data, encoder)
	case "kill":
		s.handleKill(req.Data, encoder)
	case "list":
		s.handleList(encoder)
	case "attach":
		s.handleAttach(conn, req.Data, encoder)
	case "history":
		s.handleHistory(req.Data, encoder)
	default:
		encoder.Encode(Response{Ok: false, Err: "unknown action: " + req.Action})
	}
}

func fail(encoder *json.Encoder, err error) {
	encoder.Encode(Response{Ok: false, Err: err.Error()})
}

func (s *Server) handleSpawn(data json.RawMessage, encoder *json.Encoder) {
	var req SpawnRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			encoder.Encode(Response{Ok: false, Err: "invalid spawn request: " + err.Error()})
			return
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = s.defaultCols
	}
	if rows == 0 {
		rows = s.defaultRows
	}

	h, err := newHub(id, s.transcriptDir, s.logger)
	if err != nil {
		fail(encoder, err)
		return
	}

	sess, err := s.registry.Spawn(id, cols, rows, h.publish)
	if err != nil {
		h.discard()
		fail(encoder, err)
		return
	}

	s.mu.Lock()
	s.hubs[sess] = h
	s.mu.Unlock()
	go s.releaseHub(sess, h)

	encoder.Encode(Response{
		Ok: true,
		Data: SpawnResponse{
			ID:      sess.ID,
			Program: sess.Shell.Program,
			Pid:     sess.Pid,
		},
	})
}

// releaseHub closes a session's hub once its relay has delivered the last
// chunk.
func (s *Server) releaseHub(sess *pty.Session, h *hub) {
	<-sess.Done()
	h.close()

	s.mu.Lock()
	delete(s.hubs, sess)
	s.mu.Unlock()
}

func (s *Server) hubFor(sess *pty.Session) *hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hubs[sess]
}

func (s *Server) handleWrite(data json.RawMessage, encoder *json.Encoder) {
	var req WriteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		encoder.Encode(Response{Ok: false, Err: "invalid write request: " + err.Error()})
		return
	}

	if req.ID == "" {
		encoder.Encode(Response{Ok: false, Err: "session ID is required"})
		return
	}

	input := req.Bytes
	if len(input) == 0 {
		input = []byte(req.Data)
	}
	if err := s.registry.Write(req.ID, input); err != nil {
		fail(encoder, err)
		return
	}

	encoder.Encode(Response{Ok: true})
}

func (s *Server) handleResize(data json.RawMessage, encoder *json.Encoder) {
	var req ResizeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		encoder.Encode(Response{Ok: false, Err: "invalid resize request: " + err.Error()})
		return
	}

	if req.ID == "" {
		encoder.Encode(Response{Ok: false, Err: "session ID is required"})
		return
	}

	if err := s.registry.Resize(req.ID, req.Cols, req.Rows); err != nil {
		fail(encoder, err)
		return
	}

	encoder.Encode(Response{Ok: true})
}

func (s *Server) handleKill(data json.RawMessage, encoder *json.Encoder) {
	var req KillRequest
	if err := json.Unmarshal(data, &req); err != nil {
		encoder.Encode(Response{Ok: false, Err: "invalid kill request: " + err.Error()})
		return
	}

	if req.ID == "" {
		encoder.Encode(Response{Ok: false, Err: "session ID is required"})
		return
	}

	if err := s.registry.Close(req.ID); err != nil {
		fail(encoder, err)
		return
	}

	encoder.Encode(Response{Ok: true})
}

func (s *Server) handleList(encoder *json.Encoder) {
	sessions := s.registry.List()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		size := sess.Size()
		info := SessionInfo{
			ID:      sess.ID,
			Status:  StatusActive,
			Program: sess.Shell.Program,
			Pid:     sess.Pid,
			Cols:    int(size.Cols),
			Rows:    int(size.Rows),
		}
		if sess.Ended() {
			info.Status = StatusExited
		}
		if sess.Exited() {
			code := sess.ExitCode()
			info.ExitCode = &code
		}
		infos = append(infos, info)
	}

	encoder.Encode(Response{
		Ok: true,
		Data: ListResponse{
			Sessions: infos,
			Count:    len(infos),
		},
	})
}

// handleAttach acknowledges the request and then streams the session's
// output as OutputEvent lines until the session ends, the client hangs up or
// the server stops. A client that falls more than subscriberBuffer chunks
// behind gets a final event with Err set.
func (s *Server) handleAttach(conn net.Conn, data json.RawMessage, encoder *json.Encoder) {
	var req AttachRequest
	if err := json.Unmarshal(data, &req); err != nil {
		encoder.Encode(Response{Ok: false, Err: "invalid attach request: " + err.Error()})
		return
	}

	if req.ID == "" {
		encoder.Encode(Response{Ok: false, Err: "session ID is required"})
		return
	}

	sess, ok := s.registry.Get(req.ID)
	if !ok {
		fail(encoder, fmt.Errorf("%w: %s", pty.ErrSessionNotFound, req.ID))
		return
	}
	h := s.hubFor(sess)
	if h == nil || sess.Ended() {
		fail(encoder, fmt.Errorf("%w: %s", pty.ErrSessionExited, req.ID))
		return
	}

	ch, detach := h.subscribe()
	defer detach()

	if err := encoder.Encode(Response{Ok: true}); err != nil {
		return
	}

	gone := make(chan struct{})
	go func() {
		io.Copy(io.Discard, conn)
		close(gone)
	}()

	log := s.logger.WithField("session", req.ID)
	log.Debug("client attached")
	defer log.Debug("client detached")

	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				if h.lagged(ch) {
					log.Debug("sent detach notice to lagging client")
					encoder.Encode(OutputEvent{ID: req.ID, Err: errLaggingClient})
				}
				return
			}
			if err := encoder.Encode(OutputEvent{ID: req.ID, Data: chunk}); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.stopChan:
			return
		}
	}
}

func (s *Server) handleHistory(data json.RawMessage, encoder *json.Encoder) {
	if s.journal == nil {
		encoder.Encode(Response{Ok: false, Err: "journal is disabled"})
		return
	}

	var req HistoryRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			encoder.Encode(Response{Ok: false, Err: "invalid history request: " + err.Error()})
			return
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var (
		events []*journal.Event
		err    error
	)
	ctx := context.Background()
	if req.ID != "" {
		events, err = s.journal.BySession(ctx, req.ID, limit)
	} else {
		events, err = s.journal.Recent(ctx, limit)
	}
	if err != nil {
		fail(encoder, err)
		return
	}

	out := make([]HistoryEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, HistoryEvent{
			Time:     ev.Time,
			ID:       ev.SessionID,
			Event:    ev.Kind,
			Program:  ev.Program,
			Pid:      ev.Pid,
			ExitCode: ev.ExitCode,
		})
	}
	encoder.Encode(Response{Ok: true, Data: HistoryResponse{Events: out}})
}
