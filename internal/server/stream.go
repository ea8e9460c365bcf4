// Package server exposes the transcription pipeline over WebSocket.
//
// A client opens GET /v1/stream?codec=L16&rate=8000 and then sends:
//
//   - binary messages: one frame of signed 16-bit little-endian PCM each
//   - text messages: JSON control messages, {"type":"pause"},
//     {"type":"resume"}, {"type":"param","key":...,"value":...} or
//     {"type":"close"}
//
// The server answers with JSON text messages: a "ready" message carrying the
// session id, "transcript" messages as utterances are recognised, "vad"
// messages on speech onset when a session_uuid is set, and "error" messages
// for rejected input. Query parameters other than codec, rate and channels
// are applied as session params.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callscribe/internal/asr"
)

// Defaults applied by [New] when the corresponding [Config] field is zero.
const (
	DefaultResultPoll = 20 * time.Millisecond
	DefaultReadLimit  = 1 << 20
	DefaultOutbound   = 64
)

const writeTimeout = 5 * time.Second

var (
	errClientDone   = errors.New("server: client ended the stream")
	errSessionEnded = errors.New("server: session ended")
)

// Config tunes the stream endpoint.
type Config struct {
	// ResultPoll is how often transcripts are collected for a stream.
	ResultPoll time.Duration

	// ReadLimit caps the size of a single inbound message in bytes.
	ReadLimit int64

	// Outbound is the per-stream buffer for event messages. Events that do
	// not fit are dropped.
	Outbound int

	// OriginPatterns lists extra hosts allowed to open browser connections.
	OriginPatterns []string
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server serves transcription streams backed by an [asr.Process].
type Server struct {
	proc     *asr.Process
	cfg      Config
	registry *Registry
	logger   *slog.Logger
}

// New creates a Server.
func New(proc *asr.Process, cfg Config, opts ...Option) *Server {
	if cfg.ResultPoll <= 0 {
		cfg.ResultPoll = DefaultResultPoll
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.Outbound <= 0 {
		cfg.Outbound = DefaultOutbound
	}
	s := &Server{
		proc:     proc,
		cfg:      cfg,
		registry: NewRegistry(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Registry returns the registry of connected streams.
func (s *Server) Registry() *Registry { return s.registry }

// Register adds the stream and session listing routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/stream", s.HandleStream)
	mux.HandleFunc("GET /v1/sessions", s.HandleSessions)
}

// message is the envelope of every server-to-client message.
type message struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	VADType   string `json:"vad_type,omitempty"`
	UniqueID  string `json:"unique_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// control is a client-to-server text message.
type control struct {
	Type  string `json:"type"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

// reserved query parameters are consumed by the handler instead of being
// forwarded as session params.
var reserved = map[string]bool{"codec": true, "rate": true, "channels": true}

// HandleStream upgrades the request to a WebSocket and runs one session over
// it until either side ends the stream.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	codecName := q.Get("codec")
	if codecName == "" {
		codecName = asr.CodecL16
	}
	rate, err := strconv.Atoi(q.Get("rate"))
	if err != nil || rate <= 0 {
		http.Error(w, "rate must be a positive integer", http.StatusBadRequest)
		return
	}
	channels := 1
	if v := q.Get("channels"); v != "" {
		channels, err = strconv.Atoi(v)
		if err != nil || channels <= 0 {
			http.Error(w, "channels must be a positive integer", http.StatusBadRequest)
			return
		}
	}
	params := make(map[string]string)
	for k, vs := range q {
		if !reserved[k] && len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	out := make(chan message, s.cfg.Outbound)
	sink := asr.EventFunc(func(ev asr.Event) {
		select {
		case out <- message{Type: string(ev.Type), SessionID: ev.SessionID, VADType: ev.VADType, UniqueID: ev.UniqueID}:
		default:
			s.logger.Debug("outbound buffer full; event dropped", "session_id", ev.SessionID)
		}
	})

	sess, err := s.proc.Open(codecName, rate,
		asr.WithChannels(channels),
		asr.WithParams(params),
		asr.WithSessionEvents(sink),
	)
	if err != nil {
		switch {
		case errors.Is(err, asr.ErrUnsupportedCodec), errors.Is(err, asr.ErrInvalidRate):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, asr.ErrShuttingDown):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			s.logger.Error("open session", "err", err)
			http.Error(w, "unable to open session", http.StatusInternalServerError)
		}
		return
	}
	log := s.logger.With("session_id", sess.ID())
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("close session", "err", err)
		}
	}()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	info := StreamInfo{
		SessionID:   sess.ID(),
		SessionUUID: params["session_uuid"],
		Codec:       codecName,
		SampleRate:  rate,
		Remote:      r.RemoteAddr,
		StartedAt:   time.Now(),
	}
	s.registry.add(info, sess)
	defer s.registry.remove(info.SessionID)
	log.Info("stream connected", "remote", info.Remote, "rate", rate, "channels", channels)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := writeMessage(ctx, conn, message{Type: "ready", SessionID: sess.ID()}); err != nil {
		log.Warn("send ready", "err", err)
		conn.CloseNow()
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx, conn, sess, out) })
	g.Go(func() error { return s.writeLoop(gctx, conn, sess, out) })
	err = g.Wait()

	switch {
	case errors.Is(err, errClientDone):
		conn.Close(websocket.StatusNormalClosure, "stream closed")
		log.Info("stream closed by client")
	case errors.Is(err, errSessionEnded):
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		log.Info("stream ended by server")
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		log.Info("stream disconnected")
	default:
		conn.CloseNow()
		log.Warn("stream failed", "err", err)
	}
}

// readLoop feeds binary frames into the session and applies control
// messages.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *asr.Session, out chan<- message) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			if err := sess.Feed(data); err != nil {
				if errors.Is(err, asr.ErrSessionClosed) {
					return errSessionEnded
				}
				s.reject(out, err)
			}
		case websocket.MessageText:
			var c control
			if err := json.Unmarshal(data, &c); err != nil {
				s.reject(out, fmt.Errorf("invalid control message: %w", err))
				continue
			}
			switch c.Type {
			case "pause":
				sess.Pause()
			case "resume":
				sess.Resume()
			case "param":
				if c.Key == "" {
					s.reject(out, errors.New("param message needs a key"))
					continue
				}
				sess.SetParam(c.Key, c.Value)
			case "close":
				return errClientDone
			default:
				s.reject(out, fmt.Errorf("unknown control message type %q", c.Type))
			}
		}
	}
}

// writeLoop delivers events and collected transcripts to the client.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *asr.Session, out <-chan message) error {
	ticker := time.NewTicker(s.cfg.ResultPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sess.Done():
			if err := sendResults(ctx, conn, sess); err != nil {
				return err
			}
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return errSessionEnded
		case m := <-out:
			if err := writeMessage(ctx, conn, m); err != nil {
				return err
			}
		case <-ticker.C:
			if err := sendResults(ctx, conn, sess); err != nil {
				return err
			}
		}
	}
}

func sendResults(ctx context.Context, conn *websocket.Conn, sess *asr.Session) error {
	for sess.CheckResults() {
		text, ok := sess.GetResult()
		if !ok {
			return nil
		}
		if err := writeMessage(ctx, conn, message{Type: "transcript", SessionID: sess.ID(), Text: text}); err != nil {
			return err
		}
	}
	return nil
}

// reject reports a non-fatal input error to the client without blocking.
func (s *Server) reject(out chan<- message, err error) {
	select {
	case out <- message{Type: "error", Error: err.Error()}:
	default:
		s.logger.Debug("outbound buffer full; error dropped", "err", err)
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, m message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("server: marshal %s message: %w", m.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// HandleSessions lists the connected streams as JSON.
func (s *Server) HandleSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	body := struct {
		Active  int            `json:"active_workers"`
		Streams []StreamStatus `json:"streams"`
	}{
		Active:  s.proc.ActiveWorkers(),
		Streams: s.registry.List(),
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("encode sessions", "err", err)
	}
}
