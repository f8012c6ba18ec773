// Package server accepts exchange client connections over TCP and
// speaks the length-prefixed XML request protocol.
//
// Each request is a decimal byte count terminated by a newline,
// followed by exactly that many bytes of XML. Replies are raw XML
// documents with no length prefix. A connection handles requests
// strictly in order; separate connections proceed in parallel.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"

	"github.com/Matty-7/StockTradingSystem/exchange/protocol"
	"github.com/Matty-7/StockTradingSystem/metrics"
)

const (
	// A length prefix longer than this many digits is malformed
	// regardless of the configured payload cap.
	maxLengthDigits = 10

	// Accept retry delay after a transient listener error
	acceptRetryDelay = 100 * time.Millisecond
)

// Config contains server configuration
type Config struct {
	// Listen is the TCP address clients connect to.
	Listen string

	// MaxPayloadBytes caps a single request payload.
	MaxPayloadBytes int

	// ReadTimeout bounds the wait for the next request on an idle
	// connection. Zero means wait forever.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing one reply.
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Listen:          ":12345",
		MaxPayloadBytes: 1 << 20,
		ReadTimeout:     0,
		WriteTimeout:    30 * time.Second,
	}
}

// Server owns the listener and the per-connection workers
type Server struct {
	config  Config
	handler *protocol.Handler
	logger  log.Logger
	metrics *metrics.Collector

	listener net.Listener
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New creates a server around a request handler
func New(cfg Config, handler *protocol.Handler, logger log.Logger) *Server {
	return &Server{
		config:  cfg,
		handler: handler,
		logger:  logger.With("module", "server"),
		done:    make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}
}

// SetMetrics attaches a metrics collector. Call before Start.
func (s *Server) SetMetrics(c *metrics.Collector) {
	s.metrics = c
}

// Start binds the listener and begins accepting connections
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address, nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and waits for in-flight connections to
// finish. When ctx expires first, remaining connections are closed
// forcibly. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		s.closeConns()
		<-drained
		return ctx.Err()
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "err", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn reads frames and writes replies until the client hangs up
// or breaks the framing rules.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	s.trackConn(conn, true)
	defer s.trackConn(conn, false)

	logger := s.logger.With("conn_id", uuid.NewString(), "remote_addr", conn.RemoteAddr().String())
	logger.Debug("connection opened")
	if s.metrics != nil {
		s.metrics.RecordConnection(1)
		defer s.metrics.RecordConnection(-1)
	}

	r := bufio.NewReader(conn)
	for {
		if s.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		payload, err := readFrame(r, s.config.MaxPayloadBytes)
		if err != nil {
			var fe *frameError
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("connection closed")
			case errors.As(err, &fe):
				// Framed garbage earns one error reply, then the
				// connection ends: resynchronizing the stream is not
				// possible once the length prefix is untrustworthy.
				logger.Info("malformed frame", "err", fe.msg)
				s.writeReply(conn, protocol.ErrorReply(fe.msg), logger)
			default:
				logger.Info("read failed", "err", err)
			}
			return
		}

		reply := s.handler.Handle(payload)
		if !s.writeReply(conn, reply, logger) {
			return
		}
	}
}

func (s *Server) writeReply(conn net.Conn, reply []byte, logger log.Logger) bool {
	if s.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if _, err := conn.Write(reply); err != nil {
		logger.Info("write failed", "err", err)
		return false
	}
	return true
}

// frameError marks a violation of the framing rules, as opposed to an
// ordinary connection failure. It carries the wire-visible message.
type frameError struct {
	msg string
}

func (e *frameError) Error() string {
	return e.msg
}

// readFrame reads one length-prefixed request. It returns io.EOF only
// for a clean close between frames; a close mid-frame is
// io.ErrUnexpectedEOF.
func readFrame(r *bufio.Reader, maxPayload int) ([]byte, error) {
	digits := make([]byte, 0, maxLengthDigits)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(digits) == 0 {
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if b == '\n' {
			break
		}
		if b == '\r' {
			// Tolerate CRLF line endings from line-mode clients.
			nb, err := r.ReadByte()
			if err != nil || nb != '\n' {
				return nil, &frameError{msg: "Invalid length prefix"}
			}
			break
		}
		if b < '0' || b > '9' {
			return nil, &frameError{msg: "Invalid length prefix"}
		}
		if len(digits) == maxLengthDigits {
			return nil, &frameError{msg: "Invalid length prefix"}
		}
		digits = append(digits, b)
	}
	if len(digits) == 0 {
		return nil, &frameError{msg: "Invalid length prefix"}
	}

	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, &frameError{msg: "Invalid length prefix"}
	}
	if n > maxPayload {
		return nil, &frameError{msg: "Request too large"}
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
