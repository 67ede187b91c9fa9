package gateway

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/metrics"
)

// DefaultMaxFrameBytes caps one request line. Scanner growth beyond
// the cap closes the connection.
const DefaultMaxFrameBytes = 1 << 20

// DefaultIdleTimeout closes connections that send nothing. Clients
// re-authenticate per frame, so cutting an idle peer loses nothing.
const DefaultIdleTimeout = 10 * time.Minute

// frameTimeout bounds one frame end to end, including map adapter
// calls made on its behalf.
const frameTimeout = 30 * time.Second

// Options tunes the listener. Zero values fall back to the defaults.
type Options struct {
	IdleTimeout   time.Duration
	MaxFrameBytes int
}

// Server accepts TCP connections and speaks newline-delimited JSON
// frames. One goroutine per connection; all connections share one
// handler.
type Server struct {
	handler       *Handler
	logger        *zap.Logger
	idleTimeout   time.Duration
	maxFrameBytes int

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// NewServer creates a new gateway server.
func NewServer(handler *Handler, log *zap.Logger, opts Options) *Server {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return &Server{
		handler:       handler,
		logger:        log,
		idleTimeout:   opts.IdleTimeout,
		maxFrameBytes: opts.MaxFrameBytes,
		conns:         make(map[net.Conn]struct{}),
	}
}

// Listen binds the TCP address. Call before Serve.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown closes the listener. ctx is
// the base context handed to every frame.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("gateway: Serve called before Listen")
	}

	s.logger.Info("Gateway listening", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("Accept failed", zap.Error(err))
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConn(ctx, conn)
	}
}

// Shutdown stops accepting, wakes idle readers so their connections
// drain, and waits for in-flight frames. Connections still open when
// ctx expires are cut.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	for conn := range s.conns {
		// Wake blocked reads; a frame mid-handle still writes its reply
		// before the loop notices the expired deadline.
		_ = conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			s.logger.Error("Connection handler panic",
				zap.Any("panic", r),
				zap.String("remote", conn.RemoteAddr().String()))
		}
		conn.Close()
		s.forget(conn)
		metrics.ConnectionClosed()
	}()
	metrics.ConnectionOpened()

	remoteIP, remotePort := splitRemote(conn.RemoteAddr())
	s.logger.Debug("Connection opened", zap.String("remote", conn.RemoteAddr().String()))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), s.maxFrameBytes)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			return
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				switch {
				case errors.Is(err, os.ErrDeadlineExceeded):
					s.logger.Debug("Connection idle, closing", zap.String("remote", conn.RemoteAddr().String()))
				case errors.Is(err, bufio.ErrTooLong):
					s.logger.Warn("Frame over size cap, closing", zap.String("remote", conn.RemoteAddr().String()))
				case !errors.Is(err, net.ErrClosed):
					s.logger.Debug("Connection read ended", zap.Error(err))
				}
			}
			return
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !s.serveFrame(ctx, conn, line, remoteIP, remotePort) {
			return
		}
	}
}

// serveFrame handles one line and writes one reply. A malformed frame
// gets an error reply and the connection stays open; only write
// failures end the loop.
func (s *Server) serveFrame(ctx context.Context, conn net.Conn, line []byte, remoteIP string, remotePort int) bool {
	start := time.Now()
	frameCtx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	frameType := 0
	var resp *Response
	frame, err := decodeFrame(line)
	if err != nil {
		resp = errorResponse(0, StatusInvalidInput, err.Error())
	} else {
		frameType = frame.Type
		resp = s.handler.Handle(frameCtx, frame, remoteIP, remotePort)
	}

	metrics.RecordFrame(frameType, resp.Status, time.Since(start))
	if resp.Status != StatusOK {
		s.logger.Debug("Frame rejected",
			zap.Int("type", frameType),
			zap.Int("status", resp.Status))
	}

	if err := writeResponse(conn, resp); err != nil {
		s.logger.Debug("Write failed, closing connection",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err))
		return false
	}
	return true
}

// splitRemote breaks a peer address into the (ip, port) recorded on
// the session heartbeat.
func splitRemote(addr net.Addr) (string, int) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
