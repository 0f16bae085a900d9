package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/kartikbazzad/docstore/logger"
	"github.com/kartikbazzad/docstore/wire"
)

// Server is the thin TCP accept loop exercising wire's message contract
// end to end: Handshake, Ping/Pong, and Command/Response framed per
// wire.Header. Every piece of actual behavior is delegated to Dispatcher.
//
// Grounded on bundoc-server/internal/rpc/server.go's Start/Stop/
// acceptLoop/handleConn shape (net.Listen, a wg-tracked accept goroutine,
// one goroutine per connection, quit channel for shutdown).
type Server struct {
	addr       string
	dispatcher *Dispatcher

	ln   net.Listener
	wg   sync.WaitGroup
	quit chan struct{}
}

// NewServer constructs a Server listening on addr and dispatching through d.
func NewServer(addr string, d *Dispatcher) *Server {
	return &Server{addr: addr, dispatcher: d, quit: make(chan struct{})}
}

// Start begins listening and accepting connections in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listener's bound address, useful when addr was ":0".
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and waits for every connection goroutine to
// finish.
func (s *Server) Stop() error {
	close(s.quit)
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				logger.Warn("accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			HandleConn(conn, s.dispatcher)
		}()
	}
}

// HandleConn drives one connection's handshake and command loop. It is
// exported so tests (and in-process transports like net.Pipe) can drive
// the contract without a real listening socket.
func HandleConn(conn net.Conn, d *Dispatcher) {
	defer conn.Close()

	header, err := wire.ReadHeader(conn)
	if err != nil {
		return
	}
	if header.OpCode != wire.OpHandshake {
		_ = wire.WriteMessage(conn, wire.OpError, wire.Response{
			Success: false, ErrorMessage: "expected handshake", ErrorKind: "InvalidArgument",
		})
		return
	}
	var hs wire.HandshakeRequest
	if err := wire.ReadBody(conn, header.Length, &hs); err != nil {
		return
	}
	if err := wire.WriteMessage(conn, wire.OpHandshake, wire.HandshakeResponse{
		ServerVersion: "1.0",
		RequireAuth:   d.RequireAuthentication,
	}); err != nil {
		return
	}

	for {
		header, err := wire.ReadHeader(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("connection read error", "error", err)
			}
			return
		}

		switch header.OpCode {
		case wire.OpPing:
			var ping wire.PingRequest
			_ = wire.ReadBody(conn, header.Length, &ping)
			if err := wire.WriteMessage(conn, wire.OpPong, wire.PongResponse{ServerTimeUnixMs: time.Now().UnixMilli()}); err != nil {
				return
			}
		case wire.OpCommand:
			var cmd wire.Command
			if err := wire.ReadBody(conn, header.Length, &cmd); err != nil {
				return
			}
			resp := d.Dispatch(cmd)
			op := wire.OpResponse
			if !resp.Success {
				op = wire.OpError
			}
			if err := wire.WriteMessage(conn, op, resp); err != nil {
				return
			}
		default:
			_ = wire.WriteMessage(conn, wire.OpError, wire.Response{
				Success: false, ErrorMessage: "unexpected opcode outside handshake", ErrorKind: "InvalidArgument",
			})
			return
		}
	}
}
