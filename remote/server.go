package remote

import (
	"bufio"
	"context"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/ictboard"
	"github.com/hubertat/ictboard/errcode"
)

const acceptRetryDelay = 100 * time.Millisecond

// Server serves one connection at a time: read one request line, dispatch it,
// write one response line, close. A client that connects and never sends a line
// holds the server until it disconnects; there is no idle timeout.
type Server struct {
	ctrl   ictboard.Controller
	logger *log.Logger
}

func NewServer(ctrl ictboard.Controller) *Server {
	return &Server{
		ctrl: ctrl,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "RemoteServer: ",
			Level:  log.GetLevel(),
		}),
	}
}

// Listen opens the listener. A stale unix socket file at address is removed first.
func Listen(network, address string) (net.Listener, error) {
	if network == "unix" {
		if _, err := os.Stat(address); err == nil {
			if err := os.Remove(address); err != nil {
				return nil, errors.Wrapf(err, "remove stale socket %s", address)
			}
		}
	}

	l, err := net.Listen(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s %s", network, address)
	}
	return l, nil
}

// Serve accepts connections until ctx is done. Errors while handling a connection
// are answered and logged; they never stop the loop. Serve closes l.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	defer l.Close()

	s.logger.Info("listening", "address", l.Addr().String())

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, "listener closed")
			}
			s.logger.Warn("accept failed", "err", err)
			time.Sleep(acceptRetryDelay)
			continue
		}

		s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	resp := s.exchange(conn)

	line, err := EncodeLine(resp)
	if err != nil {
		s.logger.Error("encode response", "err", err)
		line, _ = EncodeLine(failure(err))
	}
	if _, err := conn.Write(line); err != nil {
		s.logger.Warn("write response", "remote", conn.RemoteAddr(), "err", err)
	}
}

func (s *Server) exchange(conn net.Conn) Response {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineSize)

	if !scanner.Scan() {
		err := scanner.Err()
		if err == nil {
			err = errors.Wrap(errcode.Protocol, "connection closed before request")
		} else {
			err = errcode.Wrap(err, errcode.Protocol, "read request")
		}
		s.logger.Debug("no request", "remote", conn.RemoteAddr(), "err", err)
		return failure(err)
	}

	req, err := DecodeRequest(scanner.Bytes())
	if err != nil {
		s.logger.Warn("bad request", "remote", conn.RemoteAddr(), "err", err)
		return failure(err)
	}

	resp := Dispatch(s.ctrl, req)
	if resp.Success {
		s.logger.Debug("request", "board", req.BoardIndex, "command", req.Command)
	} else {
		s.logger.Warn("request failed", "board", req.BoardIndex, "command", req.Command, "message", resp.Message)
	}
	return resp
}
