// Package server implements the accept driver: it accepts TCP connections,
// runs the login handshake for each, and on success hands the connection off
// to a session.Client's receive loop in its own goroutine. Grounded on
// meesudzu-jx2-paysys's internal/server/server.go for the listener
// lifecycle (a WaitGroup, with context cancellation in place of its
// shutdown channel) and on
// original_source/rust/server/src/main.rs for the one-goroutine-per-
// connection model this spec requires.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"chatrelay/internal/metrics"
	"chatrelay/internal/protocol"
	"chatrelay/internal/registry"
	"chatrelay/internal/session"
)

// Server accepts connections on a listener and runs the chat relay.
type Server struct {
	ln      net.Listener
	reg     *registry.Registry
	metrics *metrics.Metrics
	log     *logrus.Logger

	wg sync.WaitGroup
}

// New constructs a Server bound to an already-listening net.Listener. reg
// is the single shared roster every session will be admitted into or
// removed from.
func New(ln net.Listener, reg *registry.Registry, m *metrics.Metrics, log *logrus.Logger) *Server {
	return &Server{ln: ln, reg: reg, metrics: m, log: log}
}

// Serve accepts connections until ctx is canceled or the listener errors. On
// cancellation (or a closed listener) it waits for every in-flight session
// goroutine to return before returning nil; open sessions are not closed, so
// this lasts until their peers disconnect. Any other accept error is
// returned at once, without waiting for sessions.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection runs the login handshake and, on admission, the session's
// Active receive loop. It always leaves the connection closed on return
// (either directly, on rejection, or via Client.Run's termination).
func (s *Server) handleConnection(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	log := s.log.WithFields(logrus.Fields{"component": "accept", "remote_addr": addr})

	layer := protocol.NewLayer(conn)

	frame, err := layer.ReadFrame()
	if err != nil {
		log.WithError(err).Debug("failed to read login frame")
		_ = conn.Close()
		return
	}

	if frame.Header.MessageType() != protocol.TypeLogin {
		log.WithField("type", frame.Header.MessageType().String()).Warn("first frame was not LOGIN")
		_ = conn.Close()
		return
	}

	username, err := frame.Header.SourceUsername()
	if err != nil || username == "" {
		log.WithError(err).Warn("login frame had empty or invalid username")
		_ = conn.Close()
		return
	}

	if username == protocol.ServerName || username == protocol.AllUsers {
		s.rejectLogin(layer, conn, username, "Error. Username is reserved.", "reserved")
		return
	}

	client := session.New(conn, username, s.reg, s.metrics, s.log)

	if !s.reg.Add(username, client) {
		s.rejectLogin(layer, conn, username, "Error. Username already in the system.", "duplicate")
		return
	}

	log.WithField("username", username).Info("client logged in")
	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}

	s.sendLoginOK(client, username)
	client.AnnounceJoin()
	client.Run()
}

// rejectLogin sends an ERROR frame explaining why admission failed and
// closes the connection without ever adding it to the registry.
func (s *Server) rejectLogin(layer *protocol.Layer, conn net.Conn, username, message, reason string) {
	defer conn.Close()

	body := []byte(message)
	var h protocol.Header
	h.SetVersion(protocol.Version)
	h.SetMessageType(protocol.TypeError)
	_ = h.SetSourceUsername(protocol.ServerName)
	_ = h.SetDestUsername(username)
	h.SetDataLength(uint16(len(body)))
	h.ComputeDataChecksum(body)
	h.ComputeHeaderChecksum()

	if _, err := layer.WriteFrame(&h, body); err != nil {
		s.log.WithError(err).Debug("failed to send login rejection")
	}
	if s.metrics != nil {
		s.metrics.LoginRejections.WithLabelValues(reason).Inc()
	}
}

// sendLoginOK replies to a freshly admitted client with the LOGIN
// acknowledgement frame: source="server", dest=username, no body. The client
// is already in the registry, so the frame goes through client.Send to stay
// serialized with fan-out from other sessions.
func (s *Server) sendLoginOK(client *session.Client, username string) {
	var h protocol.Header
	h.SetVersion(protocol.Version)
	h.SetMessageType(protocol.TypeLogin)
	_ = h.SetSourceUsername(protocol.ServerName)
	_ = h.SetDestUsername(username)
	h.SetDataLength(0)
	h.ComputeHeaderChecksum()

	if err := client.Send(&h, nil); err != nil {
		s.log.WithError(err).Debug("failed to send login confirmation")
	}
}
