// Package session implements MessagingClient: the per-connection state
// machine that runs a logged-in user's receive loop and dispatches incoming
// frames by message type. Grounded on original_source/rust/server's
// messaging_client.rs for the dispatch semantics, and on
// meesudzu-jx2-paysys's internal/protocol/handler.go for the Go shape of a
// per-connection handler (goroutine-owned net.Conn, structured logging per
// event, dispatch via a type switch / table).
package session

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"chatrelay/internal/metrics"
	"chatrelay/internal/protocol"
	"chatrelay/internal/registry"
)

// Wire text for system-originated frames. These strings are part of the
// protocol surface: clients parse them out of ERROR frame bodies.
const (
	errDuplicateUsername = "Error. Username already in the system."
	errReservedUsername  = "Error. Username is reserved."
	errAlreadyLoggedIn   = "Error. Already logged in."
	errEmptyMessageBody  = "The message you sent contains no content. It will not be forwarded."
)

func joinText(username string) string {
	return fmt.Sprintf("User: %s entered the room.", username)
}

func leaveText(username string) string {
	return fmt.Sprintf("User: %s disconnected from the room.", username)
}

// Client is one authenticated user's session: owned send/receive framing for
// one connection, a reference to the shared roster, and the scratch headers
// used to avoid allocation on the hot path.
type Client struct {
	conn     net.Conn
	layer    *protocol.Layer
	username string
	id       xid.ID

	reg     *registry.Registry
	metrics *metrics.Metrics
	log     *logrus.Entry

	// outMu serializes writes to conn so a frame's header and body stay
	// contiguous on the wire under concurrent fan-out from other sessions.
	outMu sync.Mutex

	// scratch and ackScratch are reused across outbound frames on the hot
	// path. A second scratch header is kept for ACK/NACK replies so that
	// forwarding can still read fields off the inbound header afterward.
	scratch    protocol.Header
	ackScratch protocol.Header
}

// New wraps a freshly accepted connection. The caller still owns the login
// handshake; Client.Run assumes the session is already admitted.
func New(conn net.Conn, username string, reg *registry.Registry, m *metrics.Metrics, log *logrus.Logger) *Client {
	id := xid.New()
	return &Client{
		conn:     conn,
		layer:    protocol.NewLayer(conn),
		username: username,
		id:       id,
		reg:      reg,
		metrics:  m,
		log: log.WithFields(logrus.Fields{
			"component":   "session",
			"remote_addr": conn.RemoteAddr().String(),
			"session_id":  id.String(),
			"username":    username,
		}),
	}
}

// Username returns the session's claimed, admitted username.
func (c *Client) Username() string { return c.username }

// Send implements registry.Sender: it writes a frame to this session's
// socket under the outbound mutex, so concurrent fan-out from many
// goroutines never interleaves two frames on the wire.
func (c *Client) Send(h *protocol.Header, body []byte) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := c.layer.WriteFrame(h, body)
	if err != nil {
		c.log.WithError(err).Warn("write failed during send")
		return err
	}
	if c.metrics != nil {
		c.metrics.FramesWritten.Inc()
	}
	return nil
}

// sendSystemMessage builds and sends a MESSAGE/ERROR/WHO/... frame from
// "server" to dest, using the session's first scratch header.
func (c *Client) sendSystemMessage(t protocol.MessageType, dest string, body []byte, packetNumber uint16) {
	c.scratch.Clear()
	c.scratch.SetVersion(protocol.Version)
	c.scratch.SetMessageType(t)
	c.scratch.SetPacketNumber(packetNumber)
	if err := c.scratch.SetSourceUsername(protocol.ServerName); err != nil {
		c.log.WithError(err).Error("server username did not fit header")
		return
	}
	if err := c.scratch.SetDestUsername(dest); err != nil {
		c.log.WithError(err).Error("dest username did not fit header")
		return
	}
	c.scratch.SetDataLength(uint16(len(body)))
	if len(body) > 0 {
		c.scratch.ComputeDataChecksum(body)
	}
	c.scratch.ComputeHeaderChecksum()

	if err := c.Send(&c.scratch, body); err != nil {
		c.log.WithError(err).Debug("failed to send system message")
	}
}

// sendAckOrNack sends an ACK or NACK to ourselves, echoing packetNumber, on
// the session's second scratch header so the first header (still holding
// the inbound frame's fields, if the caller kept a copy) is undisturbed.
func (c *Client) sendAckOrNack(t protocol.MessageType, packetNumber uint16) {
	c.ackScratch.Clear()
	c.ackScratch.SetVersion(protocol.Version)
	c.ackScratch.SetMessageType(t)
	c.ackScratch.SetPacketNumber(packetNumber)
	_ = c.ackScratch.SetSourceUsername(protocol.ServerName)
	_ = c.ackScratch.SetDestUsername(c.username)
	c.ackScratch.SetDataLength(0)
	c.ackScratch.ComputeHeaderChecksum()

	if err := c.Send(&c.ackScratch, nil); err != nil {
		c.log.WithError(err).Debug("failed to send ack/nack")
	}
}

// AnnounceJoin broadcasts the system "entered the room" MESSAGE to every
// other session. Called by the accept driver immediately after admission.
func (c *Client) AnnounceJoin() {
	body := []byte(joinText(c.username))
	c.scratch.Clear()
	c.scratch.SetVersion(protocol.Version)
	c.scratch.SetMessageType(protocol.TypeMessage)
	_ = c.scratch.SetSourceUsername(protocol.ServerName)
	_ = c.scratch.SetDestUsername(protocol.AllUsers)
	c.scratch.SetDataLength(uint16(len(body)))
	c.scratch.ComputeDataChecksum(body)
	c.scratch.ComputeHeaderChecksum()

	if !c.reg.SendToAll(c.username, &c.scratch, body) {
		c.log.Debug("join announcement had partial delivery failures")
	}
	if c.metrics != nil {
		c.metrics.Broadcasts.Inc()
	}
}

// Run drives the Active receive loop until a fatal framing error,
// DISCONNECT, or socket close terminates the session. It unconditionally
// removes the session from the registry on return and closes the
// connection; it only emits the leave broadcast on an explicit DISCONNECT.
func (c *Client) Run() {
	defer c.terminate()

	for {
		frame, err := c.layer.ReadFrame()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if c.metrics != nil {
			c.metrics.FramesRead.Inc()
		}

		if done := c.dispatch(frame); done {
			return
		}
	}
}

func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, protocol.ErrConnectionClosed):
		c.log.Debug("connection closed by peer")
	case errors.Is(err, protocol.ErrBadHeaderChecksum):
		c.log.Warn("bad header checksum, connection desynchronized")
		if c.metrics != nil {
			c.metrics.ChecksumFailures.Inc()
		}
	default:
		c.log.WithError(err).Warn("framing error, terminating session")
	}
}

// dispatch handles one successfully framed message. It returns true if the
// session should terminate (DISCONNECT).
func (c *Client) dispatch(frame Frame) bool {
	t := frame.Header.MessageType()
	if c.metrics != nil {
		c.metrics.MessagesByType.WithLabelValues(t.String()).Inc()
	}

	switch t {
	case protocol.TypeLogin:
		c.sendSystemMessage(protocol.TypeError, c.username, []byte(errAlreadyLoggedIn), 0)
	case protocol.TypeError:
		// Ignored: servers do not expect clients to send diagnostics.
	case protocol.TypeWho:
		c.handleWho()
	case protocol.TypeAck, protocol.TypeNack:
		// Ignored: the server does not currently track retransmission.
	case protocol.TypeMessage:
		c.handleMessage(frame)
	case protocol.TypeDisconnect:
		c.handleDisconnect()
		return true
	default:
		c.log.WithField("type", uint8(t)).Debug("ignoring unknown message type")
	}
	return false
}

func (c *Client) handleWho() {
	body := []byte(c.reg.LoggedInUsers())
	c.sendSystemMessage(protocol.TypeWho, c.username, body, 0)
}

func (c *Client) handleMessage(frame Frame) {
	if len(frame.Body) == 0 {
		c.sendSystemMessage(protocol.TypeError, c.username, []byte(errEmptyMessageBody), 0)
		return
	}

	packetNumber := frame.Header.PacketNumber()
	if !frame.Header.VerifyDataChecksum(frame.Body) {
		if c.metrics != nil {
			c.metrics.ChecksumFailures.Inc()
		}
		c.sendAckOrNack(protocol.TypeNack, packetNumber)
		return
	}
	c.sendAckOrNack(protocol.TypeAck, packetNumber)

	dest, err := frame.Header.DestUsername()
	if err != nil {
		c.log.WithError(err).Debug("dropping message with unreadable dest username")
		return
	}

	if dest == protocol.AllUsers {
		c.reg.SendToAll(c.username, &frame.Header, frame.Body)
		if c.metrics != nil {
			c.metrics.Broadcasts.Inc()
		}
		return
	}

	if c.reg.SendTo(dest, &frame.Header, frame.Body) {
		if c.metrics != nil {
			c.metrics.Unicasts.Inc()
		}
	}
	// Unknown dest: silently dropped.
}

func (c *Client) handleDisconnect() {
	c.log.Info("client disconnected")
	body := []byte(leaveText(c.username))
	c.scratch.Clear()
	c.scratch.SetVersion(protocol.Version)
	c.scratch.SetMessageType(protocol.TypeMessage)
	_ = c.scratch.SetSourceUsername(protocol.ServerName)
	_ = c.scratch.SetDestUsername(protocol.AllUsers)
	c.scratch.SetDataLength(uint16(len(body)))
	c.scratch.ComputeDataChecksum(body)
	c.scratch.ComputeHeaderChecksum()
	c.reg.SendToAll(c.username, &c.scratch, body)
	if c.metrics != nil {
		c.metrics.Broadcasts.Inc()
	}
}

func (c *Client) terminate() {
	c.reg.Remove(c.username)
	if c.metrics != nil {
		c.metrics.ActiveSessions.Dec()
	}
	_ = c.conn.Close()
}

// Frame aliases protocol.Frame for the dispatch methods of this package.
type Frame = protocol.Frame
