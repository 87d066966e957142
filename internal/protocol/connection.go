package protocol

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/herr"
	"github.com/bbbhvac/hvaccore/internal/logging"
)

// Dispatcher handles one parsed inbound message for a ConnectionCore. The
// base handler (HELLO/PING/PONG keepalive bookkeeping) always runs first;
// Dispatch implements the subclass-specific behavior layered on top — the
// server's command dispatch (C9), the per-client dispatcher, or the
// reference client library's request/response bookkeeping.
type Dispatcher interface {
	Dispatch(core *ConnectionCore, msg *Message) error
}

// ConnectionCore is the concrete replacement for the source's virtual
// BASE_CONTEXT: one struct owning the socket, codec state, and the shared
// keepalive state machine, parameterized by a Dispatcher supplied at
// construction instead of subclassing.
type ConnectionCore struct {
	ID string

	conn       net.Conn
	reader     *bufio.Reader
	dispatcher Dispatcher
	log        *logging.Logger

	Inbound  *Ring
	Outbound *Ring

	mu          sync.Mutex
	negotiated  bool
	peerVersion int

	lastPingSent     time.Time
	havePing         bool
	lastPongReceived time.Time
	havePong         bool

	waiters   map[Type][]chan *Message
	waitersMu sync.Mutex

	closed bool
}

// NewConnectionCore wraps conn in a ConnectionCore. dispatcher receives
// every message after base keepalive handling.
func NewConnectionCore(conn net.Conn, dispatcher Dispatcher, log *logging.Logger) *ConnectionCore {
	if log == nil {
		log = logging.Default()
	}
	id := uuid.NewString()
	return &ConnectionCore{
		ID:         id,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		dispatcher: dispatcher,
		log:        log.WithConn(id),
		Inbound:    NewRing(constants.ConnRingDepth),
		Outbound:   NewRing(constants.ConnRingDepth),
		waiters:    make(map[Type][]chan *Message),
	}
}

// Negotiated reports whether a valid HELLO has been processed.
func (c *ConnectionCore) Negotiated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiated
}

// Send frames and writes msg, with bounded retries for partial writes.
// The message is recorded in the outbound ring only once the write fully
// succeeds; a failed or incomplete write records nothing.
func (c *ConnectionCore) Send(typ Type, parts ...string) error {
	line := Build(typ, parts...)
	data := []byte(line)

	written := 0
	for attempt := 0; attempt < constants.SendRetryAttempts && written < len(data); attempt++ {
		n, err := c.conn.Write(data[written:])
		if err != nil {
			return herr.Wrap("connection.send", herr.CodeConnectionError, err)
		}
		written += n
	}
	if written < len(data) {
		return herr.New("connection.send", herr.CodeMessageOverflow, "exhausted send retries on partial write")
	}

	msg := &Message{Type: typ, Parts: parts, Created: time.Now(), Sent: time.Now()}
	return c.Outbound.Push(msg, DropOldest)
}

// Run is the per-connection event loop (§4.8): send HELLO, then repeatedly
// read with a bounded timeout, dispatching each parsed line, falling back
// to keepalive bookkeeping on repeated timeouts. It returns when the
// connection is closed locally or by the peer, or when stop reports true.
func (c *ConnectionCore) Run(stop func() bool) error {
	if err := c.Send(TypeHello, "VERSION", strconv.Itoa(constants.ProtocolMaxVersion)); err != nil {
		return err
	}

	timeoutCount := 0
	for {
		if stop != nil && stop() {
			c.Close()
			return nil
		}

		c.conn.SetReadDeadline(time.Now().Add(selectTimeout()))
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				timeoutCount++
				if timeoutCount >= constants.KeepaliveTimeoutCount {
					timeoutCount = 0
					if dropped := c.checkKeepalive(); dropped {
						c.Close()
						return nil
					}
				}
				continue
			}
			// EOF or hard error: peer disconnected.
			c.Close()
			return nil
		}

		timeoutCount = 0
		msg, perr := Parse(line)
		if perr != nil {
			c.log.WithError(perr).Warn("dropping malformed inbound line")
			if herr.Is(perr, herr.CodeProtocolError) && !c.Negotiated() {
				// Pre-HELLO protocol violations are fatal to the connection.
				c.Close()
				return perr
			}
			// Post-negotiation, an unknown type or malformed frame gets an
			// ERROR reply and the connection stays open.
			if c.Negotiated() {
				c.Send(TypeError, "PROTOCOL_ERROR", perr.Error())
			}
			continue
		}
		msg.Received = time.Now()

		if err := c.Inbound.Push(msg, DropOldest); err != nil {
			c.log.WithError(err).Warn("inbound ring push failed")
		}

		if err := c.handleBase(msg); err != nil {
			c.Close()
			return err
		}
		if c.dispatcher != nil {
			if err := c.dispatcher.Dispatch(c, msg); err != nil {
				c.Close()
				return err
			}
		}
		c.notifyWaiters(msg)
	}
}

func selectTimeout() time.Duration {
	return constants.SelectBase + constants.SelectBase/time.Duration(constants.SelectDivider)
}

// handleBase processes HELLO/PONG bookkeeping common to every dispatcher.
// Any message before negotiation, other than HELLO itself, is a protocol
// error per §3's negotiation invariant.
func (c *ConnectionCore) handleBase(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case TypeHello:
		if len(msg.Parts) < 2 {
			return herr.ErrArityMismatch
		}
		version, err := strconv.Atoi(msg.Parts[1])
		if err != nil {
			return herr.Wrap("connection.hello", herr.CodeProtocolError, err)
		}
		if version > constants.ProtocolMaxVersion {
			c.mu.Unlock()
			sendErr := c.Send(TypeError, "UNSUPPORTED_VERSION", "requested version exceeds maximum")
			c.mu.Lock()
			return sendErr
		}
		c.negotiated = true
		c.peerVersion = version
		return nil
	case TypePong:
		c.lastPongReceived = time.Now()
		c.havePong = true
		return nil
	default:
		if !c.negotiated {
			return herr.ErrNotNegotiated
		}
		return nil
	}
}

// checkKeepalive runs the §4.8 keepalive state machine after
// divider-1 consecutive select timeouts. It returns true if the
// connection should be dropped.
func (c *ConnectionCore) checkKeepalive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if !c.havePong {
		if c.havePing && now.Sub(c.lastPingSent) > constants.MaxPingPongTimeout {
			return true
		}
	} else if now.Sub(c.lastPongReceived) > constants.MaxPingPongTimeout {
		return true
	}

	c.mu.Unlock()
	err := c.Send(TypePing)
	c.mu.Lock()
	if err != nil {
		return true
	}
	c.lastPingSent = now
	c.havePing = true
	return false
}

// SendAndWait sends msg and blocks until a reply of replyType arrives in
// the inbound ring, or SendAndWaitTimeout elapses. It is the client-side
// request/response primitive; the server-side dispatcher never calls it
// (there are no local waiters to signal there).
func (c *ConnectionCore) SendAndWait(typ Type, replyType Type, parts ...string) (*Message, error) {
	ch := make(chan *Message, 1)
	c.waitersMu.Lock()
	c.waiters[replyType] = append(c.waiters[replyType], ch)
	c.waitersMu.Unlock()

	if err := c.Send(typ, parts...); err != nil {
		return nil, err
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-time.After(constants.SendAndWaitTimeout):
		return nil, herr.New("connection.send_and_wait", herr.CodeNetworkError, "timed out waiting for reply")
	}
}

func (c *ConnectionCore) notifyWaiters(msg *Message) {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()
	chans := c.waiters[msg.Type]
	if len(chans) == 0 {
		return
	}
	for _, ch := range chans {
		select {
		case ch <- msg:
		default:
		}
	}
	delete(c.waiters, msg.Type)
}

// Close closes the underlying socket. Safe to call more than once.
func (c *ConnectionCore) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}
