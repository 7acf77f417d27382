// Package apiserver implements the ESPHome native API TCP listener: the
// per-connection handshake/authentication state machine and request
// dispatch that sits in front of the BLE coordinator.
package apiserver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btproxy/btproxyd/pkg/ble"
	"github.com/btproxy/btproxyd/pkg/logger"
	"github.com/btproxy/btproxyd/pkg/wire"
)

// State is a connection's position in the handshake/auth state machine,
// grounded in connection.APIConnection's three-phase lifecycle.
type State int

const (
	stateConnecting State = iota
	stateConnected
	stateAuthenticated
)

func (s State) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// readTimeout bounds how long a connection may sit idle before it is
// dropped, per spec.md §5.
const readTimeout = 30 * time.Second

// outboundQueueSize bounds the per-connection send buffer; a client that
// can't keep up has frames dropped rather than blocking the coordinator's
// broadcast fan-out.
const outboundQueueSize = 256

// Connection represents one client's TCP session: a single reader
// goroutine driving the handshake/dispatch state machine, and a single
// writer goroutine serializing outbound frames, grounded in
// connection.APIConnection._handle_messages / transport.tcp.Client's
// deadline-based read loop.
type Connection struct {
	id   string
	conn net.Conn
	log  *logger.Logger

	coord    *ble.Coordinator
	identity ble.Identity
	password string

	mu    sync.Mutex
	state State

	outbound  chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(conn net.Conn, coord *ble.Coordinator, identity ble.Identity, password string, log *logger.Logger) *Connection {
	id := uuid.New().String()
	return &Connection{
		id:       id,
		conn:     conn,
		log:      log,
		coord:    coord,
		identity: identity,
		password: password,
		state:    stateConnecting,
		outbound: make(chan []byte, outboundQueueSize),
		closed:   make(chan struct{}),
	}
}

// SendFrame implements ble.Sender. It never blocks: a full outbound queue
// drops the frame and logs a warning, so one slow client can never stall
// the coordinator's broadcast to the others.
func (c *Connection) SendFrame(msgType wire.MessageType, payload []byte) {
	frame := wire.EncodeFrame(uint64(msgType), payload)
	select {
	case c.outbound <- frame:
	default:
		if c.log != nil {
			c.log.Warn("dropping frame for slow client", "conn", c.id, "msg_type", msgType)
		}
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// serve runs the connection's reader and writer loops until the
// connection closes, the context is cancelled, or a fatal framing error
// occurs.
func (c *Connection) serve(ctx context.Context) {
	go c.writeLoop()
	c.readLoop(ctx)
	c.close()
}

func (c *Connection) writeLoop() {
	for {
		select {
		case frame, ok := <-c.outbound:
			if !ok {
				return
			}
			if frame == nil {
				// closeAfterFlush marker: every frame queued before it is sent.
				c.close()
				return
			}
			if _, err := c.conn.Write(frame); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) readLoop(ctx context.Context) {
	var buf []byte
	chunk := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := c.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && c.log != nil {
				c.log.Debug("connection read ended", "conn", c.id, "error", err)
			}
			return
		}

		for {
			msgType, payload, size, ferr := wire.DecodeFrame(buf)
			if ferr != nil {
				if errors.Is(ferr, wire.ErrIncompleteFrame) {
					break
				}
				if c.log != nil {
					c.log.Warn("dropping connection on frame error", "conn", c.id, "error", ferr)
				}
				return
			}

			body := make([]byte, len(payload))
			copy(body, payload)
			c.dispatch(ctx, wire.MessageType(msgType), body)
			buf = buf[size:]
		}

		if len(buf) == 0 {
			buf = nil
		}
	}
}

// dispatch routes one decoded frame through the connection's state
// machine, grounded in connection.APIConnection's per-message-type
// handler table.
func (c *Connection) dispatch(ctx context.Context, msgType wire.MessageType, payload []byte) {
	switch msgType {
	case wire.MessageTypeHelloRequest:
		c.handleHello(payload)
		return
	case wire.MessageTypeConnectRequest:
		switch c.getState() {
		case stateAuthenticated:
			// idempotent re-auth: silently ignored, per spec.
		case stateConnected:
			c.handleConnect(payload)
		default:
			if c.log != nil {
				c.log.Warn("unexpected connect request", "conn", c.id, "state", c.getState())
			}
		}
		return
	case wire.MessageTypeDisconnectRequest:
		c.SendFrame(wire.MessageTypeDisconnectResponse, nil)
		c.closeAfterFlush()
		return
	case wire.MessageTypePingRequest:
		c.SendFrame(wire.MessageTypePingResponse, wire.PingResponse{}.Encode())
		return
	}

	if c.getState() != stateAuthenticated {
		if c.log != nil {
			c.log.Warn("rejecting message before authentication", "conn", c.id, "msg_type", msgType)
		}
		return
	}

	switch msgType {
	case wire.MessageTypeDeviceInfoRequest:
		resp := c.identity.ToWire()
		c.SendFrame(wire.MessageTypeDeviceInfoResponse, resp.Encode())

	case wire.MessageTypeListEntitiesRequest:
		c.SendFrame(wire.MessageTypeListEntitiesDoneResponse, wire.ListEntitiesDoneResponse{}.Encode())

	case wire.MessageTypeSubscribeStatesRequest:
		c.coord.Subscribe(c.id)

	case wire.MessageTypeBluetoothDeviceRequest:
		req, err := wire.DecodeBluetoothDeviceRequest(payload)
		if err != nil {
			return
		}
		switch req.Action {
		case wire.BluetoothDeviceActionConnect:
			c.coord.Connect(req.Address, req.AddressType)
		case wire.BluetoothDeviceActionDisconnect:
			c.coord.Disconnect(req.Address)
		}

	case wire.MessageTypeBluetoothGATTGetServicesRequest:
		req, err := wire.DecodeBluetoothGATTGetServicesRequest(payload)
		if err != nil {
			return
		}
		c.coord.Dispatcher().GetServices(ctx, req.Address)

	case wire.MessageTypeBluetoothGATTReadRequest:
		req, err := wire.DecodeBluetoothGATTReadRequest(payload)
		if err != nil {
			return
		}
		c.coord.Dispatcher().ReadCharacteristic(ctx, req.Address, req.Handle)

	case wire.MessageTypeBluetoothGATTReadDescriptorRequest:
		req, err := wire.DecodeBluetoothGATTReadRequest(payload)
		if err != nil {
			return
		}
		c.coord.Dispatcher().ReadDescriptor(ctx, req.Address, req.Handle)

	case wire.MessageTypeBluetoothGATTWriteRequest:
		req, err := wire.DecodeBluetoothGATTWriteRequest(payload)
		if err != nil {
			return
		}
		c.coord.Dispatcher().WriteCharacteristic(ctx, req.Address, req.Handle, req.Data, req.Response)

	case wire.MessageTypeBluetoothGATTWriteDescriptorRequest:
		req, err := wire.DecodeBluetoothGATTWriteRequest(payload)
		if err != nil {
			return
		}
		c.coord.Dispatcher().WriteDescriptor(ctx, req.Address, req.Handle, req.Data, req.Response)

	case wire.MessageTypeBluetoothGATTNotifyRequest:
		req, err := wire.DecodeBluetoothGATTNotifyRequest(payload)
		if err != nil {
			return
		}
		c.coord.Dispatcher().Notify(ctx, req.Address, req.Handle, req.Enable)

	default:
		if c.log != nil {
			c.log.Debug("ignoring unhandled message type", "conn", c.id, "msg_type", msgType)
		}
	}
}

func (c *Connection) handleHello(payload []byte) {
	if c.getState() != stateConnecting {
		if c.log != nil {
			c.log.Warn("unexpected hello request", "conn", c.id, "state", c.getState())
		}
		c.close()
		return
	}

	if _, err := wire.DecodeHelloRequest(payload); err != nil {
		if c.log != nil {
			c.log.Warn("malformed hello", "conn", c.id, "error", err)
		}
		c.close()
		return
	}

	c.setState(stateConnected)
	c.SendFrame(wire.MessageTypeHelloResponse, wire.HelloResponse{
		APIVersionMajor: 1,
		APIVersionMinor: 10,
		ServerInfo:      c.identity.ESPHomeVersion,
		Name:            c.identity.Name,
	}.Encode())

	if c.password == "" {
		c.authenticate()
	}
}

func (c *Connection) handleConnect(payload []byte) {
	req, err := wire.DecodeConnectRequest(payload)
	if err != nil {
		c.close()
		return
	}

	if req.Password != c.password {
		c.SendFrame(wire.MessageTypeConnectResponse, wire.ConnectResponse{InvalidPassword: true}.Encode())
		c.closeAfterFlush()
		return
	}

	c.authenticate()
	c.SendFrame(wire.MessageTypeConnectResponse, wire.ConnectResponse{}.Encode())
}

func (c *Connection) authenticate() {
	c.setState(stateAuthenticated)
	c.coord.RegisterAuthenticated(c.id, c)
}

// closeAfterFlush closes the connection once the writer has sent every
// frame queued before this call. If the queue is full it closes at once.
func (c *Connection) closeAfterFlush() {
	select {
	case c.outbound <- nil:
	default:
		c.close()
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
		c.coord.UnregisterAuthenticated(c.id)
	})
}
