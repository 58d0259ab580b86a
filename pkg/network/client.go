// pkg/network/client.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/go-subsim/pkg/config"
	"github.com/opd-ai/go-subsim/pkg/engine"
	"github.com/opd-ai/go-subsim/pkg/event"
	"github.com/opd-ai/go-subsim/pkg/logging"
)

// ErrNotConnected is returned by sends while the helm has no session
var ErrNotConnected = errors.New("not connected")

// Client event types
const (
	ClientDisconnected    event.Type = "client_disconnected"
	ClientReconnected     event.Type = "client_reconnected"
	ClientReconnectFailed event.Type = "client_reconnect_failed"
)

// HelmClient connects a control console to a SimServer
type HelmClient struct {
	conn          net.Conn
	clientID      uint64
	pilotName     string
	serverAddress string
	reply         ConnectReply
	connected     bool
	mu            sync.Mutex
	writeMu       sync.Mutex

	states   chan *engine.SessionState
	eventBus *event.Bus
	service  *NetworkService
	logger   *logging.Logger

	latency              time.Duration
	pingInterval         time.Duration
	reconnectDelay       time.Duration
	maxReconnectAttempts int

	ctx               context.Context
	cancel            context.CancelFunc
	connectionTimeout time.Duration
	readTimeout       time.Duration
	writeTimeout      time.Duration
}

// NewHelmClient creates a client publishing alerts and connection changes
// on eventBus. Timeouts and breaker settings come from env.
func NewHelmClient(eventBus *event.Bus, env *config.EnvironmentConfig) *HelmClient {
	return &HelmClient{
		states:               make(chan *engine.SessionState, 10),
		eventBus:             eventBus,
		service:              NewNetworkService(env),
		logger:               logging.NewLogger().Component("helm"),
		pingInterval:         5 * time.Second,
		reconnectDelay:       3 * time.Second,
		maxReconnectAttempts: 5,
		connectionTimeout:    10 * time.Second,
		readTimeout:          env.ReadTimeout,
		writeTimeout:         env.WriteTimeout,
	}
}

// SetLogger replaces the client logger
func (c *HelmClient) SetLogger(logger *logging.Logger) {
	c.logger = logger
}

// SetReconnect sets how often and how far apart reconnects are attempted
// after the connection drops. Zero attempts disables reconnecting.
func (c *HelmClient) SetReconnect(attempts int, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxReconnectAttempts = attempts
	c.reconnectDelay = delay
}

// SetPingInterval sets how often latency is measured
func (c *HelmClient) SetPingInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = d
}

// Service returns the circuit breaker guarding sends
func (c *HelmClient) Service() *NetworkService {
	return c.service
}

// Connect dials address and performs the handshake as pilotName
func (c *HelmClient) Connect(address, pilotName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupConnection()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.serverAddress = address
	c.pilotName = pilotName

	ctx, cancel := context.WithTimeout(c.ctx, c.connectionTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		c.cleanupConnection()
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	c.conn = conn

	if err := c.handshake(ctx, pilotName); err != nil {
		c.cleanupConnection()
		return err
	}

	c.connected = true
	c.logger.Info(c.ctx, "connected to simulation",
		"address", address,
		"client_id", c.clientID,
		"pilot", c.reply.PilotName,
		"mode", c.reply.Mode,
	)

	go c.messageLoop(c.ctx, conn)
	go c.pingLoop(c.ctx, c.pingInterval)
	return nil
}

// handshake must be called with c.mu held
func (c *HelmClient) handshake(ctx context.Context, pilotName string) error {
	deadline, _ := ctx.Deadline()
	c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	if err := WriteMessage(c.conn, ConnectRequest, ConnectPayload{PilotName: pilotName}); err != nil {
		return fmt.Errorf("failed to send connect request: %w", err)
	}

	msgType, data, err := ReadMessage(c.conn)
	if err != nil {
		return fmt.Errorf("failed to read connect response: %w", err)
	}
	if msgType != ConnectResponse {
		return fmt.Errorf("unexpected response type: %s", msgType)
	}

	var reply ConnectReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("failed to parse connect response: %w", err)
	}
	if !reply.Success {
		return fmt.Errorf("server rejected connection: %s", reply.Error)
	}

	c.reply = reply
	c.clientID = reply.ClientID
	return nil
}

// cleanupConnection closes the connection; must be called with c.mu held
func (c *HelmClient) cleanupConnection() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Disconnect tells the server goodbye and closes the connection
func (c *HelmClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	c.write(c.conn, DisconnectNotification, DisconnectData{Reason: "helm closed"})
	c.cleanupConnection()
	return nil
}

// Connected reports whether the helm has a live session
func (c *HelmClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ClientID returns the ID the server assigned on connect
func (c *HelmClient) ClientID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// SessionInfo returns the server's connect reply
func (c *HelmClient) SessionInfo() ConnectReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reply
}

// SendControls sends the control panel through the circuit breaker
func (c *HelmClient) SendControls(ctx context.Context, controls engine.ControlInputs) error {
	return c.service.ExecuteWithRetry(ctx, func() error {
		return c.sendMessage(ControlInput, controls)
	})
}

// RequestResume asks the server to clear the depth safety lock
func (c *HelmClient) RequestResume(ctx context.Context) error {
	return c.service.Execute(ctx, func() error {
		return c.sendMessage(ResumeRequest, struct{}{})
	})
}

// GetLatency returns the latest ping round trip
func (c *HelmClient) GetLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// States delivers state updates. Updates are dropped while the channel is full.
func (c *HelmClient) States() <-chan *engine.SessionState {
	return c.states
}

// messageLoop reads until the connection fails or ctx is cancelled
func (c *HelmClient) messageLoop(ctx context.Context, conn net.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		msgType, data, err := ReadMessage(conn)
		if err != nil {
			if ctx.Err() == nil {
				c.handleDisconnect(ctx, err, true)
			}
			return
		}

		switch msgType {
		case StateUpdate:
			c.handleStateUpdate(data)
		case DepthAlert:
			c.handleDepthAlert(data)
		case ControlRejected:
			var rej RejectionData
			if json.Unmarshal(data, &rej) == nil {
				c.logger.Warn(ctx, "controls rejected by server", "reason", rej.Reason)
				c.eventBus.Publish(event.NewRejectedEvent(c, rej.Reason))
			}
		case PingResponse:
			c.handlePingResponse(data)
		case DisconnectNotification:
			var bye DisconnectData
			json.Unmarshal(data, &bye)
			c.handleDisconnect(ctx, fmt.Errorf("server closed session: %s", bye.Reason), false)
			return
		default:
		}
	}
}

func (c *HelmClient) handleStateUpdate(data []byte) {
	var state engine.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return
	}
	select {
	case c.states <- &state:
	default:
	}
}

func (c *HelmClient) handleDepthAlert(data []byte) {
	var alert DepthAlertData
	if err := json.Unmarshal(data, &alert); err != nil {
		return
	}
	eventType := event.MovementResumed
	if alert.Locked {
		eventType = event.DepthWarning
	}
	c.eventBus.Publish(event.NewDepthEvent(eventType, c, alert.Tick, alert.Depth, alert.WarningDepth))
}

func (c *HelmClient) handlePingResponse(data []byte) {
	var stamp pingStamp
	if err := json.Unmarshal(data, &stamp); err != nil {
		return
	}
	c.mu.Lock()
	c.latency = time.Since(stamp.Sent)
	c.mu.Unlock()
}

func (c *HelmClient) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.sendMessage(PingRequest, pingStamp{Sent: time.Now()}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleDisconnect marks the helm offline and, for unexpected drops,
// starts reconnecting
func (c *HelmClient) handleDisconnect(ctx context.Context, cause error, reconnect bool) {
	c.mu.Lock()
	wasConnected := c.connected
	c.cleanupConnection()
	attempts := c.maxReconnectAttempts
	c.mu.Unlock()

	if !wasConnected {
		return
	}

	c.logger.Warn(ctx, "disconnected from simulation", "error", cause.Error())
	c.eventBus.Publish(&event.BaseEvent{EventType: ClientDisconnected, Source: c})

	if reconnect && attempts > 0 {
		go c.attemptReconnect()
	}
}

// attemptReconnect retries Connect with the stored address and pilot name
func (c *HelmClient) attemptReconnect() {
	c.mu.Lock()
	address, pilot := c.serverAddress, c.pilotName
	attempts, delay := c.maxReconnectAttempts, c.reconnectDelay
	c.mu.Unlock()

	for i := 1; i <= attempts; i++ {
		time.Sleep(delay)
		if err := c.Connect(address, pilot); err != nil {
			c.logger.Debug(context.Background(), "reconnect attempt failed", "attempt", i, "error", err.Error())
			continue
		}
		c.eventBus.Publish(&event.BaseEvent{EventType: ClientReconnected, Source: c})
		return
	}
	c.eventBus.Publish(&event.BaseEvent{EventType: ClientReconnectFailed, Source: c})
}

// sendMessage writes one message on the current connection
func (c *HelmClient) sendMessage(msgType MessageType, msg interface{}) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, msgType, msg)
}

func (c *HelmClient) write(conn net.Conn, msgType MessageType, msg interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	return WriteMessage(conn, msgType, msg)
}
