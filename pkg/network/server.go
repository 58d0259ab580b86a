// pkg/network/server.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-subsim/pkg/config"
	"github.com/opd-ai/go-subsim/pkg/engine"
	"github.com/opd-ai/go-subsim/pkg/event"
	"github.com/opd-ai/go-subsim/pkg/logging"
	"github.com/opd-ai/go-subsim/pkg/metrics"
	"github.com/opd-ai/go-subsim/pkg/resource"
	"github.com/opd-ai/go-subsim/pkg/validation"
)

// StateObserver receives every stepped frame's snapshot
type StateObserver func(state *engine.SessionState)

// SimServer steps a session at a fixed rate and serves helm clients over TCP
type SimServer struct {
	session       *engine.Session
	supervisor    *resource.Supervisor
	validator     *validation.MessageValidator
	logger        *logging.Logger
	updateRate    time.Duration
	ticksPerState uint64
	maxClients    int
	readTimeout   time.Duration
	writeTimeout  time.Duration

	listener    net.Listener
	listenMu    sync.RWMutex
	clients     map[uint64]*Client
	clientsLock sync.RWMutex
	nextID      uint64
	running     atomic.Bool
	stop        chan struct{}
	stopOnce    sync.Once
	subs        []*event.Subscription
	observers   []StateObserver
}

// Client is a connected helm
type Client struct {
	ID        uint64
	Conn      net.Conn
	PilotName string
	Connected atomic.Bool

	ctx       context.Context
	writeMu   sync.Mutex
	lastInput atomic.Int64
}

// LastInput returns when the helm last sent controls
func (c *Client) LastInput() time.Time {
	n := c.lastInput.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// NewSimServer creates a server for session. Loop rate, state cadence and
// client limit come from the session's network config; timeouts come from env.
func NewSimServer(session *engine.Session, env *config.EnvironmentConfig, supervisor *resource.Supervisor) *SimServer {
	nc := session.Config.Network
	return &SimServer{
		session:       session,
		supervisor:    supervisor,
		validator:     validation.NewMessageValidator(),
		logger:        logging.NewLogger().Component("network"),
		updateRate:    time.Second / time.Duration(nc.UpdateRate),
		ticksPerState: uint64(nc.TicksPerState),
		maxClients:    nc.MaxClients,
		readTimeout:   env.ReadTimeout,
		writeTimeout:  env.WriteTimeout,
		clients:       make(map[uint64]*Client),
		stop:          make(chan struct{}),
	}
}

// SetLogger replaces the server logger. Call before Start.
func (s *SimServer) SetLogger(logger *logging.Logger) {
	s.logger = logger
}

// AddObserver registers fn to see each frame. Call before Start.
func (s *SimServer) AddObserver(fn StateObserver) {
	s.observers = append(s.observers, fn)
}

// Start listens on address, starts the session and runs the accept and
// simulation loops under the supervisor
func (s *SimServer) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listenMu.Lock()
	s.listener = listener
	s.listenMu.Unlock()

	s.subs = append(s.subs,
		s.session.EventBus.Subscribe(event.DepthWarning, s.onDepthEvent(true)),
		s.session.EventBus.Subscribe(event.MovementResumed, s.onDepthEvent(false)),
	)

	s.running.Store(true)
	s.session.Start()

	if err := s.supervisor.Go("accept", s.acceptConnections); err != nil {
		s.Stop()
		return logging.WrapError(err, "start accept loop")
	}
	if err := s.supervisor.Go("sim-loop", s.simulationLoop); err != nil {
		s.Stop()
		return logging.WrapError(err, "start simulation loop")
	}

	s.logger.Info(context.Background(), "simulation server started",
		"address", listener.Addr().String(),
		"update_interval", s.updateRate,
		"ticks_per_state", s.ticksPerState,
		"max_clients", s.maxClients,
	)
	return nil
}

// Stop disconnects every client, closes the listener and stops the session
func (s *SimServer) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stop)

		s.listenMu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.listenMu.Unlock()

		s.clientsLock.RLock()
		clients := make([]*Client, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.clientsLock.RUnlock()
		for _, c := range clients {
			s.send(c, DisconnectNotification, DisconnectData{Reason: "server shutting down"})
			c.Conn.Close()
		}

		for _, sub := range s.subs {
			sub.Cancel()
		}
		s.session.Stop()
		s.validator.Close()
		s.logger.Info(context.Background(), "simulation server stopped")
	})
}

// Running reports whether the server is accepting helms and stepping
func (s *SimServer) Running() bool {
	return s.running.Load()
}

// GetListenerAddress returns the bound address, or "" when not listening
func (s *SimServer) GetListenerAddress() string {
	if !s.Running() {
		return ""
	}
	s.listenMu.RLock()
	defer s.listenMu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ClientCount returns the number of registered helms
func (s *SimServer) ClientCount() int {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	return len(s.clients)
}

func (s *SimServer) acceptConnections(ctx context.Context) {
	for {
		s.listenMu.RLock()
		listener := s.listener
		s.listenMu.RUnlock()

		conn, err := listener.Accept()
		if err != nil {
			if !s.Running() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error(ctx, "error accepting connection", err)
			continue
		}

		if s.ClientCount() >= s.maxClients {
			s.refuse(conn, "server full")
			continue
		}

		name := "helm-" + conn.RemoteAddr().String()
		if err := s.supervisor.Go(name, func(ctx context.Context) { s.handleConnection(ctx, conn) }); err != nil {
			s.refuse(conn, "server busy")
		}
	}
}

// refuse answers a connection that cannot be served and closes it
func (s *SimServer) refuse(conn net.Conn, reason string) {
	s.logger.Warn(context.Background(), "rejecting connection", "remote", conn.RemoteAddr().String(), "reason", reason)
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	WriteMessage(conn, ConnectResponse, ConnectReply{Success: false, Error: reason})
	conn.Close()
}

// handleConnection performs the handshake and then serves the helm until
// it disconnects or the server stops
func (s *SimServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	ctx = logging.WithCorrelationID(ctx, "")

	client, err := s.handshake(ctx, conn)
	if err != nil {
		s.logger.Warn(ctx, "handshake failed", "remote", conn.RemoteAddr().String(), "error", err.Error())
		return
	}
	defer s.removeClient(client)

	s.handleClientMessages(client)
}

func (s *SimServer) handshake(ctx context.Context, conn net.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	msgType, data, err := ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("read connect request: %w", err)
	}
	if msgType != ConnectRequest {
		return nil, fmt.Errorf("expected %s, got %s", ConnectRequest, msgType)
	}

	reject := func(reason string, cause error) (*Client, error) {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		WriteMessage(conn, ConnectResponse, ConnectReply{Success: false, Error: reason})
		return nil, cause
	}

	remote := conn.RemoteAddr().String()
	if err := s.validator.ValidateMessage(data, remote); err != nil {
		return reject(err.Error(), err)
	}
	var req ConnectPayload
	if err := json.Unmarshal(data, &req); err != nil {
		return reject("malformed connect request", err)
	}
	name, err := validation.ValidatePilotName(req.PilotName)
	if err != nil {
		return reject(err.Error(), err)
	}
	s.validator.Forget(remote)

	client := &Client{
		ID:        atomic.AddUint64(&s.nextID, 1),
		Conn:      conn,
		PilotName: name,
		ctx:       ctx,
	}
	client.Connected.Store(true)

	s.clientsLock.Lock()
	if len(s.clients) >= s.maxClients {
		s.clientsLock.Unlock()
		return reject("server full", errors.New("server full"))
	}
	s.clients[client.ID] = client
	count := len(s.clients)
	s.clientsLock.Unlock()
	metrics.SetHelmClients(count)

	cfg := s.session.Config
	if err := s.send(client, ConnectResponse, ConnectReply{
		Success:       true,
		ClientID:      client.ID,
		PilotName:     name,
		Mode:          s.session.Mode().String(),
		UpdateRate:    cfg.Network.UpdateRate,
		TicksPerState: cfg.Network.TicksPerState,
		WarningDepth:  cfg.Hull.WarningDepth,
	}); err != nil {
		s.removeClient(client)
		return nil, fmt.Errorf("send connect response: %w", err)
	}
	s.send(client, StateUpdate, s.session.GetState())

	s.logger.Info(ctx, "helm connected", "client_id", client.ID, "pilot", name, "remote", remote)
	s.session.EventBus.Publish(event.NewPilotEvent(event.PilotJoined, s, client.ID, name))
	return client, nil
}

// handleClientMessages processes messages from a connected helm
func (s *SimServer) handleClientMessages(client *Client) {
	clientKey := strconv.FormatUint(client.ID, 10)
	for client.Connected.Load() && s.Running() {
		client.Conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		msgType, data, err := ReadMessage(client.Conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && s.Running() {
				s.logger.Warn(client.ctx, "error reading from helm", "client_id", client.ID, "error", err.Error())
			}
			return
		}

		if err := s.validator.ValidateMessage(data, clientKey); err != nil {
			s.logger.Warn(client.ctx, "invalid message", "client_id", client.ID, "type", msgType.String(), "error", err.Error())
			if msgType == ControlInput {
				s.send(client, ControlRejected, RejectionData{Reason: err.Error()})
			}
			continue
		}

		switch msgType {
		case ControlInput:
			s.handleControlInput(client, data)
		case ResumeRequest:
			s.handleResume(client)
		case PingRequest:
			s.sendFrame(client, PingResponse, data)
		case DisconnectNotification:
			var bye DisconnectData
			json.Unmarshal(data, &bye)
			s.logger.Info(client.ctx, "helm disconnecting",
				"client_id", client.ID,
				"reason", validation.SanitizeReason(bye.Reason),
			)
			client.Connected.Store(false)
		default:
			s.logger.Debug(client.ctx, "ignoring message", "client_id", client.ID, "type", msgType.String())
		}
	}
}

func (s *SimServer) handleControlInput(client *Client, data []byte) {
	var input ControlInputData
	if err := json.Unmarshal(data, &input); err != nil {
		s.send(client, ControlRejected, RejectionData{Reason: "malformed control input"})
		return
	}
	client.lastInput.Store(time.Now().UnixNano())

	if err := s.session.SetControls(input); err != nil {
		s.send(client, ControlRejected, RejectionData{Reason: err.Error()})
	}
}

func (s *SimServer) handleResume(client *Client) {
	if s.session.Resume() {
		s.logger.Info(client.ctx, "helm cleared depth lock", "client_id", client.ID, "pilot", client.PilotName)
	}
	s.send(client, StateUpdate, s.session.GetState())
}

// removeClient unregisters a helm once its connection is done
func (s *SimServer) removeClient(client *Client) {
	s.clientsLock.Lock()
	_, ok := s.clients[client.ID]
	delete(s.clients, client.ID)
	count := len(s.clients)
	s.clientsLock.Unlock()
	if !ok {
		return
	}

	client.Connected.Store(false)
	s.validator.Forget(strconv.FormatUint(client.ID, 10))
	metrics.SetHelmClients(count)
	s.logger.Info(client.ctx, "helm removed", "client_id", client.ID, "pilot", client.PilotName)
	s.session.EventBus.Publish(event.NewPilotEvent(event.PilotLeft, s, client.ID, client.PilotName))
}

// simulationLoop steps the session once per update interval
func (s *SimServer) simulationLoop(ctx context.Context) {
	ticker := time.NewTicker(s.updateRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.step(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *SimServer) step(ctx context.Context) {
	start := time.Now()
	if err := s.session.Update(); err != nil {
		if !errors.Is(err, engine.ErrSessionNotRunning) {
			s.logger.Error(ctx, "simulation step failed", err)
		}
		return
	}
	metrics.RecordTick(time.Since(start))

	state := s.session.GetState()
	for _, observe := range s.observers {
		observe(state)
	}
	if state.Tick%s.ticksPerState == 0 {
		s.broadcast(StateUpdate, state)
	}
}

// onDepthEvent relays safety lock changes to every helm
func (s *SimServer) onDepthEvent(locked bool) event.Handler {
	return func(e event.Event) {
		de, ok := e.(*event.DepthEvent)
		if !ok {
			return
		}
		s.broadcast(DepthAlert, DepthAlertData{
			Tick:         de.Tick,
			Depth:        de.Depth,
			WarningDepth: de.WarningDepth,
			Locked:       locked,
		})
	}
}

// broadcast encodes msg once and sends it to every connected helm
func (s *SimServer) broadcast(msgType MessageType, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error(context.Background(), "failed to encode broadcast", err, "type", msgType.String())
		return
	}

	s.clientsLock.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.Connected.Load() {
			clients = append(clients, c)
		}
	}
	s.clientsLock.RUnlock()

	for _, c := range clients {
		if err := s.sendFrame(c, msgType, data); err != nil {
			s.logger.Warn(c.ctx, "dropping helm after failed send", "client_id", c.ID, "error", err.Error())
			c.Connected.Store(false)
			c.Conn.Close()
		}
	}
}

func (s *SimServer) send(c *Client, msgType MessageType, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msgType, err)
	}
	return s.sendFrame(c, msgType, data)
}

func (s *SimServer) sendFrame(c *Client, msgType MessageType, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return WriteFrame(c.Conn, msgType, data)
}
