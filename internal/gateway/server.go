package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/browser"
	"github.com/alaotach/foxxy-ai/internal/config"
)

// Maximum inbound frame size. Screenshots never travel inbound, so frames
// stay small.
const maxFrameSize = 1 << 20

// Controller is the automation surface the gateway steers. Implemented by
// service.Automation.
type Controller interface {
	ExecuteStep(ctx context.Context, action schemas.Action) (schemas.StepResult, error)
	PageInfo(ctx context.Context) (browser.PageInfo, error)
	RunGoal(ctx context.Context, goal string) schemas.GoalOutcome
	Cancel()
}

type promptAnswer struct {
	value    string
	provided bool
}

// Server exposes the automation core over a websocket control channel. One
// goal runs at a time; step requests, page queries and cancellation are
// accepted from any connected client.
type Server struct {
	ctrl     Controller
	cfg      config.GatewayConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	clients     map[*client]bool
	prompts     map[string]chan promptAnswer
	goalRunning bool
}

func NewServer(ctrl Controller, cfg config.GatewayConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ctrl:   ctrl,
		cfg:    cfg,
		logger: logger.Named("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
		prompts: make(map[string]chan promptAnswer),
	}
}

// client is one websocket peer with its buffered outbound queue.
type client struct {
	id     string
	server *Server
	conn   *websocket.Conn
	send   chan []byte
}

// Handler returns the HTTP handler that upgrades control-channel requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Run serves the control channel until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Gateway listening.", zap.String("addr", s.cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway server: %w", err)
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Websocket upgrade failed.", zap.Error(err))
		return
	}
	c := &client{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
		send:   make(chan []byte, 64),
	}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	s.logger.Info("Control client connected.", zap.String("client_id", c.id))

	go c.writePump()
	go c.readPump()
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
		s.logger.Info("Control client disconnected.", zap.String("client_id", c.id))
	}
	s.mu.Unlock()
}

// broadcast sends an event frame to every connected client. A client whose
// queue is full is dropped rather than allowed to stall the rest.
func (s *Server) broadcast(resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Broadcast marshal failed.", zap.Error(err))
		return
	}
	s.mu.Lock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(s.clients, c)
		}
	}
	s.mu.Unlock()
}

// enqueue queues a frame for one client. The registration check and the
// channel send share the lock that closes the channel, so a disconnect
// racing an in-flight handler cannot send on a closed channel.
func (s *Server) enqueue(c *client, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clients[c] {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) reply(resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		c.server.logger.Error("Reply marshal failed.", zap.Error(err))
		return
	}
	if !c.server.enqueue(c, payload) {
		c.server.logger.Warn("Dropping reply, client gone or queue full.", zap.String("client_id", c.id))
	}
}

func (c *client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("Control client read error.", zap.Error(err))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(Response{Event: EventError, Error: fmt.Sprintf("malformed frame: %v", err)})
			continue
		}
		// Dispatch off the read loop so a slow step cannot starve pong
		// processing.
		go c.server.dispatch(c, req)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(c *client, req Request) {
	ctx := context.Background()
	switch req.Action {
	case ActionExecuteStep:
		s.handleExecuteStep(ctx, c, req)
	case ActionGetPageInfo:
		s.handlePageInfo(ctx, c, req)
	case ActionRunGoal:
		s.handleRunGoal(c, req)
	case ActionCancel:
		s.ctrl.Cancel()
		c.reply(Response{ID: req.ID, Event: EventAck, OK: true})
	case ActionStartAutomation:
		c.reply(Response{ID: req.ID, Event: EventAck, OK: true})
		s.broadcast(Response{Event: EventState, OK: true, State: "automation_started"})
	case ActionStopAutomation:
		c.reply(Response{ID: req.ID, Event: EventAck, OK: true})
		s.broadcast(Response{Event: EventState, OK: true, State: "automation_stopped"})
	case ActionPromptReply:
		s.handlePromptReply(c, req)
	default:
		c.reply(Response{ID: req.ID, Event: EventError, Error: fmt.Sprintf("unknown action %q", req.Action)})
	}
}

func (s *Server) handleExecuteStep(ctx context.Context, c *client, req Request) {
	if req.Step == nil {
		c.reply(Response{ID: req.ID, Event: EventError, Error: "executeStep frame without a step"})
		return
	}
	result, err := s.ctrl.ExecuteStep(ctx, *req.Step)
	if err != nil {
		c.reply(Response{ID: req.ID, Event: EventError, Error: err.Error()})
		return
	}
	c.reply(Response{ID: req.ID, Event: EventStepResult, OK: result.Success, Result: &result})
}

func (s *Server) handlePageInfo(ctx context.Context, c *client, req Request) {
	info, err := s.ctrl.PageInfo(ctx)
	if err != nil {
		c.reply(Response{ID: req.ID, Event: EventError, Error: err.Error()})
		return
	}
	c.reply(Response{ID: req.ID, Event: EventPageInfo, OK: true, Page: &PagePayload{URL: info.URL, Title: info.Title}})
}

func (s *Server) handleRunGoal(c *client, req Request) {
	if req.Goal == "" {
		c.reply(Response{ID: req.ID, Event: EventError, Error: "runGoal frame without a goal"})
		return
	}

	s.mu.Lock()
	if s.goalRunning {
		s.mu.Unlock()
		c.reply(Response{ID: req.ID, Event: EventError, Error: "a goal is already running"})
		return
	}
	s.goalRunning = true
	s.mu.Unlock()

	c.reply(Response{ID: req.ID, Event: EventAck, OK: true})
	go func() {
		outcome := s.ctrl.RunGoal(context.Background(), req.Goal)
		s.mu.Lock()
		s.goalRunning = false
		s.mu.Unlock()
		s.broadcast(Response{
			Event:   EventTaskComplete,
			OK:      outcome.State == "completed",
			Outcome: &outcome,
		})
	}()
}

func (s *Server) handlePromptReply(c *client, req Request) {
	s.mu.Lock()
	ch, ok := s.prompts[req.ID]
	if ok {
		delete(s.prompts, req.ID)
	}
	s.mu.Unlock()
	if !ok {
		c.reply(Response{ID: req.ID, Event: EventError, Error: "no pending prompt with that id"})
		return
	}
	ch <- promptAnswer{value: req.Value, provided: !req.Declined}
	c.reply(Response{ID: req.ID, Event: EventAck, OK: true})
}

// StepStarted broadcasts loop progress. Satisfies the agent loop's
// StepNotifier.
func (s *Server) StepStarted(action schemas.Action) {
	s.broadcast(Response{Event: EventStepStart, OK: true, Step: &action})
}

// StepFinished broadcasts the recorded result of a loop step.
func (s *Server) StepFinished(result schemas.StepResult) {
	s.broadcast(Response{Event: EventStepComplete, OK: result.Success, Result: &result})
}

// Prompt asks the connected clients for a value and blocks until one
// answers or the context expires. Satisfies the agent loop's Prompter; an
// expired or declined prompt reads as the user declining.
func (s *Server) Prompt(ctx context.Context, prompt string) (string, bool, error) {
	id := uuid.NewString()
	ch := make(chan promptAnswer, 1)

	s.mu.Lock()
	s.prompts[id] = ch
	s.mu.Unlock()

	s.broadcast(Response{ID: id, Event: EventPrompt, OK: true, Prompt: prompt})

	select {
	case answer := <-ch:
		return answer.value, answer.provided, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.prompts, id)
		s.mu.Unlock()
		return "", false, ctx.Err()
	}
}
