// Package onebot connects to a OneBot v11 implementation (NapCat, Lagrange,
// go-cqhttp) over a forward websocket.
//
// Events and action responses share one connection. Actions are correlated
// with their responses through the echo field, so any number of callers can
// have actions in flight while the read loop keeps delivering events.
package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/joingate/internal/observability"
	"github.com/haasonsaas/joingate/internal/platform"
	"github.com/haasonsaas/joingate/internal/resolver"
	"github.com/haasonsaas/joingate/internal/retry"
)

// Name identifies the platform in events, logs and metrics.
const Name = "onebot"

const (
	writeWait       = 10 * time.Second
	maxPayloadBytes = 4 << 20
)

// Config configures the adapter.
type Config struct {
	// URL is the implementation's forward websocket endpoint.
	URL string
	// AccessToken is sent as a bearer token when set.
	AccessToken string
	// ActionTimeout bounds a single action call (default 10s).
	ActionTimeout time.Duration
	Reconnect     platform.ReconnectConfig
	// PollSchedule enables get_group_system_msg polling when set. It accepts
	// cron expressions and descriptors such as "@every 30s".
	PollSchedule string
}

// Adapter is a platform.Adapter for OneBot v11.
type Adapter struct {
	config  Config
	dialer  *websocket.Dialer
	metrics *observability.Metrics
	logger  *slog.Logger

	current atomic.Pointer[session]
	cancel  context.CancelFunc
	cron    *cron.Cron
	loop    sync.WaitGroup
	events  sync.WaitGroup
}

var _ platform.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithMetrics counts action failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an adapter. It does not connect until Start.
func New(config Config, opts ...Option) (*Adapter, error) {
	if strings.TrimSpace(config.URL) == "" {
		return nil, platform.NewError(Name, platform.ErrCodeConnection, "websocket url is required", nil)
	}
	if config.ActionTimeout <= 0 {
		config.ActionTimeout = 10 * time.Second
	}
	a := &Adapter{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "onebot")
	return a, nil
}

// Name returns the platform name.
func (a *Adapter) Name() string {
	return Name
}

// Connected reports whether a websocket session is up.
func (a *Adapter) Connected() bool {
	return a.current.Load() != nil
}

// Start connects in the background and keeps reconnecting until Stop.
func (a *Adapter) Start(ctx context.Context, handler platform.Handler) error {
	if handler == nil {
		return errors.New("onebot: handler is required")
	}
	runCtx, cancel := context.WithCancel(ctx)

	if a.config.PollSchedule != "" {
		if err := a.startPoller(runCtx, handler); err != nil {
			cancel()
			return err
		}
	}
	a.cancel = cancel

	reconnector := &platform.Reconnector{
		Config: a.config.Reconnect,
		Logger: a.logger,
		OnFailure: func(err error) {
			a.metrics.RecordPlatformError(Name, string(platform.GetErrorCode(err)))
		},
	}
	a.loop.Add(1)
	go func() {
		defer a.loop.Done()
		err := reconnector.Run(runCtx, func(ctx context.Context) error {
			return a.runSession(ctx, handler)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("onebot connection abandoned", "error", err)
		}
	}()
	return nil
}

// Stop disconnects and waits for in-flight event handlers.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.stopPoller()

	done := make(chan struct{})
	go func() {
		a.loop.Wait()
		a.events.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) runSession(ctx context.Context, handler platform.Handler) error {
	header := http.Header{}
	if a.config.AccessToken != "" {
		header.Set("Authorization", "Bearer "+a.config.AccessToken)
	}
	conn, resp, err := a.dialer.DialContext(ctx, a.config.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return retry.Permanent(platform.NewError(Name, platform.ErrCodeAuthentication, "access token rejected", err))
		}
		return platform.NewError(Name, platform.ErrCodeConnection, "dial", err)
	}

	s := newSession(conn)
	a.current.Store(s)
	a.logger.Info("onebot connected", "url", a.config.URL)
	defer func() {
		a.current.CompareAndSwap(s, nil)
		s.close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-s.done:
		}
	}()

	for {
		raw, err := s.read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return platform.NewError(Name, platform.ErrCodeConnection, "read", err)
		}
		a.dispatch(ctx, s, raw, handler)
	}
}

func (a *Adapter) dispatch(ctx context.Context, s *session, raw []byte, handler platform.Handler) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		a.logger.Debug("undecodable frame", "error", err)
		return
	}
	if f.Echo != nil {
		var resp actionResponse
		if err := json.Unmarshal(raw, &resp); err == nil {
			s.deliver(resp)
		}
		return
	}

	if ev, ok := f.joinEvent(); ok {
		a.events.Add(1)
		go func() {
			defer a.events.Done()
			handler.HandleJoinRequest(ctx, ev)
		}()
		return
	}
	if msg, ok := f.groupMessage(); ok {
		a.events.Add(1)
		go func() {
			defer a.events.Done()
			handler.HandleGroupMessage(ctx, msg)
		}()
	}
}

// call runs an action and decodes its data into out when out is not nil.
func (a *Adapter) call(ctx context.Context, action string, params any, out any) error {
	err := a.doCall(ctx, action, params, out)
	if err != nil {
		a.metrics.RecordPlatformError(Name, string(platform.GetErrorCode(err)))
	}
	return err
}

func (a *Adapter) doCall(ctx context.Context, action string, params any, out any) error {
	s := a.current.Load()
	if s == nil {
		return platform.NewError(Name, platform.ErrCodeConnection, "not connected", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, a.config.ActionTimeout)
	defer cancel()

	echo := uuid.NewString()
	ch := s.register(echo)
	defer s.unregister(echo)

	payload, err := json.Marshal(actionRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return platform.NewError(Name, platform.ErrCodeInternal, "encode "+action, err)
	}
	if err := s.write(payload); err != nil {
		return platform.NewError(Name, platform.ErrCodeConnection, "send "+action, err)
	}

	select {
	case resp := <-ch:
		if !resp.ok() {
			return platform.NewError(Name, classify(resp), action+" failed",
				fmt.Errorf("retcode %d: %s", resp.RetCode, resp.text()))
		}
		if out != nil && len(resp.Data) > 0 && string(resp.Data) != "null" {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return platform.NewError(Name, platform.ErrCodeInternal, "decode "+action, err)
			}
		}
		return nil
	case <-s.done:
		return platform.NewError(Name, platform.ErrCodeConnection, action+" interrupted", errors.New("connection closed"))
	case <-ctx.Done():
		return platform.NewError(Name, platform.ErrCodeTimeout, action+" timed out", ctx.Err())
	}
}

// Decide answers a group join request with set_group_add_request, passing
// the candidate value as the flag.
func (a *Adapter) Decide(ctx context.Context, candidate resolver.Candidate, decision resolver.Decision) error {
	params := map[string]any{
		"flag":     candidate.Value,
		"sub_type": "add",
		"type":     "add",
		"approve":  decision.Approve,
	}
	if !decision.Approve && decision.Reason != "" {
		params["reason"] = decision.Reason
	}
	return a.call(ctx, "set_group_add_request", params, nil)
}

// SendGroupMessage posts text to a group.
func (a *Adapter) SendGroupMessage(ctx context.Context, groupID, text string) error {
	return a.call(ctx, "send_group_msg", map[string]any{
		"group_id":    numeric(groupID),
		"message":     text,
		"auto_escape": true,
	}, nil)
}

// DisplayName looks up a user's nickname with get_stranger_info.
func (a *Adapter) DisplayName(ctx context.Context, groupID, userID string) (string, error) {
	var info strangerInfo
	if err := a.call(ctx, "get_stranger_info", map[string]any{"user_id": numeric(userID)}, &info); err != nil {
		return "", err
	}
	return info.Nickname, nil
}

type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan actionResponse

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn) *session {
	conn.SetReadLimit(maxPayloadBytes)
	return &session{
		conn:    conn,
		pending: make(map[string]chan actionResponse),
		done:    make(chan struct{}),
	}
}

func (s *session) read() ([]byte, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *session) write(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *session) register(echo string) chan actionResponse {
	ch := make(chan actionResponse, 1)
	s.mu.Lock()
	s.pending[echo] = ch
	s.mu.Unlock()
	return ch
}

func (s *session) unregister(echo string) {
	s.mu.Lock()
	delete(s.pending, echo)
	s.mu.Unlock()
}

func (s *session) deliver(resp actionResponse) {
	s.mu.Lock()
	ch, ok := s.pending[resp.Echo]
	delete(s.pending, resp.Echo)
	s.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
