// Package telegram reviews Telegram chat join requests through the Bot API.
//
// The bot must be an administrator with the "invite users" right in every
// source chat, and the chats' invite links must require admin approval.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/joingate/internal/observability"
	"github.com/haasonsaas/joingate/internal/platform"
	"github.com/haasonsaas/joingate/internal/resolver"
)

// Name identifies the platform in events, logs and metrics.
const Name = "telegram"

// Config configures the adapter.
type Config struct {
	Token string
	// ServerURL overrides the Bot API endpoint, e.g. for a local Bot API server.
	ServerURL string
}

// client is the subset of *bot.Bot the adapter uses.
type client interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	ApproveChatJoinRequest(ctx context.Context, params *bot.ApproveChatJoinRequestParams) (bool, error)
	DeclineChatJoinRequest(ctx context.Context, params *bot.DeclineChatJoinRequestParams) (bool, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
	Start(ctx context.Context)
}

// Adapter is a platform.Adapter for Telegram.
type Adapter struct {
	config  Config
	client  client
	metrics *observability.Metrics
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ platform.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithMetrics counts API failures.
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

// New creates an adapter. The bot is created on Start.
func New(config Config, opts ...Option) (*Adapter, error) {
	if strings.TrimSpace(config.Token) == "" {
		return nil, platform.NewError(Name, platform.ErrCodeAuthentication, "bot token is required", nil)
	}
	a := &Adapter{config: config, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "telegram")
	return a, nil
}

// Name returns the platform name.
func (a *Adapter) Name() string {
	return Name
}

// Start creates the bot and begins long polling in the background.
func (a *Adapter) Start(ctx context.Context, handler platform.Handler) error {
	if handler == nil {
		return errors.New("telegram: handler is required")
	}
	dispatch := func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		a.handleUpdate(ctx, handler, update)
	}

	if a.client == nil {
		opts := []bot.Option{
			bot.WithDefaultHandler(dispatch),
			bot.WithAllowedUpdates(bot.AllowedUpdates{"message", "chat_join_request"}),
		}
		if a.config.ServerURL != "" {
			opts = append(opts, bot.WithServerURL(a.config.ServerURL))
		}
		b, err := bot.New(a.config.Token, opts...)
		if err != nil {
			a.metrics.RecordPlatformError(Name, string(platform.ErrCodeAuthentication))
			return platform.NewError(Name, platform.ErrCodeAuthentication, "failed to create bot", err)
		}
		a.client = b
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("starting long polling")
		a.client.Start(runCtx)
	}()
	return nil
}

// Stop ends long polling.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, handler platform.Handler, update *models.Update) {
	if update == nil {
		return
	}
	if req := update.ChatJoinRequest; req != nil {
		ev := platform.JoinEvent{
			Platform:    Name,
			GroupID:     strconv.FormatInt(req.Chat.ID, 10),
			RequesterID: strconv.FormatInt(req.From.ID, 10),
			DisplayName: fullName(req.From),
			Comment:     req.Bio,
		}
		if req.UserChatID != 0 {
			ev.Identifiers.Extra = map[string]string{"user_chat": strconv.FormatInt(req.UserChatID, 10)}
		}
		handler.HandleJoinRequest(ctx, ev)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}
	if msg.Chat.Type != models.ChatTypeGroup && msg.Chat.Type != models.ChatTypeSupergroup {
		return
	}
	handler.HandleGroupMessage(ctx, platform.GroupMessage{
		Platform: Name,
		GroupID:  strconv.FormatInt(msg.Chat.ID, 10),
		SenderID: strconv.FormatInt(msg.From.ID, 10),
		Text:     stripBotMention(msg.Text),
	})
}

// Decide approves or declines a chat join request. Telegram identifies the
// request by chat and user, so the candidate value must be a numeric user id.
func (a *Adapter) Decide(ctx context.Context, candidate resolver.Candidate, decision resolver.Decision) error {
	userID, err := strconv.ParseInt(candidate.Value, 10, 64)
	if err != nil {
		return platform.NewError(Name, platform.ErrCodeInvalidIdentifier, "user id must be numeric", err)
	}
	chatID, err := strconv.ParseInt(decision.GroupID, 10, 64)
	if err != nil {
		return platform.NewError(Name, platform.ErrCodeInvalidIdentifier, "chat id must be numeric", err)
	}

	if decision.Approve {
		_, err = a.client.ApproveChatJoinRequest(ctx, &bot.ApproveChatJoinRequestParams{ChatID: chatID, UserID: userID})
	} else {
		_, err = a.client.DeclineChatJoinRequest(ctx, &bot.DeclineChatJoinRequestParams{ChatID: chatID, UserID: userID})
	}
	return a.wrap(ctx, "decide", err)
}

// SendGroupMessage posts text to a chat.
func (a *Adapter) SendGroupMessage(ctx context.Context, groupID, text string) error {
	chatID, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		return platform.NewError(Name, platform.ErrCodeInternal, "chat id must be numeric", err)
	}
	_, err = a.client.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	return a.wrap(ctx, "send", err)
}

// DisplayName looks up a user's name through their private chat.
func (a *Adapter) DisplayName(ctx context.Context, groupID, userID string) (string, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", platform.NewError(Name, platform.ErrCodeInvalidIdentifier, "user id must be numeric", err)
	}
	chat, err := a.client.GetChat(ctx, &bot.GetChatParams{ChatID: id})
	if err != nil {
		return "", a.wrap(ctx, "get chat", err)
	}
	name := strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	if name == "" {
		name = chat.Username
	}
	return name, nil
}

func (a *Adapter) wrap(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	code := classify(ctx, err)
	a.metrics.RecordPlatformError(Name, string(code))
	return platform.NewError(Name, code, op, err)
}

// classify maps Bot API errors onto platform codes.
func classify(ctx context.Context, err error) platform.ErrorCode {
	var tooMany *bot.TooManyRequestsError
	text := strings.ToUpper(err.Error())
	switch {
	case errors.As(err, &tooMany):
		return platform.ErrCodeRateLimit
	case strings.Contains(text, "HIDE_REQUESTER_MISSING"), strings.Contains(text, "USER_ALREADY_PARTICIPANT"):
		return platform.ErrCodeAlreadyHandled
	case strings.Contains(text, "USER_ID_INVALID"), strings.Contains(text, "PARTICIPANT_ID_INVALID"), strings.Contains(text, "USER NOT FOUND"):
		return platform.ErrCodeInvalidIdentifier
	case errors.Is(err, bot.ErrorUnauthorized), errors.Is(err, bot.ErrorForbidden):
		return platform.ErrCodeAuthentication
	case errors.Is(err, bot.ErrorBadRequest):
		return platform.ErrCodeInternal
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return platform.ErrCodeTimeout
	default:
		return platform.ErrCodeConnection
	}
}

func fullName(u models.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.Username != "" {
		name = "@" + u.Username
	}
	return name
}

// stripBotMention turns "/approve@joingate_bot 42" into "/approve 42".
func stripBotMention(text string) string {
	if !strings.HasPrefix(text, "/") {
		return text
	}
	head, rest, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(head, '@'); at > 0 {
		head = head[:at]
	}
	if rest == "" {
		return head
	}
	return fmt.Sprintf("%s %s", head, rest)
}
