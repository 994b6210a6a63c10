package telegram

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mingling-chat/internal/attachment"
	"mingling-chat/internal/auth"
	"mingling-chat/internal/llm"
	"mingling-chat/internal/pending"
	"mingling-chat/internal/session"
	"mingling-chat/internal/storage"
)

type Option func(*Bot)

func WithRecorder(r storage.Recorder) Option {
	return func(b *Bot) { b.recorder = r }
}

func WithResponseTimeout(d time.Duration) Option {
	return func(b *Bot) { b.timeout = d }
}

// WithAdmin enables the allowlist management commands for one user.
func WithAdmin(userID int64) Option {
	return func(b *Bot) { b.adminUserID = userID }
}

// WithPending lets unknown users ask the admin for access.
func WithPending(q *pending.Queue) Option {
	return func(b *Bot) { b.pending = q }
}

// Bot is the Telegram frontend. Every chat gets its own session controller.
type Bot struct {
	api         *tgbotapi.BotAPI
	s           sender
	files       fileFetcher
	authSvc     *auth.Service
	store       *attachment.Store
	responder   llm.Responder
	recorder    storage.Recorder
	timeout     time.Duration
	adminUserID int64
	pending     *pending.Queue

	mu    sync.Mutex
	chats map[int64]*session.Controller
}

func New(botToken string, authSvc *auth.Service, store *attachment.Store, responder llm.Responder, maxFileSize int64, opts ...Option) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	b := newBot(botAPISender{api: api}, botFileFetcher{api: api, limit: maxFileSize}, authSvc, store, responder, opts...)
	b.api = api
	return b, nil
}

func newBot(s sender, files fileFetcher, authSvc *auth.Service, store *attachment.Store, responder llm.Responder, opts ...Option) *Bot {
	b := &Bot{
		s:         s,
		files:     files,
		authSvc:   authSvc,
		store:     store,
		responder: responder,
		chats:     make(map[int64]*session.Controller),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start polls updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	log.Printf("🤖 Authorized on account @%s", b.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil {
		b.handleIncomingMessage(ctx, update.Message)
		return
	}
	if update.CallbackQuery != nil {
		b.handleCallback(update.CallbackQuery)
	}
}

// controller returns the session of a chat, creating it on first use.
func (b *Bot) controller(chatID int64) *session.Controller {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.chats[chatID]; ok {
		return c
	}
	c := session.New(b.store, b.responder,
		session.WithOwner(fmt.Sprintf("tg:%d", chatID)),
		session.WithRecorder(b.recorder),
		session.WithResponseTimeout(b.timeout),
	)
	c.OnError(func(err error) {
		b.sendMessage(chatID, failureText(err))
	})
	b.chats[chatID] = c
	return c
}

// Close ends every chat session.
func (b *Bot) Close() {
	b.mu.Lock()
	chats := b.chats
	b.chats = make(map[int64]*session.Controller)
	b.mu.Unlock()
	for _, c := range chats {
		c.Close()
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.s.Send(msg); err != nil {
		log.Printf("failed to send message: %v", err)
	}
}
