package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mingling-chat/internal/attachment"
	"mingling-chat/internal/chat"
	"mingling-chat/internal/history"
	"mingling-chat/internal/llm"
	"mingling-chat/internal/storage"
)

const ShareTitle = "Chia sẻ từ MinglingMind AI"

// Snapshot is an immutable view of a session handed to renderers.
type Snapshot struct {
	Messages           []chat.Message          `json:"messages"`
	PendingAttachments []attachment.Attachment `json:"pending_attachments"`
	ActiveDomain       chat.Domain             `json:"active_domain"`
	IsAwaitingResponse bool                    `json:"is_awaiting_response"`
}

// Share is the payload a frontend hands to a share sheet or the clipboard.
type Share struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type Option func(*Controller)

func WithLog(l *history.Log) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithResponseTimeout bounds each reply. Zero means no bound.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

func WithRecorder(r storage.Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithOwner tags recorded events and log lines.
func WithOwner(owner string) Option {
	return func(c *Controller) { c.owner = owner }
}

func WithLogoutHook(f func()) Option {
	return func(c *Controller) { c.onLogout = f }
}

// Controller drives one conversation. At most one reply is in flight at a
// time; every committed change is published as a Snapshot.
//
// Listeners run on the goroutine that committed the change and must not
// call back into the controller synchronously.
type Controller struct {
	store     *attachment.Store
	responder llm.Responder
	log       *history.Log
	recorder  storage.Recorder
	owner     string
	timeout   time.Duration
	onLogout  func()

	mu       sync.Mutex
	domain   chat.Domain
	pending  []attachment.Attachment
	awaiting bool
	closed   bool
	idle     chan struct{}

	// emitMu is taken before mu is released so listeners observe commits in order.
	emitMu sync.Mutex

	lmu       sync.Mutex
	nextID    int
	onState   map[int]func(Snapshot)
	onFailure map[int]func(error)

	lifetime context.Context
	cancel   context.CancelCauseFunc
	wg       sync.WaitGroup
}

func New(store *attachment.Store, responder llm.Responder, opts ...Option) *Controller {
	ctx, cancel := context.WithCancelCause(context.Background())
	idle := make(chan struct{})
	close(idle)
	c := &Controller{
		store:     store,
		responder: responder,
		domain:    chat.DomainGeneral,
		idle:      idle,
		onState:   make(map[int]func(Snapshot)),
		onFailure: make(map[int]func(error)),
		lifetime:  ctx,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = history.NewLog()
	}
	return c
}

// SendMessage appends a user message built from content and the staged
// attachments and asks the responder for a reply in the background.
// Blank content with nothing staged is ignored. The reply request is not
// tied to ctx cancellation; it ends with the reply, the response timeout
// or Close.
func (c *Controller) SendMessage(ctx context.Context, content string) (chat.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return chat.Message{}, ErrClosed
	}
	if c.awaiting {
		c.mu.Unlock()
		return chat.Message{}, fmt.Errorf("send: %w: reply pending", ErrInvalidState)
	}
	if strings.TrimSpace(content) == "" && len(c.pending) == 0 {
		c.mu.Unlock()
		return chat.Message{}, nil
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   content,
		CreatedAt: c.log.Stamp(),
	}
	for _, a := range c.pending {
		msg.Attachments = append(msg.Attachments, a.ToMessage())
	}
	if err := c.log.Append(msg); err != nil {
		c.mu.Unlock()
		log.Printf("❌ [%s] rejected user message: %v", c.owner, err)
		return chat.Message{}, err
	}
	c.store.ReleaseAll(c.pending)
	c.pending = nil

	domain := c.domain
	hist := c.log.Snapshot()
	done := make(chan struct{})
	c.awaiting = true
	c.idle = done

	reqCtx, cancel := c.requestContext(ctx)
	c.wg.Add(1)
	go c.generate(reqCtx, cancel, msg, domain, hist, done)

	c.publishAndUnlock()
	return msg.Clone(), nil
}

func (c *Controller) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancelCause := context.WithCancelCause(context.WithoutCancel(parent))
	stop := context.AfterFunc(c.lifetime, func() { cancelCause(context.Cause(c.lifetime)) })
	cancel := func() {
		stop()
		cancelCause(context.Canceled)
	}
	if c.timeout > 0 {
		tctx, tcancel := context.WithTimeout(ctx, c.timeout)
		return tctx, func() {
			tcancel()
			cancel()
		}
	}
	return ctx, cancel
}

func (c *Controller) generate(ctx context.Context, cancel context.CancelFunc, prompt chat.Message, domain chat.Domain, hist []chat.Message, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	reply, err := c.responder.Respond(ctx, domain, hist)
	var failure error
	if err != nil {
		failure = &GenerationFailure{Reason: classify(ctx, c.lifetime, err), Err: err}
	}
	cancel()

	c.mu.Lock()
	c.awaiting = false
	if failure == nil {
		answer := chat.Message{
			ID:         uuid.NewString(),
			Role:       chat.RoleAssistant,
			Content:    reply,
			CreatedAt:  c.log.Stamp(),
			Domain:     domain,
			RespondsTo: prompt.ID,
		}
		if aerr := c.log.Append(answer); aerr != nil {
			failure = aerr
		}
	}
	if failure != nil {
		log.Printf("❌ [%s] reply failed: %v", c.owner, failure)
	}
	c.publishAndUnlock(failure)

	c.record(prompt, domain, reply, failure)
}

func (c *Controller) record(prompt chat.Message, domain chat.Domain, reply string, failure error) {
	if c.recorder == nil {
		return
	}
	ev := storage.Event{
		Timestamp:         prompt.CreatedAt.UTC(),
		Owner:             c.owner,
		Domain:            string(domain),
		UserMessage:       prompt.Content,
		AssistantResponse: reply,
		Attachments:       len(prompt.Attachments),
	}
	if failure != nil {
		ev.AssistantResponse = ""
		ev.Failed = true
		ev.FailureReason = string(ReasonBackend)
		var gf *GenerationFailure
		if errors.As(failure, &gf) {
			ev.FailureReason = string(gf.Reason)
		}
	}
	if err := c.recorder.AppendInteraction(ev); err != nil {
		log.Printf("⚠️ failed to record interaction: %v", err)
	}
}

// DeleteMessage removes a message, or a user message together with the
// assistant message right after it. It returns the number of removed
// entries, 0 once the controller is closed.
func (c *Controller) DeleteMessage(id string) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	n := c.log.DeleteTurn(id)
	if n == 0 {
		c.mu.Unlock()
		return 0
	}
	c.publishAndUnlock()
	return n
}

func (c *Controller) SetDomain(d chat.Domain) error {
	if !d.Valid() {
		return fmt.Errorf("unknown domain: %q", d)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.domain = d
	c.publishAndUnlock()
	return nil
}

func (c *Controller) StartNewChat() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.awaiting {
		c.mu.Unlock()
		return fmt.Errorf("new chat: %w: reply pending", ErrInvalidState)
	}
	c.log.Clear()
	c.store.ReleaseAll(c.pending)
	c.pending = nil
	c.publishAndUnlock()
	return nil
}

func (c *Controller) StageAttachment(f attachment.File, kind chat.Kind) (attachment.Attachment, error) {
	a, err := c.store.Register(f, kind)
	if err != nil {
		return attachment.Attachment{}, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.store.Release(a)
		return attachment.Attachment{}, ErrClosed
	}
	c.pending = append(c.pending, a)
	c.publishAndUnlock()
	return a, nil
}

// UnstageAttachment drops a staged attachment and releases its preview.
// Unknown ids report false.
func (c *Controller) UnstageAttachment(id string) bool {
	c.mu.Lock()
	for i, a := range c.pending {
		if a.ID != id {
			continue
		}
		c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
		c.store.Release(a)
		c.publishAndUnlock()
		return true
	}
	c.mu.Unlock()
	return false
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	pending := make([]attachment.Attachment, len(c.pending))
	copy(pending, c.pending)
	return Snapshot{
		Messages:           c.log.Snapshot(),
		PendingAttachments: pending,
		ActiveDomain:       c.domain,
		IsAwaitingResponse: c.awaiting,
	}
}

// publishAndUnlock must be called with mu held. It releases mu and then
// delivers the snapshot followed by any errors.
func (c *Controller) publishAndUnlock(errs ...error) {
	snap := c.snapshotLocked()
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	c.lmu.Lock()
	states := make([]func(Snapshot), 0, len(c.onState))
	for _, f := range c.onState {
		states = append(states, f)
	}
	var failures []func(error)
	if len(errs) > 0 && errs[0] != nil {
		for _, f := range c.onFailure {
			failures = append(failures, f)
		}
	}
	c.lmu.Unlock()

	for _, f := range states {
		f(snap)
	}
	for _, err := range errs {
		if err == nil {
			continue
		}
		for _, f := range failures {
			f(err)
		}
	}
}

// OnStateChange registers f for every committed change. The returned
// func unregisters it.
func (c *Controller) OnStateChange(f func(Snapshot)) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.onState[id] = f
	return func() {
		c.lmu.Lock()
		delete(c.onState, id)
		c.lmu.Unlock()
	}
}

// OnError registers f for reply failures.
func (c *Controller) OnError(f func(error)) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.onFailure[id] = f
	return func() {
		c.lmu.Lock()
		delete(c.onFailure, id)
		c.lmu.Unlock()
	}
}

// WaitIdle blocks until no reply is pending and its snapshot has been published.
func (c *Controller) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	done := c.idle
	c.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) ShareText(id string) (Share, error) {
	m, ok := c.log.Get(id)
	if !ok {
		return Share{}, fmt.Errorf("share %s: %w", id, ErrNotFound)
	}
	text := m.Content
	if strings.TrimSpace(text) == "" && m.HasAttachments() {
		names := make([]string, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			names = append(names, a.Name)
		}
		text = strings.Join(names, ", ")
	}
	return Share{Title: ShareTitle, Text: text}, nil
}

// Logout forwards to the logout hook. Session state is left untouched.
func (c *Controller) Logout() {
	if c.onLogout != nil {
		c.onLogout()
	}
}

// Close cancels a pending reply, waits for it to settle and releases
// staged previews. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.store.ReleaseAll(c.pending)
	c.pending = nil
	c.mu.Unlock()

	c.cancel(ErrClosed)
	c.wg.Wait()
}
