package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"mingling-chat/internal/attachment"
	"mingling-chat/internal/chat"
	"mingling-chat/internal/llm"
	"mingling-chat/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gatedResponder blocks every request until a value is sent on gate.
type gatedResponder struct {
	gate chan error

	mu      sync.Mutex
	domains []chat.Domain
	lens    []int
}

func newGated() *gatedResponder { return &gatedResponder{gate: make(chan error)} }

func (g *gatedResponder) Respond(ctx context.Context, d chat.Domain, hist []chat.Message) (string, error) {
	g.mu.Lock()
	g.domains = append(g.domains, d)
	g.lens = append(g.lens, len(hist))
	g.mu.Unlock()
	select {
	case err := <-g.gate:
		if err != nil {
			return "", err
		}
		return "reply to " + hist[len(hist)-1].Content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedResponder) release(t *testing.T, err error) {
	t.Helper()
	select {
	case g.gate <- err:
	case <-time.After(2 * time.Second):
		t.Fatalf("responder was never called")
	}
}

type memRecorder struct {
	mu     sync.Mutex
	events []storage.Event
}

func (r *memRecorder) AppendInteraction(ev storage.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRecorder) LoadInteractions() ([]storage.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Event(nil), r.events...), nil
}

func newController(t *testing.T, r llm.Responder, opts ...Option) (*Controller, *attachment.Store) {
	t.Helper()
	store := attachment.NewStore()
	c := New(store, r, opts...)
	t.Cleanup(func() {
		c.Close()
		store.Close()
	})
	return c, store
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.WaitIdle(ctx); err != nil {
		t.Fatalf("wait idle: %v", err)
	}
}

func pngFile(t *testing.T, name string) attachment.File {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return attachment.File{Name: name, ContentType: "image/png", Data: buf.Bytes()}
}

func TestHelloInProgrammingDomain(t *testing.T) {
	c, _ := newController(t, llm.NewSimulator(5*time.Millisecond))
	if err := c.SetDomain(chat.DomainProgramming); err != nil {
		t.Fatalf("set domain: %v", err)
	}
	if _, err := c.SendMessage(context.Background(), "Hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitIdle(t, c)

	s := c.Snapshot()
	if s.IsAwaitingResponse {
		t.Fatalf("expected idle")
	}
	if len(s.Messages) != 2 {
		t.Fatalf("want 2 messages, got %d", len(s.Messages))
	}
	user, reply := s.Messages[0], s.Messages[1]
	if user.Role != chat.RoleUser || user.Content != "Hello" || user.Domain != "" {
		t.Fatalf("unexpected user message: %+v", user)
	}
	if reply.Role != chat.RoleAssistant || reply.Domain != chat.DomainProgramming {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if reply.Content != llm.SampleResponse(chat.DomainProgramming) || reply.RespondsTo != user.ID {
		t.Fatalf("reply content or pairing wrong: %+v", reply)
	}
	if !reply.CreatedAt.After(user.CreatedAt) {
		t.Fatalf("reply not ordered after prompt")
	}
}

func TestRepliesUseSendTimeDomain(t *testing.T) {
	g := newGated()
	c, _ := newController(t, g)

	sendDomains := []chat.Domain{chat.DomainGeneral, chat.DomainBusiness, chat.DomainData}
	for i, d := range sendDomains {
		if err := c.SetDomain(d); err != nil {
			t.Fatalf("set domain: %v", err)
		}
		if _, err := c.SendMessage(context.Background(), "q"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		// switching while waiting must not leak into the reply
		_ = c.SetDomain(chat.DomainProgramming)
		g.release(t, nil)
		waitIdle(t, c)
	}

	msgs := c.Snapshot().Messages
	if len(msgs)%2 != 0 || len(msgs) != 2*len(sendDomains) {
		t.Fatalf("want %d messages, got %d", 2*len(sendDomains), len(msgs))
	}
	for i, m := range msgs {
		wantRole := chat.RoleUser
		if i%2 == 1 {
			wantRole = chat.RoleAssistant
		}
		if m.Role != wantRole {
			t.Fatalf("message %d has role %s", i, m.Role)
		}
		if i%2 == 1 && m.Domain != sendDomains[i/2] {
			t.Fatalf("reply %d domain = %s, want %s", i/2, m.Domain, sendDomains[i/2])
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lens[0] != 1 || g.lens[2] != 5 {
		t.Fatalf("responder saw history lengths %v", g.lens)
	}
}

func TestSendWhileAwaitingIsRejected(t *testing.T) {
	g := newGated()
	c, _ := newController(t, g)

	if _, err := c.SendMessage(context.Background(), "first"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !c.Snapshot().IsAwaitingResponse {
		t.Fatalf("expected awaiting")
	}
	if _, err := c.SendMessage(context.Background(), "second"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("want ErrInvalidState, got %v", err)
	}
	if n := len(c.Snapshot().Messages); n != 1 {
		t.Fatalf("messages changed: %d", n)
	}
	g.release(t, nil)
	waitIdle(t, c)
}

func TestBlankSendIsNoop(t *testing.T) {
	c, _ := newController(t, newGated())
	emitted := 0
	c.OnStateChange(func(Snapshot) { emitted++ })

	for _, in := range []string{"", "   \n\t"} {
		msg, err := c.SendMessage(context.Background(), in)
		if err != nil {
			t.Fatalf("send %q: %v", in, err)
		}
		if msg.ID != "" {
			t.Fatalf("no message expected for %q", in)
		}
	}
	s := c.Snapshot()
	if len(s.Messages) != 0 || s.IsAwaitingResponse || emitted != 0 {
		t.Fatalf("blank send changed state: %+v emitted=%d", s, emitted)
	}
}

func TestDeleteMessage(t *testing.T) {
	g := newGated()
	c, _ := newController(t, g)

	first, _ := c.SendMessage(context.Background(), "one")
	g.release(t, nil)
	waitIdle(t, c)
	if n := c.DeleteMessage(first.ID); n != 2 {
		t.Fatalf("deleting an answered prompt removed %d", n)
	}

	second, _ := c.SendMessage(context.Background(), "two")
	if n := c.DeleteMessage(second.ID); n != 1 {
		t.Fatalf("deleting an unanswered prompt removed %d", n)
	}
	if !c.Snapshot().IsAwaitingResponse {
		t.Fatalf("delete must not end the pending request")
	}
	g.release(t, nil)
	waitIdle(t, c)

	msgs := c.Snapshot().Messages
	if len(msgs) != 1 || msgs[0].RespondsTo != second.ID {
		t.Fatalf("orphan reply should still be appended: %+v", msgs)
	}
	if n := c.DeleteMessage("missing"); n != 0 {
		t.Fatalf("unknown id removed %d", n)
	}
	if n := c.DeleteMessage(msgs[0].ID); n != 1 {
		t.Fatalf("deleting a reply removed %d", n)
	}
}

func TestDeleteTakesFollowingReplyEvenIfItAnsweredAnotherPrompt(t *testing.T) {
	g := newGated()
	c, _ := newController(t, g)

	u0, _ := c.SendMessage(context.Background(), "zero")
	g.release(t, nil)
	waitIdle(t, c)
	r0 := c.Snapshot().Messages[1]

	u1, _ := c.SendMessage(context.Background(), "one")
	if n := c.DeleteMessage(r0.ID); n != 1 {
		t.Fatalf("deleting a reply removed %d", n)
	}
	if n := c.DeleteMessage(u1.ID); n != 1 {
		t.Fatalf("deleting the pending prompt removed %d", n)
	}
	g.release(t, nil)
	waitIdle(t, c)

	msgs := c.Snapshot().Messages
	if len(msgs) != 2 || msgs[0].ID != u0.ID || !msgs[1].IsAssistant() {
		t.Fatalf("unexpected log: %+v", msgs)
	}
	if n := c.DeleteMessage(u0.ID); n != 2 {
		t.Fatalf("user message followed by a reply removed %d, want 2", n)
	}
	if n := len(c.Snapshot().Messages); n != 0 {
		t.Fatalf("%d messages left", n)
	}
}

func TestStartNewChat(t *testing.T) {
	g := newGated()
	c, store := newController(t, g)

	if _, err := c.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := c.StageAttachment(pngFile(t, "a.png"), chat.KindImage); err != nil {
		t.Fatalf("stage: %v", err)
	}
	before := c.Snapshot()
	if err := c.StartNewChat(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("want ErrInvalidState, got %v", err)
	}
	after := c.Snapshot()
	if len(after.Messages) != len(before.Messages) || len(after.PendingAttachments) != 1 || !after.IsAwaitingResponse {
		t.Fatalf("state changed by rejected new chat: %+v", after)
	}

	g.release(t, nil)
	waitIdle(t, c)
	if err := c.StartNewChat(); err != nil {
		t.Fatalf("new chat: %v", err)
	}
	s := c.Snapshot()
	if len(s.Messages) != 0 || len(s.PendingAttachments) != 0 {
		t.Fatalf("new chat did not reset: %+v", s)
	}
	if store.Outstanding() != 0 {
		t.Fatalf("staged preview leaked")
	}
}

func TestAttachmentPreviewsReleasedOnce(t *testing.T) {
	var mu sync.Mutex
	released := map[string]int{}
	store := attachment.NewStore(attachment.WithReleaseHook(func(p attachment.Preview) {
		mu.Lock()
		released[p.ID]++
		mu.Unlock()
	}))
	c := New(store, llm.NewSimulator(0))
	defer store.Close()
	defer c.Close()

	img1, err := c.StageAttachment(pngFile(t, "one.png"), chat.KindImage)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	img2, _ := c.StageAttachment(pngFile(t, "two.png"), chat.KindImage)
	doc, err := c.StageAttachment(attachment.File{Name: "notes.txt", Data: []byte("notes")}, chat.KindFile)
	if err != nil {
		t.Fatalf("stage file: %v", err)
	}
	if img1.Preview == nil || img2.Preview == nil || doc.Preview != nil {
		t.Fatalf("previews allocated for wrong kinds")
	}

	if !c.UnstageAttachment(img1.ID) {
		t.Fatalf("unstage failed")
	}
	if c.UnstageAttachment(img1.ID) {
		t.Fatalf("second unstage should report false")
	}

	msg, err := c.SendMessage(context.Background(), "")
	if err != nil {
		t.Fatalf("attachment-only send: %v", err)
	}
	if len(msg.Attachments) != 2 || msg.Attachments[0].Name != "two.png" || msg.Attachments[1].Name != "notes.txt" {
		t.Fatalf("unexpected message attachments: %+v", msg.Attachments)
	}
	if len(msg.Attachments[0].Data) == 0 {
		t.Fatalf("sent attachment lost its data")
	}
	waitIdle(t, c)

	mu.Lock()
	defer mu.Unlock()
	if released[img1.Preview.ID] != 1 || released[img2.Preview.ID] != 1 || len(released) != 2 {
		t.Fatalf("release counts: %v", released)
	}
	if store.Outstanding() != 0 {
		t.Fatalf("outstanding previews: %d", store.Outstanding())
	}
	if len(c.Snapshot().PendingAttachments) != 0 {
		t.Fatalf("pending not cleared after send")
	}
}

func collectErrors(c *Controller) func() []error {
	var mu sync.Mutex
	var errs []error
	c.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})
	return func() []error {
		mu.Lock()
		defer mu.Unlock()
		return append([]error(nil), errs...)
	}
}

func TestBackendFailureReturnsToIdle(t *testing.T) {
	boom := errors.New("backend down")
	rec := &memRecorder{}
	c, _ := newController(t, &llm.Simulator{FailWith: boom}, WithRecorder(rec), WithOwner("alice"))
	errs := collectErrors(c)

	if _, err := c.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitIdle(t, c)

	got := errs()
	var gf *GenerationFailure
	if len(got) != 1 || !errors.As(got[0], &gf) || gf.Reason != ReasonBackend || !errors.Is(got[0], boom) {
		t.Fatalf("unexpected errors: %v", got)
	}
	s := c.Snapshot()
	if s.IsAwaitingResponse || len(s.Messages) != 1 {
		t.Fatalf("unexpected state after failure: %+v", s)
	}
	events, _ := rec.LoadInteractions()
	if len(events) != 1 || !events[0].Failed || events[0].FailureReason != "backend" || events[0].Owner != "alice" {
		t.Fatalf("failure not recorded: %+v", events)
	}

	// the session stays usable
	if _, err := c.SendMessage(context.Background(), "again"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	waitIdle(t, c)
}

func TestResponseTimeout(t *testing.T) {
	c, _ := newController(t, newGated(), WithResponseTimeout(20*time.Millisecond))
	errs := collectErrors(c)
	if _, err := c.SendMessage(context.Background(), "slow"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitIdle(t, c)
	var gf *GenerationFailure
	if got := errs(); len(got) != 1 || !errors.As(got[0], &gf) || gf.Reason != ReasonTimeout {
		t.Fatalf("want timeout failure, got %v", got)
	}
}

func TestRequestOutlivesCallerContext(t *testing.T) {
	g := newGated()
	c, _ := newController(t, g)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.SendMessage(ctx, "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	cancel()
	g.release(t, nil)
	waitIdle(t, c)
	if n := len(c.Snapshot().Messages); n != 2 {
		t.Fatalf("reply dropped after caller cancel: %d messages", n)
	}
}

func TestCloseCancelsPendingReply(t *testing.T) {
	store := attachment.NewStore()
	defer store.Close()
	c := New(store, newGated())
	errs := collectErrors(c)

	if _, err := c.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := c.StageAttachment(pngFile(t, "p.png"), chat.KindImage); err != nil {
		t.Fatalf("stage: %v", err)
	}
	c.Close()
	c.Close()

	var gf *GenerationFailure
	if got := errs(); len(got) != 1 || !errors.As(got[0], &gf) || gf.Reason != ReasonCanceled {
		t.Fatalf("want canceled failure, got %v", got)
	}
	if store.Outstanding() != 0 {
		t.Fatalf("close leaked previews")
	}
	if _, err := c.SendMessage(context.Background(), "late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestIntentsAfterCloseAreRejected(t *testing.T) {
	c, _ := newController(t, llm.NewSimulator(0))
	sent, _ := c.SendMessage(context.Background(), "hi")
	waitIdle(t, c)
	c.Close()

	var mu sync.Mutex
	emitted := 0
	c.OnStateChange(func(Snapshot) {
		mu.Lock()
		emitted++
		mu.Unlock()
	})
	if n := c.DeleteMessage(sent.ID); n != 0 {
		t.Fatalf("delete after close removed %d", n)
	}
	if err := c.SetDomain(chat.DomainData); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if err := c.StartNewChat(); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	snap := c.Snapshot()
	if len(snap.Messages) != 2 || snap.ActiveDomain != chat.DomainGeneral {
		t.Fatalf("closed controller changed: %+v", snap)
	}
	mu.Lock()
	defer mu.Unlock()
	if emitted != 0 {
		t.Fatalf("closed controller emitted %d snapshots", emitted)
	}
}

func TestSnapshotsFollowCommitOrder(t *testing.T) {
	g := newGated()
	c, _ := newController(t, g)
	var snaps []Snapshot
	var mu sync.Mutex
	stop := c.OnStateChange(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	_ = c.SetDomain(chat.DomainData)
	_, _ = c.SendMessage(context.Background(), "hi")
	g.release(t, nil)
	waitIdle(t, c)
	stop()
	_ = c.SetDomain(chat.DomainGeneral)

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) != 3 {
		t.Fatalf("want 3 snapshots, got %d", len(snaps))
	}
	if snaps[0].ActiveDomain != chat.DomainData || len(snaps[0].Messages) != 0 {
		t.Fatalf("bad first snapshot: %+v", snaps[0])
	}
	if !snaps[1].IsAwaitingResponse || len(snaps[1].Messages) != 1 {
		t.Fatalf("bad send snapshot: %+v", snaps[1])
	}
	if snaps[2].IsAwaitingResponse || len(snaps[2].Messages) != 2 {
		t.Fatalf("bad reply snapshot: %+v", snaps[2])
	}
	// snapshots are copies
	snaps[2].Messages[0].Content = "mutated"
	if c.Snapshot().Messages[0].Content != "hi" {
		t.Fatalf("snapshot aliased controller state")
	}
}

func TestShareText(t *testing.T) {
	c, _ := newController(t, llm.NewSimulator(0))
	msg, _ := c.SendMessage(context.Background(), "share me")
	waitIdle(t, c)

	sh, err := c.ShareText(msg.ID)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if sh.Title != ShareTitle || sh.Text != "share me" {
		t.Fatalf("unexpected share: %+v", sh)
	}
	if _, err := c.ShareText("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLogoutAndDomainValidation(t *testing.T) {
	called := 0
	c, _ := newController(t, llm.NewSimulator(0), WithLogoutHook(func() { called++ }))
	_ = c.SetDomain(chat.DomainBusiness)
	c.Logout()
	if called != 1 || c.Snapshot().ActiveDomain != chat.DomainBusiness {
		t.Fatalf("logout touched state or skipped hook")
	}
	if err := c.SetDomain("astrology"); err == nil {
		t.Fatalf("unknown domain accepted")
	}
}

func TestRecorderGetsCompletedTurns(t *testing.T) {
	rec := &memRecorder{}
	c, _ := newController(t, llm.NewSimulator(0), WithRecorder(rec), WithOwner("bob"))
	_ = c.SetDomain(chat.DomainData)
	_, _ = c.SendMessage(context.Background(), "sum it")
	waitIdle(t, c)

	events, _ := rec.LoadInteractions()
	if len(events) != 1 {
		t.Fatalf("want 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Owner != "bob" || ev.Domain != "data" || ev.UserMessage != "sum it" || ev.Failed || ev.AssistantResponse == "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
