package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"mingling-chat/internal/chat"
	"mingling-chat/internal/session"
)

type SendMessageParams struct {
	Content string `json:"content" mcp:"the message to send to the assistant"`
}

type DeleteMessageParams struct {
	ID string `json:"id" mcp:"id of the message to delete; a prompt is deleted together with its reply"`
}

type SetDomainParams struct {
	Domain string `json:"domain" mcp:"one of general, business, programming, data"`
}

type NoParams struct{}

// ChatTools exposes one chat session as MCP tools.
type ChatTools struct {
	ctrl *session.Controller

	mu      sync.Mutex
	lastErr error
}

func New(ctrl *session.Controller) *ChatTools {
	t := &ChatTools{ctrl: ctrl}
	ctrl.OnError(func(err error) {
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
	})
	return t
}

// Register adds every chat tool to server.
func (t *ChatTools) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_message",
		Description: "Sends a message in the current chat and waits for the assistant's reply",
	}, t.SendMessage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_message",
		Description: "Deletes a message; deleting a prompt also removes the reply that follows it",
	}, t.DeleteMessage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_domain",
		Description: "Switches the assistant's domain for the next messages",
	}, t.SetDomain)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "new_chat",
		Description: "Clears the conversation and starts a new chat",
	}, t.NewChat)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_state",
		Description: "Returns the conversation, staged attachments, active domain and whether a reply is pending",
	}, t.GetState)
	log.Printf("📋 Registered %d tools: send_message, delete_message, set_domain, new_chat, get_state", 5)
}

func (t *ChatTools) SendMessage(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SendMessageParams]) (*mcp.CallToolResultFor[any], error) {
	t.mu.Lock()
	t.lastErr = nil
	t.mu.Unlock()

	sent, err := t.ctrl.SendMessage(ctx, params.Arguments.Content)
	if err != nil {
		return errorResult("❌ Failed to send: %v", err), nil
	}
	if sent.ID == "" {
		return errorResult("❌ Nothing to send: message is empty"), nil
	}
	if err := t.ctrl.WaitIdle(ctx); err != nil {
		return errorResult("❌ Stopped waiting for reply: %v", err), nil
	}
	for _, m := range t.ctrl.Snapshot().Messages {
		if m.IsAssistant() && m.RespondsTo == sent.ID {
			return textResult(m.Content), nil
		}
	}
	t.mu.Lock()
	failure := t.lastErr
	t.mu.Unlock()
	if failure == nil {
		failure = errors.New("no reply")
	}
	return errorResult("❌ Reply failed: %v", failure), nil
}

func (t *ChatTools) DeleteMessage(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[DeleteMessageParams]) (*mcp.CallToolResultFor[any], error) {
	n := t.ctrl.DeleteMessage(strings.TrimSpace(params.Arguments.ID))
	if n == 0 {
		return errorResult("❌ Message %q not found", params.Arguments.ID), nil
	}
	return textResult(fmt.Sprintf("✅ Deleted %d message(s)", n)), nil
}

func (t *ChatTools) SetDomain(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SetDomainParams]) (*mcp.CallToolResultFor[any], error) {
	d, err := chat.ParseDomain(params.Arguments.Domain)
	if err != nil {
		return errorResult("❌ %v", err), nil
	}
	if err := t.ctrl.SetDomain(d); err != nil {
		return errorResult("❌ %v", err), nil
	}
	return textResult(fmt.Sprintf("✅ Domain set to %s (%s)", d, d.Label())), nil
}

func (t *ChatTools) NewChat(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[NoParams]) (*mcp.CallToolResultFor[any], error) {
	if err := t.ctrl.StartNewChat(); err != nil {
		return errorResult("❌ Cannot start a new chat: %v", err), nil
	}
	return textResult("✅ Started a new chat"), nil
}

func (t *ChatTools) GetState(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[NoParams]) (*mcp.CallToolResultFor[any], error) {
	data, err := json.MarshalIndent(t.ctrl.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return textResult(string(data)), nil
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(format string, args ...any) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}
