package llm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"mingling-chat/internal/chat"
)

const maxInlineFileBytes = 4000

var domainPrompts = map[chat.Domain]string{
	chat.DomainBusiness:    "You are MinglingMind AI, a business analyst. Analyse business data, write reports and plans. Answer in the user's language.",
	chat.DomainProgramming: "You are MinglingMind AI, a senior software engineer. Explain source code, debug and optimise it. Prefer fenced code blocks. Answer in the user's language.",
	chat.DomainData:        "You are MinglingMind AI, a data analyst. Process and analyse data and write SQL queries. Answer in the user's language.",
	chat.DomainGeneral:     "You are MinglingMind AI, a helpful general assistant. Answer in the user's language.",
}

// ClientResponder turns a raw completion Client into a Responder by
// adding a per-domain system prompt and flattening attachments into text.
type ClientResponder struct {
	client Client
}

func NewClientResponder(c Client) *ClientResponder {
	return &ClientResponder{client: c}
}

func (r *ClientResponder) Respond(ctx context.Context, domain chat.Domain, history []chat.Message) (string, error) {
	msgs := BuildContext(domain, history)
	resp, err := r.client.Generate(ctx, msgs)
	if err != nil {
		return "", err
	}
	log.Printf("LLM response [model=%s, tokens: prompt=%d, completion=%d, total=%d]",
		resp.Model, resp.PromptTokens, resp.CompletionTokens, resp.TotalTokens)
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty completion from %s", resp.Model)
	}
	return resp.Content, nil
}

// BuildContext renders a conversation as completion messages: the domain
// system prompt first, then every message in order.
func BuildContext(domain chat.Domain, history []chat.Message) []Message {
	prompt, ok := domainPrompts[domain]
	if !ok {
		prompt = domainPrompts[chat.DomainGeneral]
	}
	out := make([]Message, 0, len(history)+1)
	out = append(out, Message{Role: "system", Content: prompt})
	for _, m := range history {
		out = append(out, Message{Role: string(m.Role), Content: renderContent(m)})
	}
	return out
}

func renderContent(m chat.Message) string {
	if !m.HasAttachments() {
		return m.Content
	}
	var b strings.Builder
	for _, a := range m.Attachments {
		fmt.Fprintf(&b, "[%s: %s]\n", a.Kind, a.Name)
		if a.Kind == chat.KindFile && isInlineText(a) {
			data := truncateUTF8(a.Data, maxInlineFileBytes)
			b.WriteString("```\n")
			b.Write(data)
			b.WriteString("\n```\n")
		}
	}
	b.WriteString(m.Content)
	return strings.TrimRight(b.String(), "\n")
}

// truncateUTF8 cuts data to at most n bytes without splitting a rune.
func truncateUTF8(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	for n > 0 && !utf8.RuneStart(data[n]) {
		n--
	}
	return data[:n]
}

func isInlineText(a chat.Attachment) bool {
	if len(a.Data) == 0 || !utf8.Valid(a.Data) {
		return false
	}
	return strings.HasPrefix(a.ContentType, "text/") || a.ContentType == "application/json"
}
