package chat

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Domain steers which response style the assistant uses.
type Domain string

const (
	DomainBusiness    Domain = "business"
	DomainProgramming Domain = "programming"
	DomainData        Domain = "data"
	DomainGeneral     Domain = "general"
)

// Domains lists the selectable domains in the order the UI shows them.
var Domains = []Domain{DomainGeneral, DomainBusiness, DomainProgramming, DomainData}

var domainLabels = map[Domain]string{
	DomainGeneral:     "Chung",
	DomainBusiness:    "Doanh nghiệp",
	DomainProgramming: "Lập trình",
	DomainData:        "Phân tích dữ liệu",
}

func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := domainLabels[d]; !ok {
		return "", fmt.Errorf("unknown domain: %q", s)
	}
	return d, nil
}

func (d Domain) Valid() bool {
	_, ok := domainLabels[d]
	return ok
}

// Label returns the display string for the domain selector.
func (d Domain) Label() string {
	if l, ok := domainLabels[d]; ok {
		return l
	}
	return string(d)
}

type Kind string

const (
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindImage:
		return KindImage, nil
	case KindFile, "":
		return KindFile, nil
	default:
		return "", fmt.Errorf("unknown attachment kind: %q", s)
	}
}

// Attachment is a file carried by a sent message. It holds no preview
// handle; renderers derive their own display handles from Data.
type Attachment struct {
	Kind        Kind   `json:"kind"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	// Domain is only set on assistant messages.
	Domain Domain `json:"domain,omitempty"`
	// RespondsTo is the ID of the user message an assistant message answers.
	RespondsTo  string       `json:"responds_to,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (m Message) IsUser() bool      { return m.Role == RoleUser }
func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }

func (m Message) HasAttachments() bool { return len(m.Attachments) > 0 }

// Clone returns a copy that shares no mutable slices with m.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		as := make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.Data = bytes.Clone(a.Data)
			as[i] = a
		}
		m.Attachments = as
	}
	return m
}
