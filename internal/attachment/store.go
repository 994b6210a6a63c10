package attachment

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nfnt/resize"

	"mingling-chat/internal/chat"
)

var (
	ErrTooLarge        = errors.New("attachment too large")
	ErrUnsupportedType = errors.New("attachment type not supported")
	ErrEmptyName       = errors.New("attachment has no name")
	ErrStoreClosed     = errors.New("attachment store closed")
)

const (
	DefaultMaxFileSize   = 10 * 1024 * 1024
	DefaultThumbnailSize = 256
	DefaultURLPrefix     = "blob:preview/"
)

// File is the source picked by the user. The store passes it through and
// never keeps it beyond the attachment that references it.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// Preview is a renderable handle derived from an image attachment.
type Preview struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Thumbnail []byte `json:"-"`
}

// Attachment is a staged file that has not been sent yet.
type Attachment struct {
	ID          string    `json:"id"`
	Kind        chat.Kind `json:"kind"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Source      File      `json:"-"`
	Preview     *Preview  `json:"preview,omitempty"`
}

// ToMessage converts a staged attachment into the form carried by a sent message.
func (a Attachment) ToMessage() chat.Attachment {
	return chat.Attachment{
		Kind:        a.Kind,
		Name:        a.Name,
		ContentType: a.ContentType,
		Size:        a.Size,
		Data:        bytes.Clone(a.Source.Data),
	}
}

type Option func(*Store)

func WithMaxFileSize(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

func WithThumbnailSize(px uint) Option {
	return func(s *Store) {
		if px > 0 {
			s.thumbSize = px
		}
	}
}

func WithURLPrefix(prefix string) Option {
	return func(s *Store) { s.urlPrefix = prefix }
}

// WithReleaseHook registers a callback run once for every handle that is
// actually released.
func WithReleaseHook(f func(Preview)) Option {
	return func(s *Store) { s.onRelease = f }
}

// Store allocates and releases preview handles for staged attachments.
// Every handle it hands out is released exactly once.
type Store struct {
	mu          sync.Mutex
	maxFileSize int64
	thumbSize   uint
	urlPrefix   string
	onRelease   func(Preview)
	live        map[string]*Preview
	closed      bool
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		maxFileSize: DefaultMaxFileSize,
		thumbSize:   DefaultThumbnailSize,
		urlPrefix:   DefaultURLPrefix,
		live:        make(map[string]*Preview),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Register(f File, kind chat.Kind) (Attachment, error) {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return Attachment{}, ErrEmptyName
	}
	size := f.Size
	if f.Data != nil {
		size = int64(len(f.Data))
	}
	if size > s.maxFileSize {
		return Attachment{}, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrTooLarge, name, size, s.maxFileSize)
	}
	ct := f.ContentType
	if ct == "" {
		ct = DetectContentType(name, f.Data)
	}
	switch kind {
	case chat.KindImage:
		if !isImage(name, ct) {
			return Attachment{}, fmt.Errorf("%w: %s (%s) is not an image", ErrUnsupportedType, name, ct)
		}
	case chat.KindFile:
		if !isDocument(name, ct) {
			return Attachment{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, name, ct)
		}
	default:
		return Attachment{}, fmt.Errorf("%w: kind %q", ErrUnsupportedType, kind)
	}

	f.Name = name
	f.ContentType = ct
	f.Size = size
	a := Attachment{
		ID:          uuid.NewString(),
		Kind:        kind,
		Name:        name,
		ContentType: ct,
		Size:        size,
		Source:      f,
	}
	if kind == chat.KindImage {
		p, err := s.allocate(f.Data)
		if err != nil {
			return Attachment{}, err
		}
		a.Preview = p
	} else if s.isClosed() {
		return Attachment{}, ErrStoreClosed
	}
	return a, nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) allocate(data []byte) (*Preview, error) {
	id := uuid.NewString()
	p := &Preview{ID: id, URL: s.urlPrefix + id}
	if len(data) > 0 {
		thumb, err := thumbnail(data, s.thumbSize)
		if err != nil {
			log.Printf("⚠️ preview %s: no thumbnail: %v", id, err)
		} else {
			p.Thumbnail = thumb
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	s.live[id] = p
	return p, nil
}

// Release frees the attachment's preview handle. Releasing twice is a no-op.
func (s *Store) Release(a Attachment) {
	if a.Preview == nil {
		return
	}
	s.mu.Lock()
	p, ok := s.live[a.Preview.ID]
	if ok {
		delete(s.live, a.Preview.ID)
	}
	hook := s.onRelease
	s.mu.Unlock()
	if ok && hook != nil {
		hook(*p)
	}
}

func (s *Store) ReleaseAll(as []Attachment) {
	for _, a := range as {
		s.Release(a)
	}
}

// Lookup resolves a live preview handle by id.
func (s *Store) Lookup(id string) (Preview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.live[id]
	if !ok {
		return Preview{}, false
	}
	return *p, true
}

// Outstanding reports how many handles are allocated and not yet released.
func (s *Store) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Close releases every outstanding handle.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	left := make([]Preview, 0, len(s.live))
	for id, p := range s.live {
		left = append(left, *p)
		delete(s.live, id)
	}
	hook := s.onRelease
	s.mu.Unlock()
	if len(left) > 0 {
		log.Printf("🧹 attachment store closed, released %d preview handle(s)", len(left))
	}
	if hook != nil {
		for _, p := range left {
			hook(p)
		}
	}
}

func thumbnail(data []byte, side uint) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	small := resize.Thumbnail(side, side, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
