package web

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"time"

	"mingling-chat/internal/attachment"
	"mingling-chat/internal/auth"
	"mingling-chat/internal/chat"
	"mingling-chat/internal/session"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token    string        `json:"token"`
	Email    string        `json:"email"`
	Provider auth.Provider `json:"provider"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.signIn(w, r, s.gate.Login)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.signIn(w, r, s.gate.Register)
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) (auth.Session, error)) {
	var c credentials
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, err)
		return
	}
	a, err := fn(r.Context(), c.Email, c.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	s.openSession(a)
	writeJSON(w, http.StatusOK, authResponse{Token: a.Token, Email: a.Email, Provider: a.Provider})
}

func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	a, err := s.gate.LoginOAuth(r.Context(), r.PathValue("provider"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.openSession(a)
	writeJSON(w, http.StatusOK, authResponse{Token: a.Token, Email: a.Email, Provider: a.Provider})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, us *userSession) {
	s.mu.Lock()
	_, ok := s.sessions[us.token]
	delete(s.sessions, us.token)
	s.mu.Unlock()

	us.ctrl.Logout()
	if ok {
		s.closeSession(us)
	}
	log.Printf("👋 %s signed out", us.email)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, us *userSession) {
	writeJSON(w, http.StatusOK, us.ctrl.Snapshot())
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, us *userSession) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := us.ctrl.SendMessage(r.Context(), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	if msg.ID == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, us *userSession) {
	n := us.ctrl.DeleteMessage(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request, us *userSession) {
	sh, err := us.ctrl.ShareText(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// raster types a browser shows without running anything; svg is not one
var inlineImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// handleMessageAttachment serves the bytes of a sent attachment so the
// page can render its own preview after the compose-time one is gone.
func (s *Server) handleMessageAttachment(w http.ResponseWriter, r *http.Request, us *userSession) {
	id := r.PathValue("id")
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: attachment index %q", errBadRequest, r.PathValue("n")))
		return
	}
	for _, m := range us.ctrl.Snapshot().Messages {
		if m.ID != id {
			continue
		}
		if n < 0 || n >= len(m.Attachments) {
			break
		}
		a := m.Attachments[n]
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		if inlineImageTypes[a.ContentType] && a.Kind == chat.KindImage {
			h.Set("Content-Type", a.ContentType)
			h.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": a.Name}))
		} else {
			// uploaded bytes never render on our origin
			h.Set("Content-Type", "application/octet-stream")
			h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Name}))
		}
		_, _ = w.Write(a.Data)
		return
	}
	writeError(w, fmt.Errorf("attachment %s/%d: %w", id, n, session.ErrNotFound))
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request, us *userSession) {
	var req struct {
		Domain string `json:"domain"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := chat.ParseDomain(req.Domain)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := us.ctrl.SetDomain(d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, us.ctrl.Snapshot())
}

func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request, us *userSession) {
	if err := us.ctrl.StartNewChat(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, us.ctrl.Snapshot())
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request, us *userSession) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		writeError(w, fmt.Errorf("%w: read upload: %v", errBadRequest, err))
		return
	}
	f := attachment.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	if f.ContentType == "application/octet-stream" {
		f.ContentType = ""
	}

	var kind chat.Kind
	if k := r.FormValue("kind"); k != "" {
		if kind, err = chat.ParseKind(k); err != nil {
			writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	} else {
		kind = attachment.DetectKind(f.Name, f.ContentType)
	}

	a, err := us.ctrl.StageAttachment(f, kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleUnstage(w http.ResponseWriter, r *http.Request, us *userSession) {
	if !us.ctrl.UnstageAttachment(r.PathValue("id")) {
		writeError(w, fmt.Errorf("staged attachment %s: %w", r.PathValue("id"), session.ErrNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, ok := s.store.Lookup(r.PathValue("id"))
	if !ok || len(p.Thumbnail) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(p.Thumbnail)
}

type domainInfo struct {
	ID    chat.Domain `json:"id"`
	Label string      `json:"label"`
}

func (s *Server) handleDomains(w http.ResponseWriter, r *http.Request) {
	out := make([]domainInfo, 0, len(chat.Domains))
	for _, d := range chat.Domains {
		out = append(out, domainInfo{ID: d, Label: d.Label()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   s.now().Sub(s.startTime).Round(time.Second).String(),
		"sessions": s.SessionCount(),
	})
}
