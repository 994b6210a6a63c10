package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"mingling-chat/internal/attachment"
	"mingling-chat/internal/auth"
	"mingling-chat/internal/session"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("❌ Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed), errors.Is(err, auth.ErrUnknownToken):
		return http.StatusUnauthorized
	case errors.Is(err, attachment.ErrTooLarge),
		errors.Is(err, attachment.ErrUnsupportedType),
		errors.Is(err, attachment.ErrEmptyName),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrUnknownProvider),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// bearerToken reads the session token from the Authorization header.
// Browsers cannot set headers on a websocket handshake, so the token query
// parameter is honoured for upgrades to /ws only.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if r.URL.Path == "/ws" && websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get("token")
	}
	return ""
}

func (s *Server) authed(h func(http.ResponseWriter, *http.Request, *userSession)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			writeError(w, auth.ErrUnknownToken)
			return
		}
		if _, err := s.gate.Validate(tok); err != nil {
			writeError(w, err)
			return
		}
		us, ok := s.lookup(tok)
		if !ok {
			writeError(w, auth.ErrUnknownToken)
			return
		}
		h(w, r, us)
	}
}
