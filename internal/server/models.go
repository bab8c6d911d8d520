package server

import (
	"time"

	"github.com/arman-khosravi/tabletalk/internal/session"
)

// HTTPError is the uniform error body.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type SessionCreatedResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type SessionResponse struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
	Turns     []session.Turn `json:"turns"`
}

type MessageRequest struct {
	Content string `json:"content"`
}

type MessageResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
	Status    string `json:"status"`
}
