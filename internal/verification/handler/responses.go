package handler

import "time"

type startResponse struct {
	RedirectURL string `json:"redirect_url"`
}

type callbackResponse struct {
	Role string `json:"role"`
	Next string `json:"next,omitempty"`
}

type challengeResponse struct {
	Next string `json:"next"`
}

// tokenResponse omits the token itself; it only travels in the cookie.
type tokenResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

type webhookResponse struct {
	Result string `json:"result"`
}

type meResponse struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}
