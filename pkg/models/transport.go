package models

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// LoginRequest is forwarded to the backend's login endpoint.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// LoginResponse is the backend's token answer.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

// ConsentChoiceRequest carries the dialog choice ("accept" or "reject").
type ConsentChoiceRequest struct {
	Choice string `json:"choice" binding:"required"`
}

// GateActionResponse tells the client what to do after a consent interaction.
type GateActionResponse struct {
	Action   string `json:"action"`
	Redirect string `json:"redirect,omitempty"`
	Consent  string `json:"consent"`
}
