package session

import "time"

// Method records how a session was established.
type Method string

const (
	MethodPassword Method = "password"
	MethodEmailOTP Method = "email_otp"
	MethodRefresh  Method = "refresh"
)

// Session is the server-side record behind an access/refresh token pair.
type Session struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Method    Method    `json:"method"`
	AMR       []string  `json:"amr,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	RefreshHash [32]byte `json:"-"`
}
