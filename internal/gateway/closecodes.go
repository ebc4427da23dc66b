package gateway

// Close codes seen on the gateway stream.
const (
	CloseNormal               = 1000
	CloseGoingAway            = 1001
	CloseProtocolError        = 1002
	CloseAbnormal             = 1006
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSeq           = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
)

// closeReconnect is sent when the client drops a connection it intends to
// resume. Any code other than 1000 and 1001 keeps the session resumable.
const closeReconnect = CloseUnknownError

// ClosePolicy is the reaction to a close code.
type ClosePolicy int

const (
	// PolicyResume reconnects and attempts RESUME.
	PolicyResume ClosePolicy = iota
	// PolicyReauth surfaces a logged-out condition; fresh credentials are
	// needed.
	PolicyReauth
	// PolicyReport surfaces the code and leaves retrying to the caller.
	PolicyReport
)

func (p ClosePolicy) String() string {
	switch p {
	case PolicyResume:
		return "resume"
	case PolicyReauth:
		return "reauth"
	default:
		return "report"
	}
}

// PolicyFor maps a close code to its policy.
func PolicyFor(code int) ClosePolicy {
	switch code {
	case CloseGoingAway, CloseAbnormal, CloseUnknownError, CloseInvalidSeq, CloseSessionTimedOut:
		return PolicyResume
	case CloseAuthenticationFailed, CloseAlreadyAuthenticated:
		return PolicyReauth
	default:
		return PolicyReport
	}
}
