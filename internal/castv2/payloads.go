// ABOUTME: JSON payloads carried on the Cast V2 namespaces
// ABOUTME: Connection, heartbeat, receiver and media control messages
package castv2

import "github.com/Resonate-Protocol/cast-relay/internal/cast"

const (
	nsConnection = "urn:x-cast:com.google.cast.tp.connection"
	nsHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	nsReceiver   = "urn:x-cast:com.google.cast.receiver"
	nsMedia      = "urn:x-cast:com.google.cast.media"

	// receiverID addresses the platform receiver on every device
	receiverID = "receiver-0"

	// DefaultMediaReceiver is the stock application for plain media URLs
	DefaultMediaReceiver = "CC1AD845"
)

// Message types
const (
	typeConnect        = "CONNECT"
	typeClose          = "CLOSE"
	typePing           = "PING"
	typePong           = "PONG"
	typeLaunch         = "LAUNCH"
	typeStop           = "STOP"
	typeGetStatus      = "GET_STATUS"
	typeReceiverStatus = "RECEIVER_STATUS"
	typeLaunchError    = "LAUNCH_ERROR"
	typeLoad           = "LOAD"
	typePlay           = "PLAY"
	typePause          = "PAUSE"
	typeMediaStatus    = "MEDIA_STATUS"
	typeLoadFailed     = "LOAD_FAILED"
	typeLoadCancelled  = "LOAD_CANCELLED"
	typeInvalidRequest = "INVALID_REQUEST"
)

// header is shared by every payload
type header struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId,omitempty"`
}

func (h *header) setRequestID(id int) {
	h.RequestID = id
}

// requester is a payload that expects a matching response
type requester interface {
	setRequestID(id int)
}

type launchRequest struct {
	header
	AppID string `json:"appId"`
}

type stopRequest struct {
	header
	SessionID string `json:"sessionId"`
}

type receiverStatus struct {
	header
	Reason string `json:"reason,omitempty"`
	Status struct {
		Applications []application `json:"applications"`
	} `json:"status"`
}

type application struct {
	AppID       string `json:"appId"`
	DisplayName string `json:"displayName"`
	SessionID   string `json:"sessionId"`
	TransportID string `json:"transportId"`
	StatusText  string `json:"statusText"`
}

type mediaInfo struct {
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType"`
	StreamType  string `json:"streamType"`
}

type loadRequest struct {
	header
	SessionID string    `json:"sessionId"`
	Media     mediaInfo `json:"media"`
	Autoplay  bool      `json:"autoplay"`
}

type mediaCommand struct {
	header
	MediaSessionID int `json:"mediaSessionId"`
}

type mediaStatus struct {
	header
	Reason string       `json:"reason,omitempty"`
	Status []mediaEntry `json:"status"`
}

type mediaEntry struct {
	MediaSessionID int     `json:"mediaSessionId"`
	PlayerState    string  `json:"playerState"`
	IdleReason     string  `json:"idleReason,omitempty"`
	CurrentTime    float64 `json:"currentTime"`
}

// playerState maps the receiver's string to a known state
func playerState(s string) cast.PlayerState {
	switch cast.PlayerState(s) {
	case cast.StatePlaying, cast.StatePaused, cast.StateIdle, cast.StateBuffering:
		return cast.PlayerState(s)
	}
	return cast.StateUnknown
}
