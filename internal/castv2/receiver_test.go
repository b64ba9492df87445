// ABOUTME: In-process Cast receiver used by the castv2 tests
// ABOUTME: Answers launch, media and heartbeat messages like a real device
package castv2

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
)

const (
	fakeSessionID   = "sess-1"
	fakeTransportID = "web-5"
)

type fakeReceiver struct {
	t   *testing.T
	nc  net.Conn
	out chan *message

	mu             sync.Mutex
	received       []*message
	appRunning     bool
	playerState    string
	mediaSessionID int

	// loadReply replaces MEDIA_STATUS as the answer to LOAD
	loadReply string
	// silent drops heartbeats
	silent bool
	// ignoreLaunch never answers LAUNCH
	ignoreLaunch bool
	// ignoreStatus never answers receiver GET_STATUS
	ignoreStatus bool
}

func startFakeReceiver(t *testing.T, nc net.Conn, configure func(*fakeReceiver)) *fakeReceiver {
	t.Helper()
	fr := &fakeReceiver{t: t, nc: nc, out: make(chan *message, 64)}
	if configure != nil {
		configure(fr)
	}

	go func() {
		for msg := range fr.out {
			if err := writeFrame(nc, msg); err != nil {
				return
			}
		}
	}()
	go func() {
		defer close(fr.out)
		for {
			msg, err := readFrame(nc)
			if err != nil {
				return
			}
			fr.handle(msg)
		}
	}()
	return fr
}

func (fr *fakeReceiver) Received() []*message {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return append([]*message(nil), fr.received...)
}

// find returns the decoded payloads of every message of kind on namespace
func (fr *fakeReceiver) find(namespace, kind string) []map[string]any {
	var found []map[string]any
	for _, msg := range fr.Received() {
		if msg.Namespace != namespace {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(msg.PayloadUTF8), &payload); err != nil {
			continue
		}
		if payload["type"] == kind {
			found = append(found, payload)
		}
	}
	return found
}

// push sends an unsolicited message to the sender
func (fr *fakeReceiver) push(source, namespace string, payload map[string]any) {
	data, _ := json.Marshal(payload)
	fr.out <- &message{SourceID: source, DestinationID: "*", Namespace: namespace, PayloadUTF8: string(data)}
}

func (fr *fakeReceiver) reply(to *message, payload map[string]any, requestID float64) {
	if requestID != 0 {
		payload["requestId"] = requestID
	}
	data, _ := json.Marshal(payload)
	fr.out <- &message{
		SourceID:      to.DestinationID,
		DestinationID: to.SourceID,
		Namespace:     to.Namespace,
		PayloadUTF8:   string(data),
	}
}

func (fr *fakeReceiver) handle(msg *message) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(msg.PayloadUTF8), &payload); err != nil {
		fr.t.Errorf("receiver got undecodable payload %q", msg.PayloadUTF8)
		return
	}
	kind, _ := payload["type"].(string)
	requestID, _ := payload["requestId"].(float64)

	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.received = append(fr.received, msg)

	switch msg.Namespace {
	case nsHeartbeat:
		if kind == typePing && !fr.silent {
			fr.reply(msg, map[string]any{"type": typePong}, 0)
		}

	case nsReceiver:
		switch kind {
		case typeLaunch:
			if fr.ignoreLaunch {
				return
			}
			fr.appRunning = true
			fr.playerState = ""
		case typeGetStatus:
			if fr.ignoreStatus {
				return
			}
		case typeStop:
			fr.appRunning = false
			fr.mediaSessionID = 0
		}
		fr.reply(msg, fr.receiverStatus(), requestID)

	case nsMedia:
		switch kind {
		case typeLoad:
			if fr.loadReply != "" {
				fr.reply(msg, map[string]any{"type": fr.loadReply, "reason": "CONTENT_NOT_FOUND"}, requestID)
				return
			}
			fr.mediaSessionID = 1
			fr.playerState = "PLAYING"
		case typePause:
			fr.playerState = "PAUSED"
		case typePlay:
			fr.playerState = "PLAYING"
		case typeStop:
			fr.mediaSessionID = 0
			fr.playerState = ""
		}
		fr.reply(msg, fr.mediaStatus(), requestID)
	}
}

func (fr *fakeReceiver) receiverStatus() map[string]any {
	apps := []map[string]any{}
	if fr.appRunning {
		apps = append(apps, map[string]any{
			"appId":       DefaultMediaReceiver,
			"displayName": "Default Media Receiver",
			"sessionId":   fakeSessionID,
			"transportId": fakeTransportID,
		})
	}
	return map[string]any{
		"type":   typeReceiverStatus,
		"status": map[string]any{"applications": apps},
	}
}

func (fr *fakeReceiver) mediaStatus() map[string]any {
	status := []map[string]any{}
	if fr.mediaSessionID != 0 {
		status = append(status, map[string]any{
			"mediaSessionId": fr.mediaSessionID,
			"playerState":    fr.playerState,
		})
	}
	return map[string]any{"type": typeMediaStatus, "status": status}
}
