// ABOUTME: Tests for the Cast V2 connection
// ABOUTME: Runs media control against an in-process receiver
package castv2

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
	"github.com/Resonate-Protocol/cast-relay/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func newPipeConn(t *testing.T, opts Options, configure func(*fakeReceiver)) (*Conn, *fakeReceiver) {
	t.Helper()
	client, server := net.Pipe()
	fr := startFakeReceiver(t, server, configure)
	c := newConn(client, opts)
	t.Cleanup(func() {
		c.Close()
		server.Close()
	})
	return c, fr
}

func TestMessageFraming(t *testing.T) {
	in := &message{
		SourceID:      "sender-0",
		DestinationID: receiverID,
		Namespace:     nsReceiver,
		PayloadUTF8:   `{"type":"GET_STATUS","requestId":1}`,
	}

	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, in))
	assert.Equal(t, uint32(buf.Len()-4), binary.BigEndian.Uint32(buf.Bytes()[:4]))

	out, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := (&message{Namespace: nsMedia, PayloadUTF8: "{}"}).marshal()
	b = protowire.AppendTag(b, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)

	m, err := unmarshalMessage(b)
	require.NoError(t, err)
	assert.Equal(t, nsMedia, m.Namespace)
	assert.Equal(t, "{}", m.PayloadUTF8)
}

func TestUnmarshalTruncated(t *testing.T) {
	b := (&message{Namespace: nsMedia, PayloadUTF8: "{}"}).marshal()

	_, err := unmarshalMessage(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadFrameTooLarge(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], maxFrameSize+1)

	_, err := readFrame(bytes.NewReader(hdr[:]))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestPlayMediaLaunchesAndLoads(t *testing.T) {
	c, fr := newPipeConn(t, Options{SenderID: "sender-test"}, nil)
	ctx := context.Background()

	require.NoError(t, c.PlayMedia(ctx, "http://192.168.1.10:5002/serve_cast_audio/a.wav", "audio/wav"))

	launches := fr.find(nsReceiver, typeLaunch)
	require.Len(t, launches, 1)
	assert.Equal(t, DefaultMediaReceiver, launches[0]["appId"])

	var connectedToApp bool
	for _, msg := range fr.Received() {
		if msg.Namespace == nsConnection && msg.DestinationID == fakeTransportID {
			connectedToApp = true
		}
		assert.Equal(t, "sender-test", msg.SourceID)
	}
	assert.True(t, connectedToApp, "sender should connect to the app transport")

	loads := fr.find(nsMedia, typeLoad)
	require.Len(t, loads, 1)
	assert.Equal(t, fakeSessionID, loads[0]["sessionId"])
	assert.Equal(t, true, loads[0]["autoplay"])
	media := loads[0]["media"].(map[string]any)
	assert.Equal(t, "http://192.168.1.10:5002/serve_cast_audio/a.wav", media["contentId"])
	assert.Equal(t, "audio/wav", media["contentType"])
	assert.Equal(t, "BUFFERED", media["streamType"])

	state, err := c.QueryStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, cast.StatePlaying, state)

	// A second load reuses the running app
	require.NoError(t, c.PlayMedia(ctx, "http://192.168.1.10:5002/serve_cast_audio/b.wav", "audio/wav"))
	assert.Len(t, fr.find(nsReceiver, typeLaunch), 1)
}

func TestMediaCommands(t *testing.T) {
	c, fr := newPipeConn(t, Options{}, nil)
	ctx := context.Background()
	require.NoError(t, c.PlayMedia(ctx, "http://10.0.0.2/a.mp3", "audio/mpeg"))

	require.NoError(t, c.Pause(ctx))
	state, err := c.QueryStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, cast.StatePaused, state)

	require.NoError(t, c.Play(ctx))
	state, err = c.QueryStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, cast.StatePlaying, state)

	require.NoError(t, c.Stop(ctx))
	state, err = c.QueryStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, cast.StateIdle, state)

	pauses := fr.find(nsMedia, typePause)
	require.Len(t, pauses, 1)
	assert.Equal(t, float64(1), pauses[0]["mediaSessionId"])
}

func TestRequestIDsAreUnique(t *testing.T) {
	c, fr := newPipeConn(t, Options{}, nil)
	ctx := context.Background()
	require.NoError(t, c.PlayMedia(ctx, "http://10.0.0.2/a.mp3", "audio/mpeg"))
	_, err := c.QueryStatus(ctx)
	require.NoError(t, err)

	seen := map[float64]bool{}
	for _, kind := range []string{typeLaunch} {
		for _, p := range fr.find(nsReceiver, kind) {
			seen[p["requestId"].(float64)] = true
		}
	}
	for _, kind := range []string{typeLoad, typeGetStatus} {
		for _, p := range fr.find(nsMedia, kind) {
			id := p["requestId"].(float64)
			assert.False(t, seen[id], "request id %v reused", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 3)
}

func TestMediaCommandWithoutLoad(t *testing.T) {
	c, _ := newPipeConn(t, Options{}, nil)

	assert.ErrorIs(t, c.Pause(context.Background()), ErrNoMedia)
	assert.ErrorIs(t, c.Play(context.Background()), ErrNoMedia)
}

func TestQueryStatusWithoutApp(t *testing.T) {
	c, fr := newPipeConn(t, Options{}, nil)

	state, err := c.QueryStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cast.StateIdle, state)
	assert.Empty(t, fr.Received())
}

func TestLoadFailed(t *testing.T) {
	c, _ := newPipeConn(t, Options{}, func(fr *fakeReceiver) { fr.loadReply = typeLoadFailed })

	err := c.PlayMedia(context.Background(), "http://10.0.0.2/missing.mp3", "audio/mpeg")
	require.ErrorIs(t, err, ErrRequest)
	assert.Contains(t, err.Error(), "LOAD_FAILED")
	assert.Contains(t, err.Error(), "CONTENT_NOT_FOUND")
}

func TestRequestTimeout(t *testing.T) {
	c, _ := newPipeConn(t, Options{RequestTimeout: 50 * time.Millisecond}, func(fr *fakeReceiver) { fr.ignoreLaunch = true })

	err := c.PlayMedia(context.Background(), "http://10.0.0.2/a.mp3", "audio/mpeg")
	assert.ErrorIs(t, err, ErrRequest)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseSessionStopsApp(t *testing.T) {
	c, fr := newPipeConn(t, Options{}, nil)
	ctx := context.Background()
	require.NoError(t, c.PlayMedia(ctx, "http://10.0.0.2/a.mp3", "audio/mpeg"))

	require.NoError(t, c.CloseSession(ctx))
	stops := fr.find(nsReceiver, typeStop)
	require.Len(t, stops, 1)
	assert.Equal(t, fakeSessionID, stops[0]["sessionId"])

	require.NoError(t, c.CloseSession(ctx))
	assert.Len(t, fr.find(nsReceiver, typeStop), 1)

	state, err := c.QueryStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, cast.StateIdle, state)
}

func TestAnswersReceiverPing(t *testing.T) {
	c, fr := newPipeConn(t, Options{}, nil)

	fr.push(receiverID, nsHeartbeat, map[string]any{"type": typePing})

	require.Eventually(t, func() bool {
		return len(fr.find(nsHeartbeat, typePong)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, c.Err())
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	c, fr := newPipeConn(t, Options{HeartbeatInterval: 20 * time.Millisecond}, nil)

	require.Eventually(t, func() bool {
		return len(fr.find(nsHeartbeat, typePing)) >= 5
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-c.Done():
		t.Fatalf("connection dropped: %v", c.Err())
	default:
	}
}

func TestHeartbeatTimeout(t *testing.T) {
	c, _ := newPipeConn(t, Options{HeartbeatInterval: 20 * time.Millisecond}, func(fr *fakeReceiver) { fr.silent = true })

	select {
	case <-c.Done():
		assert.Contains(t, c.Err().Error(), "no heartbeat")
	case <-time.After(2 * time.Second):
		t.Fatal("silent receiver did not drop the connection")
	}
}

func TestRemoteCloseEndsConnection(t *testing.T) {
	c, fr := newPipeConn(t, Options{}, nil)

	fr.push(receiverID, nsConnection, map[string]any{"type": typeClose})

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection still open after receiver CLOSE")
	}

	_, err := c.QueryStatus(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

// startTLSReceiver serves one fake receiver over TLS on a loopback port
func startTLSReceiver(t *testing.T, configure func(*fakeReceiver)) (int, <-chan *fakeReceiver) {
	t.Helper()

	// Borrow the self-signed certificate httptest generates
	srv := httptest.NewUnstartedServer(nil)
	srv.StartTLS()
	cert := srv.TLS.Certificates[0]
	srv.Close()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan *fakeReceiver, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		t.Cleanup(func() { nc.Close() })
		accepted <- startFakeReceiver(t, nc, configure)
	}()
	return ln.Addr().(*net.TCPAddr).Port, accepted
}

func TestDialerOverTLS(t *testing.T) {
	port, accepted := startTLSReceiver(t, nil)

	d := NewDialer(Options{})
	assert.Contains(t, d.SenderID(), "sender-")

	conn, err := d.Dial(context.Background(), cast.Receiver{ID: "abc", Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	defer conn.Close()

	var fr *fakeReceiver
	select {
	case fr = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never accepted")
	}

	// Dial returns only once the receiver has answered
	assert.Len(t, fr.find(nsReceiver, typeGetStatus), 1)

	require.NoError(t, conn.PlayMedia(context.Background(), "http://10.0.0.2/a.wav", "audio/wav"))

	received := fr.Received()
	require.NotEmpty(t, received)
	assert.Equal(t, nsConnection, received[0].Namespace)
	assert.Equal(t, receiverID, received[0].DestinationID)
	assert.Equal(t, d.SenderID(), received[0].SourceID)

	require.NoError(t, conn.Close())
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
}

func TestDialSilentReceiver(t *testing.T) {
	port, _ := startTLSReceiver(t, func(fr *fakeReceiver) { fr.ignoreStatus = true })

	d := NewDialer(Options{RequestTimeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := d.Dial(context.Background(), cast.Receiver{ID: "abc", Host: "127.0.0.1", Port: port})
	require.ErrorIs(t, err, ErrRequest)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type oneReceiver cast.Receiver

func (o oneReceiver) Lookup(id string) (cast.Receiver, error) {
	if id != o.ID {
		return cast.Receiver{}, errors.New("unknown receiver")
	}
	return cast.Receiver(o), nil
}

func TestSessionConnectSilentReceiver(t *testing.T) {
	port, _ := startTLSReceiver(t, func(fr *fakeReceiver) { fr.ignoreStatus = true })

	m := session.New(session.Config{
		Receivers:      oneReceiver{ID: "abc", DisplayName: "Mute", Host: "127.0.0.1", Port: port},
		Dialer:         NewDialer(Options{}),
		ConnectTimeout: 200 * time.Millisecond,
	})

	_, err := m.Connect(context.Background(), "abc")
	require.ErrorIs(t, err, session.ErrConnectionFailed)
	assert.Equal(t, session.Disconnected, m.State())
	_, _, ok := m.Current()
	assert.False(t, ok)
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = Dial(ctx, addr, Options{})
	assert.Error(t, err)
}
