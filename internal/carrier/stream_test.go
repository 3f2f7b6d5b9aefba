package carrier

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func dialPair(t *testing.T) (clientConn *websocket.Conn, serverConn *Conn, closeAll func()) {
	t.Helper()
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- ws
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ws := <-connCh
	return c, New(ws, Handlers{}), func() { c.Close(); ws.Close(); srv.Close() }
}

func TestDispatch_StartPopulatesStreamAndCallSid(t *testing.T) {
	client, conn, closeAll := dialPair(t)
	defer closeAll()

	startCh := make(chan Start, 1)
	conn.h.OnStart = func(s Start) { startCh <- s }
	go conn.ReadPump()

	payload := `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"tenant":"acme"}}}`
	if err := client.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case s := <-startCh:
		if s.StreamSid != "MZ1" || s.CallSid != "CA1" || s.CustomParameters["tenant"] != "acme" {
			t.Fatalf("unexpected start payload: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for OnStart")
	}

	if conn.StreamSid() != "MZ1" || conn.CallSid() != "CA1" {
		t.Fatalf("stream/call sid not recorded: %q %q", conn.StreamSid(), conn.CallSid())
	}
}

func TestDispatch_MediaIgnoresOutboundTrack(t *testing.T) {
	client, conn, closeAll := dialPair(t)
	defer closeAll()

	var mu sync.Mutex
	var received []string
	conn.h.OnMedia = func(p string) {
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
	}
	go conn.ReadPump()

	_ = client.WriteMessage(websocket.TextMessage, []byte(`{"event":"media","media":{"track":"outbound","payload":"zzz"}}`))
	_ = client.WriteMessage(websocket.TextMessage, []byte(`{"event":"media","media":{"track":"inbound","payload":"aaa"}}`))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "aaa" {
		t.Fatalf("expected only inbound track forwarded, got %v", received)
	}
}

func TestSendMedia_UsesRecordedStreamSid(t *testing.T) {
	client, conn, closeAll := dialPair(t)
	defer closeAll()
	go conn.ReadPump()

	_ = client.WriteMessage(websocket.TextMessage, []byte(`{"event":"start","start":{"streamSid":"MZ9","callSid":"CA9"}}`))
	time.Sleep(20 * time.Millisecond)

	if err := conn.SendMedia("base64chunk"); err != nil {
		t.Fatalf("send media: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"streamSid":"MZ9"`) || !strings.Contains(string(data), "base64chunk") {
		t.Fatalf("unexpected outbound frame: %s", data)
	}
}

func TestBuildStreamTwiML_IncludesParameters(t *testing.T) {
	xml, err := BuildStreamTwiML("wss://example.com/stream", map[string]string{"tenant": "acme"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(xml, "wss://example.com/stream") || !strings.Contains(xml, `name="tenant"`) {
		t.Fatalf("unexpected twiml: %s", xml)
	}
}

func TestValidateSignature_RejectsTamperedParams(t *testing.T) {
	token := "secret"
	url := "https://example.com/twilio/voice"
	params := map[string]string{"CallSid": "CA1"}

	// Compute a valid signature the same way ValidateSignature does, then
	// confirm tampering with params breaks it.
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(url + "CallSid" + "CA1"))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !ValidateSignature(token, sig, url, params) {
		t.Fatalf("expected untampered params to validate")
	}
	if ValidateSignature(token, sig, url, map[string]string{"CallSid": "CA2"}) {
		t.Fatalf("expected tampered params to fail")
	}
	good := ValidateSignature(token, "", url, params)
	if good {
		t.Fatalf("expected empty signature to fail")
	}
}
