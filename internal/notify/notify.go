// Package notify implements the reservation hand-off dispatch mechanism.
// Outbound transports themselves (email, chat) are out of scope; only a log
// sink and a generic webhook implementation are provided.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/rukataka0505/ailuna-call-engine/internal/reservation"
)

// New selects a Notifier implementation by config string: "" or "log" for
// the log sink, a bare URL (http:// or https://) for the webhook sink.
func New(target string) reservation.Notifier {
	switch {
	case target == "" || target == "log":
		return logNotifier{}
	case strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://"):
		return webhookNotifier{url: target, client: &http.Client{Timeout: 5 * time.Second}}
	default:
		return logNotifier{}
	}
}

type logNotifier struct{}

func (logNotifier) Send(ctx context.Context, n reservation.Notification) error {
	log.Printf("notify: tenant=%s call=%s reservation=%s answers=%v", n.TenantID, n.CallID, n.ReservationID, n.Answers)
	return nil
}

type webhookNotifier struct {
	url    string
	client *http.Client
}

func (w webhookNotifier) Send(ctx context.Context, n reservation.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("notify: webhook rejected request")
	}
	return nil
}
