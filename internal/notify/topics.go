// Package notify holds the outward-facing notification collaborators:
// push-topic subscription keyed by event id, and websocket streaming of
// event field changes to watching clients.
package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/dede-rides/internal/models"
)

// FCMTopics manages push-topic membership through an FCM-style HTTP
// endpoint. Subscribing is keyed by event id: a user joins the topic on
// becoming a driver for the event and leaves it on losing the role.
type FCMTopics struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMTopics(endpoint, key string) *FCMTopics {
	return &FCMTopics{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMTopics) Subscribe(eventID models.EventID) error {
	return f.post(eventID, "subscribe")
}

func (f *FCMTopics) Unsubscribe(eventID models.EventID) error {
	return f.post(eventID, "unsubscribe")
}

func (f *FCMTopics) post(eventID, action string) error {
	body := map[string]any{"topic": eventID, "action": action}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest("POST", f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
