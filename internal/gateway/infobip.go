package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type InfobipConfig struct {
	BaseURL     string
	APIKey      string
	From        string
	CallbackURL string
}

// Infobip sends reminders through the Infobip SMS API. Delivery reports
// come back to CallbackURL and are handled by the webhook ingester.
type Infobip struct {
	cfg    InfobipConfig
	client *http.Client
}

func NewInfobip(cfg InfobipConfig, client *http.Client) *Infobip {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.From == "" {
		cfg.From = "VoiceReminder"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Infobip{cfg: cfg, client: client}
}

func (c *Infobip) Mode() string { return ModeInfobip }

type infobipDestination struct {
	To string `json:"to"`
}

type infobipMessage struct {
	From              string               `json:"from"`
	Destinations      []infobipDestination `json:"destinations"`
	Text              string               `json:"text"`
	NotifyURL         string               `json:"notifyUrl,omitempty"`
	NotifyContentType string               `json:"notifyContentType,omitempty"`
}

type sendRequest struct {
	Messages []infobipMessage `json:"messages"`
}

type sendResponse struct {
	BulkID   string `json:"bulkId"`
	Messages []struct {
		MessageID string `json:"messageId"`
		Status    struct {
			GroupName string `json:"groupName"`
		} `json:"status"`
	} `json:"messages"`
}

func (c *Infobip) InitiateCall(ctx context.Context, phoneNumber, message string) (string, error) {
	msg := infobipMessage{
		From:         c.cfg.From,
		Destinations: []infobipDestination{{To: phoneNumber}},
		Text:         "Reminder: " + message,
	}
	if c.cfg.CallbackURL != "" {
		msg.NotifyURL = c.cfg.CallbackURL
		msg.NotifyContentType = "application/json"
	}

	reqBody, err := json.Marshal(sendRequest{Messages: []infobipMessage{msg}})
	if err != nil {
		return "", &Error{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/sms/2/text/advanced", bytes.NewReader(reqBody))
	if err != nil {
		return "", &Error{Err: err}
	}
	req.Header.Set("Authorization", "App "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &Error{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &Error{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", &Error{Err: fmt.Errorf("failed to decode json: %w body=%q", err, string(body))}
	}
	if len(sr.Messages) == 0 || sr.Messages[0].MessageID == "" {
		return "", &Error{Err: fmt.Errorf("missing messageId in response body=%q", string(body))}
	}

	return sr.Messages[0].MessageID, nil
}
