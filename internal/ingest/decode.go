package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/model"
)

type genericPayload struct {
	ExternalCallID string     `json:"external_call_id"`
	CallID         string     `json:"call_id"`
	Status         string     `json:"status"`
	Transcript     *string    `json:"transcript"`
	ReceivedAt     *time.Time `json:"received_at"`
}

type infobipPayload struct {
	Results []infobipResult `json:"results"`
}

type infobipResult struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
	SentAt    string `json:"sentAt"`
	DoneAt    string `json:"doneAt"`
	Duration  *int   `json:"duration"`
	Status    struct {
		Name      string `json:"name"`
		GroupName string `json:"groupName"`
	} `json:"status"`
}

// Infobip timestamps use a numeric zone without a colon.
var infobipTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

// DecodeReports turns a webhook body into delivery reports. Bodies with a
// "results" array are Infobip delivery reports; anything else is read as a
// single generic report.
func DecodeReports(body []byte) ([]model.DeliveryReport, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrMalformedReport, err)
	}

	if _, ok := probe["results"]; ok {
		return decodeInfobip(body)
	}

	r, err := decodeGeneric(body)
	if err != nil {
		return nil, err
	}
	return []model.DeliveryReport{r}, nil
}

func decodeGeneric(body []byte) (model.DeliveryReport, error) {
	var p genericPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return model.DeliveryReport{}, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}

	callID := p.ExternalCallID
	if callID == "" {
		callID = p.CallID
	}
	status, ok := model.ParseCallStatus(p.Status)
	if !ok {
		return model.DeliveryReport{}, fmt.Errorf("%w: unknown status %q", ErrMalformedReport, p.Status)
	}
	if p.ReceivedAt == nil {
		return model.DeliveryReport{}, fmt.Errorf("%w: received_at is required", ErrMalformedReport)
	}

	r := model.DeliveryReport{
		ExternalCallID: strings.TrimSpace(callID),
		Status:         status,
		Transcript:     p.Transcript,
		ReceivedAt:     p.ReceivedAt.UTC(),
	}
	if err := r.Validate(); err != nil {
		return model.DeliveryReport{}, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	return r, nil
}

func decodeInfobip(body []byte) ([]model.DeliveryReport, error) {
	var p infobipPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}

	out := make([]model.DeliveryReport, 0, len(p.Results))
	for idx, res := range p.Results {
		if res.MessageID == "" {
			return nil, fmt.Errorf("%w: results[%d]: missing messageId", ErrMalformedReport, idx)
		}

		receivedAt, err := infobipTime(res)
		if err != nil {
			return nil, fmt.Errorf("%w: results[%d]: %v", ErrMalformedReport, idx, err)
		}

		transcript := fmt.Sprintf("Status: %s", res.Status.Name)
		if res.Duration != nil && *res.Duration > 0 {
			transcript = fmt.Sprintf("Status: %s, Group: %s, Duration: %ds", res.Status.Name, res.Status.GroupName, *res.Duration)
		}

		out = append(out, model.DeliveryReport{
			ExternalCallID: res.MessageID,
			Status:         infobipCallStatus(res.Status.GroupName),
			Transcript:     &transcript,
			ReceivedAt:     receivedAt,
		})
	}
	return out, nil
}

func infobipCallStatus(group string) model.CallStatus {
	switch strings.ToUpper(group) {
	case "DELIVERED":
		return model.CallCompleted
	case "PENDING":
		return model.CallRinging
	}
	return model.CallFailed
}

// infobipTime prefers doneAt and falls back to sentAt. One of them is
// required so that a replayed report maps to the same call log.
func infobipTime(res infobipResult) (time.Time, error) {
	raw := res.DoneAt
	if raw == "" {
		raw = res.SentAt
	}
	if raw == "" {
		return time.Time{}, errors.New("doneAt or sentAt is required")
	}
	for _, layout := range infobipTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
