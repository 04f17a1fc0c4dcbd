// Package evolution is the WhatsApp client. It talks to an Evolution API server whose
// route layout differs between releases, so every operation lists its known shapes.
package evolution

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/buger/jsonparser"

	"medrelay/internal/providers"
)

const provider = "whatsapp"

type Client struct {
	BaseURL   string
	APIKey    string
	HTTP      *http.Client
	Guard     *providers.Guard
	SendDelay time.Duration
}

type SendResult struct {
	MessageID string
	Path      string
	Status    int
}

type textPayload struct {
	Number      string `json:"number"`
	Text        string `json:"text"`
	Delay       int64  `json:"delay"`
	LinkPreview bool   `json:"linkPreview"`
}

type audioPayload struct {
	Number        string `json:"number"`
	Audio         string `json:"audio"`
	Delay         int64  `json:"delay"`
	RecordinAudio bool   `json:"recordinAudio,omitempty"`
}

// WebhookSettings configures delivery to this service. Headers are sent by the server
// with every delivery.
type WebhookSettings struct {
	URL      string
	Events   []string
	ByEvents bool
	Base64   bool
	Enabled  bool
	Headers  map[string]string
}

type webhookPayload struct {
	Enabled         bool              `json:"enabled"`
	URL             string            `json:"url"`
	WebhookByEvents bool              `json:"webhook_by_events"`
	WebhookBase64   bool              `json:"webhook_base64"`
	Events          []string          `json:"events"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// Pairing is what the server answers to a connect request. Code is the QR payload.
type Pairing struct {
	PairingCode string
	Code        string
	State       string
}

func (c *Client) caller() *providers.Caller {
	return &providers.Caller{
		Provider: provider,
		BaseURL:  c.BaseURL,
		HTTP:     c.HTTP,
		Header:   http.Header{"Apikey": []string{c.APIKey}},
		Guard:    c.Guard,
	}
}

func (c *Client) delayMS() int64 {
	if c.SendDelay <= 0 {
		return 1200
	}
	return c.SendDelay.Milliseconds()
}

func (c *Client) SendText(ctx context.Context, instance, number, text string) (SendResult, error) {
	inst := url.PathEscape(instance)
	body := textPayload{Number: number, Text: text, Delay: c.delayMS(), LinkPreview: true}
	resp, err := c.caller().Do(ctx, "send_text",
		providers.Candidate{Method: http.MethodPost, Path: "/message/sendText/" + inst, Body: body},
		providers.Candidate{Method: http.MethodPost, Path: "/message/send/text/" + inst, Body: body},
	)
	if err != nil {
		return SendResult{}, err
	}
	return result(resp), nil
}

func (c *Client) SendAudio(ctx context.Context, instance, number, audioURL string) (SendResult, error) {
	inst := url.PathEscape(instance)
	body := audioPayload{Number: number, Audio: audioURL, Delay: c.delayMS()}
	recorded := body
	recorded.RecordinAudio = true
	resp, err := c.caller().Do(ctx, "send_audio",
		providers.Candidate{Method: http.MethodPost, Path: "/message/sendWhatsAppAudio/" + inst, Body: body},
		providers.Candidate{Method: http.MethodPost, Path: "/message/sendAudio/" + inst, Body: body},
		providers.Candidate{Method: http.MethodPost, Path: "/message/send/audio/" + inst, Body: recorded},
	)
	if err != nil {
		return SendResult{}, err
	}
	return result(resp), nil
}

// SetWebhook points the instance's webhook at this service.
func (c *Client) SetWebhook(ctx context.Context, instance string, s WebhookSettings) error {
	inst := url.PathEscape(instance)
	body := webhookPayload{
		Enabled:         s.Enabled,
		URL:             s.URL,
		WebhookByEvents: s.ByEvents,
		WebhookBase64:   s.Base64,
		Events:          s.Events,
		Headers:         s.Headers,
	}
	_, err := c.caller().Do(ctx, "set_webhook",
		providers.Candidate{Method: http.MethodPost, Path: "/webhook/set/" + inst, Body: body},
		providers.Candidate{Method: http.MethodPost, Path: "/webhook/instance/" + inst, Body: body},
	)
	return err
}

// ConnectionState returns the instance state as reported by the server, e.g. "open",
// "connecting" or "close".
func (c *Client) ConnectionState(ctx context.Context, instance string) (string, error) {
	resp, err := c.caller().Do(ctx, "connection_state",
		providers.Candidate{Method: http.MethodGet, Path: "/instance/connectionState/" + url.PathEscape(instance)},
	)
	if err != nil {
		return "", err
	}
	return state(resp.Body), nil
}

// Connect starts a session for the instance. With a number the server answers with a
// pairing code as well as the QR payload.
func (c *Client) Connect(ctx context.Context, instance, number string) (Pairing, error) {
	path := "/instance/connect/" + url.PathEscape(instance)
	if number != "" {
		path += "?number=" + url.QueryEscape(number)
	}
	resp, err := c.caller().Do(ctx, "connect", providers.Candidate{Method: http.MethodGet, Path: path})
	if err != nil {
		return Pairing{}, err
	}
	p := Pairing{State: state(resp.Body)}
	p.PairingCode, _ = jsonparser.GetString(resp.Body, "pairingCode")
	p.Code, _ = jsonparser.GetString(resp.Body, "code")
	return p, nil
}

func state(body []byte) string {
	if v, err := jsonparser.GetString(body, "instance", "state"); err == nil {
		return v
	}
	v, _ := jsonparser.GetString(body, "state")
	return v
}

func result(resp providers.Response) SendResult {
	id, _ := jsonparser.GetString(resp.Body, "key", "id")
	return SendResult{MessageID: id, Path: resp.Path, Status: resp.Status}
}
