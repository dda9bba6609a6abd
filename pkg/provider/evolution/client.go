// Package evolution implements the Provider contract against the Evolution
// API. Every route carries the instance name in its path and
// authenticates with the "apikey" header.
package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "leadwire/internal/errors"
	"leadwire/pkg/circuitbreaker"
	"leadwire/pkg/phone"
	"leadwire/pkg/provider/rest"
	"leadwire/pkg/provider/types"
)

const (
	headerAPIKey = "apikey"
	sendDelayMs  = 1200
	integration  = "WHATSAPP-BAILEYS"
)

// DefaultEvents are the webhook events an instance subscribes to.
var DefaultEvents = []string{"MESSAGES_UPSERT", "MESSAGES_UPDATE", "CONNECTION_UPDATE", "QRCODE_UPDATED"}

// Config configures a Client.
type Config struct {
	BaseURL           string
	Token             string
	InstanceName      string
	Timeout           time.Duration
	MediaFetchTimeout time.Duration
	Breaker           *circuitbreaker.CircuitBreaker
	Sleeper           types.Sleeper
	HTTPClient        *http.Client
	Logger            *logrus.Logger
}

// Client is the Evolution API variant of types.Provider.
type Client struct {
	instance     string
	mediaTimeout time.Duration
	api          *rest.Client
	sleep        types.Sleeper
	logger       *logrus.Logger
}

var _ types.Provider = (*Client)(nil)

// NewClient creates an Evolution client bound to one instance.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = types.DefaultSleeper()
	}
	return &Client{
		instance:     cfg.InstanceName,
		mediaTimeout: cfg.MediaFetchTimeout,
		sleep:        cfg.Sleeper,
		logger:       cfg.Logger,
		api: rest.New(rest.Config{
			Provider:   string(types.VariantEvolution),
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
			Headers:    map[string]string{headerAPIKey: cfg.Token},
			Breaker:    cfg.Breaker,
			HTTPClient: cfg.HTTPClient,
			Logger:     cfg.Logger,
		}),
	}
}

func (c *Client) Variant() types.Variant { return types.VariantEvolution }

func (c *Client) InstanceName() string { return c.instance }

func (c *Client) path(route string) string {
	return route + "/" + url.PathEscape(c.instance)
}

func (c *Client) CreateInstance(ctx context.Context, req types.CreateInstanceRequest) (*types.InstanceInfo, error) {
	name := req.Name
	if name == "" {
		name = c.instance
	}
	payload := map[string]interface{}{
		"instanceName": name,
		"qrcode":       true,
		"integration":  integration,
	}
	if req.WebhookURL != "" {
		payload["webhook"] = webhookPayload(req.WebhookURL, req.Events)
	}

	var resp struct {
		Instance struct {
			InstanceName string `json:"instanceName"`
			Status       string `json:"status"`
		} `json:"instance"`
		Hash   json.RawMessage `json:"hash"`
		QRCode struct {
			Base64 string `json:"base64"`
		} `json:"qrcode"`
		Base64 string `json:"base64"`
	}
	if err := c.api.Do(ctx, http.MethodPost, "/instance/create", payload, &resp); err != nil {
		return nil, err
	}

	info := &types.InstanceInfo{
		Name:   firstNonEmpty(resp.Instance.InstanceName, name),
		Token:  hashToken(resp.Hash),
		Status: types.StatusConnecting,
		QRCode: firstNonEmpty(resp.QRCode.Base64, resp.Base64),
	}
	return info, nil
}

// hashToken reads the instance token from "hash", which older servers send
// as an object {"apikey": "..."} and newer ones as a bare string.
func hashToken(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		APIKey string `json:"apikey"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.APIKey
	}
	return ""
}

func (c *Client) GetStatus(ctx context.Context) *types.StatusResult {
	var raw json.RawMessage
	if err := c.api.Do(ctx, http.MethodGet, c.path("/instance/connectionState"), nil, &raw); err != nil {
		return &types.StatusResult{Status: types.StatusError, Error: err.Error()}
	}

	var resp struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return &types.StatusResult{Status: types.StatusError, Error: err.Error(), Raw: raw}
	}

	return &types.StatusResult{Status: mapState(firstNonEmpty(resp.Instance.State, resp.State)), Raw: raw}
}

func mapState(state string) types.ConnectionStatus {
	switch strings.ToLower(state) {
	case "open":
		return types.StatusConnected
	case "connecting":
		return types.StatusConnecting
	default:
		return types.StatusDisconnected
	}
}

func (c *Client) RequestPairing(ctx context.Context, phoneNumber string) (*types.PairingResult, error) {
	route := c.path("/instance/connect")
	if phoneNumber != "" {
		route += "?number=" + url.QueryEscape(phone.Digits(phoneNumber))
	}

	var resp struct {
		Base64      string `json:"base64"`
		Code        string `json:"code"`
		PairingCode string `json:"pairingCode"`
		QRCode      struct {
			Base64 string `json:"base64"`
			Code   string `json:"code"`
		} `json:"qrcode"`
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	if err := c.api.Do(ctx, http.MethodGet, route, nil, &resp); err != nil {
		return nil, err
	}

	if resp.Instance.State == "open" {
		return &types.PairingResult{Status: types.StatusConnected}, nil
	}
	return &types.PairingResult{
		QRCode:      firstNonEmpty(resp.Base64, resp.QRCode.Base64),
		PairingCode: firstNonEmpty(resp.PairingCode, resp.Code, resp.QRCode.Code),
		Status:      types.StatusConnecting,
	}, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.api.Do(ctx, http.MethodDelete, c.path("/instance/logout"), nil, nil)
}

func (c *Client) Restart(ctx context.Context) error {
	return c.api.Do(ctx, http.MethodPost, c.path("/instance/restart"), nil, nil)
}

func (c *Client) DeleteInstance(ctx context.Context) error {
	return c.api.Do(ctx, http.MethodDelete, c.path("/instance/delete"), nil, nil)
}

func (c *Client) SetWebhook(ctx context.Context, webhookURL string, events []string) error {
	payload := map[string]interface{}{"webhook": webhookPayload(webhookURL, events)}
	return c.api.Do(ctx, http.MethodPost, c.path("/webhook/set"), payload, nil)
}

func webhookPayload(webhookURL string, events []string) map[string]interface{} {
	if len(events) == 0 {
		events = DefaultEvents
	}
	return map[string]interface{}{
		"enabled":  true,
		"url":      webhookURL,
		"byEvents": false,
		"base64":   false,
		"events":   events,
	}
}

func (c *Client) SendPresence(ctx context.Context, to string, presence types.Presence, d time.Duration) error {
	number := recipient(to)
	payload := map[string]interface{}{
		"number": number,
		"options": map[string]interface{}{
			"delay":    d.Milliseconds(),
			"presence": string(presence),
			"number":   number,
		},
	}
	return c.api.Do(ctx, http.MethodPost, c.path("/chat/sendPresence"), payload, nil)
}

// pace shows presence for d and waits it out. A failed presence call is
// logged and does not block the send.
func (c *Client) pace(ctx context.Context, to string, presence types.Presence, d time.Duration, opts types.SendOptions) error {
	if opts.SkipPresence {
		return nil
	}
	if err := c.SendPresence(ctx, to, presence, d); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"provider": types.VariantEvolution,
			"instance": c.instance,
			"presence": presence,
		}).Warn("Failed to send presence")
	}
	return c.sleep(ctx, d)
}

type sendResponse struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJID string `json:"remoteJid"`
	} `json:"key"`
	Status string `json:"status"`
}

func (r *sendResponse) result(raw json.RawMessage) *types.SendResult {
	return &types.SendResult{MessageID: r.Key.ID, RemoteJID: r.Key.RemoteJID, Status: r.Status, Raw: raw}
}

func (c *Client) send(ctx context.Context, route string, payload map[string]interface{}) (*types.SendResult, error) {
	var raw json.RawMessage
	if err := c.api.Do(ctx, http.MethodPost, c.path(route), payload, &raw); err != nil {
		return nil, err
	}
	var resp sendResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeProvider, "failed to decode send response")
		}
	}
	return resp.result(raw), nil
}

func (c *Client) SendText(ctx context.Context, to, text string, opts types.SendOptions) (*types.SendResult, error) {
	if err := c.pace(ctx, to, types.PresenceComposing, types.TypingDelay(text), opts); err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"number":      recipient(to),
		"text":        text,
		"delay":       sendDelayMs,
		"linkPreview": true,
	}
	if opts.ReplyTo != "" {
		payload["quoted"] = quoted(opts.ReplyTo)
	}
	return c.send(ctx, "/message/sendText", payload)
}

func (c *Client) SendAudio(ctx context.Context, to, audio string, durationSec int, opts types.SendOptions) (*types.SendResult, error) {
	if err := c.pace(ctx, to, types.PresenceRecording, types.RecordingDelay(durationSec), opts); err != nil {
		return nil, err
	}
	if _, bare, ok := types.DataURIPrefix(audio); ok {
		audio = bare
	}
	payload := map[string]interface{}{
		"number": recipient(to),
		"audio":  audio,
		"delay":  sendDelayMs,
	}
	if opts.ReplyTo != "" {
		payload["quoted"] = quoted(opts.ReplyTo)
	}
	return c.send(ctx, "/message/sendWhatsAppAudio", payload)
}

func (c *Client) SendMedia(ctx context.Context, to string, media types.MediaRequest, opts types.SendOptions) (*types.SendResult, error) {
	if media.Kind == types.MediaAudio {
		return c.SendAudio(ctx, to, media.Media, 0, opts)
	}
	if err := c.pace(ctx, to, types.PresenceComposing, types.MediaDelay(), opts); err != nil {
		return nil, err
	}

	content := media.Media
	mimeType := media.MimeType
	if m, bare, ok := types.DataURIPrefix(content); ok {
		content = bare
		if mimeType == "" {
			mimeType = m
		}
	}
	payload := map[string]interface{}{
		"number":      recipient(to),
		"mediatype":   string(media.Kind),
		"mimetype":    mimeType,
		"caption":     media.Caption,
		"media":       content,
		"fileName":    firstNonEmpty(media.FileName, "file"),
		"delay":       sendDelayMs,
		"linkPreview": true,
	}
	if opts.ReplyTo != "" {
		payload["quoted"] = quoted(opts.ReplyTo)
	}
	return c.send(ctx, "/message/sendMedia", payload)
}

// recipient keeps group JIDs intact and reduces contact JIDs to the number.
func recipient(to string) string {
	if strings.HasSuffix(to, "@g.us") {
		return to
	}
	return phone.JIDUser(to)
}

func quoted(id string) map[string]interface{} {
	return map[string]interface{}{"key": map[string]string{"id": id}}
}

func (c *Client) DeleteMessage(ctx context.Context, req types.DeleteRequest) error {
	if req.MessageID == "" || req.RemoteJID == "" {
		return apperrors.NewValidationError("message", "message id and remote jid are required")
	}
	payload := map[string]interface{}{
		"id":        req.MessageID,
		"remoteJid": req.RemoteJID,
		"fromMe":    req.FromMe,
	}
	if req.Participant != "" {
		payload["participant"] = req.Participant
	}
	return c.api.Do(ctx, http.MethodDelete, c.path("/chat/deleteMessageForEveryone"), payload, nil)
}

type profileResponse struct {
	WUID        string `json:"wuid"`
	Name        string `json:"name"`
	Picture     string `json:"picture"`
	IsBusiness  bool   `json:"isBusiness"`
	Description string `json:"description"`
	Status      struct {
		Status string `json:"status"`
	} `json:"status"`
}

// FetchProfile asks for the contact profile trying each 9th-digit variant
// of the number until one yields a plausible name. The last profile seen
// is returned even when it carries no name.
func (c *Client) FetchProfile(ctx context.Context, number string) (*types.Profile, error) {
	n := phone.Digits(phone.JIDUser(number))
	if n == "" {
		return nil, apperrors.NewValidationError("number", "empty")
	}

	var resp profileResponse
	if err := c.api.Do(ctx, http.MethodPost, c.path("/chat/fetchProfile"), map[string]string{"number": n}, &resp); err != nil {
		return nil, err
	}

	profile := &types.Profile{
		Number:      n,
		PictureURL:  resp.Picture,
		Status:      resp.Status.Status,
		IsBusiness:  resp.IsBusiness,
		Description: resp.Description,
	}
	if phone.IsPlausibleName(resp.Name) {
		profile.Name = strings.TrimSpace(resp.Name)
	}
	return profile, nil
}

func (c *Client) FetchProfilePictureURL(ctx context.Context, number string) (string, error) {
	var resp struct {
		ProfilePictureURL string `json:"profilePictureUrl"`
		Picture           string `json:"picture"`
	}
	payload := map[string]string{"number": phone.Digits(phone.JIDUser(number))}
	if err := c.api.Do(ctx, http.MethodPost, c.path("/chat/fetchProfilePictureUrl"), payload, &resp); err != nil {
		return "", err
	}
	return firstNonEmpty(resp.Picture, resp.ProfilePictureURL), nil
}

func (c *Client) FetchRawMedia(ctx context.Context, ref types.MediaRef) (*types.RawMedia, error) {
	payload := map[string]interface{}{
		"message": map[string]interface{}{
			"key": map[string]interface{}{
				"remoteJid": ref.RemoteJID,
				"fromMe":    ref.FromMe,
				"id":        ref.MessageID,
			},
		},
		"convertToMp4": false,
	}

	var resp struct {
		Base64   string `json:"base64"`
		MimeType string `json:"mimetype"`
		FileName string `json:"fileName"`
	}
	if err := c.api.DoWithTimeout(ctx, c.mediaTimeout, http.MethodPost, c.path("/chat/getBase64FromMediaMessage"), payload, &resp); err != nil {
		return nil, err
	}
	if resp.Base64 == "" {
		return nil, apperrors.New(apperrors.ErrCodeProvider, fmt.Sprintf("no media returned for message %s", ref.MessageID))
	}
	return &types.RawMedia{Base64: resp.Base64, MimeType: resp.MimeType, FileName: resp.FileName}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
