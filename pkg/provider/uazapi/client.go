// Package uazapi implements the Provider contract against the Uazapi
// REST surface. Instance calls authenticate with the per-instance "token"
// header; instance creation uses the server-wide "admintoken".
package uazapi

import (
	"context"
	"encoding/json"
	"net/http"
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
	headerToken      = "token"
	headerAdminToken = "admintoken"
	systemName       = "leadwire"
)

// Config configures a Client.
type Config struct {
	BaseURL           string
	Token             string
	AdminToken        string
	InstanceName      string
	Timeout           time.Duration
	MediaFetchTimeout time.Duration
	// Phone decides how destination numbers get their country code.
	Phone      phone.Policy
	Breaker    *circuitbreaker.CircuitBreaker
	Sleeper    types.Sleeper
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client is the Uazapi variant of types.Provider.
type Client struct {
	instance     string
	mediaTimeout time.Duration
	policy       phone.Policy
	api          *rest.Client
	admin        *rest.Client
	sleep        types.Sleeper
	logger       *logrus.Logger
}

var _ types.Provider = (*Client)(nil)

// NewClient creates a Uazapi client bound to one instance token.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = types.DefaultSleeper()
	}
	if cfg.Phone.CountryCode == "" && len(cfg.Phone.LocalLengths) == 0 {
		cfg.Phone = phone.DefaultPolicy()
	}
	restCfg := func(headers map[string]string, breaker *circuitbreaker.CircuitBreaker) rest.Config {
		return rest.Config{
			Provider:   string(types.VariantUazapi),
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
			Headers:    headers,
			Breaker:    breaker,
			HTTPClient: cfg.HTTPClient,
			Logger:     cfg.Logger,
		}
	}
	return &Client{
		instance:     cfg.InstanceName,
		mediaTimeout: cfg.MediaFetchTimeout,
		policy:       cfg.Phone,
		sleep:        cfg.Sleeper,
		logger:       cfg.Logger,
		api:          rest.New(restCfg(map[string]string{headerToken: cfg.Token}, cfg.Breaker)),
		admin:        rest.New(restCfg(map[string]string{headerAdminToken: cfg.AdminToken}, nil)),
	}
}

func (c *Client) Variant() types.Variant { return types.VariantUazapi }

func (c *Client) InstanceName() string { return c.instance }

// number applies the configured country-code policy. Group JIDs pass through.
func (c *Client) number(to string) string {
	if strings.HasSuffix(to, "@g.us") {
		return to
	}
	return c.policy.Normalize(to)
}

func (c *Client) CreateInstance(ctx context.Context, req types.CreateInstanceRequest) (*types.InstanceInfo, error) {
	name := req.Name
	if name == "" {
		name = c.instance
	}
	payload := map[string]interface{}{
		"name":         name,
		"systemName":   systemName,
		"adminField01": "crm",
		"adminField02": time.Now().UTC().Format(time.RFC3339),
	}

	var resp struct {
		Token         string `json:"token"`
		APIKey        string `json:"apiKey"`
		InstanceToken string `json:"instanceToken"`
		Base64        string `json:"base64"`
		QR            string `json:"qr"`
		QRCode        struct {
			Base64 string `json:"base64"`
		} `json:"qrCode"`
		Instance struct {
			Token string `json:"token"`
		} `json:"instance"`
	}
	if err := c.admin.Do(ctx, http.MethodPost, "/instance/init", payload, &resp); err != nil {
		return nil, err
	}

	info := &types.InstanceInfo{
		Name:   name,
		Token:  firstNonEmpty(resp.Token, resp.Instance.Token, resp.APIKey, resp.InstanceToken),
		Status: types.StatusDisconnected,
		QRCode: firstNonEmpty(resp.QRCode.Base64, resp.Base64, resp.QR),
	}

	if req.WebhookURL != "" && info.Token != "" {
		bound := c.api.WithHeader(headerToken, info.Token)
		if err := setWebhook(ctx, bound, req.WebhookURL, req.Events); err != nil {
			c.logger.WithError(err).WithField("instance", name).Warn("Failed to configure webhook for new instance")
		}
	}
	return info, nil
}

// GetStatus reports connected only when the instance says so and the
// session is both connected and logged in. 401/404 mean the token no
// longer maps to a live instance.
func (c *Client) GetStatus(ctx context.Context) *types.StatusResult {
	var raw json.RawMessage
	if err := c.api.Do(ctx, http.MethodGet, "/instance/status", nil, &raw); err != nil {
		if code := statusCode(err); code == http.StatusUnauthorized || code == http.StatusNotFound {
			return &types.StatusResult{Status: types.StatusDisconnected}
		}
		return &types.StatusResult{Status: types.StatusError, Error: err.Error()}
	}

	var resp struct {
		Instance struct {
			Status string `json:"status"`
		} `json:"instance"`
		Status struct {
			Connected bool `json:"connected"`
			LoggedIn  bool `json:"loggedIn"`
		} `json:"status"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return &types.StatusResult{Status: types.StatusError, Error: err.Error(), Raw: raw}
	}

	switch {
	case resp.Instance.Status == "connected" && resp.Status.Connected && resp.Status.LoggedIn:
		return &types.StatusResult{Status: types.StatusConnected, Raw: raw}
	case resp.Instance.Status == "connecting":
		return &types.StatusResult{Status: types.StatusConnecting, Raw: raw}
	default:
		return &types.StatusResult{Status: types.StatusDisconnected, Raw: raw}
	}
}

func statusCode(err error) int {
	if appErr, ok := apperrors.As(err); ok {
		if code, ok := appErr.Context["status_code"].(int); ok {
			return code
		}
	}
	return 0
}

// RequestPairing starts a connection. With a phone number Uazapi returns a
// numeric pairing code; without one it returns a QR code.
func (c *Client) RequestPairing(ctx context.Context, phoneNumber string) (*types.PairingResult, error) {
	payload := map[string]string{}
	if phoneNumber != "" {
		payload["phone"] = c.policy.Normalize(phoneNumber)
	}

	var resp struct {
		QRCode   string `json:"qrcode"`
		PairCode string `json:"paircode"`
		Instance struct {
			QRCode   string `json:"qrcode"`
			PairCode string `json:"paircode"`
			Status   string `json:"status"`
		} `json:"instance"`
	}
	if err := c.api.Do(ctx, http.MethodPost, "/instance/connect", payload, &resp); err != nil {
		return nil, err
	}

	result := &types.PairingResult{
		QRCode:      firstNonEmpty(resp.QRCode, resp.Instance.QRCode),
		PairingCode: firstNonEmpty(resp.PairCode, resp.Instance.PairCode),
		Status:      types.StatusConnecting,
	}
	if resp.Instance.Status == "connected" {
		result.Status = types.StatusConnected
	}
	if result.QRCode == "" && result.PairingCode == "" && result.Status != types.StatusConnected {
		return nil, apperrors.NewNotImplementedError(string(types.VariantUazapi), "qr code retrieval")
	}
	return result, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.api.Do(ctx, http.MethodPost, "/instance/disconnect", nil, nil)
}

func (c *Client) Restart(ctx context.Context) error {
	return c.api.Do(ctx, http.MethodPost, "/instance/restart", nil, nil)
}

// DeleteInstance is not exposed by Uazapi for instance tokens.
func (c *Client) DeleteInstance(context.Context) error {
	return apperrors.NewNotImplementedError(string(types.VariantUazapi), "delete instance")
}

func (c *Client) SetWebhook(ctx context.Context, webhookURL string, events []string) error {
	return setWebhook(ctx, c.api, webhookURL, events)
}

func setWebhook(ctx context.Context, api *rest.Client, webhookURL string, events []string) error {
	if len(events) == 0 {
		events = []string{"messages", "connection"}
	}
	payload := map[string]interface{}{
		"enabled":             true,
		"url":                 webhookURL,
		"events":              events,
		"excludeMessages":     []string{"wasSentByApi"},
		"addUrlEvents":        false,
		"addUrlTypesMessages": false,
	}
	return api.Do(ctx, http.MethodPost, "/webhook", payload, nil)
}

func (c *Client) SendPresence(ctx context.Context, to string, presence types.Presence, d time.Duration) error {
	payload := map[string]interface{}{
		"number":   c.number(to),
		"presence": string(presence),
		"delay":    d.Milliseconds(),
	}
	return c.api.Do(ctx, http.MethodPost, "/message/presence", payload, nil)
}

func (c *Client) pace(ctx context.Context, to string, presence types.Presence, d time.Duration, opts types.SendOptions) error {
	if opts.SkipPresence {
		return nil
	}
	if err := c.SendPresence(ctx, to, presence, d); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"provider": types.VariantUazapi,
			"instance": c.instance,
			"presence": presence,
		}).Warn("Failed to send presence")
	}
	return c.sleep(ctx, d)
}

type sendResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"messageid"`
	ChatID    string `json:"chatid"`
	Status    string `json:"status"`
	Key       struct {
		ID string `json:"id"`
	} `json:"key"`
}

func (c *Client) send(ctx context.Context, route string, payload map[string]interface{}) (*types.SendResult, error) {
	var raw json.RawMessage
	if err := c.api.Do(ctx, http.MethodPost, route, payload, &raw); err != nil {
		return nil, err
	}
	var resp sendResponse
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &resp)
	}
	return &types.SendResult{
		MessageID: firstNonEmpty(resp.MessageID, resp.Key.ID, resp.ID),
		RemoteJID: resp.ChatID,
		Status:    resp.Status,
		Raw:       raw,
	}, nil
}

func (c *Client) SendText(ctx context.Context, to, text string, opts types.SendOptions) (*types.SendResult, error) {
	if err := c.pace(ctx, to, types.PresenceComposing, types.TypingDelay(text), opts); err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"number":       c.number(to),
		"text":         text,
		"readchat":     true,
		"readmessages": true,
	}
	if opts.ReplyTo != "" {
		payload["replyid"] = opts.ReplyTo
	}
	return c.send(ctx, "/send/text", payload)
}

func (c *Client) SendAudio(ctx context.Context, to, audio string, durationSec int, opts types.SendOptions) (*types.SendResult, error) {
	if err := c.pace(ctx, to, types.PresenceRecording, types.RecordingDelay(durationSec), opts); err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"number": c.number(to),
		"type":   "ptt",
		"file":   audio,
	}
	if opts.ReplyTo != "" {
		payload["replyid"] = opts.ReplyTo
	}
	return c.send(ctx, "/send/media", payload)
}

func (c *Client) SendMedia(ctx context.Context, to string, media types.MediaRequest, opts types.SendOptions) (*types.SendResult, error) {
	if media.Kind == types.MediaAudio {
		return c.SendAudio(ctx, to, media.Media, 0, opts)
	}
	if err := c.pace(ctx, to, types.PresenceComposing, types.MediaDelay(), opts); err != nil {
		return nil, err
	}

	file := media.Media
	if !types.IsURL(file) && !strings.HasPrefix(file, "data:") {
		file = "data:" + firstNonEmpty(media.MimeType, "application/octet-stream") + ";base64," + file
	}
	payload := map[string]interface{}{
		"number":   c.number(to),
		"type":     string(media.Kind),
		"file":     file,
		"readchat": true,
	}
	if media.Caption != "" {
		payload["text"] = media.Caption
	}
	if media.Kind == types.MediaDocument && media.FileName != "" {
		payload["docName"] = media.FileName
	}
	if opts.ReplyTo != "" {
		payload["replyid"] = opts.ReplyTo
	}
	return c.send(ctx, "/send/media", payload)
}

func (c *Client) DeleteMessage(ctx context.Context, req types.DeleteRequest) error {
	if req.MessageID == "" {
		return apperrors.NewValidationError("message", "message id is required")
	}
	return c.api.Do(ctx, http.MethodDelete, "/message", map[string]string{"messageId": req.MessageID}, nil)
}

type detailsResponse struct {
	Name          string `json:"name"`
	WAName        string `json:"wa_name"`
	WAContactName string `json:"wa_contactName"`
	Image         string `json:"image"`
	WAIsBusiness  bool   `json:"wa_isBusiness"`
	WADescription string `json:"wa_description"`
}

func (c *Client) details(ctx context.Context, number string) (*detailsResponse, error) {
	var resp detailsResponse
	payload := map[string]interface{}{"number": phone.Digits(phone.JIDUser(number)), "preview": false}
	if err := c.api.Do(ctx, http.MethodPost, "/chat/details", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FetchProfile(ctx context.Context, number string) (*types.Profile, error) {
	resp, err := c.details(ctx, number)
	if err != nil {
		return nil, err
	}
	profile := &types.Profile{
		Number:      phone.Digits(phone.JIDUser(number)),
		PictureURL:  resp.Image,
		IsBusiness:  resp.WAIsBusiness,
		Description: resp.WADescription,
	}
	if name := firstNonEmpty(resp.Name, resp.WAName, resp.WAContactName); phone.IsPlausibleName(name) {
		profile.Name = strings.TrimSpace(name)
	}
	return profile, nil
}

func (c *Client) FetchProfilePictureURL(ctx context.Context, number string) (string, error) {
	resp, err := c.details(ctx, number)
	if err != nil {
		return "", err
	}
	return resp.Image, nil
}

func (c *Client) FetchRawMedia(ctx context.Context, ref types.MediaRef) (*types.RawMedia, error) {
	payload := map[string]interface{}{
		"id":            ref.MessageID,
		"return_base64": true,
		"return_link":   false,
		"generate_mp3":  true,
	}
	var resp struct {
		Base64Data string `json:"base64Data"`
		MimeType   string `json:"mimetype"`
	}
	if err := c.api.DoWithTimeout(ctx, c.mediaTimeout, http.MethodPost, "/message/download", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Base64Data == "" {
		return nil, apperrors.New(apperrors.ErrCodeProvider, "no media returned").WithContext("message_id", ref.MessageID)
	}
	return &types.RawMedia{Base64: resp.Base64Data, MimeType: firstNonEmpty(resp.MimeType, "application/octet-stream")}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
