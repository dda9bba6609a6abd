package types

import (
	"context"
	"time"
)

// Provider is the capability set every messaging vendor exposes for one
// channel instance. Implementations are bound to an instance name and its
// access token at construction time.
type Provider interface {
	Variant() Variant
	InstanceName() string

	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*InstanceInfo, error)
	// GetStatus never fails; transport and API errors are reported as
	// StatusResult{Status: StatusError}.
	GetStatus(ctx context.Context) *StatusResult
	RequestPairing(ctx context.Context, phone string) (*PairingResult, error)
	Logout(ctx context.Context) error
	Restart(ctx context.Context) error
	DeleteInstance(ctx context.Context) error
	SetWebhook(ctx context.Context, url string, events []string) error

	SendPresence(ctx context.Context, to string, presence Presence, d time.Duration) error
	SendText(ctx context.Context, to, text string, opts SendOptions) (*SendResult, error)
	SendAudio(ctx context.Context, to, audio string, durationSec int, opts SendOptions) (*SendResult, error)
	SendMedia(ctx context.Context, to string, media MediaRequest, opts SendOptions) (*SendResult, error)
	DeleteMessage(ctx context.Context, req DeleteRequest) error

	FetchProfile(ctx context.Context, number string) (*Profile, error)
	FetchProfilePictureURL(ctx context.Context, number string) (string, error)
	FetchRawMedia(ctx context.Context, ref MediaRef) (*RawMedia, error)
}
