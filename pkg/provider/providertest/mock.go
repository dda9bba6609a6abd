// Package providertest provides a testify mock of types.Provider.
package providertest

import (
	"context"
	"time"

	"leadwire/pkg/provider/types"

	"github.com/stretchr/testify/mock"
)

// MockProvider records calls; set expectations with On.
type MockProvider struct {
	mock.Mock
	VariantTag types.Variant
	Name       string
}

var _ types.Provider = (*MockProvider)(nil)

func New(variant types.Variant, name string) *MockProvider {
	return &MockProvider{VariantTag: variant, Name: name}
}

func (m *MockProvider) Variant() types.Variant { return m.VariantTag }
func (m *MockProvider) InstanceName() string   { return m.Name }

func (m *MockProvider) CreateInstance(ctx context.Context, req types.CreateInstanceRequest) (*types.InstanceInfo, error) {
	args := m.Called(ctx, req)
	info, _ := args.Get(0).(*types.InstanceInfo)
	return info, args.Error(1)
}

func (m *MockProvider) GetStatus(ctx context.Context) *types.StatusResult {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*types.StatusResult)
	return res
}

func (m *MockProvider) RequestPairing(ctx context.Context, phone string) (*types.PairingResult, error) {
	args := m.Called(ctx, phone)
	res, _ := args.Get(0).(*types.PairingResult)
	return res, args.Error(1)
}

func (m *MockProvider) Logout(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockProvider) Restart(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockProvider) DeleteInstance(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockProvider) SetWebhook(ctx context.Context, url string, events []string) error {
	return m.Called(ctx, url, events).Error(0)
}

func (m *MockProvider) SendPresence(ctx context.Context, to string, presence types.Presence, d time.Duration) error {
	return m.Called(ctx, to, presence, d).Error(0)
}

func (m *MockProvider) SendText(ctx context.Context, to, text string, opts types.SendOptions) (*types.SendResult, error) {
	args := m.Called(ctx, to, text, opts)
	res, _ := args.Get(0).(*types.SendResult)
	return res, args.Error(1)
}

func (m *MockProvider) SendAudio(ctx context.Context, to, audio string, durationSec int, opts types.SendOptions) (*types.SendResult, error) {
	args := m.Called(ctx, to, audio, durationSec, opts)
	res, _ := args.Get(0).(*types.SendResult)
	return res, args.Error(1)
}

func (m *MockProvider) SendMedia(ctx context.Context, to string, media types.MediaRequest, opts types.SendOptions) (*types.SendResult, error) {
	args := m.Called(ctx, to, media, opts)
	res, _ := args.Get(0).(*types.SendResult)
	return res, args.Error(1)
}

func (m *MockProvider) DeleteMessage(ctx context.Context, req types.DeleteRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockProvider) FetchProfile(ctx context.Context, number string) (*types.Profile, error) {
	args := m.Called(ctx, number)
	p, _ := args.Get(0).(*types.Profile)
	return p, args.Error(1)
}

func (m *MockProvider) FetchProfilePictureURL(ctx context.Context, number string) (string, error) {
	args := m.Called(ctx, number)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) FetchRawMedia(ctx context.Context, ref types.MediaRef) (*types.RawMedia, error) {
	args := m.Called(ctx, ref)
	raw, _ := args.Get(0).(*types.RawMedia)
	return raw, args.Error(1)
}
