package models

import (
	"time"

	"leadwire/pkg/provider/types"
)

// ChannelInstance is a tenant's binding to one messaging account.
type ChannelInstance struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	TenantID    string                 `json:"tenantId"`
	Provider    types.Variant          `json:"provider"`
	APIKey      string                 `json:"-"`
	Status      types.ConnectionStatus `json:"status"`
	PhoneNumber string                 `json:"phoneNumber,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// HasToken reports whether the instance carries its own credential.
func (i *ChannelInstance) HasToken() bool {
	return i != nil && i.APIKey != ""
}
