package credentials

import (
	"context"

	apperrors "leadwire/internal/errors"
	"leadwire/internal/models"
	"leadwire/pkg/provider/types"

	"github.com/sirupsen/logrus"
)

// InstanceStore is the database lookup used on a cache miss.
type InstanceStore interface {
	GetInstance(ctx context.Context, id string) (*models.ChannelInstance, error)
	GetInstanceByName(ctx context.Context, name string) (*models.ChannelInstance, error)
}

// ProviderFactory builds a Provider for a resolved credential.
type ProviderFactory interface {
	New(variant types.Variant, instanceName, token string) (types.Provider, error)
}

// Fallbacks are environment-provided default tokens keyed by variant.
type Fallbacks map[types.Variant]string

// Resolver maps an instance id (or name) to its credential.
type Resolver struct {
	cache     *Cache
	store     InstanceStore
	factory   ProviderFactory
	fallbacks Fallbacks
	logger    *logrus.Logger
}

func NewResolver(cache *Cache, store InstanceStore, factory ProviderFactory, fallbacks Fallbacks, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	if fallbacks == nil {
		fallbacks = Fallbacks{}
	}
	return &Resolver{cache: cache, store: store, factory: factory, fallbacks: fallbacks, logger: logger}
}

// Resolve returns the credential for instanceID, which may be either the
// internal id or the provider-side instance name.
func (r *Resolver) Resolve(ctx context.Context, instanceID string) (Credential, error) {
	if cred, ok := r.cache.Get(instanceID); ok {
		return cred, nil
	}
	gen := r.cache.Generation()

	inst, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		return Credential{}, err
	}
	if inst == nil {
		inst, err = r.store.GetInstanceByName(ctx, instanceID)
		if err != nil {
			return Credential{}, err
		}
	}

	var cred Credential
	if inst != nil {
		cred = Credential{
			Token:        inst.APIKey,
			Variant:      inst.Provider,
			InstanceID:   inst.ID,
			InstanceName: inst.Name,
			TenantID:     inst.TenantID,
		}
		if cred.Token == "" {
			cred.Token = r.fallbacks[cred.Variant]
		}
	} else {
		// Unknown instances are assumed to live on the default Evolution server.
		cred = Credential{
			Token:        r.fallbacks[types.VariantEvolution],
			Variant:      types.VariantEvolution,
			InstanceName: instanceID,
		}
		r.logger.WithField("instance_id", instanceID).Warn("Instance not found, using environment fallback")
	}

	if cred.Token == "" {
		return Credential{}, apperrors.NewCredentialError(instanceID)
	}

	if !r.cache.SetIfCurrent(instanceID, cred, gen) {
		r.logger.WithField("instance_id", instanceID).Debug("Credential invalidated during lookup, not caching")
	}
	return cred, nil
}

// Provider resolves the credential and builds the matching Provider.
func (r *Resolver) Provider(ctx context.Context, instanceID string) (types.Provider, Credential, error) {
	cred, err := r.Resolve(ctx, instanceID)
	if err != nil {
		return nil, Credential{}, err
	}
	p, err := r.factory.New(cred.Variant, cred.InstanceName, cred.Token)
	if err != nil {
		return nil, Credential{}, err
	}
	return p, cred, nil
}

// Invalidate must be called on instance deletion and token rotation.
func (r *Resolver) Invalidate(instanceID string) {
	r.cache.Invalidate(instanceID)
}

// InvalidateInstance drops both the id and name keys of an instance.
func (r *Resolver) InvalidateInstance(inst *models.ChannelInstance) {
	if inst == nil {
		return
	}
	r.cache.Invalidate(inst.ID)
	r.cache.Invalidate(inst.Name)
}

func (r *Resolver) Stats() Stats {
	return r.cache.Stats()
}
