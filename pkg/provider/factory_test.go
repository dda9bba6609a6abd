package provider

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "leadwire/internal/errors"
	"leadwire/pkg/provider/evolution"
	"leadwire/pkg/provider/types"
	"leadwire/pkg/provider/uazapi"
)

func newTestFactory(settings Settings) *Factory {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewFactory(settings, logger)
}

func TestFactory_SelectsVariant(t *testing.T) {
	f := newTestFactory(Settings{EvolutionURL: "http://evo", UazapiURL: "http://uaz"})

	p, err := f.New(types.VariantEvolution, "sales", "tok")
	require.NoError(t, err)
	assert.IsType(t, &evolution.Client{}, p)
	assert.Equal(t, types.VariantEvolution, p.Variant())
	assert.Equal(t, "sales", p.InstanceName())

	p, err = f.New(types.VariantUazapi, "support", "tok")
	require.NoError(t, err)
	assert.IsType(t, &uazapi.Client{}, p)
	assert.Equal(t, types.VariantUazapi, p.Variant())
}

func TestFactory_UnknownVariant(t *testing.T) {
	f := newTestFactory(Settings{EvolutionURL: "http://evo"})

	_, err := f.New(types.Variant("waha"), "x", "tok")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
}

func TestFactory_MissingBaseURL(t *testing.T) {
	f := newTestFactory(Settings{EvolutionURL: "http://evo"})

	_, err := f.New(types.VariantUazapi, "x", "tok")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConfig, apperrors.GetCode(err))
}
