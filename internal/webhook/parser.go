package webhook

import (
	"time"

	apperrors "leadwire/internal/errors"
	"leadwire/pkg/provider/types"
)

// Parser decodes one provider's webhook body.
type Parser interface {
	Parse(body []byte) (*Envelope, error)
}

// ErrNoInstance is returned when a webhook carries no instance context.
var ErrNoInstance = apperrors.New(apperrors.ErrCodePayload, "webhook has no instance context")

// Parsers selects the Parser for each provider variant.
type Parsers map[types.Variant]Parser

// NewParsers returns the parsers for every supported variant.
func NewParsers(now func() time.Time) Parsers {
	if now == nil {
		now = time.Now
	}
	return Parsers{
		types.VariantEvolution: &evolutionParser{now: now},
		types.VariantUazapi:    &uazapiParser{now: now},
	}
}

// Parse dispatches on the variant.
func (p Parsers) Parse(variant types.Variant, body []byte) (*Envelope, error) {
	parser, ok := p[variant]
	if !ok {
		return nil, apperrors.NewValidationError("provider", "unsupported provider "+string(variant))
	}
	return parser.Parse(body)
}
