// Package validation checks identifiers and URLs supplied through the
// management API before they reach a provider or the database.
package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"leadwire/internal/constants"
	apperrors "leadwire/internal/errors"
)

// ValidateInstanceName checks a channel instance name. Providers use the
// name in URL paths, so only letters, digits, underscores and dashes pass.
func ValidateInstanceName(name string) error {
	if name == "" {
		return apperrors.NewValidationError("name", "instance name cannot be empty")
	}
	if len(name) > constants.MaxInstanceNameLength {
		return apperrors.NewValidationError("name",
			fmt.Sprintf("instance name too long (max %d characters)", constants.MaxInstanceNameLength))
	}
	for _, char := range name {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return apperrors.NewValidationError("name",
				"instance name must contain only letters, numbers, underscores, and dashes")
		}
	}
	return nil
}

// ValidateTenantID checks an opaque CRM tenant identifier.
func ValidateTenantID(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return apperrors.NewValidationError("tenantId", "tenant ID cannot be empty")
	}
	if err := ValidateStringLength(tenantID, "tenantId", 1, constants.MaxTenantIDLength); err != nil {
		return err
	}
	if hasControl(tenantID) {
		return apperrors.NewValidationError("tenantId", "tenant ID contains invalid characters")
	}
	return nil
}

// ValidateMessageID validates a stored message ID taken from a path.
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return apperrors.NewValidationError("messageId", "message ID cannot be empty")
	}
	if len(messageID) > constants.MaxMessageIDLength {
		return apperrors.NewValidationError("messageId",
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}
	if hasControl(messageID) {
		return apperrors.NewValidationError("messageId", "message ID contains invalid characters")
	}
	return nil
}

// ValidateWebhookURL requires an absolute http(s) URL with a host.
// An empty URL is accepted; callers substitute their default.
func ValidateWebhookURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return apperrors.NewValidationError("webhookUrl", "invalid URL")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return apperrors.NewValidationError("webhookUrl", "unsupported URL scheme: "+u.Scheme)
	}
	if u.Hostname() == "" {
		return apperrors.NewValidationError("webhookUrl", "URL must include a host")
	}
	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return apperrors.NewValidationError(fieldName,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}
	if len(value) > maxLength {
		return apperrors.NewValidationError(fieldName,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}
	return nil
}

func hasControl(s string) bool {
	for _, char := range s {
		if unicode.IsControl(char) {
			return true
		}
	}
	return false
}
