// Package privacy masks contact identifiers before they reach the logs.
package privacy

import (
	"os"
	"strings"

	"leadwire/internal/constants"

	"github.com/sirupsen/logrus"
)

// LogPIIEnv disables masking when set to "true".
const LogPIIEnv = "LEADWIRE_LOG_PII"

// Enabled reports whether identifiers are masked in logs.
func Enabled() bool {
	return os.Getenv(LogPIIEnv) != "true"
}

// MaskPhone keeps the last 4 digits of a phone number.
// Example: "+5511999998888" -> "+*********8888"
func MaskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	if strings.HasPrefix(phone, "+") {
		return "+" + maskString(phone[1:], constants.DefaultPhoneMaskLength)
	}
	return maskString(phone, constants.DefaultPhoneMaskLength)
}

// MaskJID masks the user part of a remote id and keeps the server part.
// Example: "5511999998888@s.whatsapp.net" -> "*********8888@s.whatsapp.net"
func MaskJID(jid string) string {
	user, server, found := strings.Cut(jid, "@")
	if !found {
		return MaskPhone(jid)
	}
	return maskString(user, constants.DefaultPhoneMaskLength) + "@" + server
}

// MaskID keeps the last 8 characters of a provider message id or token.
func MaskID(id string) string {
	return maskString(id, constants.DefaultMessageIDLength)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// Fields returns a copy of fields with the well known identifier keys
// masked. It returns fields unchanged when masking is disabled.
func Fields(fields logrus.Fields) logrus.Fields {
	if fields == nil || !Enabled() {
		return fields
	}
	masked := make(logrus.Fields, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "phone", "contact_phone", "to", "number":
			masked[k] = MaskPhone(s)
		case "remote_jid", "chat_id":
			masked[k] = MaskJID(s)
		case "message_id", "provider_message_id", "token":
			masked[k] = MaskID(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
