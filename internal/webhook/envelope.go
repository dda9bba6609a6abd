// Package webhook turns raw provider callbacks into an Envelope holding
// zero or more message entries. It does not touch the database.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"leadwire/internal/models"
	"leadwire/pkg/provider/types"
)

// EventKind is the provider-agnostic class of a webhook.
type EventKind string

const (
	KindMessage    EventKind = "message"
	KindConnection EventKind = "connection"
	KindOther      EventKind = "other"
)

// BroadcastJID is the sentinel remote id for status/broadcast posts.
const BroadcastJID = "status@broadcast"

// MediaSource is everything a webhook tells us about an attachment. The
// normalizer walks it in order: Inline, URL, provider fetch, Thumbnail.
type MediaSource struct {
	Inline    string
	URL       string
	Encrypted bool
	MimeType  string
	FileName  string
	Thumbnail string
	Ref       types.MediaRef
}

// Entry is one message from a webhook; Message.MediaURL is left empty for
// the normalizer to fill in from Media.
type Entry struct {
	Message models.UnifiedMessage
	Media   *MediaSource
}

// Envelope is the parsed webhook.
type Envelope struct {
	Provider   types.Variant
	Event      string
	Kind       EventKind
	Instance   string
	Connection types.ConnectionStatus
	Entries    []Entry
	// Filtered counts entries dropped as broadcast pseudo-contacts.
	Filtered int
}

// CorrelationIDs returns the first entry's provider message id and remote
// id, used to tag the queue item.
func (e *Envelope) CorrelationIDs() (messageID, remoteJID string) {
	if e == nil || len(e.Entries) == 0 {
		return "", ""
	}
	return e.Entries[0].Message.ProviderMessageID, e.Entries[0].Message.RemoteJID
}

// IsBroadcast reports whether jid is a status/broadcast pseudo-contact.
func IsBroadcast(jid string) bool {
	return jid == BroadcastJID || strings.HasSuffix(jid, "@broadcast")
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q", s)
		}
		*f = flexInt(n)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		fv, ferr := n.Float64()
		if ferr != nil {
			return err
		}
		v = int64(fv)
	}
	*f = flexInt(v)
	return nil
}

// flexString accepts a JSON string and ignores any other value, for
// fields some providers send as byte maps.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
	}
	return nil
}

func unixTime(v int64, millis bool, now time.Time) time.Time {
	if v <= 0 {
		return now.UTC()
	}
	if millis {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}
