// ABOUTME: Attachment recovery from platform-native message payloads
// ABOUTME: Tagged decode of message.attachments with an explicit unknown variant

package view

import (
	"encoding/json"
)

// Attachment kinds. Anything the platform sends outside the known set is
// surfaced as AttachmentUnknown with its payload intact rather than
// dropped.
const (
	AttachmentPhoto   = "photo"
	AttachmentVideo   = "video"
	AttachmentFile    = "file"
	AttachmentSticker = "sticker"
	AttachmentVoice   = "voice"
	AttachmentUnknown = "unknown"
)

// Placeholder contents standing in for non-text messages
const (
	PlaceholderPhoto = "[Hình ảnh]"
	PlaceholderFile  = "[File]"
)

// Attachment is one recovered attachment. Payload is the platform-native
// descriptor, passed through untouched.
type Attachment struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var knownAttachmentTypes = map[string]bool{
	AttachmentPhoto:   true,
	AttachmentVideo:   true,
	AttachmentFile:    true,
	AttachmentSticker: true,
	AttachmentVoice:   true,
}

// rawEnvelope mirrors the platform payload shape far enough to reach the
// attachment list.
type rawEnvelope struct {
	Message struct {
		Attachments []struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

// decodeAttachments recovers attachments from a stored raw payload.
// Malformed or absent payloads yield nil without error; display must
// never fail on platform payload quirks.
func decodeAttachments(raw []byte) []Attachment {
	if len(raw) == 0 {
		return nil
	}

	var envelope rawEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}

	var attachments []Attachment
	for _, entry := range envelope.Message.Attachments {
		kind := entry.Type
		if !knownAttachmentTypes[kind] {
			kind = AttachmentUnknown
		}
		attachments = append(attachments, Attachment{
			Type:    kind,
			Payload: entry.Payload,
		})
	}
	return attachments
}

// placeholderFor picks the stand-in content for a message recovered from
// attachments only.
func placeholderFor(attachments []Attachment) string {
	if len(attachments) == 0 {
		return ""
	}
	if attachments[0].Type == AttachmentPhoto {
		return PlaceholderPhoto
	}
	return PlaceholderFile
}

// needsRecovery reports whether the stored content calls for attachment
// recovery from the raw payload.
func needsRecovery(content string) bool {
	return content == "" || content == PlaceholderPhoto || content == PlaceholderFile
}
