package privacy

import (
	"strings"

	"whatsrelay/internal/constants"
)

// cloudMessageIDPrefix starts every message id issued by the Cloud API
const cloudMessageIDPrefix = "wamid."

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+256700123456" -> "+********3456"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}
	keep := constants.DefaultPhoneMaskLength

	if strings.HasPrefix(phone, "+") {
		return "+" + maskString(phone[1:], keep)
	}
	return maskString(phone, keep)
}

// MaskWaID masks a conversation wa_id. wa_ids are phone numbers without the
// leading plus.
func MaskWaID(waID string) string {
	return MaskPhoneNumber(waID)
}

// MaskPhoneNumberID masks a business phone number id, which identifies a tenant
func MaskPhoneNumberID(phoneNumberID string) string {
	return maskString(phoneNumberID, constants.DefaultPhoneMaskLength)
}

// MaskMessageID keeps the wamid. prefix and the last characters of a message id
// Example: "wamid.HBgLMjU2NzAwMTIzNDU2FQIAEhgUM0E" -> "wamid.***...**M0E"
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}
	if strings.HasPrefix(messageID, cloudMessageIDPrefix) {
		return cloudMessageIDPrefix + maskString(strings.TrimPrefix(messageID, cloudMessageIDPrefix), 4)
	}
	if strings.HasPrefix(messageID, constants.LocalMessageIDPrefix) {
		return constants.LocalMessageIDPrefix + maskString(strings.TrimPrefix(messageID, constants.LocalMessageIDPrefix), 4)
	}
	return maskString(messageID, constants.DefaultMessageIDLength)
}

// MaskMediaID masks a provider media id
func MaskMediaID(mediaID string) string {
	return maskString(mediaID, 4)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "wa_id", "from", "to", "recipient_id", "phone":
			masked[k] = MaskWaID(s)
		case "phone_number_id", "phone_id":
			masked[k] = MaskPhoneNumberID(s)
		case "message_id", "status_id":
			masked[k] = MaskMessageID(s)
		case "media_id", "image_id":
			masked[k] = MaskMediaID(s)
		case "body", "caption", "message":
			masked[k] = "[hidden]"
		default:
			masked[k] = v
		}
	}

	return masked
}
