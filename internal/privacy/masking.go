package privacy

import (
	"strings"
)

const keepDigits = 4

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+5511999990000" -> "+*********0000"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		return "+" + maskString(phone[1:], keepDigits)
	}
	return maskString(phone, keepDigits)
}

// MaskChatID masks the user part of a chat id and keeps its suffix
// Example: "5511999990000@c.us" -> "*********0000@c.us"
func MaskChatID(chatID string) string {
	if chatID == "" {
		return ""
	}

	if at := strings.Index(chatID, "@"); at >= 0 {
		return maskString(chatID[:at], keepDigits) + chatID[at:]
	}
	return maskString(chatID, keepDigits)
}

// MaskIdentifiers masks every entry of a recipient list
func MaskIdentifiers(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = MaskChatID(id)
	}
	return out
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
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
		s, isString := v.(string)
		switch {
		case !isString:
			masked[k] = v
		case k == "phone" || k == "number" || k == "to":
			masked[k] = MaskPhoneNumber(s)
		case k == "chat_id" || k == "chatId" || k == "identifier" || k == "target":
			masked[k] = MaskChatID(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
