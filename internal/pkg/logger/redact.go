package logger

import "strings"

// piiKind classifies a log key. Keys are matched case-insensitively, so both
// "email" and CRM field names like "inf_field_Email" qualify.
type piiKind int

const (
	piiNone piiKind = iota
	piiEmail
	piiPhone
	piiName
)

func classifyKey(key string) piiKind {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "email"):
		return piiEmail
	case strings.Contains(k, "phone"):
		return piiPhone
	case k == "name", strings.HasSuffix(k, "firstname"), strings.HasSuffix(k, "lastname"), strings.HasSuffix(k, "_name") && !strings.Contains(k, "form"):
		return piiName
	}
	return piiNone
}

// RedactEmail keeps the first two characters of the local part and the
// domain: "john.doe@example.com" becomes "jo***@example.com". Local parts of
// two characters or fewer are fully masked.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}

// RedactPhone keeps the last two digits of a phone number.
// "+15550001111" → "***11"; empty input stays empty.
func RedactPhone(phone string) string {
	if phone == "" {
		return ""
	}
	if len(phone) <= 2 {
		return "***"
	}
	return "***" + phone[len(phone)-2:]
}

// RedactName keeps the initial of each word: "Jane Doe" → "J. D.".
func RedactName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = string([]rune(w)[:1]) + "."
	}
	return strings.Join(words, " ")
}

func redactPIIValue(key, val string) string {
	switch classifyKey(key) {
	case piiEmail:
		return RedactEmail(val)
	case piiPhone:
		return RedactPhone(val)
	case piiName:
		return RedactName(val)
	}
	// emails embedded in free text
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
