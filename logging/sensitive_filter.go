package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces anything that looks like a credential.
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns match credentials sdgen may see: OpenAI keys for the
// remote provider, Hugging Face and Civitai tokens in model download URLs,
// and generic key=value secrets. Hex digests are left alone so checksums
// stay readable.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),                    // OpenAI keys (incl. sk-proj-)
	regexp.MustCompile(`hf_[a-zA-Z0-9]{30,}`),                      // Hugging Face tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/-]{20,}=*`),    // Authorization headers
	regexp.MustCompile(`(?i)([?&](token|api_key|apikey)=)[^&\s]+`), // query string tokens
	regexp.MustCompile(`(?i)(password|secret|token|api_key|apikey)\s*[:=]\s*[^\s,;&]{8,}`),
}

// sensitiveFieldNames mark log fields whose value is always masked.
var sensitiveFieldNames = []string{
	"API_KEY",
	"APIKEY",
	"TOKEN",
	"SECRET",
	"PASSWORD",
	"AUTHORIZATION",
}

// RedactSensitiveData replaces every credential-looking substring of value.
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}

	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// IsSensitiveField reports whether a field name (e.g. "openai_api_key",
// "HF_TOKEN") should never be logged in clear.
func IsSensitiveField(fieldName string) bool {
	upperName := strings.ToUpper(fieldName)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(upperName, name) {
			return true
		}
	}
	return false
}

// ContainsSensitiveData reports whether value matches any credential pattern.
func ContainsSensitiveData(value string) bool {
	if value == "" {
		return false
	}

	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}
