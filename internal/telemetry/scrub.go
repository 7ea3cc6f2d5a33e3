package telemetry

import (
	"regexp"
)

// Free-text fields headed off the device pass through these patterns.
// The goal is coarse: URLs keep their shape but lose credentials and
// query strings, and anything that looks like a key or device identity
// is blanked.
var (
	urlCredentialsRe = regexp.MustCompile(`(https?|tcp|mqtt|ws|wss)://[^@/\s]+@`)
	urlQueryRe       = regexp.MustCompile(`(https?|tcp|mqtt|ws|wss)(://[^?\s]+)\?\S*`)
	apiKeyRe         = regexp.MustCompile(`(?i)(api[_-]?key|token|auth|password|secret)[=:]\S+`)
	longHexRe        = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)
	deviceIDRe       = regexp.MustCompile(`(?i)(serial[_-]?number|device[_-]?id|client[_-]?id|user[_-]?id)[=:]\S+`)
	homeDirRe        = regexp.MustCompile(`/(home|Users)/[^/\s]+`)
)

// ScrubMessage removes credentials, keys, identifiers and home
// directories from a message before it is attached to a telemetry event.
func ScrubMessage(message string) string {
	if message == "" {
		return message
	}

	scrubbed := urlCredentialsRe.ReplaceAllString(message, "$1://[REDACTED]@")
	scrubbed = urlQueryRe.ReplaceAllString(scrubbed, "$1$2?[REDACTED]")
	scrubbed = apiKeyRe.ReplaceAllString(scrubbed, "$1=[REDACTED]")
	scrubbed = deviceIDRe.ReplaceAllString(scrubbed, "$1=[REDACTED]")
	scrubbed = longHexRe.ReplaceAllString(scrubbed, "[REDACTED]")
	scrubbed = homeDirRe.ReplaceAllString(scrubbed, "/$1/[REDACTED]")
	return scrubbed
}
