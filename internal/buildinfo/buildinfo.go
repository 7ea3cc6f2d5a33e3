// Package buildinfo carries build-time metadata kept separate from user
// configuration.
package buildinfo

// UnknownValue is reported when a metadata field was not injected at
// build time.
const UnknownValue = "unknown"

// Injected by release builds:
//
//	go build -ldflags "-X github.com/auralis/auralis-go/internal/buildinfo.version=v1.4.0"
var (
	version   = "dev"
	buildDate = ""
)

// Version returns the release tag baked into the binary, or "dev" for
// local builds.
func Version() string {
	if version == "" {
		return UnknownValue
	}
	return version
}

// BuildDate returns the UTC build timestamp, or UnknownValue when the
// binary was built without release flags.
func BuildDate() string {
	if buildDate == "" {
		return UnknownValue
	}
	return buildDate
}

// ValidationResult collects configuration findings separately from the
// configuration itself, so warnings survive a failed validation pass.
type ValidationResult struct {
	// Warnings are issues that do not prevent startup
	Warnings []string `json:"warnings,omitempty"`

	// Errors are critical issues that should prevent startup
	Errors []string `json:"errors,omitempty"`

	// Valid indicates if the configuration passed validation
	Valid bool `json:"valid"`
}

// NewValidationResult creates a result that stays valid until an error
// is added.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddWarning records an issue that does not prevent startup.
func (r *ValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// AddError records a critical issue and marks the result invalid.
func (r *ValidationResult) AddError(message string) {
	r.Errors = append(r.Errors, message)
	r.Valid = false
}

// HasIssues reports whether any warnings or errors were recorded.
func (r *ValidationResult) HasIssues() bool {
	return len(r.Warnings) > 0 || len(r.Errors) > 0
}
