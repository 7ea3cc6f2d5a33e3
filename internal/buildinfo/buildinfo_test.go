package buildinfo

import "testing"

func TestVersion(t *testing.T) {
	orig := version
	defer func() { version = orig }()

	tests := []struct {
		name    string
		version string
		want    string
	}{
		{
			name:    "default dev build",
			version: "dev",
			want:    "dev",
		},
		{
			name:    "release tag",
			version: "v1.4.0",
			want:    "v1.4.0",
		},
		{
			name:    "pre-release tag",
			version: "v1.5.0-rc.1",
			want:    "v1.5.0-rc.1",
		},
		{
			name:    "stripped by broken build flags",
			version: "",
			want:    UnknownValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version = tt.version
			if got := Version(); got != tt.want {
				t.Errorf("Version() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildDate(t *testing.T) {
	orig := buildDate
	defer func() { buildDate = orig }()

	buildDate = ""
	if got := BuildDate(); got != UnknownValue {
		t.Errorf("BuildDate() without injection = %v, want %v", got, UnknownValue)
	}

	buildDate = "2026-08-23T10:30:00Z"
	if got := BuildDate(); got != "2026-08-23T10:30:00Z" {
		t.Errorf("BuildDate() = %v, want %v", got, "2026-08-23T10:30:00Z")
	}
}

func TestNewValidationResult(t *testing.T) {
	result := NewValidationResult()

	if result == nil {
		t.Fatal("NewValidationResult() returned nil")
	}

	if !result.Valid {
		t.Error("NewValidationResult() should create a valid result")
	}

	if result.HasIssues() {
		t.Error("NewValidationResult() should not have issues initially")
	}
}

func TestValidationResult_AddWarning(t *testing.T) {
	result := NewValidationResult()

	result.AddWarning("model file missing")

	if !result.HasIssues() {
		t.Error("ValidationResult should have issues after adding warning")
	}

	if !result.Valid {
		t.Error("ValidationResult should still be valid after adding warning")
	}

	result.AddWarning("capture path missing")

	if len(result.Warnings) != 2 {
		t.Errorf("Warnings length = %d, want 2", len(result.Warnings))
	}
}

func TestValidationResult_AddError(t *testing.T) {
	result := NewValidationResult()

	result.AddError("unsupported sample rate")

	if !result.HasIssues() {
		t.Error("ValidationResult should have issues after adding error")
	}

	if result.Valid {
		t.Error("ValidationResult should not be valid after adding error")
	}

	if len(result.Errors) != 1 || result.Errors[0] != "unsupported sample rate" {
		t.Errorf("Errors = %v, want the recorded message", result.Errors)
	}
}

func TestValidationResult_HasIssues(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*ValidationResult)
		want  bool
	}{
		{
			name:  "no issues",
			setup: func(r *ValidationResult) {},
			want:  false,
		},
		{
			name: "with warning",
			setup: func(r *ValidationResult) {
				r.AddWarning("late buffer")
			},
			want: true,
		},
		{
			name: "with error",
			setup: func(r *ValidationResult) {
				r.AddError("bad channel count")
			},
			want: true,
		},
		{
			name: "with both",
			setup: func(r *ValidationResult) {
				r.AddWarning("late buffer")
				r.AddError("bad channel count")
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewValidationResult()
			tt.setup(result)

			if got := result.HasIssues(); got != tt.want {
				t.Errorf("HasIssues() = %v, want %v", got, tt.want)
			}
		})
	}
}
