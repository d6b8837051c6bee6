package validate

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// HTTPURL
// ---------------------------------------------------------------------------

func TestHTTPURL_Valid(t *testing.T) {
	for _, url := range []string{
		"http://example.com/models/catalog.json",
		"https://example.com/vosk-model-small-fr-0.22.zip",
	} {
		if err := HTTPURL(url); err != nil {
			t.Errorf("HTTPURL(%q) = %v, want nil", url, err)
		}
	}
}

func TestHTTPURL_DisallowedSchemes(t *testing.T) {
	tests := []struct {
		url    string
		errMsg string
	}{
		{"file:///etc/passwd", "not allowed"},
		{"ftp://example.com/model.zip", "not allowed"},
		{"javascript:alert(1)", "not allowed"},
	}
	for _, tc := range tests {
		err := HTTPURL(tc.url)
		if err == nil {
			t.Fatalf("HTTPURL(%q): expected error, got nil", tc.url)
		}
		if !strings.Contains(err.Error(), tc.errMsg) {
			t.Errorf("HTTPURL(%q) error = %q, want it to contain %q", tc.url, err.Error(), tc.errMsg)
		}
	}
}

func TestHTTPURL_MissingScheme(t *testing.T) {
	err := HTTPURL("example.com/model.zip")
	if err == nil {
		t.Fatal("expected error for URL with no scheme")
	}
	if !strings.Contains(err.Error(), "missing scheme") {
		t.Errorf("error = %q, want it to mention missing scheme", err.Error())
	}
}

func TestHTTPURL_MissingHost(t *testing.T) {
	for _, url := range []string{
		"http://",
		"https://",
		"http:///path/only",
	} {
		err := HTTPURL(url)
		if err == nil {
			t.Fatalf("HTTPURL(%q): expected error for missing host, got nil", url)
		}
		if !strings.Contains(err.Error(), "missing host") {
			t.Errorf("HTTPURL(%q) error = %q, want it to mention missing host", url, err.Error())
		}
	}
}

// ---------------------------------------------------------------------------
// Ident
// ---------------------------------------------------------------------------

func TestIdent_Valid(t *testing.T) {
	for _, s := range []string{
		"openai.api_key", "weather-token", "camera_0",
		"Model123", "a", "9lives",
		strings.Repeat("a", MaxIdentLen),
	} {
		if !Ident(s) {
			t.Errorf("Ident(%q) = false, want true", s)
		}
	}
}

func TestIdent_Invalid(t *testing.T) {
	for _, s := range []string{
		"", "-start", ".start", "_start",
		"has space", "has/slash", "café",
		strings.Repeat("a", MaxIdentLen+1),
	} {
		if Ident(s) {
			t.Errorf("Ident(%q) = true, want false", s)
		}
	}
}

// ---------------------------------------------------------------------------
// Language
// ---------------------------------------------------------------------------

func TestLanguage_Valid(t *testing.T) {
	for _, s := range []string{"fr", "en", "fr-FR", "en-US"} {
		if !Language(s) {
			t.Errorf("Language(%q) = false, want true", s)
		}
	}
}

func TestLanguage_Invalid(t *testing.T) {
	for _, s := range []string{"", "f", "FRA", "fr_FR", "fr-fr", "french", "12"} {
		if Language(s) {
			t.Errorf("Language(%q) = true, want false", s)
		}
	}
}
