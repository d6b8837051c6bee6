// Package validate holds small input checks shared by the gateway, the
// config store and the model manager.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
)

// IdentRe matches identifiers used for secret keys and model names.
// Must start with alphanumeric, followed by alphanumeric, dots, hyphens,
// or underscores.
var IdentRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// LanguageRe matches lowercase two-letter language codes with an optional
// region suffix, e.g. "fr", "en", "fr-FR".
var LanguageRe = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

// MaxIdentLen is the maximum length for identifiers.
const MaxIdentLen = 128

// Ident validates a string as an identifier (secret key or model name).
func Ident(s string) bool {
	return len(s) > 0 && len(s) <= MaxIdentLen && IdentRe.MatchString(s)
}

// Language validates a language code.
func Language(s string) bool {
	return LanguageRe.MatchString(s)
}

// HTTPURL ensures the URL uses http or https scheme and has a non-empty
// host, so file:// and other schemes cannot reach the download path.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		// OK
	case "":
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	default:
		return fmt.Errorf("URL scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}
