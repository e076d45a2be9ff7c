package properties

import (
	"net/url"
	"strings"
)

// MaxImageLocationLength bounds stored image references.
const MaxImageLocationLength = 2048

var blockedLocationSchemes = []string{"javascript:", "vbscript:", "file:", "about:", "blob:"}

// LocationPolicy decides whether an image reference may be stored.
type LocationPolicy struct {
	// UploadsPrefix is the public path under which local uploads are served, e.g. "/uploads".
	UploadsPrefix string
}

// IsValid reports whether value is a safe image location: an absolute http(s)
// URL, an image data URL, or a path inside the local upload namespace.
func (p LocationPolicy) IsValid(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || len(trimmed) > MaxImageLocationLength {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, scheme := range blockedLocationSchemes {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}

	switch {
	case strings.HasPrefix(lower, "data:"):
		return isImageDataURL(lower)
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		parsed, err := url.Parse(trimmed)
		return err == nil && parsed.Host != ""
	default:
		return p.isLocalUpload(trimmed)
	}
}

// IsLocalUpload reports whether value points into the local upload namespace.
func (p LocationPolicy) IsLocalUpload(value string) bool {
	return p.isLocalUpload(strings.TrimSpace(value))
}

// BelongsToOtherProperty reports whether value is a local upload stored in
// the file namespace of a property other than propertyID. An empty
// propertyID treats every property namespace as foreign.
func (p LocationPolicy) BelongsToOtherProperty(value, propertyID string) bool {
	trimmed := strings.TrimSpace(value)
	if !p.isLocalUpload(trimmed) {
		return false
	}
	rest := strings.TrimPrefix(trimmed, p.prefix()+"/")
	owner, _, found := strings.Cut(strings.TrimPrefix(rest, "properties/"), "/")
	if !strings.HasPrefix(rest, "properties/") || !found {
		return false
	}
	return owner != propertyID
}

func (p LocationPolicy) isLocalUpload(value string) bool {
	prefix := p.prefix()
	if prefix == "" || !strings.HasPrefix(value, prefix+"/") {
		return false
	}
	rest := strings.TrimPrefix(value, prefix+"/")
	if rest == "" || strings.ContainsAny(rest, "\\\x00") {
		return false
	}
	for _, segment := range strings.Split(rest, "/") {
		if segment == ".." {
			return false
		}
	}
	return true
}

func (p LocationPolicy) prefix() string {
	trimmed := strings.Trim(strings.TrimSpace(p.UploadsPrefix), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}

// isImageDataURL expects a lower-cased "data:<mime>[;params],<payload>" value.
func isImageDataURL(lower string) bool {
	header, _, found := strings.Cut(strings.TrimPrefix(lower, "data:"), ",")
	if !found {
		return false
	}
	mimeType, _, _ := strings.Cut(header, ";")
	return strings.HasPrefix(strings.TrimSpace(mimeType), "image/") && len(strings.TrimSpace(mimeType)) > len("image/")
}
