package properties

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// ImageInputKind tags the wire shape an image entry arrived in.
type ImageInputKind int

const (
	// ImageInputURL is a bare string entry.
	ImageInputURL ImageInputKind = iota + 1
	// ImageInputObject is an object entry with optional caption and primary flag.
	ImageInputObject
)

var errUnsupportedImageInput = errors.New("properties: image entry must be a string or an object")

// ImageInput is the canonical form of one client-supplied image entry.
// Objects accept imageUrl or the legacy url key, and caption or the legacy altText key.
type ImageInput struct {
	Kind            ImageInputKind
	URL             string
	Caption         *string
	CaptionProvided bool
	IsPrimary       *bool
}

// UnmarshalJSON decodes either a JSON string or an image object.
func (in *ImageInput) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errUnsupportedImageInput
	}
	switch trimmed[0] {
	case '"':
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		*in = ImageInput{Kind: ImageInputURL, URL: value}
		return nil
	case '{':
		var fields struct {
			ImageURL  *string         `json:"imageUrl"`
			URL       *string         `json:"url"`
			Caption   json.RawMessage `json:"caption"`
			AltText   json.RawMessage `json:"altText"`
			IsPrimary *bool           `json:"isPrimary"`
		}
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return err
		}
		parsed := ImageInput{Kind: ImageInputObject, IsPrimary: fields.IsPrimary}
		switch {
		case fields.ImageURL != nil && strings.TrimSpace(*fields.ImageURL) != "":
			parsed.URL = *fields.ImageURL
		case fields.URL != nil:
			parsed.URL = *fields.URL
		}
		captionRaw := fields.Caption
		if captionRaw == nil {
			captionRaw = fields.AltText
		}
		if captionRaw != nil {
			caption, err := decodeNullableString(captionRaw)
			if err != nil {
				return fmt.Errorf("caption: %w", err)
			}
			parsed.Caption = caption
			parsed.CaptionProvided = true
		}
		*in = parsed
		return nil
	default:
		return errUnsupportedImageInput
	}
}

func decodeNullableString(raw json.RawMessage) (*string, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

// OrderedImage is a sanitized image ready to be persisted at its slice index.
type OrderedImage struct {
	ImageURL        string
	Caption         *string
	CaptionProvided bool
	IsPrimary       bool
}

// ImageNormalizer sanitizes client image lists. Rejected entries are logged
// and dropped, never reported to the caller.
type ImageNormalizer struct {
	Policy LocationPolicy
	Logger *zap.Logger
}

// ParseImageInputs decodes raw JSON entries, dropping the ones that are
// neither strings nor objects.
func (n ImageNormalizer) ParseImageInputs(raw []json.RawMessage) []ImageInput {
	inputs := make([]ImageInput, 0, len(raw))
	for index, entry := range raw {
		var input ImageInput
		if err := json.Unmarshal(entry, &input); err != nil {
			n.logDrop(index, "unparseable_entry", zap.Error(err))
			continue
		}
		inputs = append(inputs, input)
	}
	return inputs
}

// Normalize trims and validates every entry and designates exactly one
// primary: the first entry flagged isPrimary, else the first survivor.
func (n ImageNormalizer) Normalize(inputs []ImageInput) []OrderedImage {
	images := make([]OrderedImage, 0, len(inputs))
	primaryIndex := -1
	for index, input := range inputs {
		location := strings.TrimSpace(input.URL)
		if location == "" {
			n.logDrop(index, "empty_location")
			continue
		}
		if !n.Policy.IsValid(location) {
			n.logDrop(index, "invalid_location", zap.Int("length", len(location)))
			continue
		}
		image := OrderedImage{
			ImageURL:        location,
			Caption:         trimCaption(input.Caption),
			CaptionProvided: input.CaptionProvided,
		}
		if primaryIndex < 0 && input.IsPrimary != nil && *input.IsPrimary {
			primaryIndex = len(images)
		}
		images = append(images, image)
	}
	if len(images) == 0 {
		return images
	}
	if primaryIndex < 0 {
		primaryIndex = 0
	}
	images[primaryIndex].IsPrimary = true
	return images
}

// NormalizeRaw combines ParseImageInputs and Normalize.
func (n ImageNormalizer) NormalizeRaw(raw []json.RawMessage) []OrderedImage {
	return n.Normalize(n.ParseImageInputs(raw))
}

func (n ImageNormalizer) logDrop(index int, reason string, fields ...zap.Field) {
	if n.Logger == nil {
		return
	}
	attrs := append([]zap.Field{zap.Int("index", index), zap.String("reason", reason)}, fields...)
	n.Logger.Warn("image entry dropped", attrs...)
}

// ApplyPreferredPrimary re-flags the primary image by exact URL match with
// preferredURL, falling back to the first flagged image, then to index 0.
// The input slice is not modified.
func ApplyPreferredPrimary(images []OrderedImage, preferredURL string) []OrderedImage {
	result := make([]OrderedImage, len(images))
	copy(result, images)
	if len(result) == 0 {
		return result
	}

	selected := -1
	preferred := strings.TrimSpace(preferredURL)
	if preferred != "" {
		for index, image := range result {
			if image.ImageURL == preferred {
				selected = index
				break
			}
		}
	}
	if selected < 0 {
		for index, image := range result {
			if image.IsPrimary {
				selected = index
				break
			}
		}
	}
	if selected < 0 {
		selected = 0
	}
	for index := range result {
		result[index].IsPrimary = index == selected
	}
	return result
}

// PrimaryURL returns the URL of the flagged image, or "" for an empty list.
func PrimaryURL(images []OrderedImage) string {
	for _, image := range images {
		if image.IsPrimary {
			return image.ImageURL
		}
	}
	if len(images) > 0 {
		return images[0].ImageURL
	}
	return ""
}

func trimCaption(caption *string) *string {
	if caption == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*caption)
	if trimmed == "" {
		return nil
	}
	if utf8.RuneCountInString(trimmed) > maxCaptionLength {
		trimmed = string([]rune(trimmed)[:maxCaptionLength])
	}
	return &trimmed
}

const maxCaptionLength = 512
