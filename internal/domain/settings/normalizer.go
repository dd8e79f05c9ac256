// Package settings normalizes untrusted processing-setting payloads into the
// strictly typed form downstream processing consumes. Retry requests arrive
// with arbitrary client-supplied JSON (string-typed numbers, out-of-range
// values, unknown keys); Normalize is the only path from that payload to a
// ProcessingSettings value.
package settings

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// RemoveBgSize vocabulary.
const (
	RemoveBgSizeAuto = "auto"
	RemoveBgSizeFull = "full"
	RemoveBgSize4K   = "4k"
)

// RemoveBgFailureMode vocabulary. Two synonym sets are unified: fail →
// mark_failed, soft → approve. Unrecognized values default to approve.
const (
	FailureModeMarkFailed = "mark_failed"
	FailureModeApprove    = "approve"
)

const defaultJpgBackground = "#FFFFFF"

// jpg quality falls back to 90 only when the field is present but unparsable.
const fallbackJpgQuality = 90

// ProcessingSettings is the normalized, strictly typed settings object.
// Pointer fields distinguish "not supplied" from zero values; unsupplied
// fields stay nil rather than being defaulted.
type ProcessingSettings struct {
	JpgQuality                *int     `json:"jpgQuality,omitempty"`
	PngQuality                *int     `json:"pngQuality,omitempty"`
	Sharpening                *int     `json:"sharpening,omitempty"`
	Saturation                *float64 `json:"saturation,omitempty"`
	RemoveBg                  *bool    `json:"removeBg,omitempty"`
	ImageConvert              *bool    `json:"imageConvert,omitempty"`
	ConvertToJpg              *bool    `json:"convertToJpg,omitempty"`
	TrimTransparentBackground *bool    `json:"trimTransparentBackground,omitempty"`
	ImageEnhancement          *bool    `json:"imageEnhancement,omitempty"`
	RemoveBgSize              *string  `json:"removeBgSize,omitempty"`
	RemoveBgFailureMode       *string  `json:"removeBgFailureMode,omitempty"`
	JpgBackground             *string  `json:"jpgBackground,omitempty"`
}

// Normalize coerces and clamps an arbitrary settings payload. It is pure and
// total: any input map yields a valid ProcessingSettings, and normalizing
// already-normalized output returns the same output.
func Normalize(raw map[string]any) ProcessingSettings {
	var out ProcessingSettings
	if raw == nil {
		return out
	}

	if v, ok := raw["jpgQuality"]; ok {
		if n, parsed := intFromAny(v); parsed {
			out.JpgQuality = ptr(clampInt(n, 1, 100))
		} else {
			out.JpgQuality = ptr(fallbackJpgQuality)
		}
	}
	if v, ok := raw["pngQuality"]; ok {
		if n, parsed := intFromAny(v); parsed {
			out.PngQuality = ptr(clampInt(n, 1, 100))
		}
	}
	if v, ok := raw["sharpening"]; ok {
		if n, parsed := intFromAny(v); parsed {
			out.Sharpening = ptr(clampInt(n, 0, 100))
		}
	}
	if v, ok := raw["saturation"]; ok {
		if f, parsed := floatFromAny(v); parsed {
			out.Saturation = ptr(clampFloat(f, 0, 3))
		}
	}

	if v, ok := raw["removeBg"]; ok {
		out.RemoveBg = ptr(truthy(v))
	}
	if v, ok := raw["imageConvert"]; ok {
		out.ImageConvert = ptr(truthy(v))
	}
	if v, ok := raw["convertToJpg"]; ok {
		out.ConvertToJpg = ptr(truthy(v))
	}
	if v, ok := raw["trimTransparentBackground"]; ok {
		out.TrimTransparentBackground = ptr(truthy(v))
	}
	if v, ok := raw["imageEnhancement"]; ok {
		out.ImageEnhancement = ptr(truthy(v))
	}

	// Conversion cannot be requested without the parent feature enabled.
	if out.ImageConvert != nil && !*out.ImageConvert && out.ConvertToJpg != nil {
		out.ConvertToJpg = ptr(false)
	}

	if v, ok := raw["removeBgSize"]; ok {
		out.RemoveBgSize = ptr(normalizeRemoveBgSize(v))
	}
	if v, ok := raw["removeBgFailureMode"]; ok {
		out.RemoveBgFailureMode = ptr(normalizeFailureMode(v))
	}
	if v, ok := raw["jpgBackground"]; ok {
		if s, isString := v.(string); isString {
			out.JpgBackground = ptr(s)
		} else {
			out.JpgBackground = ptr(defaultJpgBackground)
		}
	}

	return out
}

// NormalizeJSON decodes a raw JSON payload and normalizes it. Invalid JSON
// yields empty settings; the normalizer is total by contract.
func NormalizeJSON(raw json.RawMessage) ProcessingSettings {
	if len(raw) == 0 {
		return ProcessingSettings{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ProcessingSettings{}
	}
	return Normalize(m)
}

// JSON encodes the settings for ledger storage.
func (s ProcessingSettings) JSON() json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		// marshalling a struct of scalars cannot fail
		return json.RawMessage(`{}`)
	}
	return b
}

// Map renders the settings back into the loose form Normalize accepts,
// used to verify idempotence and to merge overrides.
func (s ProcessingSettings) Map() map[string]any {
	m := map[string]any{}
	b, err := json.Marshal(s)
	if err != nil {
		return m
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func ptr[T any](v T) *T { return &v }

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// intFromAny parses JSON numbers, Go ints, and numeric strings, rounding
// fractional values to the nearest integer.
func intFromAny(v any) (int, bool) {
	f, ok := floatFromAny(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

func floatFromAny(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// truthy applies the boolean coercion rules: true, "1", "true" (case
// insensitive), and non-zero numbers are true; everything else is false.
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		t := strings.ToLower(strings.TrimSpace(b))
		return t == "1" || t == "true"
	default:
		if f, ok := floatFromAny(v); ok {
			return f != 0
		}
		return false
	}
}

func normalizeRemoveBgSize(v any) string {
	s, ok := v.(string)
	if !ok {
		return RemoveBgSizeAuto
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case RemoveBgSizeFull:
		return RemoveBgSizeFull
	case RemoveBgSize4K:
		return RemoveBgSize4K
	default:
		return RemoveBgSizeAuto
	}
}

func normalizeFailureMode(v any) string {
	s, ok := v.(string)
	if !ok {
		return FailureModeApprove
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail", FailureModeMarkFailed:
		return FailureModeMarkFailed
	case "soft", FailureModeApprove:
		return FailureModeApprove
	default:
		// soft-fail bias: unrecognized values approve rather than fail
		return FailureModeApprove
	}
}
