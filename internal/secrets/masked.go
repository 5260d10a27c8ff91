// Package secrets implements the Masked value type: a
// distinguished newtype that renders as "[SECRET]" everywhere a value is
// formatted or logged, while still handing the real value to the one
// consumer entitled to it (the container executor's env injection).
//
// JobTrigger.ResolvedSecrets arrives pre-resolved from the external
// trigger source — the core never decrypts or looks up a secret itself, so
// there is no cipher or resolver in this package, only the masking
// contract.
package secrets

import "encoding/json"

// Masked wraps a secret value so that String/GoString/MarshalJSON — every
// generic string-formatting path — yield "[SECRET]". Reveal returns the
// real value and is the only way to get it back out.
type Masked string

const redacted = "[SECRET]"

// NewMasked wraps a plaintext secret value.
func NewMasked(value string) Masked {
	return Masked(value)
}

// String implements fmt.Stringer, satisfied by every %v/%s format verb and
// by log/slog's default attribute rendering.
func (m Masked) String() string {
	return redacted
}

// GoString implements fmt.GoStringer so %#v also redacts.
func (m Masked) GoString() string {
	return redacted
}

// MarshalJSON redacts the value in any JSON encoding path, including the
// audit trail a webhook delivery or run log might serialize.
func (m Masked) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// Reveal returns the real plaintext value. Callers must use this explicitly;
// it is never invoked implicitly by formatting or serialization.
func (m Masked) Reveal() string {
	return string(m)
}

// MaskAll wraps every value in a map, so the map is safe for logging while
// Reveal stays available on each value.
func MaskAll(values map[string]string) map[string]Masked {
	out := make(map[string]Masked, len(values))
	for k, v := range values {
		out[k] = NewMasked(v)
	}
	return out
}

// RevealAll is the inverse of MaskAll, returning the plaintext values.
func RevealAll(values map[string]Masked) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v.Reveal()
	}
	return out
}
