package secrets

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestMaskedNeverFormatsPlaintext(t *testing.T) {
	m := NewMasked("hunter2")

	for _, rendered := range []string{
		fmt.Sprintf("%v", m),
		fmt.Sprintf("%s", m),
		fmt.Sprintf("%#v", m),
		m.String(),
	} {
		if strings.Contains(rendered, "hunter2") {
			t.Errorf("plaintext leaked through formatting: %q", rendered)
		}
		if !strings.Contains(rendered, "[SECRET]") {
			t.Errorf("expected the redaction marker, got %q", rendered)
		}
	}
}

func TestMaskedMarshalJSONRedacts(t *testing.T) {
	payload := map[string]Masked{"API_KEY": NewMasked("hunter2")}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "hunter2") {
		t.Errorf("plaintext leaked through JSON: %s", raw)
	}
}

func TestRevealReturnsPlaintext(t *testing.T) {
	if got := NewMasked("hunter2").Reveal(); got != "hunter2" {
		t.Errorf("Reveal = %q, want hunter2", got)
	}
}

func TestMaskAllRevealAllRoundTrip(t *testing.T) {
	in := map[string]string{"A": "1", "B": "2"}
	out := RevealAll(MaskAll(in))
	if len(out) != 2 || out["A"] != "1" || out["B"] != "2" {
		t.Errorf("round trip mismatch: %v", out)
	}
}
