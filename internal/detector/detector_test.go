package detector

import "testing"

func TestDetectISO(t *testing.T) {
	d := New()

	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"empty text", "", "", false},
		{"english", "Hello, this is a product description written in English.", "en", true},
		{"ukrainian", "Привіт, це опис товару українською мовою.", "uk", true},
		{"german", "Hallo, das ist eine Produktbeschreibung auf Deutsch.", "de", true},
		{"french", "Bonjour, ceci est une description de produit en français.", "fr", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.DetectISO(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("DetectISO(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("DetectISO(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectReliableISO_ShortText(t *testing.T) {
	d := New()

	if _, ok := d.DetectReliableISO("ok"); ok {
		t.Error("short text should not produce a reliable detection")
	}
	if _, ok := d.DetectReliableISO("   "); ok {
		t.Error("whitespace should not produce a detection")
	}
}

func TestShared_ReturnsSameInstance(t *testing.T) {
	if Shared() != Shared() {
		t.Error("Shared must return the same detector instance")
	}
}
