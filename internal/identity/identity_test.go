package identity

import "testing"

func TestNewEntityIDIsValid(t *testing.T) {
	id := NewEntityID()
	if !IsValid(id) {
		t.Errorf("minted id %q should be a valid UUID v4", id)
	}
}

func TestNewDeviceIDUnique(t *testing.T) {
	a := NewDeviceID()
	b := NewDeviceID()
	if a == b {
		t.Error("two minted device ids should differ")
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"valid v4", "a8098c1a-f86e-41da-bd83-73b99ffb4c12", true},
		{"empty", "", false},
		{"no dashes", "a8098c1af86e41dabd8373b99ffb4c12", false},
		{"wrong version", "a8098c1a-f86e-11da-bd83-73b99ffb4c12", false},
		{"wrong variant", "a8098c1a-f86e-41da-1d83-73b99ffb4c12", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.id); got != tt.valid {
				t.Errorf("IsValid(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(NewEntityID()); err != nil {
		t.Errorf("Validate(minted) = %v", err)
	}
	if err := Validate("not-a-uuid"); err == nil {
		t.Error("expected error for malformed id")
	}
}
