package validation

import "testing"

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email   string
		wantErr bool
	}{
		{"alice@example.com", false},
		{"a.b+c@sub.domain.org", false},
		{"", true},
		{"not-an-email", true},
		{"missing@tld", true},
		{"@example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

func TestIsEmail(t *testing.T) {
	if !IsEmail("bob@corp.io") {
		t.Error("expected bob@corp.io to be an email")
	}
	if IsEmail("bob") {
		t.Error("expected bob not to be an email")
	}
}

func TestValidateBoardID(t *testing.T) {
	tests := []struct {
		name    string
		boardID string
		wantErr bool
	}{
		{"alphanumeric", "aB3xY9", false},
		{"empty", "", true},
		{"with dash", "abc-def", true},
		{"with slash", "abc/def", true},
		{"with dots", "../etc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBoardID(tt.boardID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBoardID(%q) error = %v, wantErr %v", tt.boardID, err, tt.wantErr)
			}
		})
	}
}

func TestValidateElementID(t *testing.T) {
	if err := ValidateElementID("el123"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateElementID("el_123"); err == nil {
		t.Error("expected error for underscore in element id")
	}
	if err := ValidateElementID(""); err == nil {
		t.Error("expected error for empty element id")
	}
}

func TestValidateMatcher(t *testing.T) {
	tests := []struct {
		name    string
		matcher string
		wantErr bool
	}{
		{"wildcard", "*", false},
		{"email", "alice@example.com", false},
		{"domain suffix", "example.com", false},
		{"anonymous token", "visitor42", false},
		{"empty", "", true},
		{"whitespace", "a b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMatcher(tt.matcher)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMatcher(%q) error = %v, wantErr %v", tt.matcher, err, tt.wantErr)
			}
		})
	}
}

func TestValidateBoardName(t *testing.T) {
	if err := ValidateBoardName("Sprint Planning"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	// Empty names are allowed; boards start unnamed.
	if err := ValidateBoardName(""); err != nil {
		t.Errorf("unexpected error for empty name: %v", err)
	}
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'x'
	}
	if err := ValidateBoardName(string(long)); err == nil {
		t.Error("expected error for overlong name")
	}
}
