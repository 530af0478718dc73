package session

import "testing"

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"national form", "0612345678", "+212612345678", false},
		{"international plus", "+212612345678", "+212612345678", false},
		{"international zeros", "00212612345678", "+212612345678", false},
		{"bare country code", "212612345678", "+212612345678", false},
		{"spaces and dashes", "06 12-34.56 78", "+212612345678", false},
		{"too short", "06123", "", true},
		{"too long", "061234567890", "", true},
		{"letters", "06abc45678", "", true},
		{"empty", "", "", true},
		{"no recognizable prefix", "71234567", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeIdentity(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeIdentity(%q) = %q, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeIdentity(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeIdentity(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdentityIsStable(t *testing.T) {
	// Normalizing an already-canonical identity must be a no-op: the two
	// entry points may both normalize before handing the value over.
	first, err := NormalizeIdentity("0612345678")
	if err != nil {
		t.Fatal(err)
	}
	second, err := NormalizeIdentity(first)
	if err != nil {
		t.Fatalf("re-normalizing %q: %v", first, err)
	}
	if first != second {
		t.Errorf("normalization not stable: %q != %q", first, second)
	}
}
