package paradox

import "testing"

func TestIsProtected(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		path string
		want bool
	}{
		{"README.md", true},
		{"./README.md", true},
		{".gitignore", true},
		{".github", true},
		{".github/workflows/ci.yml", true},
		{".git/HEAD", true},
		{"src/.gitkeep", true},
		{".gitkeep", true},
		{"notes/", true},
		{"docs/README.md", false},
		{"src/note_1234.md", false},
		{"README.md.bak", false},
		{"github/x", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := rules.IsProtected(tt.path); got != tt.want {
				t.Errorf("IsProtected(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestZeroRulesStillGuardInternals(t *testing.T) {
	var rules Rules
	if rules.IsProtected("README.md") {
		t.Error("zero rules should not protect README.md")
	}
	if !rules.IsProtected(".git/config") {
		t.Error("repository internals must always be protected")
	}
	if !rules.IsProtected("a/.gitkeep") {
		t.Error("placeholders must always be protected")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  src/a.md ", "src/a.md"},
		{"./src//a.md", "src/a.md"},
		{"src\\a.md", "src/a.md"},
		{"notes/", "notes"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
