package persona

import (
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Run("blank override returns embedded persona", func(t *testing.T) {
		content, err := Resolve("  ")
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if !strings.HasPrefix(content, "You are OLAMYKxVBOT") {
			t.Fatalf("content = %q, want embedded persona", content)
		}
		if strings.HasSuffix(content, "\n") {
			t.Fatal("expected trimmed persona")
		}
	})

	t.Run("override wins", func(t *testing.T) {
		content, err := Resolve(" Be terse. ")
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if content != "Be terse." {
			t.Fatalf("content = %q, want %q", content, "Be terse.")
		}
	})
}

func TestTemplatePath(t *testing.T) {
	if got := templatePath("default"); got != "templates/default.md" {
		t.Fatalf("templatePath(default) = %q, want %q", got, "templates/default.md")
	}
}
