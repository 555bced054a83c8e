// Package persona supplies the system instruction sent ahead of every prompt.
package persona

import (
	"embed"
	"fmt"
	"strings"
)

const defaultName = "default"

//go:embed templates/*.md
var templatesFS embed.FS

// Resolve returns override when it is non-blank, otherwise the embedded
// default persona.
func Resolve(override string) (string, error) {
	if text := strings.TrimSpace(override); text != "" {
		return text, nil
	}

	content, err := templatesFS.ReadFile(templatePath(defaultName))
	if err != nil {
		return "", fmt.Errorf("load %s persona template: %w", defaultName, err)
	}

	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", fmt.Errorf("persona template %q is empty", defaultName)
	}

	return text, nil
}

func templatePath(name string) string {
	return "templates/" + strings.TrimSpace(name) + ".md"
}
