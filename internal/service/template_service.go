package service

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// TemplateService renders {name} placeholders in campaign subjects and bodies
type TemplateService struct{}

// NewTemplateService creates a new template service
func NewTemplateService() *TemplateService {
	return &TemplateService{}
}

// Render replaces {name} placeholders with values from vars. Placeholders
// without a value are left as-is. With escapeHTML the values are escaped
// for an HTML body.
func (s *TemplateService) Render(template string, vars map[string]string, escapeHTML bool) string {
	if len(vars) == 0 {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		value, ok := vars[match[1:len(match)-1]]
		if !ok {
			return match
		}
		if escapeHTML {
			return html.EscapeString(value)
		}
		return value
	})
}

// ValidateTemplate checks if template has valid syntax
func (s *TemplateService) ValidateTemplate(template string) error {
	if template == "" {
		return fmt.Errorf("template cannot be empty")
	}

	openCount := strings.Count(template, "{")
	closeCount := strings.Count(template, "}")
	if openCount != closeCount {
		return fmt.Errorf("template has unbalanced braces: %d open, %d close", openCount, closeCount)
	}

	return nil
}

// GetPlaceholders extracts the placeholder names used by a template
func (s *TemplateService) GetPlaceholders(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	seen := map[string]bool{}
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
