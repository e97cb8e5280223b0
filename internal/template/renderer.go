// Package template renders mail bodies and landing pages with the Liquid
// template language. Templates are .html files in a configured directory,
// parsed once and cached.
package template

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/osteele/liquid"
)

// Service renders Liquid templates with caching.
type Service struct {
	engine *liquid.Engine
	dir    string
	cache  sync.Map // map[string]*liquid.Template
}

// NewService creates a template service reading templates from dir.
func NewService(dir string) *Service {
	engine := liquid.NewEngine()

	// Default value filter: {{ name | default: "임직원" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// URL encode: {{ tracking_id | urlencode }}
	engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	return &Service{engine: engine, dir: dir}
}

// Render renders the named template with the given variables.
func (s *Service) Render(templateID string, vars map[string]interface{}) (string, error) {
	tpl, err := s.load(templateID)
	if err != nil {
		return "", err
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("rendering template %s: %w", templateID, err)
	}
	return out, nil
}

// load parses and caches a template by file name. Only plain file names are
// accepted; path traversal out of the template directory is refused.
func (s *Service) load(templateID string) (*liquid.Template, error) {
	if cached, ok := s.cache.Load(templateID); ok {
		return cached.(*liquid.Template), nil
	}

	if filepath.Base(templateID) != templateID {
		return nil, fmt.Errorf("invalid template name %q", templateID)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, templateID))
	if err != nil {
		return nil, fmt.Errorf("loading template %s: %w", templateID, err)
	}

	tpl, err := s.engine.ParseTemplate(data)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", templateID, err)
	}

	s.cache.Store(templateID, tpl)
	return tpl, nil
}
