// Package prompts holds the embedded prompt templates sent to the labeling model.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

//go:embed *.json
var files embed.FS

// placeholder matches {{.Name}}.
var placeholder = regexp.MustCompile(`\{\{\.([A-Za-z][A-Za-z0-9_]*)\}\}`)

// Set is one parsed prompt file.
type Set struct {
	file    string
	prompts map[string]string
}

var (
	loaded   = map[string]*Set{}
	loadedMu sync.Mutex
)

// Load parses an embedded prompt file. Parsed files are reused.
func Load(file string) (*Set, error) {
	loadedMu.Lock()
	defer loadedMu.Unlock()
	if s, ok := loaded[file]; ok {
		return s, nil
	}

	data, err := files.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", file, err)
	}
	s := &Set{file: file}
	if err := json.Unmarshal(data, &s.prompts); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", file, err)
	}
	loaded[file] = s
	return s, nil
}

// Keys lists the prompt names in the file, sorted.
func (s *Set) Keys() []string {
	keys := make([]string, 0, len(s.prompts))
	for k := range s.prompts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Raw returns the unfilled template.
func (s *Set) Raw(key string) (string, error) {
	p, ok := s.prompts[key]
	if !ok {
		return "", fmt.Errorf("prompt %q not found in %s", key, s.file)
	}
	return p, nil
}

// Render fills every {{.Name}} placeholder of a prompt. A placeholder without a value is an
// error so half-filled prompts never reach the model.
func (s *Set) Render(key string, data map[string]string) (string, error) {
	tmpl, err := s.Raw(key)
	if err != nil {
		return "", err
	}

	var missing []string
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := data[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("prompt %s/%s: no value for %s", s.file, key, strings.Join(missing, ", "))
	}
	return out, nil
}

// MustRender renders an embedded prompt and panics on failure. The templates ship with the
// binary, so a failure here is a programming error.
func MustRender(file, key string, data map[string]string) string {
	s, err := Load(file)
	if err != nil {
		panic(err)
	}
	out, err := s.Render(key, data)
	if err != nil {
		panic(err)
	}
	return out
}

func reset() {
	loadedMu.Lock()
	loaded = map[string]*Set{}
	loadedMu.Unlock()
}
