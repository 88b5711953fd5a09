package generator

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Template names known to the interview.
const (
	TemplateSystem       = "system"
	TemplateWelcome      = "welcome"
	TemplateWhat         = "what"
	TemplateRefinement   = "refinement"
	TemplateWriteArticle = "write_article"
)

var templateNames = []string{
	TemplateSystem,
	TemplateWelcome,
	TemplateWhat,
	TemplateRefinement,
	TemplateWriteArticle,
}

//go:embed prompttemplates/*.txt
var defaultTemplates embed.FS

// Prompt is what gets sent to the LLM: one system and one user instruction.
type Prompt struct {
	System string
	User   string
}

// segment is either literal text or a placeholder name.
type segment struct {
	text        string
	placeholder bool
}

// Templates renders the named prompt texts by substituting {name} placeholders.
type Templates struct {
	parsed map[string][]segment
}

// LoadTemplates reads the embedded defaults and overlays <dir>/<name>.txt for
// every file present in dir. An empty dir means defaults only.
func LoadTemplates(dir string) (*Templates, error) {
	texts := make(map[string]string, len(templateNames))
	for _, name := range templateNames {
		data, err := fs.ReadFile(defaultTemplates, "prompttemplates/"+name+".txt")
		if err != nil {
			return nil, fmt.Errorf("read default template %s: %w", name, err)
		}
		texts[name] = trimTemplate(data)
	}
	if dir != "" {
		for _, name := range templateNames {
			data, err := os.ReadFile(filepath.Join(dir, name+".txt"))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read template %s: %w", name, err)
			}
			texts[name] = trimTemplate(data)
		}
	}
	return NewTemplates(texts)
}

// Template files usually end with a newline that is not part of the prompt.
func trimTemplate(data []byte) string {
	return strings.TrimRight(string(data), "\r\n")
}

// NewTemplates parses the given name -> text map.
func NewTemplates(texts map[string]string) (*Templates, error) {
	t := &Templates{parsed: make(map[string][]segment, len(texts))}
	for name, text := range texts {
		segs, err := parseTemplate(text)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		t.parsed[name] = segs
	}
	return t, nil
}

// Render fills the template's placeholders from vars. Extra variables are ignored.
func (t *Templates) Render(name string, vars map[string]string) (string, error) {
	segs, ok := t.parsed[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	var sb strings.Builder
	for _, s := range segs {
		if !s.placeholder {
			sb.WriteString(s.text)
			continue
		}
		v, ok := vars[s.text]
		if !ok {
			return "", fmt.Errorf("%w: %s in template %s", ErrMissingVariable, s.text, name)
		}
		sb.WriteString(v)
	}
	return sb.String(), nil
}

// Variables lists the placeholder names a template expects, in order of first use.
func (t *Templates) Variables(name string) ([]string, error) {
	segs, ok := t.parsed[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range segs {
		if s.placeholder && !seen[s.text] {
			seen[s.text] = true
			out = append(out, s.text)
		}
	}
	return out, nil
}

// parseTemplate splits text into literals and {name} placeholders. "{{" and
// "}}" stand for literal braces.
func parseTemplate(text string) ([]segment, error) {
	var (
		segs []segment
		lit  strings.Builder
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unclosed placeholder at offset %d", i)
			}
			name := strings.TrimSpace(text[i+1 : i+1+end])
			if name == "" || strings.ContainsAny(name, "{ \n\t") {
				return nil, fmt.Errorf("invalid placeholder %q at offset %d", text[i:i+2+end], i)
			}
			if lit.Len() > 0 {
				segs = append(segs, segment{text: lit.String()})
				lit.Reset()
			}
			segs = append(segs, segment{text: name, placeholder: true})
			i += end + 1
		case c == '}':
			return nil, fmt.Errorf("single '}' at offset %d", i)
		default:
			lit.WriteByte(c)
		}
	}
	if lit.Len() > 0 {
		segs = append(segs, segment{text: lit.String()})
	}
	return segs, nil
}
