package generator

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
)

var titlePattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// PostProcess builds the Article around the model's raw reply. Text keeps the
// reply byte for byte; title, digest and HTML are best effort.
func PostProcess(raw string, now time.Time) Article {
	md := strings.TrimSpace(raw)

	digest := extractDigest(md)
	if digest == "" {
		digest = defaultDigest(md, 120)
	}
	html, err := mdToHTML(md)
	if err != nil {
		html = ""
	}

	return Article{
		Text:      raw,
		Title:     extractTitle(md),
		Digest:    digest,
		HTML:      html,
		CreatedAt: now,
	}
}

func extractTitle(md string) string {
	m := titlePattern.FindStringSubmatch(md)
	if len(m) >= 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// 摘要取首段（去掉标题行）。
func extractDigest(md string) string {
	lines := strings.Split(md, "\n")
	var b strings.Builder
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		if strings.TrimSpace(line) == "" {
			if b.Len() > 0 {
				break
			}
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strings.TrimSpace(line))
	}
	return b.String()
}

// defaultDigest cuts on rune boundaries so umlauts survive.
func defaultDigest(md string, limit int) string {
	joined := strings.Join(strings.Fields(md), " ")
	runes := []rune(joined)
	if len(runes) <= limit {
		return joined
	}
	return string(runes[:limit])
}

func mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
