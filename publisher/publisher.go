package publisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"auto_news_interviewer/generator"
)

const fileTimeLayout = "20060102-150405"

// ArticleWriter puts finished articles on disk, one plain-text file per interview.
type ArticleWriter struct {
	dir    string
	unique bool
	logger *zap.Logger
}

var _ generator.ArticleSink = (*ArticleWriter)(nil)

func NewArticleWriter(cfg ArticlesConfig, logger *zap.Logger) *ArticleWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleWriter{dir: cfg.OutputDir, unique: cfg.UniqueNames, logger: logger}
}

// FileName is <timestamp>.txt, or <timestamp>-<session prefix>.txt with unique names.
// Without unique names two articles finished in the same second share a name
// and the later one wins.
func (w *ArticleWriter) FileName(ts time.Time, sessionID string) string {
	name := ts.Format(fileTimeLayout)
	if suffix := sessionSuffix(sessionID); w.unique && suffix != "" {
		name += "-" + suffix
	}
	return name + ".txt"
}

// Persist writes the article followed by the relevant and the full dialogue.
// The file appears atomically: readers never see a half-written article.
func (w *ArticleWriter) Persist(ctx context.Context, req generator.PersistRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", generator.ErrPersistFailure, err)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create %s: %w", generator.ErrPersistFailure, w.dir, err)
	}

	dest := filepath.Join(w.dir, w.FileName(req.Timestamp, req.SessionID))
	if err := writeAtomic(w.dir, dest, []byte(FormatArticleFile(req))); err != nil {
		return "", fmt.Errorf("%w: %w", generator.ErrPersistFailure, err)
	}
	w.logger.Debug("article file written", zap.String("path", dest), zap.String("session_id", req.SessionID))
	return dest, nil
}

// FormatArticleFile lays out the file: article, relevant dialogue, full dialogue.
func FormatArticleFile(req generator.PersistRequest) string {
	var b strings.Builder
	b.WriteString(req.Article)
	b.WriteString("\n")
	b.WriteString("Relevant messages:")
	b.WriteString("\n")
	b.WriteString(req.RelevantLog)
	b.WriteString("\n")
	b.WriteString("All messages:")
	b.WriteString("\n")
	b.WriteString(req.FullLog)
	return b.String()
}

func writeAtomic(dir, dest string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".article-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename to %s: %w", dest, err)
	}
	return nil
}

func sessionSuffix(id string) string {
	var b strings.Builder
	for _, r := range id {
		if b.Len() == 8 {
			break
		}
		if r == '-' || r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
