package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/events"
)

// DefaultMarkdownMaxBytes is the largest note the markdown handler reads.
const DefaultMarkdownMaxBytes = 4 * 1024 * 1024

var (
	errNoteTooLarge = errors.New("note exceeds size limit")

	// errUnterminatedFrontmatter means the note opens a frontmatter block
	// that never closes.
	errUnterminatedFrontmatter = errors.New("frontmatter start delimiter found but closing delimiter is missing")

	inlineTagPattern = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_/-]*[\p{L}_/-][\p{L}\p{N}_/-]*)`)
	wikilinkPattern  = regexp.MustCompile(`\[\[([^\]\|#]+)(?:[#\|][^\]]*)?\]\]`)
)

// MarkdownConfig is the markdown handler's config block.
type MarkdownConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// MarkdownHandler parses notes and reports their structure: title, tags,
// headings, links and word count.
type MarkdownHandler struct {
	cfg    MarkdownConfig
	md     goldmark.Markdown
	logger *slog.Logger

	mu      sync.Mutex
	lastErr error
}

// NewMarkdownHandler creates a markdown handler.
func NewMarkdownHandler(cfg MarkdownConfig, logger *slog.Logger) *MarkdownHandler {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMarkdownMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkdownHandler{
		cfg:    cfg,
		md:     goldmark.New(),
		logger: logger,
	}
}

// NewMarkdownFromConfig is the markdown Factory.
func NewMarkdownFromConfig(_ context.Context, entry config.HandlerConfig, logger *slog.Logger) (Handler, error) {
	var cfg MarkdownConfig
	if err := decodeConfig(entry.Config, &cfg); err != nil {
		return nil, err
	}
	return NewMarkdownHandler(cfg, logger), nil
}

// CanHandle accepts markdown files that still exist.
func (h *MarkdownHandler) CanHandle(ev events.FileEvent) bool {
	if ev.Kind == events.Deleted {
		return false
	}
	ext := ev.Ext()
	return ext == ".md" || ext == ".markdown"
}

// Handle reads and analyzes the note.
func (h *MarkdownHandler) Handle(ctx context.Context, ev events.FileEvent) (Output, error) {
	info, err := os.Stat(ev.Path)
	if err != nil {
		return Output{}, h.fail(fmt.Errorf("failed to stat note; %w", err))
	}
	if info.Size() > h.cfg.MaxBytes {
		return Output{}, h.fail(fmt.Errorf("%w: %d > %d bytes", errNoteTooLarge, info.Size(), h.cfg.MaxBytes))
	}

	content, err := os.ReadFile(ev.Path)
	if err != nil {
		return Output{}, h.fail(fmt.Errorf("failed to read note; %w", err))
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	analysis, err := h.Analyze(content)
	if err != nil {
		return Output{}, h.fail(err)
	}
	if analysis.Title == "" {
		analysis.Title = strings.TrimSuffix(ev.Name(), filepath.Ext(ev.Name()))
	}

	h.mu.Lock()
	h.lastErr = nil
	h.mu.Unlock()

	h.logger.Debug("note analyzed",
		"path", ev.Path,
		"title", analysis.Title,
		"tags", len(analysis.Tags),
		"word_count", analysis.WordCount)

	return Output{Success: true, Metadata: analysis.Metadata()}, nil
}

// Health carries a warning while the most recent note failed to parse.
func (h *MarkdownHandler) Health() Health {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lastErr != nil {
		return Health{IsHealthy: true, Warnings: []string{"last note failed: " + h.lastErr.Error()}}
	}
	return Healthy()
}

func (h *MarkdownHandler) fail(err error) error {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
	return err
}

// NoteAnalysis is the structure extracted from one note.
type NoteAnalysis struct {
	Title          string
	Tags           []string
	Headings       []string
	Links          []string
	Wikilinks      []string
	WordCount      int
	HasFrontmatter bool
	Frontmatter    map[string]any
}

// Metadata renders the analysis as handler output metadata.
func (a NoteAnalysis) Metadata() map[string]any {
	return map[string]any{
		"title":           a.Title,
		"tags":            a.Tags,
		"headings":        a.Headings,
		"links":           a.Links,
		"wikilinks":       a.Wikilinks,
		"word_count":      a.WordCount,
		"has_frontmatter": a.HasFrontmatter,
	}
}

// Analyze parses raw note content.
func (h *MarkdownHandler) Analyze(content []byte) (NoteAnalysis, error) {
	var a NoteAnalysis

	fm, body, had, err := splitFrontmatter(content)
	if err != nil {
		return a, err
	}
	a.HasFrontmatter = had
	if had {
		if err := yaml.Unmarshal(fm, &a.Frontmatter); err != nil {
			return a, fmt.Errorf("invalid frontmatter; %w", err)
		}
	}
	if a.Frontmatter == nil {
		a.Frontmatter = map[string]any{}
	}

	if title, ok := a.Frontmatter["title"].(string); ok {
		a.Title = strings.TrimSpace(title)
	}
	tags := frontmatterTags(a.Frontmatter["tags"])

	root := h.md.Parser().Parse(text.NewReader(body))
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *gmast.Heading:
			heading := nodeText(node, body)
			a.Headings = append(a.Headings, heading)
			if a.Title == "" && node.Level == 1 {
				a.Title = heading
			}
		case *gmast.Link:
			a.Links = append(a.Links, string(node.Destination))
		case *gmast.AutoLink:
			a.Links = append(a.Links, string(node.URL(body)))
		case *gmast.Paragraph, *gmast.TextBlock:
			for _, m := range inlineTagPattern.FindAllSubmatch(rawLines(n, body), -1) {
				tags = append(tags, string(m[1]))
			}
		case *gmast.FencedCodeBlock, *gmast.CodeBlock, *gmast.CodeSpan:
			return gmast.WalkSkipChildren, nil
		}
		return gmast.WalkContinue, nil
	})

	for _, m := range wikilinkPattern.FindAllSubmatch(body, -1) {
		a.Wikilinks = appendUnique(a.Wikilinks, strings.TrimSpace(string(m[1])))
	}

	for _, t := range tags {
		a.Tags = appendUnique(a.Tags, strings.ToLower(strings.TrimPrefix(t, "#")))
	}
	a.WordCount = len(bytes.Fields(body))

	return a, nil
}

// splitFrontmatter separates a leading "---" delimited YAML block from the
// body.
func splitFrontmatter(content []byte) (fm, body []byte, had bool, err error) {
	nl := []byte("\n")
	if i := bytes.IndexByte(content, '\n'); i > 0 && content[i-1] == '\r' {
		nl = []byte("\r\n")
	}

	open := append([]byte("---"), nl...)
	if !bytes.HasPrefix(content, open) {
		return nil, content, false, nil
	}

	rest := content[len(open):]
	if bytes.HasPrefix(rest, open) {
		return []byte{}, rest[len(open):], true, nil
	}

	closing := append(append([]byte{}, nl...), open...)
	idx := bytes.Index(rest, closing)
	if idx < 0 {
		// A closing delimiter at EOF without a trailing newline.
		if bytes.HasSuffix(rest, append(append([]byte{}, nl...), []byte("---")...)) {
			return rest[:len(rest)-len(nl)-3], nil, true, nil
		}
		return nil, nil, false, errUnterminatedFrontmatter
	}
	return rest[:idx+len(nl)], rest[idx+len(closing):], true, nil
}

func frontmatterTags(v any) []string {
	switch tags := v.(type) {
	case string:
		return strings.FieldsFunc(tags, func(r rune) bool { return r == ',' || r == ' ' })
	case []any:
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			if s, ok := t.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func nodeText(n gmast.Node, source []byte) string {
	var b strings.Builder
	_ = gmast.Walk(n, func(c gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *gmast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *gmast.String:
			b.Write(t.Value)
		}
		return gmast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func rawLines(n gmast.Node, source []byte) []byte {
	var b bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func appendUnique(list []string, s string) []string {
	if s == "" || slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}
