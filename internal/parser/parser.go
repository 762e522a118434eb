// Package parser turns raw Markdown bytes into the fields of a note:
// frontmatter, body, title, wikilinks, and tags.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/starford/quill/internal/apperr"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

const frontmatterDelim = "---"

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Links       []string
	Tags        []string
	Title       string
	// Created comes from the frontmatter "created" or "date" field; zero
	// when absent or unparseable.
	Created time.Time
}

// Parse extracts frontmatter, body, wikilinks, and tags from raw Markdown bytes.
// Content that is not text (invalid UTF-8 or NUL bytes) yields apperr.ErrNotNote.
func Parse(data []byte) (*Result, error) {
	if !isText(data) {
		return nil, fmt.Errorf("parser: binary content: %w", apperr.ErrNotNote)
	}

	fm, body := splitFrontmatter(data)
	prose, heading := scan([]byte(body))

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       extractLinks(prose),
		Tags:        extractTags(prose, fm),
		Title:       deriveTitle(fm, heading),
		Created:     createdAt(fm),
	}, nil
}

// scan walks the Markdown body and returns its prose with one block per
// line, plus the text of the first level-1 heading. Code and raw HTML are
// not prose.
func scan(body []byte) (prose, heading string) {
	doc := goldmark.DefaultParser().Parse(text.NewReader(body))

	var sb, h1 strings.Builder
	inH1, seenH1 := false, false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.CodeSpan, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Heading:
			if n.Level == 1 && !seenH1 {
				inH1 = entering
				seenH1 = !entering
			}
		case *ast.Text:
			if entering {
				seg := n.Segment.Value(body)
				sb.Write(seg)
				if inH1 {
					h1.Write(seg)
				}
				if n.SoftLineBreak() || n.HardLineBreak() {
					sb.WriteByte('\n')
					if inH1 {
						h1.WriteByte(' ')
					}
				}
			}
		}
		if !entering && n.Type() == ast.TypeBlock {
			sb.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	})
	return sb.String(), strings.TrimSpace(h1.String())
}

func isText(data []byte) bool {
	return utf8.Valid(data) && bytes.IndexByte(data, 0) < 0
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. Missing or invalid frontmatter leaves everything in body.
func splitFrontmatter(data []byte) (map[string]interface{}, string) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(frontmatterDelim)) {
		return nil, string(data)
	}

	rest := trimmed[len(frontmatterDelim):]
	idx := bytes.Index(rest, []byte("\n"+frontmatterDelim))
	if idx < 0 {
		return nil, string(data)
	}

	var fm map[string]interface{}
	if err := yaml.Unmarshal(rest[:idx], &fm); err != nil {
		return nil, string(data)
	}

	after := rest[idx+1+len(frontmatterDelim):]
	return fm, strings.TrimLeft(string(after), "\n\r")
}

// extractLinks returns deduplicated wikilink targets; [[Target|Alias]] yields Target.
func extractLinks(prose string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range wikilinkRe.FindAllStringSubmatch(prose, -1) {
		target, _, _ := strings.Cut(m[1], "|")
		out = appendUnique(out, seen, strings.TrimSpace(target))
	}
	return out
}

// extractTags collects tags from the frontmatter "tags" field (list or
// comma-separated string) followed by inline #tags from the prose.
func extractTags(prose string, fm map[string]interface{}) []string {
	var out []string
	seen := make(map[string]struct{})

	switch v := fm["tags"].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = appendUnique(out, seen, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			out = appendUnique(out, seen, strings.TrimSpace(s))
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(prose, -1) {
		out = appendUnique(out, seen, m[1])
	}
	return out
}

func appendUnique(out []string, seen map[string]struct{}, s string) []string {
	if s == "" {
		return out
	}
	if _, dup := seen[s]; dup {
		return out
	}
	seen[s] = struct{}{}
	return append(out, s)
}

// deriveTitle prefers the frontmatter "title", then the first H1 heading.
func deriveTitle(fm map[string]interface{}, heading string) string {
	if s, ok := fm["title"].(string); ok && s != "" {
		return s
	}
	return heading
}

func createdAt(fm map[string]interface{}) time.Time {
	for _, key := range []string{"created", "date"} {
		switch v := fm[key].(type) {
		case time.Time:
			return v
		case string:
			if t, err := dateparse.ParseAny(strings.TrimSpace(v)); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
