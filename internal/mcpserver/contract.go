package mcpserver

// NoteFormatContract describes how Quill reads a note from disk, so that
// LLM consumers write notes the index understands.
const NoteFormatContract = `# Quill Note Format Contract

Quill indexes plain Markdown files under the notes directory. The file on
disk is the source of truth; the index is rebuilt from it.

## Which files are notes

- A file is a note when its path, relative to the notes directory, matches
  one of the configured globs (by default ` + "`" + `**/*.md` + "`" + ` and ` + "`" + `**/*.markdown` + "`" + `).
- A note is identified by its path. Use forward slashes in paths passed to tools.
- Content that is not UTF-8 text, or larger than the configured size limit,
  is skipped.

## What is extracted

` + "```" + `markdown
---
title: Weekly standup               # optional; wins over the first H1
tags: [meeting-notes, project-x]    # optional; YAML list or comma-separated string
created: 2025-01-20                 # optional; "date" is read when "created" is absent
---

# Weekly standup

Talked about #release planning with [[alice]].
See [[project-x/roadmap|the roadmap]].
` + "```" + `

- **Title:** frontmatter ` + "`" + `title` + "`" + `, otherwise the text of the first level-1 heading.
- **Tags:** frontmatter ` + "`" + `tags` + "`" + ` first, then inline ` + "`" + `#tags` + "`" + ` from the body.
- **Links:** ` + "`" + `[[target]]` + "`" + ` and ` + "`" + `[[target|alias]]` + "`" + `; the target is kept, duplicates are dropped.
- Tags and links inside code blocks, inline code, or raw HTML are ignored.
- Frontmatter must open the file with ` + "`" + `---` + "`" + `. Invalid frontmatter is treated as body text.
- ` + "`" + `created` + "`" + ` accepts ISO-8601 dates and most common date formats.

## When changes appear

- Edits on disk are applied after a short quiet period; a steady stream of
  edits is still applied within the configured maximum wait.
- A rename or move keeps the note's index entry under its new path.
- A note whose file cannot be read stays out of the index until it changes again.
- Deleting the file removes the note from the index.
`
