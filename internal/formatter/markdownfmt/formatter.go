// Package markdownfmt renders a per-item Markdown summary of an archived
// record. The summary is returned as a media object so storages persist it
// alongside the captured content.
package markdownfmt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"

	"github.com/linkvault/archiver/internal/archive"
)

// Formatter builds a Markdown document describing the record and its media.
type Formatter struct {
	title string
}

// New constructs a Formatter. title overrides the document heading; the
// default is "Archive Summary".
func New(title string) *Formatter {
	if title == "" {
		title = "Archive Summary"
	}
	return &Formatter{title: title}
}

// Format implements archive.Formatter. It writes the summary file into the
// record's working directory and returns it as a media object. Records with
// no media still get a summary so downstream consumers can see the outcome.
func (f *Formatter) Format(_ context.Context, rec *archive.Record) (*archive.Media, error) {
	path := filepath.Join(rec.TmpDir, "summary.md")
	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create summary file: %w", err)
	}
	defer out.Close()

	md := markdown.NewMarkdown(out)
	md.H1(f.title)
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"URL", "`" + rec.URL + "`"},
			{"Original URL", "`" + originalURL(rec) + "`"},
			{"Status", rec.Status},
			{"Success", strconv.FormatBool(rec.Success)},
			{"Media", strconv.Itoa(len(rec.Media))},
			{"Rendered", time.Now().UTC().Format("2006-01-02 15:04:05 MST")},
		},
	})
	md.PlainText("")

	f.writeMedia(md, rec)
	f.writeMetadata(md, rec)

	if err := md.Build(); err != nil {
		return nil, fmt.Errorf("render summary: %w", err)
	}

	media := archive.NewMedia(path)
	media.MimeType = "text/markdown"
	return media, nil
}

func (f *Formatter) writeMedia(md *markdown.Markdown, rec *archive.Record) {
	md.H2("Media")
	md.PlainText("")
	if len(rec.Media) == 0 {
		md.PlainText("No media captured.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(rec.Media))
	for _, m := range rec.Media {
		rows = append(rows, mediaRow(m, ""))
		for _, nested := range m.NestedMedia() {
			rows = append(rows, mediaRow(nested, "↳ "))
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"File", "Type", "Location"},
		Rows:   rows,
	})
	md.PlainText("")
}

func mediaRow(m *archive.Media, prefix string) []string {
	name := filepath.Base(m.Filename)
	if name == "" || name == "." {
		name = m.ID
	}
	mime := m.MimeType
	if mime == "" {
		mime = "-"
	}
	location := m.StorageURL
	if location == "" {
		location = "-"
	}
	return []string{prefix + name, mime, location}
}

func (f *Formatter) writeMetadata(md *markdown.Markdown, rec *archive.Record) {
	if len(rec.Metadata) == 0 {
		return
	}
	md.H2("Metadata")
	md.PlainText("")

	keys := make([]string, 0, len(rec.Metadata))
	for k := range rec.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, truncate(fmt.Sprint(rec.Metadata[k]), 120)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Key", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func originalURL(rec *archive.Record) string {
	if rec.OriginalURL != "" {
		return rec.OriginalURL
	}
	return rec.URL
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
