package index

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Layout selects the shape of the Markdown rendering.
type Layout int

const (
	LayoutTable Layout = iota
	LayoutList
)

// ParseLayout converts "table" or "list" into a Layout.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return LayoutTable, nil
	case "list":
		return LayoutList, nil
	}
	return LayoutTable, fmt.Errorf("unknown layout %q", s)
}

func (l Layout) String() string {
	if l == LayoutList {
		return "list"
	}
	return "table"
}

// RenderOptions controls Render.
type RenderOptions struct {
	Repo      string // repository identity, e.g. "owner/name"
	Algorithm string // bucket name, also used as the checksum column title
	Layout    Layout

	// LocalNames adds the LocalName of each record to the output.
	LocalNames bool

	// AssetURL returns the address of an asset. If nil, a GitHub release
	// download URL built from Repo is used.
	AssetURL func(bucket, name string) string
}

// GitHubAssetURL returns the download address of a GitHub release asset.
func GitHubAssetURL(repo, tag, name string) string {
	return "https://github.com/" + repo + "/releases/download/" + tag + "/" + name
}

func (o *RenderOptions) url(checksum string) string {
	if o.AssetURL != nil {
		return o.AssetURL(o.Algorithm, checksum)
	}
	return GitHubAssetURL(o.Repo, o.Algorithm, checksum)
}

// Render writes a human readable Markdown document listing the records.
// The output is for people only and is never read back.
func Render(w io.Writer, records []Record, opts RenderOptions) error {
	bw := bufio.NewWriter(w)
	if opts.Layout == LayoutList {
		renderList(bw, records, &opts)
	} else {
		renderTable(bw, records, &opts)
	}
	return bw.Flush()
}

func renderTable(w *bufio.Writer, records []Record, opts *RenderOptions) {
	if opts.LocalNames {
		w.WriteString("| LocalName | FileName | FileDate | " + opts.Algorithm + " |\n")
		w.WriteString("|-----------|----------|----------|-------------|\n")
	} else {
		w.WriteString("| FileName | FileDate | " + opts.Algorithm + " |\n")
		w.WriteString("|----------|----------|-------------|\n")
	}
	for i := range records {
		r := &records[i]
		w.WriteString("| ")
		if opts.LocalNames {
			w.WriteString(r.LocalName + " | ")
		}
		fmt.Fprintf(w, "[%s](%s) | %s | %s |\n", r.Name, opts.url(r.Checksum), dateText(r), r.Checksum)
	}
}

func renderList(w *bufio.Writer, records []Record, opts *RenderOptions) {
	for i := range records {
		r := &records[i]
		fmt.Fprintf(w, "- [%s](%s)\n", r.Name, opts.url(r.Checksum))
		if opts.LocalNames {
			fmt.Fprintf(w, "  - LocalName: %s\n", r.LocalName)
		}
		if r.Date != nil {
			fmt.Fprintf(w, "  - FileDate: %s\n", dateText(r))
		}
		fmt.Fprintf(w, "  - %s: %s\n", opts.Algorithm, r.Checksum)
	}
}

func dateText(r *Record) string {
	if r.Date == nil {
		return ""
	}
	return FormatDate(*r.Date)
}
