// Package books defines the catalog vocabulary shared by the delivery
// pipeline: artifact formats and book metadata.
package books

import (
	"fmt"
	"strings"

	"bookdrop/internal/services"
	"bookdrop/internal/textutil"
)

// Format is a deliverable artifact format.
type Format string

const (
	FormatFB2  Format = "fb2"
	FormatEPUB Format = "epub"
	FormatMOBI Format = "mobi"
	FormatDJVU Format = "djvu"
	FormatPDF  Format = "pdf"
	FormatDOC  Format = "doc"
)

// Formats lists every supported format in display order.
var Formats = []Format{FormatFB2, FormatEPUB, FormatMOBI, FormatDJVU, FormatPDF, FormatDOC}

// ParseFormat validates a user-supplied format name.
func ParseFormat(raw string) (Format, error) {
	candidate := Format(strings.ToLower(strings.TrimSpace(raw)))
	for _, f := range Formats {
		if f == candidate {
			return f, nil
		}
	}
	return "", services.Wrap(services.ErrValidation, "books", "parse format", fmt.Sprintf("unsupported format %q", raw), nil)
}

// ServedDirectly reports whether mirrors expose the format under its own
// path segment rather than the generic download path.
func (f Format) ServedDirectly() bool {
	switch f {
	case FormatFB2, FormatEPUB, FormatMOBI:
		return true
	default:
		return false
	}
}

func (f Format) String() string { return string(f) }

// Author is a catalog author record.
type Author struct {
	ID         int64  `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	MiddleName string `json:"middle_name"`
}

// ShortName renders "Last F M".
func (a Author) ShortName() string {
	return textutil.AuthorShortName(a.LastName, a.FirstName, a.MiddleName)
}

// FullName renders "Last First Middle".
func (a Author) FullName() string {
	return textutil.AuthorFullName(a.LastName, a.FirstName, a.MiddleName)
}

// Book is the catalog metadata needed to name and caption a delivery.
type Book struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Lang     string   `json:"lang"`
	FileType string   `json:"file_type"`
	Authors  []Author `json:"authors"`
}

// FileName returns the normalized deliverable name for the book in format.
func (b Book) FileName(format Format) string {
	shorts := make([]string, 0, len(b.Authors))
	for _, a := range b.Authors {
		shorts = append(shorts, a.ShortName())
	}
	return textutil.NormalizeFileName(b.Title, shorts, string(format))
}

// Caption is the text attached to a delivered document.
func (b Book) Caption() string {
	var sb strings.Builder
	sb.WriteString(b.Title)
	for _, a := range b.Authors {
		if name := a.FullName(); name != "" {
			sb.WriteByte('\n')
			sb.WriteString(name)
		}
	}
	return sb.String()
}
