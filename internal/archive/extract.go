package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"bookdrop/internal/services"
)

// DefaultMaxMemberBytes bounds the decompressed size of an extracted member.
const DefaultMaxMemberBytes = 512 << 20

// zippedFormats lists formats the mirrors serve wrapped in a zip container.
var zippedFormats = map[string]struct{}{
	"fb2": {},
	"pdf": {},
}

// NeedsExtraction reports whether the upstream artifact for format arrives
// inside a container archive.
func NeedsExtraction(format string) bool {
	_, ok := zippedFormats[strings.ToLower(strings.TrimSpace(format))]
	return ok
}

// Extractor unpacks a single wanted member from a zip archive.
type Extractor struct {
	MaxMemberBytes int64
}

// Member describes the archive entry chosen by Extract.
type Member struct {
	Name string
	Data []byte
}

// Extract returns the bytes of the first member whose name contains the
// wanted format's extension (case-insensitive). Auxiliary members are never
// read.
func (e Extractor) Extract(data []byte, format string) (Member, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Member{}, services.Wrap(services.ErrCorruptArchive, "archive", "open", "cannot read zip container", err)
	}

	wanted := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if wanted == "" {
		return Member{}, services.Wrap(services.ErrNoMatchingMember, "archive", "select", "empty format", nil)
	}

	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		if !strings.Contains(strings.ToLower(file.Name), wanted) {
			continue
		}
		payload, err := e.readMember(file)
		if err != nil {
			return Member{}, err
		}
		return Member{Name: file.Name, Data: payload}, nil
	}

	names := make([]string, 0, len(reader.File))
	for _, file := range reader.File {
		names = append(names, file.Name)
	}
	return Member{}, services.Wrap(
		services.ErrNoMatchingMember,
		"archive",
		"select",
		fmt.Sprintf("no member matches %q among [%s]", wanted, strings.Join(names, ", ")),
		nil,
	)
}

func (e Extractor) readMember(file *zip.File) ([]byte, error) {
	limit := e.MaxMemberBytes
	if limit <= 0 {
		limit = DefaultMaxMemberBytes
	}
	if file.UncompressedSize64 > uint64(limit) {
		return nil, services.Wrap(services.ErrCorruptArchive, "archive", "read",
			fmt.Sprintf("member %s declares %d bytes, limit %d", file.Name, file.UncompressedSize64, limit), nil)
	}
	rc, err := file.Open()
	if err != nil {
		return nil, services.Wrap(services.ErrCorruptArchive, "archive", "read", "open member "+file.Name, err)
	}
	defer rc.Close()

	payload, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, services.Wrap(services.ErrCorruptArchive, "archive", "read", "member "+file.Name+" is damaged", err)
	}
	if int64(len(payload)) > limit {
		return nil, services.Wrap(services.ErrCorruptArchive, "archive", "read",
			fmt.Sprintf("member %s exceeds %d bytes", file.Name, limit), nil)
	}
	return payload, nil
}

// Extract unpacks format from data with the default size limit.
func Extract(data []byte, format string) ([]byte, error) {
	member, err := Extractor{}.Extract(data, format)
	if err != nil {
		return nil, err
	}
	return member.Data, nil
}
