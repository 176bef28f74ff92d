package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

// maxZipEntry bounds the decompressed size of a single archive member.
const maxZipEntry = 64 << 20

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip archive: %w", err)
	}
	return zr, nil
}

// readZipFile returns the contents of the member called name, or nil if absent.
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxZipEntry+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if len(data) > maxZipEntry {
			return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, maxZipEntry)
		}
		return data, nil
	}
	return nil, nil
}

// HasZipMember reports whether content is a zip archive containing name.
func HasZipMember(content []byte, name string) bool {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == name {
			return true
		}
	}
	return false
}
