package tarball

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strings"
	"time"
)

// Entry — один файл архива.
type Entry struct {
	Name string
	Data []byte
	Mode int64 // 0 — 0644
}

// Build собирает детерминированный tar.gz: одинаковый вход даёт одинаковые байты.
// Возвращает архив и sha256 в hex.
func Build(entries []Entry) ([]byte, string, error) {
	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	// детерминируем gzip-заголовок
	gz.Name = ""
	gz.Comment = ""
	gz.ModTime = time.Unix(0, 0)

	tw := tar.NewWriter(gz)

	sorted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.Name = clean(e.Name)
		if e.Name == "" {
			continue
		}
		sorted = append(sorted, e)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, e := range sorted {
		mode := e.Mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Name:    e.Name,
			Mode:    mode,
			Size:    int64(len(e.Data)),
			ModTime: time.Unix(0, 0),
			Format:  tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			return nil, "", err
		}
		if _, err := tw.Write(e.Data); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			return nil, "", err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, "", err
	}
	if err := gz.Close(); err != nil {
		return nil, "", err
	}

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}

// clean: без ведущего слеша и выходов за корень архива.
func clean(name string) string {
	name = path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimLeft(name, "/")
	if name == "." {
		return ""
	}
	return name
}
