// Package media stores uploaded attachments on local disk (gzip-compressed)
// and serves them back. Messages reference uploads by URL only.
package media

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

var (
	ErrBlockedType     = errors.New("file type not allowed")
	ErrContentMismatch = errors.New("file content does not match type")
	ErrNotFound        = errors.New("file not found")
)

// Блокируем только опасные расширения (исполняемые/скрипты). Остальные — разрешены.
var BlockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

// URLPrefix is the public path uploads are served under.
const URLPrefix = "/api/media/"

// Upload describes a stored file. Type is the message type a client should
// send the URL with.
type Upload struct {
	URL         string            `json:"url"`
	FileName    string            `json:"fileName"`
	FileSize    int64             `json:"fileSize"`
	ContentType string            `json:"contentType"`
	Type        model.MessageType `json:"type"`
}

type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// Save checks the extension and magic bytes, then writes src gzip-compressed
// under a fresh random name.
func (s *Store) Save(ctx context.Context, filename string, size int64, src io.Reader) (*Upload, error) {
	// В ряде клиентов/прокси пробел в имени кодируется как "+".
	rawFilename := strings.ReplaceAll(filename, "+", " ")
	ext := strings.ToLower(filepath.Ext(rawFilename))
	if BlockedExt[ext] {
		return nil, ErrBlockedType
	}

	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(src, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return nil, ErrContentMismatch
	}

	newName := uuid.NewString() + ext
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("media.Save mkdir: %w", err)
	}
	dstPath := filepath.Join(s.dir, newName+".gz")
	if err := writeGzip(ctx, dstPath, io.MultiReader(bytes.NewReader(head), src)); err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("media.Save: %w", err)
	}

	// Имя для отображения: только базовая часть без пути, безопасные символы.
	displayName := safeFilename(filepath.Base(rawFilename))
	if displayName == "" || displayName == "." {
		displayName = newName
	}
	logger.Debugf("media: stored %s (%d bytes) as %s", displayName, size, newName)
	return &Upload{
		URL:         URLPrefix + newName,
		FileName:    displayName,
		FileSize:    size,
		ContentType: contentTypeByExt(ext),
		Type:        TypeForExt(ext),
	}, nil
}

func writeGzip(ctx context.Context, path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(dst)
	if err := copyWithContext(ctx, gz, src); err != nil {
		gz.Close()
		dst.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// Open returns the decompressed content of a stored file and its content type.
func (s *Store) Open(name string) (io.ReadCloser, string, error) {
	name = filepath.Base(name)
	ct := contentTypeByExt(filepath.Ext(name))
	f, err := os.Open(filepath.Join(s.dir, name+".gz"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("media.Open: %w", err)
	}
	return &gzipFile{Reader: gz, f: f}, ct, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.f.Close()
}

// TypeForExt suggests the message type for an attachment extension.
func TypeForExt(ext string) model.MessageType {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic":
		return model.MessageTypeImage
	case ".mp4", ".mov", ".webm":
		return model.MessageTypeVideo
	case ".mp3", ".m4a", ".ogg", ".wav", ".aac":
		return model.MessageTypeAudio
	}
	return model.MessageTypeDoc
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp", ".wav":
		return len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF"))
	case ".heic", ".mp4", ".mov", ".m4a":
		return len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp"))
	case ".pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	case ".docx":
		return len(head) >= 4 && head[0] == 0x50 && head[1] == 0x4B && (head[2] == 0x03 || head[2] == 0x05) && head[3] == 0x04
	}
	return true
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	}
	return "application/octet-stream"
}

// safeFilename оставляет имя файла безопасным для Content-Disposition (без управляющих символов и кавычек).
func safeFilename(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("upload cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
}
