// Package playback streams local video files to the review UI's
// players over HTTP with Range support, so seeking never loads a
// whole file.
package playback

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/syncview/syncview-agent/internal/logging"
)

type Service interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logging.WithComponent(logger, "playback")}
}

// ServeFile streams one local file, honoring a single-span Range
// header. Malformed Range headers fall back to the whole file;
// unsatisfiable ones get a 416. HEAD requests send headers only.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	size := stat.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", videoContentType(filePath))

	span, err := ParseRange(r.Header.Get("Range"), size)
	if err == ErrUnsatisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	if span == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err = io.Copy(w, file)
		return err
	}

	w.Header().Set("Content-Length", fmt.Sprintf("%d", span.ContentLength()))
	w.Header().Set("Content-Range", span.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := file.Seek(span.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	_, err = io.CopyN(w, file, span.ContentLength())
	return err
}

// videoContentType resolves the containers review footage actually
// ships in; the system mime table misses matroska on some platforms.
func videoContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	case ".webm":
		return "video/webm"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
