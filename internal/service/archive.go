package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joeblew999/plat-tiles/internal/pmtiles"
)

// ArchiveExt is the file extension of tile archives.
const ArchiveExt = ".pmtiles"

// ErrArchiveNotFound is returned for an archive name that does not resolve
// to a file in the archive directory.
var ErrArchiveNotFound = errors.New("archive not found")

// ArchiveService lists PMTiles archives written by the seeder and reads
// single tiles out of them.
type ArchiveService struct {
	dir     string
	readers *lru.Cache[string, *pmtiles.Reader]
	log     *slog.Logger
}

func NewArchiveService(dir string, log *slog.Logger) *ArchiveService {
	c, _ := lru.New[string, *pmtiles.Reader](32)
	return &ArchiveService{dir: dir, readers: c, log: log}
}

// Dir returns the archive directory.
func (s *ArchiveService) Dir() string { return s.dir }

// Path resolves an archive name inside the directory.
func (s *ArchiveService) Path(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || name == "" {
		return "", fmt.Errorf("%w: %q", ErrArchiveNotFound, name)
	}
	if filepath.Ext(name) != ArchiveExt {
		name += ArchiveExt
	}
	return filepath.Join(s.dir, name), nil
}

// List returns all archives, sorted by name. A missing directory is empty.
func (s *ArchiveService) List() ([]ArchiveFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ArchiveFile{}, nil
		}
		return nil, err
	}

	files := []ArchiveFile{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ArchiveExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, s.describe(filepath.Join(s.dir, entry.Name()), info))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Info describes one archive.
func (s *ArchiveService) Info(name string) (ArchiveFile, error) {
	path, err := s.Path(name)
	if err != nil {
		return ArchiveFile{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return ArchiveFile{}, fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
	}
	return s.describe(path, info), nil
}

func (s *ArchiveService) describe(path string, info os.FileInfo) ArchiveFile {
	af := ArchiveFile{
		Name:  info.Name(),
		Size:  formatSize(info.Size()),
		Bytes: info.Size(),
	}
	if r, err := s.reader(path, info); err == nil {
		h := r.Header()
		af.MinZoom, af.MaxZoom, af.Tiles = h.MinZoom, h.MaxZoom, h.AddressedTilesCount
	} else {
		s.log.Warn("unreadable archive", "archive", info.Name(), "err", err)
	}
	return af
}

// Tile returns the stored bytes of z/x/y and their compression. ok is false
// when the archive holds no such tile.
func (s *ArchiveService) Tile(name string, z uint8, x, y uint32) (data []byte, c pmtiles.Compression, ok bool, err error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, 0, false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
	}
	r, err := s.reader(path, info)
	if err != nil {
		return nil, 0, false, err
	}
	data, ok, err = r.Tile(z, x, y)
	return data, r.Header().TileCompression, ok, err
}

// reader returns a parsed archive, keyed by path and modification time so
// a rewritten archive is parsed again.
func (s *ArchiveService) reader(path string, info os.FileInfo) (*pmtiles.Reader, error) {
	key := fmt.Sprintf("%s@%d:%d", path, info.ModTime().UnixNano(), info.Size())
	if r, ok := s.readers.Get(key); ok {
		return r, nil
	}
	r, err := pmtiles.Open(fileAt(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	s.readers.Add(key, r)
	return r, nil
}

// fileAt opens the file for every read, so cached readers hold no
// descriptors.
type fileAt string

func (p fileAt) ReadAt(b []byte, off int64) (int, error) {
	f, err := os.Open(string(p))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.ReadAt(b, off)
	if err == io.EOF && n == len(b) {
		err = nil
	}
	return n, err
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
