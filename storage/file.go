package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/minio/highwayhash"
	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"github.com/lumeno/docmodel/ndarray"
)

const (
	propertiesFile = "data.json"
	dataFile       = "data.bin"
	checksumFile   = "data.sum"
)

var checksumKey = []byte("0123456789ABCDEF0123456789ABCDEF")

// FileSystem stores one directory per data item under a base URL, using an
// afs service so file:// and mem:// locations behave identically. The item
// directory is YYYY/MM/DD/<session>/data_<encoded-uuid> with a JSON
// properties file, a binary array file, and a checksum of the array bytes.
type FileSystem struct {
	fs      afs.Service
	baseURL string
}

func NewFileSystem(baseURL string) *FileSystem {
	return &FileSystem{fs: afs.New(), baseURL: baseURL}
}

func (s *FileSystem) FindDataItems() ([]Handler, error) {
	ctx := context.Background()
	var handlers []Handler
	if ok, _ := s.fs.Exists(ctx, s.baseURL); !ok {
		return nil, nil
	}
	visitor := func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (bool, error) {
		if info.IsDir() || info.Name() != propertiesFile {
			return true, nil
		}
		itemURL := url.Join(baseURL, parent)
		handlers = append(handlers, &fileHandler{fs: s.fs, itemURL: itemURL})
		return true, nil
	}
	if err := s.fs.Walk(ctx, s.baseURL, visitor); err != nil {
		return nil, fmt.Errorf("storage: walk %v: %w", s.baseURL, err)
	}
	return handlers, nil
}

func (s *FileSystem) MakeStorageHandler(item ItemInfo) Handler {
	return &fileHandler{fs: s.fs, itemURL: url.Join(s.baseURL, s.itemPath(item))}
}

func (s *FileSystem) itemPath(item ItemInfo) string {
	created := item.Created().UTC()
	session := item.SessionID()
	if session == "" {
		session = created.Format("20060102-000000")
	}
	components := []string{
		created.Format("2006"),
		created.Format("01"),
		created.Format("02"),
		session,
		"data_" + EncodeUUID(item.UUID()),
	}
	return path.Join(components...)
}

type fileHandler struct {
	fs      afs.Service
	itemURL string
}

func (h *fileHandler) Reference() string { return h.itemURL }

func (h *fileHandler) ReadProperties() (map[string]any, error) {
	ctx := context.Background()
	raw, err := h.fs.DownloadWithURL(ctx, url.Join(h.itemURL, propertiesFile))
	if err != nil {
		return nil, fmt.Errorf("storage: read properties %v: %w", h.itemURL, err)
	}
	var properties map[string]any
	if err := json.Unmarshal(raw, &properties); err != nil {
		return nil, fmt.Errorf("storage: decode properties %v: %w", h.itemURL, err)
	}
	return properties, nil
}

func (h *fileHandler) ReadData() (*ndarray.NDArray, error) {
	ctx := context.Background()
	dataURL := url.Join(h.itemURL, dataFile)
	if ok, _ := h.fs.Exists(ctx, dataURL); !ok {
		return nil, nil
	}
	raw, err := h.fs.DownloadWithURL(ctx, dataURL)
	if err != nil {
		return nil, fmt.Errorf("storage: read data %v: %w", h.itemURL, err)
	}
	if sum, err := h.fs.DownloadWithURL(ctx, url.Join(h.itemURL, checksumFile)); err == nil {
		if expected := strings.TrimSpace(string(sum)); expected != checksum(raw) {
			return nil, fmt.Errorf("storage: checksum mismatch for %v", h.itemURL)
		}
	} else {
		glog.V(1).Infof("no checksum for %v", h.itemURL)
	}
	return ndarray.Deserialize(raw)
}

func (h *fileHandler) WriteProperties(properties map[string]any, _ time.Time) error {
	raw, err := json.MarshalIndent(properties, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode properties %v: %w", h.itemURL, err)
	}
	ctx := context.Background()
	if err := h.fs.Upload(ctx, url.Join(h.itemURL, propertiesFile), 0644, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("storage: write properties %v: %w", h.itemURL, err)
	}
	return nil
}

func (h *fileHandler) WriteData(data *ndarray.NDArray, _ time.Time) error {
	raw, err := data.Serialize()
	if err != nil {
		return fmt.Errorf("storage: encode data %v: %w", h.itemURL, err)
	}
	ctx := context.Background()
	if err := h.fs.Upload(ctx, url.Join(h.itemURL, dataFile), 0644, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("storage: write data %v: %w", h.itemURL, err)
	}
	if err := h.fs.Upload(ctx, url.Join(h.itemURL, checksumFile), 0644, strings.NewReader(checksum(raw))); err != nil {
		return fmt.Errorf("storage: write checksum %v: %w", h.itemURL, err)
	}
	return nil
}

func (h *fileHandler) Remove() error {
	ctx := context.Background()
	if err := h.fs.Delete(ctx, h.itemURL); err != nil {
		return fmt.Errorf("storage: remove %v: %w", h.itemURL, err)
	}
	return nil
}

func checksum(data []byte) string {
	hash, err := highwayhash.New64(checksumKey)
	if err != nil {
		return ""
	}
	hash.Write(data)
	return hex.EncodeToString(hash.Sum(nil))
}
