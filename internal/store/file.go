package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	cerrors "github.com/tommygoverstreet/smart-spreadsheet2025/pkg/errors"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/utils"
)

const defaultFileDirectory = "./.sheetcache"

// FileConfig configures the directory-backed store.
type FileConfig struct {
	Directory string `yaml:"directory"`
	// MaxSize bounds the bytes on disk per collection; 0 disables the bound.
	MaxSize      int64         `yaml:"max_size"`
	Compression  bool          `yaml:"compression"`
	IndexFile    string        `yaml:"index_file"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// FileStore keeps one directory per collection and one JSON file per record.
// Each collection has an index file holding the timestamp and access time of every
// record, which serves as the secondary index for Keys.
type FileStore struct {
	mu          sync.RWMutex
	directory   string
	config      *FileConfig
	collections map[string]*fileCollection
	logger      *utils.StructuredLogger

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

type fileCollection struct {
	dir         string
	index       map[string]*fileItem
	currentSize int64
	dirty       bool
}

// fileItem is the index entry for one record.
type fileItem struct {
	Key        string    `json:"key"`
	FileName   string    `json:"file_name"`
	Size       int64     `json:"size"`
	Timestamp  time.Time `json:"timestamp"`
	AccessTime time.Time `json:"access_time"`
	Compressed bool      `json:"compressed"`
	Checksum   string    `json:"checksum"`
}

// NewFileStore creates the store directory and starts the index sync loop.
func NewFileStore(config *FileConfig, logger *utils.StructuredLogger) (*FileStore, error) {
	if config == nil {
		config = &FileConfig{}
	}
	cfg := *config
	if cfg.Directory == "" {
		cfg.Directory = defaultFileDirectory
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.json"
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Minute
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	if err := os.MkdirAll(cfg.Directory, 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{
		directory:   cfg.Directory,
		config:      &cfg,
		collections: make(map[string]*fileCollection),
		logger:      logger.WithComponent("store.file"),
		stopCh:      make(chan struct{}),
	}

	s.mu.Lock()
	for _, name := range Collections {
		if _, err := s.collection(name); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.syncLoop()

	return s, nil
}

// Put writes the record and replaces any previous version.
func (s *FileStore) Put(ctx context.Context, collection string, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return cerrors.NewError(cerrors.ErrCodeValidationFailed, "nil record")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeStoreWrite, "failed to encode record").
			WithComponent("store.file").WithOperation("put")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedError("store.file")
	}

	c, err := s.collection(collection)
	if err != nil {
		return err
	}

	item := &fileItem{
		Key:        rec.Key,
		FileName:   fileName(rec.Key),
		Timestamp:  rec.Timestamp,
		AccessTime: rec.LastAccessed,
		Compressed: s.config.Compression,
		Checksum:   checksum(data),
	}
	if item.AccessTime.IsZero() {
		item.AccessTime = rec.Timestamp
	}

	size, err := s.writeFile(filepath.Join(c.dir, item.FileName), data, item.Compressed)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeStoreWrite, "failed to write record").
			WithComponent("store.file").WithOperation("put").WithContext("key", rec.Key)
	}
	item.Size = size

	if old, ok := c.index[rec.Key]; ok {
		c.currentSize -= old.Size
	}
	c.index[rec.Key] = item
	c.currentSize += size
	c.dirty = true

	s.evictIfNeeded(c)
	return nil
}

// Get reads a record. A missing or corrupt file is dropped from the index.
func (s *FileStore) Get(ctx context.Context, collection, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, closedError("store.file")
	}
	c, ok := s.collections[collection]
	var item fileItem
	var dir string
	if ok {
		var it *fileItem
		it, ok = c.index[key]
		if ok {
			item = *it
			dir = c.dir
		}
	}
	s.mu.RUnlock()

	if !ok {
		if err := validateCollection(collection); err != nil {
			return nil, err
		}
		return nil, nil
	}

	data, err := s.readFile(filepath.Join(dir, item.FileName), item.Compressed)
	if err == nil && checksum(data) != item.Checksum {
		err = fmt.Errorf("checksum mismatch")
	}
	var rec Record
	if err == nil {
		err = json.Unmarshal(data, &rec)
	}
	if err != nil {
		s.mu.Lock()
		s.dropItem(c, key)
		s.mu.Unlock()
		return nil, cerrors.Wrap(err, cerrors.ErrCodeStoreCorrupt, "unreadable record").
			WithComponent("store.file").WithOperation("get").WithContext("key", key)
	}

	if item.AccessTime.After(rec.LastAccessed) {
		rec.LastAccessed = item.AccessTime
	}
	return &rec, nil
}

// Delete removes a record; deleting an absent key is not an error.
func (s *FileStore) Delete(ctx context.Context, collection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedError("store.file")
	}

	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	s.dropItem(c, key)
	return nil
}

// Clear removes every record in the collection.
func (s *FileStore) Clear(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedError("store.file")
	}

	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	for key := range c.index {
		s.dropItem(c, key)
	}
	return s.saveIndex(c)
}

// Touch records an access time in the index without rewriting the record.
func (s *FileStore) Touch(ctx context.Context, collection, key string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedError("store.file")
	}

	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if item, ok := c.index[key]; ok {
		item.AccessTime = at
		c.dirty = true
	}
	return nil
}

// Keys returns keys ordered by the selected index, oldest first.
func (s *FileStore) Keys(ctx context.Context, collection string, q Query) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, closedError("store.file")
	}

	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	type keyed struct {
		key string
		at  time.Time
	}
	items := make([]keyed, 0, len(c.index))
	for key, item := range c.index {
		at := item.Timestamp
		if q.By == ByAccess {
			at = item.AccessTime
		}
		if !q.Before.IsZero() && !at.Before(q.Before) {
			continue
		}
		items = append(items, keyed{key: key, at: at})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].at.Equal(items[j].at) {
			return items[i].key < items[j].key
		}
		return items[i].at.Before(items[j].at)
	})

	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.key
	}
	return keys, nil
}

// Ping checks that the store directory is writable.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := os.CreateTemp(s.directory, ".ping-*")
	if err != nil {
		return fmt.Errorf("store directory not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// Close stops the sync loop and writes every dirty index.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncAll()
}

// collection returns the named collection, loading its index on first use.
// Callers hold s.mu for writing.
func (s *FileStore) collection(name string) (*fileCollection, error) {
	if c, ok := s.collections[name]; ok {
		return c, nil
	}
	if err := validateCollection(name); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.directory, name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create collection directory: %w", err)
	}

	c := &fileCollection{dir: dir, index: make(map[string]*fileItem)}
	savedAt, err := s.loadIndex(c)
	if err != nil {
		s.logger.Warn("discarding unreadable collection index", map[string]interface{}{
			"collection": name,
			"error":      err,
		})
		c.index = make(map[string]*fileItem)
		c.currentSize = 0
		savedAt = time.Time{}
	}
	if n := s.recoverRecords(c, savedAt); n > 0 {
		s.logger.Info("recovered records missing from collection index", map[string]interface{}{
			"collection": name,
			"count":      n,
		})
	}
	s.collections[name] = c
	return c, nil
}

func (s *FileStore) dropItem(c *fileCollection, key string) {
	item, ok := c.index[key]
	if !ok {
		return
	}
	_ = os.Remove(filepath.Join(c.dir, item.FileName))
	delete(c.index, key)
	c.currentSize -= item.Size
	c.dirty = true
}

func (s *FileStore) evictIfNeeded(c *fileCollection) {
	if s.config.MaxSize <= 0 {
		return
	}
	for c.currentSize > s.config.MaxSize && len(c.index) > 0 {
		var oldestKey string
		var oldestTime time.Time
		first := true
		for key, item := range c.index {
			if first || item.AccessTime.Before(oldestTime) {
				oldestKey = key
				oldestTime = item.AccessTime
				first = false
			}
		}
		s.logger.Debug("evicting record over size bound", map[string]interface{}{
			"dir": c.dir,
			"key": oldestKey,
		})
		s.dropItem(c, oldestKey)
	}
}

func (s *FileStore) writeFile(path string, data []byte, compress bool) (int64, error) {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}

	var werr error
	if compress {
		gz := gzip.NewWriter(file)
		_, werr = gz.Write(data)
		if cerr := gz.Close(); werr == nil {
			werr = cerr
		}
	} else {
		_, werr = file.Write(data)
	}
	if cerr := file.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmpPath)
		return 0, werr
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if stat, err := os.Stat(path); err == nil {
		return stat.Size(), nil
	}
	return int64(len(data)), nil
}

func (s *FileStore) readFile(path string, compressed bool) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var reader io.Reader = file
	if compressed {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}
	return io.ReadAll(reader)
}

func (s *FileStore) indexPath(c *fileCollection) (string, error) {
	indexPath := filepath.Join(c.dir, s.config.IndexFile)
	if !strings.HasPrefix(filepath.Clean(indexPath), filepath.Clean(c.dir)) {
		return "", fmt.Errorf("invalid index file path: %s", indexPath)
	}
	return indexPath, nil
}

// loadIndex reads the saved index and returns the time it was written.
func (s *FileStore) loadIndex(c *fileCollection) (time.Time, error) {
	indexPath, err := s.indexPath(c)
	if err != nil {
		return time.Time{}, err
	}

	file, err := os.Open(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return time.Time{}, err
	}

	var items map[string]*fileItem
	if err := json.NewDecoder(file).Decode(&items); err != nil {
		return time.Time{}, err
	}

	for key, item := range items {
		if _, err := os.Stat(filepath.Join(c.dir, item.FileName)); os.IsNotExist(err) {
			continue
		}
		c.index[key] = item
		c.currentSize += item.Size
	}
	return info.ModTime(), nil
}

// recoverRecords indexes record files written at or after savedAt. These are
// records put after the last index save by a process that did not close the store.
func (s *FileStore) recoverRecords(c *fileCollection, savedAt time.Time) int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}

	recovered := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rec" {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().Before(savedAt) {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())
		item, err := s.readItem(path, info.Size())
		if err != nil || item.FileName != entry.Name() {
			s.logger.Warn("removing unreadable record file", map[string]interface{}{
				"file":  path,
				"error": err,
			})
			_ = os.Remove(path)
			continue
		}

		if old, ok := c.index[item.Key]; ok {
			if old.Checksum == item.Checksum {
				continue
			}
			if old.AccessTime.After(item.AccessTime) {
				item.AccessTime = old.AccessTime
			}
			c.currentSize -= old.Size
		}
		c.index[item.Key] = item
		c.currentSize += item.Size
		c.dirty = true
		recovered++
	}
	return recovered
}

// readItem rebuilds the index entry for a record file.
func (s *FileStore) readItem(path string, size int64) (*fileItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	compressed := len(raw) > 1 && raw[0] == 0x1f && raw[1] == 0x8b
	data := raw
	if compressed {
		if data, err = s.readFile(path, true); err != nil {
			return nil, err
		}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	item := &fileItem{
		Key:        rec.Key,
		FileName:   fileName(rec.Key),
		Size:       size,
		Timestamp:  rec.Timestamp,
		AccessTime: rec.LastAccessed,
		Compressed: compressed,
		Checksum:   checksum(data),
	}
	if item.AccessTime.IsZero() {
		item.AccessTime = rec.Timestamp
	}
	return item, nil
}

func (s *FileStore) saveIndex(c *fileCollection) error {
	indexPath, err := s.indexPath(c)
	if err != nil {
		return err
	}

	tmpPath := indexPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(file).Encode(c.index); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, indexPath); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

func (s *FileStore) syncAll() error {
	var firstErr error
	for name, c := range s.collections {
		if !c.dirty {
			continue
		}
		if err := s.saveIndex(c); err != nil {
			s.logger.Warn("failed to sync collection index", map[string]interface{}{
				"collection": name,
				"error":      err,
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *FileStore) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = s.syncAll()
			s.mu.Unlock()
		}
	}
}

func fileName(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x.rec", hash[:16])
}

func checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
