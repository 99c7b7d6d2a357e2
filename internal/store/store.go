// Package store provides launch-history persistence and retrieval.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/factudesk/factudesk/pkg/models"
)

// Store defines the interface for launch journaling.
type Store interface {
	Save(launch *models.Launch) error
	Get(id string) (*models.Launch, error)
	List(filter ListFilter) ([]*models.Launch, error)
	Delete(id string) error
	Prune(keep int) error
	Close() error
}

// ListFilter defines criteria for listing launches.
type ListFilter struct {
	State  []models.LaunchState
	Limit  int
	Offset int
}

// FileStore implements Store using a JSON file for persistence.
type FileStore struct {
	path     string
	launches map[string]*models.Launch
	mu       sync.RWMutex
	dirty    bool
	closeCh  chan struct{}
}

// NewFileStore creates a new file-based store.
func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	fs := &FileStore{
		path:     path,
		launches: make(map[string]*models.Launch),
		closeCh:  make(chan struct{}),
	}

	if err := fs.load(); err != nil {
		return nil, err
	}

	// Start background saver
	go fs.backgroundSaver()

	return fs, nil
}

func (fs *FileStore) load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var launches map[string]*models.Launch
	if err := json.Unmarshal(data, &launches); err != nil {
		return fmt.Errorf("failed to parse store file: %w", err)
	}

	fs.launches = launches
	return nil
}

func (fs *FileStore) save() error {
	fs.mu.RLock()
	data, err := json.MarshalIndent(fs.launches, "", "  ")
	fs.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("failed to marshal launches: %w", err)
	}

	tmpPath := fs.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, fs.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (fs *FileStore) backgroundSaver() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fs.mu.RLock()
			dirty := fs.dirty
			fs.mu.RUnlock()

			if dirty {
				if err := fs.save(); err == nil {
					fs.mu.Lock()
					fs.dirty = false
					fs.mu.Unlock()
				}
			}
		case <-fs.closeCh:
			fs.save()
			return
		}
	}
}

// Save stores or updates a launch record. The record is copied on the way in:
// callers keep mutating their launch between saves, and the background saver
// must marshal a stable snapshot.
func (fs *FileStore) Save(launch *models.Launch) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.launches[launch.ID] = launch.Clone()
	fs.dirty = true

	return nil
}

// Get retrieves a copy of a launch by ID.
func (fs *FileStore) Get(id string) (*models.Launch, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	launch, exists := fs.launches[id]
	if !exists {
		return nil, fmt.Errorf("launch not found: %s", id)
	}

	return launch.Clone(), nil
}

// List retrieves copies of launches matching the filter, newest first.
func (fs *FileStore) List(filter ListFilter) ([]*models.Launch, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var result []*models.Launch

	for _, launch := range fs.launches {
		if fs.matchesFilter(launch, filter) {
			result = append(result, launch.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	// Apply offset and limit
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*models.Launch{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

func (fs *FileStore) matchesFilter(launch *models.Launch, filter ListFilter) bool {
	if len(filter.State) == 0 {
		return true
	}
	for _, s := range filter.State {
		if launch.State == s {
			return true
		}
	}
	return false
}

// Delete removes a launch by ID.
func (fs *FileStore) Delete(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.launches[id]; !exists {
		return fmt.Errorf("launch not found: %s", id)
	}

	delete(fs.launches, id)
	fs.dirty = true

	return nil
}

// Prune keeps only the newest keep launches and drops the rest.
func (fs *FileStore) Prune(keep int) error {
	if keep <= 0 {
		return nil
	}

	all, err := fs.List(ListFilter{})
	if err != nil {
		return err
	}
	if len(all) <= keep {
		return nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, launch := range all[keep:] {
		delete(fs.launches, launch.ID)
	}
	fs.dirty = true

	return nil
}

// Close stops the background saver and performs final save.
func (fs *FileStore) Close() error {
	close(fs.closeCh)
	return nil
}

// ForceSave immediately persists all launches to disk.
func (fs *FileStore) ForceSave() error {
	fs.mu.Lock()
	fs.dirty = false
	fs.mu.Unlock()
	return fs.save()
}
