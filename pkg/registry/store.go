/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/carverauto/fieldgate/pkg/models"
)

const (
	storeFileName = "devices.json"
	storeFileMode = 0o600
)

// Store persists the device record collection as a single JSON document
// keyed by shortId. Every save writes a fresh file and renames it over the
// old one, so a crash mid-write cannot corrupt previously persisted records.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, storeFileName)}
}

// Load reads the persisted records. A missing file is not an error: it
// means a first run.
func (s *Store) Load() (map[string]*models.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]*models.DeviceRecord), nil
		}

		return nil, fmt.Errorf("failed to read device store '%s': %w", s.path, err)
	}

	records := make(map[string]*models.DeviceRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse device store '%s': %w", s.path, err)
	}

	return records, nil
}

// Save rewrites the whole document with write-new-then-replace semantics.
func (s *Store) Save(records map[string]*models.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal device store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, storeFileMode); err != nil {
		return fmt.Errorf("failed to write device store '%s': %w", tmp, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace device store '%s': %w", s.path, err)
	}

	return nil
}
