// Package profiles persists saved connections as a YAML list keyed by id.
// Writes are last-write-wins; there is no locking between processes.
package profiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	"github.com/houzin/scp-explorer/internal/events"
	"github.com/houzin/scp-explorer/internal/remote"
)

// ErrNotFound is returned when no saved connection has the given id or name.
var ErrNotFound = errors.New("saved connection not found")

// Connection is one saved connection. Port is kept as text, the way the
// panel sends it.
type Connection struct {
	ID             string `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	Host           string `yaml:"host" json:"host"`
	Port           string `yaml:"port,omitempty" json:"port"`
	Username       string `yaml:"username" json:"username"`
	AuthType       string `yaml:"authType" json:"authType"`
	Password       string `yaml:"password,omitempty" json:"password,omitempty"`
	PrivateKeyPath string `yaml:"privateKeyPath,omitempty" json:"privateKeyPath,omitempty"`
	Passphrase     string `yaml:"passphrase,omitempty" json:"passphrase,omitempty"`
	ClientType     string `yaml:"clientType,omitempty" json:"clientType,omitempty"`
}

// RemoteConfig converts the saved fields into a connection config.
func (c Connection) RemoteConfig() (remote.Config, error) {
	rc := remote.Config{
		Host:           c.Host,
		Username:       c.Username,
		AuthType:       remote.AuthMethod(c.AuthType),
		Password:       c.Password,
		PrivateKeyPath: c.PrivateKeyPath,
		Passphrase:     c.Passphrase,
	}
	if p := strings.TrimSpace(c.Port); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return rc, remote.ConfigErrorf("Invalid port: %s", c.Port)
		}
		rc.Port = n
	}
	if c.ClientType != "" {
		kind, err := remote.ParseClientType(c.ClientType)
		if err != nil {
			return rc, err
		}
		rc.ClientType = kind
	}
	return rc, nil
}

type document struct {
	Connections []Connection `yaml:"connections"`
}

// Store reads and writes the saved connection file.
type Store struct {
	path string
	bus  *events.EventBus

	mu sync.Mutex
}

// NewStore returns a store backed by path. bus may be nil.
func NewStore(path string, bus *events.EventBus) *Store {
	return &Store{path: path, bus: bus}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// List returns every saved connection in file order.
func (s *Store) List() ([]Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Connections, nil
}

// Find returns the connection whose id or name matches key.
func (s *Store) Find(key string) (Connection, error) {
	conns, err := s.List()
	if err != nil {
		return Connection{}, err
	}
	for _, c := range conns {
		if c.ID == key {
			return c, nil
		}
	}
	for _, c := range conns {
		if strings.EqualFold(c.Name, key) {
			return c, nil
		}
	}
	return Connection{}, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Add appends c, assigning an id when it has none.
func (s *Store) Add(c Connection) (Connection, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := s.mutate(func(doc *document) error {
		doc.Connections = append(doc.Connections, c)
		return nil
	})
	return c, err
}

// Update replaces the connection with the same id.
func (s *Store) Update(c Connection) error {
	return s.mutate(func(doc *document) error {
		for i := range doc.Connections {
			if doc.Connections[i].ID == c.ID {
				doc.Connections[i] = c
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	})
}

// Delete removes the connection with id. Deleting a missing id is not an error.
func (s *Store) Delete(id string) error {
	return s.mutate(func(doc *document) error {
		kept := doc.Connections[:0]
		for _, c := range doc.Connections {
			if c.ID != id {
				kept = append(kept, c)
			}
		}
		doc.Connections = kept
		return nil
	})
}

func (s *Store) mutate(fn func(*document) error) error {
	s.mu.Lock()
	doc, err := s.load()
	if err == nil {
		err = fn(&doc)
	}
	if err == nil {
		err = s.save(doc)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(&events.ProfilesChangedEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventProfilesChanged, Time: now()},
			Count:     len(doc.Connections),
			Source:    "store",
		})
	}
	return nil
}

func (s *Store) load() (document, error) {
	var doc document
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("failed to read saved connections: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to parse saved connections: %w", err)
	}
	return doc, nil
}

func (s *Store) save(doc document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode saved connections: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Passwords may be stored, so the file stays private to the owner.
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write saved connections: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save connections: %w", err)
	}
	return nil
}
