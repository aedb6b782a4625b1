// Package places keeps the user's saved navigation destinations.
//
// Destinations live in the store's key-value preferences: the key
// "destination_names" holds a JSON array of names, and each name has
// "<name>_lat" and "<name>_lon" keys with its coordinates.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/projectech/VoiceGuide/internal/models"
)

// NamesKey is the preference key holding the JSON set of destination names.
const NamesKey = "destination_names"

var (
	// ErrInvalidName is returned for empty or over-long destination names.
	ErrInvalidName = errors.New("invalid destination name")
	// ErrInvalidCoordinates is returned for unparsable or out-of-range coordinates.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// KV is the subset of the store used for destinations.
type KV interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValues(ctx context.Context, values map[string]string) error
	DeleteValues(ctx context.Context, keys ...string) error
}

// Store reads and writes saved destinations. It is safe for concurrent use.
type Store struct {
	kv KV
	mu sync.Mutex // serialises read-modify-write of the name set
}

// NewStore returns a destination store backed by kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

func latKey(name string) string { return name + "_lat" }
func lonKey(name string) string { return name + "_lon" }

// normalizeName trims and lower-cases a destination name.
func normalizeName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" || len(n) > models.MaxDestinationNameLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return n, nil
}

// ListNames returns the saved destination names in sorted order.
func (s *Store) ListNames(ctx context.Context) ([]string, error) {
	names, err := s.names(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) names(ctx context.Context) ([]string, error) {
	raw, ok, err := s.kv.GetValue(ctx, NamesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read destination names: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		slog.Error("Store.names: corrupt destination list", "error", err)
		return nil, fmt.Errorf("failed to decode destination names: %w", err)
	}
	return names, nil
}

// Get returns the coordinates saved under name. found is false when the name
// is unknown or either coordinate is missing.
func (s *Store) Get(ctx context.Context, name string) (models.Coordinates, bool, error) {
	n, err := normalizeName(name)
	if err != nil {
		return models.Coordinates{}, false, nil
	}
	lat, okLat, err := s.kv.GetValue(ctx, latKey(n))
	if err != nil {
		return models.Coordinates{}, false, fmt.Errorf("failed to read latitude for %s: %w", n, err)
	}
	lon, okLon, err := s.kv.GetValue(ctx, lonKey(n))
	if err != nil {
		return models.Coordinates{}, false, fmt.Errorf("failed to read longitude for %s: %w", n, err)
	}
	if !okLat || !okLon {
		slog.Debug("Store.Get: coordinates missing", "name", n)
		return models.Coordinates{}, false, nil
	}

	var c models.Coordinates
	if c.Latitude, err = strconv.ParseFloat(lat, 64); err != nil {
		return models.Coordinates{}, false, fmt.Errorf("%w: latitude %q for %s", ErrInvalidCoordinates, lat, n)
	}
	if c.Longitude, err = strconv.ParseFloat(lon, 64); err != nil {
		return models.Coordinates{}, false, fmt.Errorf("%w: longitude %q for %s", ErrInvalidCoordinates, lon, n)
	}
	return c, true, nil
}

// Put saves or replaces a destination.
func (s *Store) Put(ctx context.Context, name string, at models.Coordinates) error {
	n, err := normalizeName(name)
	if err != nil {
		return err
	}
	if err := at.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.names(ctx)
	if err != nil {
		return err
	}
	if !contains(names, n) {
		names = append(names, n)
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to encode destination names: %w", err)
	}

	err = s.kv.SetValues(ctx, map[string]string{
		NamesKey:  string(encoded),
		latKey(n): strconv.FormatFloat(at.Latitude, 'f', -1, 64),
		lonKey(n): strconv.FormatFloat(at.Longitude, 'f', -1, 64),
	})
	if err != nil {
		return fmt.Errorf("failed to save destination %s: %w", n, err)
	}
	slog.Info("Store.Put: destination saved", "name", n)
	return nil
}

// Remove deletes a destination. Removing an unknown name is not an error.
func (s *Store) Remove(ctx context.Context, name string) error {
	n, err := normalizeName(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.names(ctx)
	if err != nil {
		return err
	}
	kept := names[:0]
	for _, existing := range names {
		if existing != n {
			kept = append(kept, existing)
		}
	}
	encoded, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("failed to encode destination names: %w", err)
	}
	if err := s.kv.SetValues(ctx, map[string]string{NamesKey: string(encoded)}); err != nil {
		return fmt.Errorf("failed to update destination names: %w", err)
	}
	if err := s.kv.DeleteValues(ctx, latKey(n), lonKey(n)); err != nil {
		return fmt.Errorf("failed to delete destination %s: %w", n, err)
	}
	slog.Info("Store.Remove: destination removed", "name", n)
	return nil
}

// List returns every destination that has coordinates, sorted by name.
func (s *Store) List(ctx context.Context) ([]models.Destination, error) {
	names, err := s.ListNames(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Destination, 0, len(names))
	for _, n := range names {
		c, ok, err := s.Get(ctx, n)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, models.Destination{Name: n, Latitude: c.Latitude, Longitude: c.Longitude})
	}
	return out, nil
}

// ParseCoordinates parses "lat, lon" as typed into the add-destination form.
func ParseCoordinates(s string) (models.Coordinates, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.Coordinates{}, fmt.Errorf("%w: expected \"latitude, longitude\"", ErrInvalidCoordinates)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: latitude %q", ErrInvalidCoordinates, parts[0])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: longitude %q", ErrInvalidCoordinates, parts[1])
	}
	c := models.Coordinates{Latitude: lat, Longitude: lon}
	if err := c.Validate(); err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	return c, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
