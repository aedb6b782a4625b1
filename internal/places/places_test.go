package places

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/projectech/VoiceGuide/internal/flow"
	"github.com/projectech/VoiceGuide/internal/models"
	"github.com/projectech/VoiceGuide/internal/store"
)

var _ flow.Places = (*Store)(nil)

func TestPutGetRemove(t *testing.T) {
	ctx := context.Background()
	kv := store.NewInMemoryStore()
	s := NewStore(kv)

	if names, err := s.ListNames(ctx); err != nil || len(names) != 0 {
		t.Fatalf("expected no names, got %v, %v", names, err)
	}

	if err := s.Put(ctx, "  Office ", models.Coordinates{Latitude: 40.7, Longitude: -74}); err != nil {
		t.Fatalf("Put office: %v", err)
	}
	if err := s.Put(ctx, "Home", models.Coordinates{Latitude: 48.85, Longitude: 2.35}); err != nil {
		t.Fatalf("Put home: %v", err)
	}

	names, err := s.ListNames(ctx)
	if err != nil {
		t.Fatalf("ListNames: %v", err)
	}
	if len(names) != 2 || names[0] != "home" || names[1] != "office" {
		t.Errorf("expected [home office], got %v", names)
	}

	// The on-disk layout is shared with the add-address form.
	if v, _, _ := kv.GetValue(ctx, "home_lat"); v != "48.85" {
		t.Errorf("home_lat = %q", v)
	}
	if v, _, _ := kv.GetValue(ctx, NamesKey); v != `["office","home"]` {
		t.Errorf("%s = %q", NamesKey, v)
	}

	c, ok, err := s.Get(ctx, "HOME")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if c.Latitude != 48.85 || c.Longitude != 2.35 {
		t.Errorf("unexpected coordinates %v", c)
	}

	if err := s.Remove(ctx, "home"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "home"); ok {
		t.Error("home should be gone")
	}
	if names, _ := s.ListNames(ctx); len(names) != 1 || names[0] != "office" {
		t.Errorf("expected [office], got %v", names)
	}
	if err := s.Remove(ctx, "nowhere"); err != nil {
		t.Errorf("removing an unknown name should succeed: %v", err)
	}
}

func TestPutReplacesWithoutDuplicating(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewInMemoryStore())
	for i := 0; i < 3; i++ {
		if err := s.Put(ctx, "home", models.Coordinates{Latitude: float64(i), Longitude: 1}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	names, _ := s.ListNames(ctx)
	if len(names) != 1 {
		t.Errorf("expected one name, got %v", names)
	}
	if c, _, _ := s.Get(ctx, "home"); c.Latitude != 2 {
		t.Errorf("expected latest latitude, got %v", c.Latitude)
	}
}

func TestListedNameWithoutCoordinates(t *testing.T) {
	ctx := context.Background()
	kv := store.NewInMemoryStore()
	kv.SetValues(ctx, map[string]string{NamesKey: `["gym"]`, "gym_lat": "1"})
	s := NewStore(kv)

	names, _ := s.ListNames(ctx)
	if len(names) != 1 || names[0] != "gym" {
		t.Fatalf("expected [gym], got %v", names)
	}
	if _, ok, err := s.Get(ctx, "gym"); ok || err != nil {
		t.Errorf("expected not found without error, got ok=%v err=%v", ok, err)
	}
	list, err := s.List(ctx)
	if err != nil || len(list) != 0 {
		t.Errorf("List should skip incomplete entries, got %v, %v", list, err)
	}
}

func TestPutValidation(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewInMemoryStore())
	if err := s.Put(ctx, "   ", models.Coordinates{}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
	if err := s.Put(ctx, "pole", models.Coordinates{Latitude: 91}); !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("expected ErrInvalidCoordinates, got %v", err)
	}
}

func TestConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewInMemoryStore())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Put(ctx, fmt.Sprintf("place%d", i), models.Coordinates{Latitude: 1, Longitude: 1}); err != nil {
				t.Errorf("Put: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if names, _ := s.ListNames(ctx); len(names) != 20 {
		t.Errorf("expected 20 names, got %d", len(names))
	}
}

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		in      string
		want    models.Coordinates
		wantErr bool
	}{
		{"48.85, 2.35", models.Coordinates{Latitude: 48.85, Longitude: 2.35}, false},
		{"-33.9,151.2", models.Coordinates{Latitude: -33.9, Longitude: 151.2}, false},
		{"48.85", models.Coordinates{}, true},
		{"north, east", models.Coordinates{}, true},
		{"120, 10", models.Coordinates{}, true},
		{"1, 2, 3", models.Coordinates{}, true},
	}
	for _, tt := range tests {
		got, err := ParseCoordinates(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidCoordinates) {
				t.Errorf("ParseCoordinates(%q) error = %v, want ErrInvalidCoordinates", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseCoordinates(%q) = %v, %v", tt.in, got, err)
		}
	}
}
