package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wolfman30/salon-concierge/internal/calendar"
)

//go:embed default_seed.json
var defaultSeed []byte

// Seed is the JSON document used to populate a fresh catalog.
type Seed struct {
	Staff        []Staff            `json:"staff"`
	Windows      []seedAvailability `json:"availability"`
	Services     []Service          `json:"services"`
	Customers    []CustomerInput    `json:"customers"`
	Availability []Availability     `json:"-"`
}

type seedAvailability struct {
	StaffID int64          `json:"staff_id"`
	Weekday string         `json:"weekday"`
	Start   calendar.Clock `json:"start"`
	End     calendar.Clock `json:"end"`
}

// LoadSeed decodes and validates a seed document.
func LoadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return nil, fmt.Errorf("catalog: decode seed: %w", err)
	}
	staff := make(map[int64]bool, len(seed.Staff))
	for _, s := range seed.Staff {
		staff[s.ID] = true
	}
	seen := make(map[availabilityKey]bool)
	for _, raw := range seed.Windows {
		day, ok := calendar.ParseWeekday(raw.Weekday)
		if !ok {
			return nil, fmt.Errorf("catalog: seed availability: unknown weekday %q", raw.Weekday)
		}
		if !staff[raw.StaffID] {
			return nil, fmt.Errorf("catalog: seed availability: unknown staff %d", raw.StaffID)
		}
		if raw.End <= raw.Start {
			return nil, fmt.Errorf("catalog: seed availability: staff %d %s window ends before it starts", raw.StaffID, raw.Weekday)
		}
		key := availabilityKey{raw.StaffID, day}
		if seen[key] {
			return nil, fmt.Errorf("catalog: seed availability: duplicate window for staff %d on %s", raw.StaffID, day)
		}
		seen[key] = true
		seed.Availability = append(seed.Availability, Availability{StaffID: raw.StaffID, Weekday: day, Start: raw.Start, End: raw.End})
	}
	for _, svc := range seed.Services {
		if !svc.Type.Valid() {
			return nil, fmt.Errorf("catalog: seed service %d: missing service type", svc.ID)
		}
		for _, id := range svc.StaffIDs {
			if !staff[id] {
				return nil, fmt.Errorf("catalog: seed service %d: unknown staff %d", svc.ID, id)
			}
		}
	}
	return &seed, nil
}

// LoadSeedFile reads a seed from path, or the bundled seed when path is empty.
func LoadSeedFile(path string) (*Seed, error) {
	if path == "" {
		return LoadSeed(bytes.NewReader(defaultSeed))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open seed: %w", err)
	}
	defer f.Close()
	return LoadSeed(f)
}

// Apply loads the seed into an in-memory repository.
func (s *Seed) Apply(ctx context.Context, repo *InMemoryRepository) error {
	for _, st := range s.Staff {
		repo.PutStaff(st)
	}
	for _, a := range s.Availability {
		repo.PutAvailability(a)
	}
	for _, svc := range s.Services {
		repo.PutService(svc)
	}
	for _, c := range s.Customers {
		if _, err := repo.UpsertCustomer(ctx, c); err != nil {
			return fmt.Errorf("catalog: seed customer %s: %w", c.Email, err)
		}
	}
	return nil
}
