package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/robertarktes/fleet-rental-holds/internal/domain"
)

type Catalog struct {
	mu       sync.RWMutex
	vehicles map[string]domain.Vehicle
}

func NewCatalog(vehicles ...domain.Vehicle) *Catalog {
	c := &Catalog{vehicles: make(map[string]domain.Vehicle)}
	for _, v := range vehicles {
		c.vehicles[v.ID] = v
	}
	return c
}

func (c *Catalog) Put(v domain.Vehicle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vehicles[v.ID] = v
}

func (c *Catalog) GetVehicle(_ context.Context, vehicleID string) (domain.Vehicle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.vehicles[vehicleID]
	if !ok {
		return domain.Vehicle{}, domain.ErrVehicleNotFound
	}
	return v, nil
}

func (c *Catalog) ListVehicles(_ context.Context) ([]domain.Vehicle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Vehicle, 0, len(c.vehicles))
	for _, v := range c.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
