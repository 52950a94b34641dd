package sim

import (
	"fmt"
	"math/rand"
)

// Params configures world construction. Zero values fall back to the
// reference defaults where one exists.
type Params struct {
	NumTrucks    int
	NumDepots    int
	NumCustomers int
	NumOthers    int
	MapWidth     float64
	MapHeight    float64
	Seed         int64

	DefaultResource string
	WeightPerUnitKg int
	CapacityMinKg   int
	CapacityMaxKg   int

	DepotStockMin      int
	DepotStockMax      int
	ProductionRate     int
	ProductionCapacity int

	DemandChance float64
	DemandMin    int
	DemandMax    int

	RouteChance   float64
	RouteStopsMax int
}

func (p *Params) applyDefaults() {
	if p.MapWidth <= 0 {
		p.MapWidth = 50
	}
	if p.MapHeight <= 0 {
		p.MapHeight = 50
	}
	if p.DefaultResource == "" {
		p.DefaultResource = "widgets"
	}
	if p.WeightPerUnitKg <= 0 {
		p.WeightPerUnitKg = 1
	}
	if p.CapacityMinKg <= 0 {
		p.CapacityMinKg = 15000
	}
	if p.CapacityMaxKg < p.CapacityMinKg {
		p.CapacityMaxKg = p.CapacityMinKg
	}
	if p.DemandMax < p.DemandMin {
		p.DemandMax = p.DemandMin
	}
	if p.RouteStopsMax <= 0 {
		p.RouteStopsMax = 3
	}
}

// World owns every location and truck, advances global time, and holds
// the run's pseudo-random generator. All stochastic choices draw from
// that one generator, so equal seeds give equal runs.
type World struct {
	params    Params
	rng       *rand.Rand
	tick      int
	locations []*Location
	trucks    []*Truck
	depots    []*Location
	customers []*Location

	deliveredUnits int
	wastedUnits    int
}

// NewWorld builds the initial world state: randomly placed locations,
// stocked depots, and trucks parked at random depots. A world without
// depots is a configuration error since trucks need a home base.
func NewWorld(p Params) (*World, error) {
	p.applyDefaults()
	if p.NumDepots < 1 {
		return nil, fmt.Errorf("world requires at least one depot, got %d", p.NumDepots)
	}
	if p.NumTrucks < 0 || p.NumCustomers < 0 || p.NumOthers < 0 {
		return nil, fmt.Errorf("negative entity counts are invalid")
	}
	w := &World{
		params: p,
		rng:    rand.New(rand.NewSource(p.Seed)),
	}
	w.createLocations()
	w.createTrucks()
	return w, nil
}

func (w *World) createLocations() {
	p := w.params
	for i := 0; i < p.NumDepots; i++ {
		d := NewLocation(fmt.Sprintf("depot-%d", i+1), depotName(i), w.coord(p.MapHeight), w.coord(p.MapWidth), LocationDepot)
		if p.DepotStockMax > 0 {
			stock := p.DepotStockMin
			if p.DepotStockMax > p.DepotStockMin {
				stock += w.rng.Intn(p.DepotStockMax - p.DepotStockMin + 1)
			}
			d.AddResource(0, p.DefaultResource, stock)
		}
		if p.ProductionRate > 0 {
			d.Production = &Production{
				Resource: p.DefaultResource,
				Rate:     p.ProductionRate,
				Capacity: p.ProductionCapacity,
			}
		}
		w.locations = append(w.locations, d)
		w.depots = append(w.depots, d)
	}
	for i := 0; i < p.NumCustomers; i++ {
		c := NewLocation(fmt.Sprintf("customer-%d", i+1), fmt.Sprintf("Customer-%03d", i+1), w.coord(p.MapHeight), w.coord(p.MapWidth), LocationCustomer)
		w.locations = append(w.locations, c)
		w.customers = append(w.customers, c)
	}
	for i := 0; i < p.NumOthers; i++ {
		o := NewLocation(fmt.Sprintf("site-%d", i+1), fmt.Sprintf("Site-%03d", i+1), w.coord(p.MapHeight), w.coord(p.MapWidth), LocationOther)
		w.locations = append(w.locations, o)
	}
}

func (w *World) createTrucks() {
	p := w.params
	minK := p.CapacityMinKg / 1000
	maxK := p.CapacityMaxKg / 1000
	for i := 0; i < p.NumTrucks; i++ {
		capacity := p.CapacityMinKg
		if maxK > minK {
			capacity = (minK + w.rng.Intn(maxK-minK+1)) * 1000
		}
		start := w.depots[w.rng.Intn(len(w.depots))]
		t := newTruck(fmt.Sprintf("TRK-%03d", i+1), start, capacity, w)
		w.trucks = append(w.trucks, t)
	}
}

// coord samples a uniform coordinate rounded to four decimals, matching
// the reference placement.
func (w *World) coord(max float64) float64 {
	v := w.rng.Float64() * max
	return float64(int(v*10000+0.5)) / 10000
}

func depotName(i int) string {
	if i < 26 {
		return fmt.Sprintf("Depot-%c", rune('A'+i))
	}
	return fmt.Sprintf("Depot-%d", i+1)
}

// Tick returns the current simulation time.
func (w *World) Tick() int { return w.tick }

// Locations returns every location in creation order.
func (w *World) Locations() []*Location { return w.locations }

// Trucks returns every truck in creation order.
func (w *World) Trucks() []*Truck { return w.trucks }

// Params returns the construction parameters.
func (w *World) Params() Params { return w.params }

// Step advances the world by one tick: per-location production first,
// then every truck exactly once in a fresh random permutation, then
// stochastic demand injection and route assignment. Everything is
// synchronous; the shuffle only decides who claims scarce stock first.
func (w *World) Step() {
	w.tick++
	for _, loc := range w.locations {
		loc.Produce(w.tick)
	}
	for _, i := range w.rng.Perm(len(w.trucks)) {
		w.trucks[i].Step(w.tick)
	}
	w.injectDemand()
	w.assignRoutes()
}

// Run advances the world n ticks.
func (w *World) Run(n int) {
	for i := 0; i < n; i++ {
		w.Step()
	}
}

func (w *World) injectDemand() {
	p := w.params
	if p.DemandChance <= 0 || p.DemandMax <= 0 {
		return
	}
	for _, c := range w.customers {
		if w.rng.Float64() >= p.DemandChance {
			continue
		}
		qty := p.DemandMin
		if p.DemandMax > p.DemandMin {
			qty += w.rng.Intn(p.DemandMax - p.DemandMin + 1)
		}
		c.AddDemand(w.tick, p.DefaultResource, qty, "")
	}
}

// assignRoutes hands idle depot trucks a freshly sampled route. Routes
// are random, not planned, and always end back at a depot.
func (w *World) assignRoutes() {
	p := w.params
	if p.RouteChance <= 0 {
		return
	}
	for _, t := range w.trucks {
		if t.Status() != StatusIdleAtDepot || len(t.Route()) > 0 {
			continue
		}
		if w.rng.Float64() >= p.RouteChance {
			continue
		}
		numStops := 1 + w.rng.Intn(p.RouteStopsMax)
		stops := make([]*Location, 0, numStops+1)
		for i := 0; i < numStops; i++ {
			stops = append(stops, w.locations[w.rng.Intn(len(w.locations))])
		}
		stops = append(stops, w.depots[w.rng.Intn(len(w.depots))])
		t.AssignRoute(w.tick, stops)
	}
}

// randomDepot picks a depot for self-assigned return routes.
func (w *World) randomDepot() *Location {
	if len(w.depots) == 0 {
		return nil
	}
	return w.depots[w.rng.Intn(len(w.depots))]
}

func (w *World) noteDelivery(allocated, wasted int) {
	w.deliveredUnits += allocated
	w.wastedUnits += wasted
}

// Summary aggregates run-level outcomes.
type Summary struct {
	Ticks          int            `json:"ticks"`
	DeliveredUnits int            `json:"delivered_units"`
	WastedUnits    int            `json:"wasted_units"`
	DemandCounts   map[string]int `json:"demand_counts"`
	TotalCargoKg   int            `json:"total_cargo_kg"`
	EventCount     int            `json:"event_count"`
}

// Summarize computes the current run summary from world state.
func (w *World) Summarize() Summary {
	s := Summary{
		Ticks:          w.tick,
		DeliveredUnits: w.deliveredUnits,
		WastedUnits:    w.wastedUnits,
		DemandCounts:   map[string]int{},
	}
	for _, loc := range w.locations {
		for _, d := range loc.Demands() {
			s.DemandCounts[string(d.Status)]++
		}
		s.EventCount += loc.EventLog().Len()
	}
	for _, t := range w.trucks {
		s.TotalCargoKg += t.CargoKg()
		s.EventCount += t.EventLog().Len()
	}
	return s
}
