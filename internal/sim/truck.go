package sim

import (
	"sort"
)

// Status enumerates the truck state machine. PendingDeparture carries its
// destination as data on the truck rather than encoding it in the state
// name, so the machine stays exhaustively matchable.
type Status string

const (
	StatusIdleAtDepot       Status = "idle_at_depot"
	StatusPendingLoad       Status = "pending_load_for_route"
	StatusLoading           Status = "loading_at_depot"
	StatusPendingDeparture  Status = "pending_departure"
	StatusEnRoute           Status = "en_route"
	StatusIdleAtCustomer    Status = "idle_at_customer"
	StatusUnloading         Status = "unloading_at_customer"
	StatusFinishedUnloading Status = "finished_unloading"
	StatusIdleAtOther       Status = "idle_at_other"
)

// Truck is a mobile agent with bounded cargo capacity, a per-resource
// manifest, a FIFO route of pending destinations, and an append-only
// event log.
type Truck struct {
	ID         string
	CapacityKg int

	status      Status
	pendingDest *Location
	route       []*Location
	loc         *Location
	manifest    map[string]int
	cargoKg     int
	world       *World
	log         Log
}

func newTruck(id string, start *Location, capacityKg int, w *World) *Truck {
	t := &Truck{
		ID:         id,
		CapacityKg: capacityKg,
		status:     StatusIdleAtDepot,
		loc:        start,
		manifest:   map[string]int{},
		world:      w,
	}
	t.log.append(0, "truck_created", map[string]any{
		"truck_id":            id,
		"start_location_name": start.Name,
		"capacity_kg":         capacityKg,
	})
	start.OnArrival(0, id)
	return t
}

// Status returns the current state.
func (t *Truck) Status() Status { return t.status }

// Location returns the location the truck currently occupies.
func (t *Truck) Location() *Location { return t.loc }

// CargoKg returns the total cargo weight aboard.
func (t *Truck) CargoKg() int { return t.cargoKg }

// Manifest returns a copy of the per-resource cargo breakdown.
func (t *Truck) Manifest() map[string]int {
	out := make(map[string]int, len(t.manifest))
	for k, v := range t.manifest {
		out[k] = v
	}
	return out
}

// Route returns the pending destinations, head first.
func (t *Truck) Route() []*Location { return t.route }

// Events returns the truck's append-only history.
func (t *Truck) Events() []Event { return t.log.Events() }

// EventLog exposes the log for incremental flushing.
func (t *Truck) EventLog() *Log { return &t.log }

func (t *Truck) logEvent(tick int, evtType string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["truck_id"] = t.ID
	t.log.append(tick, evtType, details)
}

func (t *Truck) setStatus(tick int, next Status, details map[string]any) {
	logDetails := map[string]any{
		"old_status":    string(t.status),
		"new_status":    string(next),
		"location_name": t.loc.Name,
	}
	for k, v := range details {
		logDetails[k] = v
	}
	t.status = next
	t.logEvent(tick, "status_change", logDetails)
}

// targetCargoKg is the loading target: 75% of capacity, a deliberate
// policy of leaving margin rather than topping off.
func (t *Truck) targetCargoKg() int {
	return int(0.75 * float64(t.CapacityKg))
}

// AssignRoute replaces the pending route wholesale. An idle truck
// immediately transitions toward loading (at a depot) or departure
// (elsewhere); the resulting movement happens on its next step.
func (t *Truck) AssignRoute(tick int, stops []*Location) {
	t.route = append([]*Location(nil), stops...)
	names := make([]string, 0, len(stops))
	for _, s := range stops {
		names = append(names, s.Name)
	}
	t.logEvent(tick, "route_assigned", map[string]any{
		"route_names": names,
		"num_stops":   len(stops),
	})
	if len(t.route) == 0 {
		return
	}
	switch t.status {
	case StatusIdleAtDepot:
		t.setStatus(tick, StatusPendingLoad, nil)
	case StatusIdleAtCustomer, StatusIdleAtOther, StatusFinishedUnloading:
		t.pendingDest = t.route[0]
		t.setStatus(tick, StatusPendingDeparture, map[string]any{"destination": t.pendingDest.Name})
	}
}

// LoadCargo moves stock from the current location onto the truck. The
// manifest mutation is rolled back if the location-side debit fails, so a
// truck never holds cargo it did not actually remove from a location.
func (t *Truck) LoadCargo(tick int, resource string, qty, weightPerUnit int) bool {
	switch t.status {
	case StatusIdleAtDepot, StatusPendingLoad, StatusLoading:
	default:
		t.logEvent(tick, "load_cargo_failed", map[string]any{
			"resource_name": resource,
			"quantity":      qty,
			"reason":        "invalid_status_" + string(t.status),
		})
		return false
	}
	weight := qty * weightPerUnit
	if t.cargoKg+weight > t.CapacityKg {
		t.logEvent(tick, "load_cargo_failed", map[string]any{
			"resource_name": resource,
			"quantity":      qty,
			"weight_kg":     weight,
			"reason":        "exceeds_capacity",
			"location_name": t.loc.Name,
		})
		return false
	}
	t.manifest[resource] += qty
	t.cargoKg += weight
	if !t.loc.ConsumeResource(tick, resource, qty, t.ID) {
		t.manifest[resource] -= qty
		if t.manifest[resource] == 0 {
			delete(t.manifest, resource)
		}
		t.cargoKg -= weight
		t.logEvent(tick, "load_cargo_failed", map[string]any{
			"resource_name": resource,
			"quantity":      qty,
			"reason":        "insufficient_resource",
			"location_name": t.loc.Name,
		})
		return false
	}
	t.logEvent(tick, "load_cargo", map[string]any{
		"resource_name":    resource,
		"quantity_loaded":  qty,
		"weight_kg":        weight,
		"current_cargo_kg": t.cargoKg,
		"location_name":    t.loc.Name,
	})
	return true
}

// UnloadCargo removes cargo from the manifest unconditionally on success.
// Whether the location can use the delivery is the caller's concern; any
// unused quantity is wasted, not retained.
func (t *Truck) UnloadCargo(tick int, resource string, qty, weightPerUnit int) bool {
	switch t.status {
	case StatusIdleAtCustomer, StatusUnloading:
	default:
		t.logEvent(tick, "unload_cargo_failed", map[string]any{
			"resource_name": resource,
			"quantity":      qty,
			"reason":        "invalid_status_" + string(t.status),
		})
		return false
	}
	if t.manifest[resource] < qty {
		t.logEvent(tick, "unload_cargo_failed", map[string]any{
			"resource_name": resource,
			"quantity":      qty,
			"reason":        "insufficient_cargo_on_truck",
			"location_name": t.loc.Name,
		})
		return false
	}
	t.manifest[resource] -= qty
	if t.manifest[resource] == 0 {
		delete(t.manifest, resource)
	}
	t.cargoKg -= qty * weightPerUnit
	t.logEvent(tick, "unload_cargo", map[string]any{
		"resource_name":     resource,
		"quantity_unloaded": qty,
		"current_cargo_kg":  t.cargoKg,
		"location_name":     t.loc.Name,
	})
	return true
}

// performMove departs, relocates, and arrives within the same tick.
// Movement itself is instantaneous; service time is modeled by the
// loading and unloading states instead.
func (t *Truck) performMove(tick int, dest *Location) {
	if dest == nil {
		t.logEvent(tick, "move_failed", map[string]any{"reason": "no_destination_specified"})
		return
	}
	from := t.loc
	t.logEvent(tick, "depart", map[string]any{
		"from_location_name": from.Name,
		"to_location_name":   dest.Name,
	})
	from.OnDeparture(tick, t.ID)
	t.loc = dest
	t.status = StatusEnRoute
	dest.OnArrival(tick, t.ID)
	t.logEvent(tick, "arrive", map[string]any{"location_name": dest.Name})
}

// departForNextStop pops the head of the route and moves there.
func (t *Truck) departForNextStop(tick int) {
	if len(t.route) == 0 {
		t.pendingDest = nil
		t.idleForLocation(tick)
		return
	}
	next := t.route[0]
	t.route = t.route[1:]
	t.pendingDest = nil
	t.performMove(tick, next)
}

// idleForLocation sets the idle state matching the current location type.
func (t *Truck) idleForLocation(tick int) {
	switch t.loc.Type {
	case LocationDepot:
		t.setStatus(tick, StatusIdleAtDepot, nil)
	case LocationCustomer:
		t.setStatus(tick, StatusIdleAtCustomer, nil)
	default:
		t.setStatus(tick, StatusIdleAtOther, nil)
	}
}

// Step runs one tick of the truck's behavior. It is invoked exactly once
// per tick by the world, in a randomized order across trucks.
func (t *Truck) Step(tick int) {
	switch t.status {
	case StatusEnRoute:
		// Arrival resolution: the move already happened, this tick
		// settles into the idle state for the location type.
		t.idleForLocation(tick)

	case StatusIdleAtDepot:
		if len(t.route) > 0 {
			t.setStatus(tick, StatusPendingLoad, nil)
		}

	case StatusPendingLoad:
		t.stepLoading(tick)

	case StatusLoading:
		resource := t.world.params.DefaultResource
		if t.cargoKg < t.targetCargoKg() && t.loc.Stock(resource) > 0 {
			t.setStatus(tick, StatusPendingLoad, nil)
			return
		}
		if len(t.route) > 0 {
			t.pendingDest = t.route[0]
			t.setStatus(tick, StatusPendingDeparture, map[string]any{"destination": t.pendingDest.Name})
			return
		}
		t.setStatus(tick, StatusIdleAtDepot, nil)

	case StatusIdleAtCustomer:
		if t.stepUnloading(tick) {
			return
		}
		if len(t.route) > 0 {
			t.pendingDest = t.route[0]
			t.setStatus(tick, StatusPendingDeparture, map[string]any{"destination": t.pendingDest.Name})
			return
		}
		t.returnToDepot(tick)

	case StatusPendingDeparture:
		t.departForNextStop(tick)

	case StatusFinishedUnloading:
		if len(t.route) > 0 {
			t.departForNextStop(tick)
			return
		}
		t.returnToDepot(tick)

	case StatusIdleAtOther:
		if len(t.route) > 0 {
			t.pendingDest = t.route[0]
			t.setStatus(tick, StatusPendingDeparture, map[string]any{"destination": t.pendingDest.Name})
			return
		}
		t.returnToDepot(tick)

	case StatusUnloading:
		// Unloading completes within its tick; reaching here means the
		// state was left dangling, settle back to idle.
		t.idleForLocation(tick)
	}
}

// stepLoading attempts one load batch toward the 75% target and
// transitions accordingly.
func (t *Truck) stepLoading(tick int) {
	resource := t.world.params.DefaultResource
	weight := t.world.params.WeightPerUnitKg
	neededKg := t.targetCargoKg() - t.cargoKg
	headroomKg := t.CapacityKg - t.cargoKg
	stock := t.loc.Stock(resource)

	if t.loc.Type == LocationDepot && neededKg > 0 && stock > 0 {
		qty := neededKg / weight
		if qty > stock {
			qty = stock
		}
		if hr := headroomKg / weight; qty > hr {
			qty = hr
		}
		if qty > 0 {
			t.setStatus(tick, StatusLoading, nil)
			t.LoadCargo(tick, resource, qty, weight)
			return
		}
	}
	// Nothing further to load: depart if a route is pending, else idle.
	if len(t.route) > 0 {
		t.pendingDest = t.route[0]
		t.setStatus(tick, StatusPendingDeparture, map[string]any{"destination": t.pendingDest.Name})
		return
	}
	t.setStatus(tick, StatusIdleAtDepot, nil)
}

// stepUnloading delivers the first carried resource with an open demand
// at the current customer. Returns true when an unload happened.
func (t *Truck) stepUnloading(tick int) bool {
	if t.cargoKg <= 0 {
		return false
	}
	resources := make([]string, 0, len(t.manifest))
	for r := range t.manifest {
		resources = append(resources, r)
	}
	sort.Strings(resources)
	for _, r := range resources {
		if !t.loc.openDemandFor(r) {
			continue
		}
		qty := t.manifest[r]
		weight := t.world.params.WeightPerUnitKg
		t.setStatus(tick, StatusUnloading, nil)
		if !t.UnloadCargo(tick, r, qty, weight) {
			t.idleForLocation(tick)
			return false
		}
		allocated := t.loc.FulfillDemand(tick, r, qty, t.ID)
		t.world.noteDelivery(allocated, qty-allocated)
		t.setStatus(tick, StatusFinishedUnloading, map[string]any{
			"resource_name":      r,
			"quantity_unloaded":  qty,
			"quantity_allocated": allocated,
		})
		return true
	}
	return false
}

// returnToDepot self-assigns a route home when stranded off-depot with no
// route. The movement takes effect on the next tick.
func (t *Truck) returnToDepot(tick int) {
	if t.loc.Type == LocationDepot {
		return
	}
	depot := t.world.randomDepot()
	if depot == nil {
		return
	}
	t.AssignRoute(tick, []*Location{depot})
}
