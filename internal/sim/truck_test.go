package sim

import (
	"math/rand"
	"testing"
)

// benchWorld builds a hand-assembled world so tests control stock,
// capacities, and routes exactly.
func benchWorld(p Params) *World {
	p.applyDefaults()
	return &World{params: p, rng: rand.New(rand.NewSource(p.Seed))}
}

func addDepot(w *World, name string) *Location {
	d := NewLocation(name, name, 0, 0, LocationDepot)
	w.locations = append(w.locations, d)
	w.depots = append(w.depots, d)
	return d
}

func addCustomer(w *World, name string) *Location {
	c := NewLocation(name, name, 0, 0, LocationCustomer)
	w.locations = append(w.locations, c)
	w.customers = append(w.customers, c)
	return c
}

func addTruck(w *World, id string, start *Location, capacityKg int) *Truck {
	t := newTruck(id, start, capacityKg, w)
	w.trucks = append(w.trucks, t)
	return t
}

func TestLoadCargoRollbackOnConsumeFailure(t *testing.T) {
	w := benchWorld(Params{})
	depot := addDepot(w, "Depot-A")
	depot.AddResource(0, "widgets", 5)
	trk := addTruck(w, "TRK-001", depot, 150)
	trk.status = StatusLoading

	if trk.LoadCargo(1, "widgets", 10, 1) {
		t.Fatalf("expected load to fail with short stock")
	}
	if trk.CargoKg() != 0 {
		t.Fatalf("cargo = %d, want 0 after rollback", trk.CargoKg())
	}
	if len(trk.Manifest()) != 0 {
		t.Fatalf("manifest = %v, want empty after rollback", trk.Manifest())
	}
	if got := depot.Stock("widgets"); got != 5 {
		t.Fatalf("depot stock = %d, want untouched 5", got)
	}
	events := trk.Events()
	last := events[len(events)-1]
	if last.Type != "load_cargo_failed" || last.Details["reason"] != "insufficient_resource" {
		t.Fatalf("last event = %s/%v", last.Type, last.Details["reason"])
	}
}

func TestLoadCargoExceedsCapacity(t *testing.T) {
	w := benchWorld(Params{})
	depot := addDepot(w, "Depot-A")
	depot.AddResource(0, "widgets", 1000)
	trk := addTruck(w, "TRK-001", depot, 100)
	trk.status = StatusLoading

	if trk.LoadCargo(1, "widgets", 101, 1) {
		t.Fatalf("expected capacity rejection")
	}
	if trk.CargoKg() != 0 {
		t.Fatalf("cargo = %d, want 0", trk.CargoKg())
	}
	if got := depot.Stock("widgets"); got != 1000 {
		t.Fatalf("stock = %d, want 1000", got)
	}
}

func TestLoadCargoInvalidStatus(t *testing.T) {
	w := benchWorld(Params{})
	depot := addDepot(w, "Depot-A")
	depot.AddResource(0, "widgets", 100)
	trk := addTruck(w, "TRK-001", depot, 150)
	trk.status = StatusEnRoute

	if trk.LoadCargo(1, "widgets", 10, 1) {
		t.Fatalf("expected status rejection")
	}
	events := trk.Events()
	last := events[len(events)-1]
	if last.Details["reason"] != "invalid_status_en_route" {
		t.Fatalf("reason = %v, want invalid_status_en_route", last.Details["reason"])
	}
}

func TestUnloadCargoInsufficientManifest(t *testing.T) {
	w := benchWorld(Params{})
	depot := addDepot(w, "Depot-A")
	customer := addCustomer(w, "Customer-001")
	trk := addTruck(w, "TRK-001", depot, 150)
	trk.loc = customer
	trk.status = StatusUnloading

	if trk.UnloadCargo(1, "widgets", 10, 1) {
		t.Fatalf("expected unload failure with empty manifest")
	}
	events := trk.Events()
	last := events[len(events)-1]
	if last.Details["reason"] != "insufficient_cargo_on_truck" {
		t.Fatalf("reason = %v, want insufficient_cargo_on_truck", last.Details["reason"])
	}
}

// An empty route never triggers loading: the machine only enters
// pending_load via a non-empty route assignment.
func TestEmptyRouteStaysIdleAtDepot(t *testing.T) {
	w := benchWorld(Params{})
	depot := addDepot(w, "Depot-A")
	depot.AddResource(0, "widgets", 1000)
	trk := addTruck(w, "TRK-001", depot, 150)

	trk.AssignRoute(0, nil)
	for i := 0; i < 20; i++ {
		w.Step()
	}
	if trk.Status() != StatusIdleAtDepot {
		t.Fatalf("status = %s, want idle_at_depot", trk.Status())
	}
	if trk.CargoKg() != 0 {
		t.Fatalf("cargo = %d, want 0", trk.CargoKg())
	}
	if got := depot.Stock("widgets"); got != 1000 {
		t.Fatalf("depot stock = %d, want 1000", got)
	}
}

// Loading can never take more than the depot holds: stock 10 against a
// 112-unit target drains the depot and stops there.
func TestLoadingBoundedByDepotStock(t *testing.T) {
	w := benchWorld(Params{})
	depot := addDepot(w, "Depot-A")
	depot.AddResource(0, "widgets", 10)
	customer := addCustomer(w, "Customer-001")
	trk := addTruck(w, "TRK-001", depot, 150)

	trk.AssignRoute(0, []*Location{customer})
	for i := 0; i < 10; i++ {
		w.Step()
		if trk.CargoKg() > trk.CapacityKg {
			t.Fatalf("tick %d: cargo %d exceeds capacity %d", w.Tick(), trk.CargoKg(), trk.CapacityKg)
		}
	}
	if trk.Manifest()["widgets"] > 10 {
		t.Fatalf("loaded %d, more than depot ever had", trk.Manifest()["widgets"])
	}
	if got := depot.Stock("widgets"); got != 0 {
		t.Fatalf("depot stock = %d, want 0", got)
	}
}

func TestDeliveryCycle(t *testing.T) {
	w := benchWorld(Params{})
	depot := addDepot(w, "Depot-A")
	depot.AddResource(0, "widgets", 100)
	customer := addCustomer(w, "Customer-001")
	customer.AddDemand(0, "widgets", 30, "order-1")
	trk := addTruck(w, "TRK-001", depot, 150)

	trk.AssignRoute(0, []*Location{customer, depot})
	for i := 0; i < 12; i++ {
		w.Step()
	}

	d := customer.Demands()[0]
	if d.Status != DemandFulfilled || d.Fulfilled != 30 {
		t.Fatalf("demand = %d/%s, want 30/fulfilled", d.Fulfilled, d.Status)
	}
	// The truck unloads its full carried quantity; the surplus beyond the
	// demand is wasted, never returned to the manifest.
	if w.deliveredUnits != 30 {
		t.Fatalf("delivered = %d, want 30", w.deliveredUnits)
	}
	if w.wastedUnits != 70 {
		t.Fatalf("wasted = %d, want 70", w.wastedUnits)
	}
	if trk.CargoKg() != 0 {
		t.Fatalf("cargo = %d, want 0 after delivery", trk.CargoKg())
	}
	if trk.Status() != StatusIdleAtDepot {
		t.Fatalf("status = %s, want idle_at_depot after returning", trk.Status())
	}
	if customer.openDemandFor("widgets") {
		t.Fatalf("no open demand expected after fulfillment")
	}
}

func TestStrandedTruckReturnsToDepot(t *testing.T) {
	w := benchWorld(Params{})
	depot := addDepot(w, "Depot-A")
	customer := addCustomer(w, "Customer-001")
	trk := addTruck(w, "TRK-001", depot, 150)
	// Park the truck at the customer with no cargo and no route.
	trk.loc = customer
	customer.OnArrival(0, trk.ID)
	trk.status = StatusIdleAtCustomer

	for i := 0; i < 5; i++ {
		w.Step()
	}
	if trk.Status() != StatusIdleAtDepot {
		t.Fatalf("status = %s, want idle_at_depot after self-return", trk.Status())
	}
	if trk.Location() != depot {
		t.Fatalf("truck at %s, want depot", trk.Location().Name)
	}
}

func TestAssignRouteReplacesWholesale(t *testing.T) {
	w := benchWorld(Params{})
	depot := addDepot(w, "Depot-A")
	c1 := addCustomer(w, "Customer-001")
	c2 := addCustomer(w, "Customer-002")
	trk := addTruck(w, "TRK-001", depot, 150)

	trk.AssignRoute(0, []*Location{c1})
	trk.AssignRoute(0, []*Location{c2})
	route := trk.Route()
	if len(route) != 1 || route[0] != c2 {
		t.Fatalf("route = %v, want just Customer-002", route)
	}
}

func TestStatusChangeEventsLogged(t *testing.T) {
	w := benchWorld(Params{})
	depot := addDepot(w, "Depot-A")
	depot.AddResource(0, "widgets", 500)
	customer := addCustomer(w, "Customer-001")
	trk := addTruck(w, "TRK-001", depot, 150)

	trk.AssignRoute(0, []*Location{customer})
	for i := 0; i < 6; i++ {
		w.Step()
	}
	var sawPendingLoad, sawLoading, sawDepart, sawArrive bool
	for _, ev := range trk.Events() {
		switch ev.Type {
		case "status_change":
			switch ev.Details["new_status"] {
			case string(StatusPendingLoad):
				sawPendingLoad = true
			case string(StatusLoading):
				sawLoading = true
			}
		case "depart":
			sawDepart = true
		case "arrive":
			sawArrive = true
		}
	}
	if !sawPendingLoad || !sawLoading || !sawDepart || !sawArrive {
		t.Fatalf("missing lifecycle events: pending_load=%v loading=%v depart=%v arrive=%v",
			sawPendingLoad, sawLoading, sawDepart, sawArrive)
	}
}
