package sim

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// LocationType tags what role a location plays in the network.
type LocationType string

const (
	LocationDepot    LocationType = "depot"
	LocationCustomer LocationType = "customer"
	LocationOther    LocationType = "other"
)

// Stop is the capability every location exposes to trucks for roster
// bookkeeping on arrival and departure.
type Stop interface {
	OnArrival(tick int, truckID string)
	OnDeparture(tick int, truckID string)
}

// Production is an optional per-tick replenishment rule, in practice
// configured on depots only.
type Production struct {
	Resource string `json:"resource"`
	Rate     int    `json:"rate"`
	Capacity int    `json:"capacity"`
}

// DemandStatus is fully determined by comparing fulfilled and requested
// quantities; it only ever moves forward.
type DemandStatus string

const (
	DemandPending            DemandStatus = "pending"
	DemandPartiallyFulfilled DemandStatus = "partially_fulfilled"
	DemandFulfilled          DemandStatus = "fulfilled"
)

// Demand is a customer's outstanding request for a resource. Demands are
// owned by their location and serviced oldest-first.
type Demand struct {
	ID        string       `json:"id"`
	Resource  string       `json:"resource"`
	Requested int          `json:"requested"`
	Fulfilled int          `json:"fulfilled"`
	Status    DemandStatus `json:"status"`
	CreatedAt int          `json:"created_at_tick"`
}

// Location is a stateful node: resource inventory, demand queue, truck
// roster, and an append-only event log. Created once at world init and
// never destroyed during a run.
type Location struct {
	ID         string
	Name       string
	Lat        float64
	Lon        float64
	Type       LocationType
	Production *Production

	resources map[string]int
	demands   []*Demand
	present   map[string]bool
	demandSeq int
	log       Log
}

// NewLocation creates a location and records its creation event at tick 0.
func NewLocation(id, name string, lat, lon float64, locType LocationType) *Location {
	l := &Location{
		ID:        id,
		Name:      name,
		Lat:       lat,
		Lon:       lon,
		Type:      locType,
		resources: map[string]int{},
		present:   map[string]bool{},
	}
	l.log.append(0, "location_created", map[string]any{
		"name": name,
		"type": string(locType),
		"lat":  lat,
		"lon":  lon,
	})
	return l
}

// Stock returns the on-hand quantity of a resource.
func (l *Location) Stock(resource string) int { return l.resources[resource] }

// Resources returns a copy of the inventory.
func (l *Location) Resources() map[string]int {
	out := make(map[string]int, len(l.resources))
	for k, v := range l.resources {
		out[k] = v
	}
	return out
}

// Demands returns the demand queue in insertion order.
func (l *Location) Demands() []*Demand { return l.demands }

// TrucksPresent returns the ids of trucks currently at this location,
// sorted for stable output.
func (l *Location) TrucksPresent() []string {
	out := make([]string, 0, len(l.present))
	for id := range l.present {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Events returns the location's append-only history.
func (l *Location) Events() []Event { return l.log.Events() }

// EventLog exposes the log for incremental flushing.
func (l *Location) EventLog() *Log { return &l.log }

// AddResource increases stock. Negative quantities are ignored.
func (l *Location) AddResource(tick int, resource string, qty int) {
	if qty < 0 {
		qty = 0
	}
	l.resources[resource] += qty
	l.log.append(tick, "resource_added", map[string]any{
		"resource_name":  resource,
		"quantity_added": qty,
		"new_total":      l.resources[resource],
	})
}

// ConsumeResource removes stock if enough is on hand. There is no partial
// consumption: either the full quantity is debited or nothing happens.
func (l *Location) ConsumeResource(tick int, resource string, qty int, actor string) bool {
	if l.resources[resource] < qty {
		details := map[string]any{
			"resource_name":      resource,
			"quantity_requested": qty,
			"reason":             "insufficient_resource",
		}
		if actor != "" {
			details["truck_id"] = actor
		}
		l.log.append(tick, "resource_consumption_failed", details)
		return false
	}
	l.resources[resource] -= qty
	details := map[string]any{
		"resource_name":     resource,
		"quantity_consumed": qty,
		"remaining_total":   l.resources[resource],
	}
	if actor != "" {
		details["truck_id"] = actor
	}
	l.log.append(tick, "resource_consumed", details)
	return true
}

// Produce applies the production rule, clamped so stock never exceeds the
// rule's capacity. No-op without a rule or at capacity.
func (l *Location) Produce(tick int) {
	if l.Production == nil || l.Production.Rate <= 0 {
		return
	}
	headroom := l.Production.Capacity - l.resources[l.Production.Resource]
	if headroom <= 0 {
		return
	}
	add := l.Production.Rate
	if add > headroom {
		add = headroom
	}
	l.AddResource(tick, l.Production.Resource, add)
}

// OnArrival records a truck joining the roster. Re-arrival of a truck
// already present is logged as an anomaly, never treated as fatal.
func (l *Location) OnArrival(tick int, truckID string) {
	if l.present[truckID] {
		l.log.append(tick, "truck_already_present", map[string]any{
			"truck_id":            truckID,
			"current_truck_count": len(l.present),
		})
		return
	}
	l.present[truckID] = true
	l.log.append(tick, "truck_arrived", map[string]any{
		"truck_id":            truckID,
		"current_truck_count": len(l.present),
	})
}

// OnDeparture records a truck leaving the roster, logging an anomaly if it
// was never registered.
func (l *Location) OnDeparture(tick int, truckID string) {
	if !l.present[truckID] {
		l.log.append(tick, "truck_not_found_on_departure", map[string]any{
			"truck_id": truckID,
		})
		return
	}
	delete(l.present, truckID)
	l.log.append(tick, "truck_departed", map[string]any{
		"truck_id":            truckID,
		"current_truck_count": len(l.present),
	})
}

// AddDemand appends a demand record at a customer location and returns its
// id. Non-customer locations reject the demand and return ok=false.
// Generated ids combine a per-location counter with a deterministic UUID
// suffix so they stay unique per location and reproducible per run.
func (l *Location) AddDemand(tick int, resource string, qty int, demandID string) (string, bool) {
	if l.Type != LocationCustomer {
		l.log.append(tick, "demand_rejected", map[string]any{
			"resource_name": resource,
			"quantity":      qty,
			"reason":        "not_customer_location",
		})
		return "", false
	}
	l.demandSeq++
	if demandID == "" {
		suffix := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%d|%d", l.ID, l.demandSeq, tick)))
		demandID = fmt.Sprintf("DMD-%03d-%s", l.demandSeq, suffix.String()[:8])
	}
	d := &Demand{
		ID:        demandID,
		Resource:  resource,
		Requested: qty,
		Status:    DemandPending,
		CreatedAt: tick,
	}
	l.demands = append(l.demands, d)
	l.log.append(tick, "demand_added", map[string]any{
		"demand_id":     d.ID,
		"resource_name": resource,
		"quantity":      qty,
	})
	return d.ID, true
}

// FulfillDemand allocates a delivered quantity across open demands for the
// resource, oldest first. It returns the amount actually allocated; any
// excess is delivered-but-unused and is not returned to the truck.
func (l *Location) FulfillDemand(tick int, resource string, qtyDelivered int, actor string) int {
	if l.Type != LocationCustomer || qtyDelivered <= 0 {
		return 0
	}
	remaining := qtyDelivered
	allocated := 0
	for _, d := range l.demands {
		if remaining == 0 {
			break
		}
		if d.Resource != resource || d.Status == DemandFulfilled {
			continue
		}
		shortfall := d.Requested - d.Fulfilled
		take := shortfall
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		d.Fulfilled += take
		remaining -= take
		allocated += take
		if d.Fulfilled >= d.Requested {
			d.Status = DemandFulfilled
		} else {
			d.Status = DemandPartiallyFulfilled
		}
		l.log.append(tick, "demand_updated", map[string]any{
			"demand_id":                     d.ID,
			"resource_name":                 resource,
			"quantity_delivered_for_demand": take,
			"quantity_fulfilled":            d.Fulfilled,
			"quantity_requested":            d.Requested,
			"status":                        string(d.Status),
			"truck_id":                      actor,
		})
	}
	l.log.append(tick, "demand_fulfillment_processed", map[string]any{
		"resource_name":      resource,
		"quantity_delivered": qtyDelivered,
		"quantity_allocated": allocated,
		"unallocated":        qtyDelivered - allocated,
		"truck_id":           actor,
	})
	return allocated
}

// openDemandFor reports whether any pending or partially fulfilled demand
// exists for the resource.
func (l *Location) openDemandFor(resource string) bool {
	for _, d := range l.demands {
		if d.Resource == resource && d.Status != DemandFulfilled {
			return true
		}
	}
	return false
}
