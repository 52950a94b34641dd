package sim

import (
	"testing"
)

func lastEvent(t *testing.T, l *Location) Event {
	t.Helper()
	events := l.Events()
	if len(events) == 0 {
		t.Fatalf("no events logged")
	}
	return events[len(events)-1]
}

func TestAddAndConsumeResource(t *testing.T) {
	depot := NewLocation("depot-1", "Depot-A", 10, 10, LocationDepot)
	depot.AddResource(1, "fuel", 100)
	if got := depot.Stock("fuel"); got != 100 {
		t.Fatalf("stock = %d, want 100", got)
	}
	if !depot.ConsumeResource(2, "fuel", 40, "TRK-001") {
		t.Fatalf("expected consume to succeed")
	}
	if got := depot.Stock("fuel"); got != 60 {
		t.Fatalf("stock = %d, want 60", got)
	}
	// No partial consumption: asking for more than on hand changes nothing.
	if depot.ConsumeResource(3, "fuel", 100, "TRK-001") {
		t.Fatalf("expected consume to fail")
	}
	if got := depot.Stock("fuel"); got != 60 {
		t.Fatalf("stock after failed consume = %d, want 60", got)
	}
	ev := lastEvent(t, depot)
	if ev.Type != "resource_consumption_failed" {
		t.Fatalf("last event = %s, want resource_consumption_failed", ev.Type)
	}
	if ev.Details["reason"] != "insufficient_resource" {
		t.Fatalf("reason = %v, want insufficient_resource", ev.Details["reason"])
	}
}

func TestProduceClampsAtCapacity(t *testing.T) {
	depot := NewLocation("depot-1", "Depot-A", 0, 0, LocationDepot)
	depot.Production = &Production{Resource: "widgets", Rate: 10, Capacity: 25}
	for tick := 1; tick <= 3; tick++ {
		depot.Produce(tick)
	}
	if got := depot.Stock("widgets"); got != 25 {
		t.Fatalf("stock = %d, want 25", got)
	}
	before := depot.EventLog().Len()
	depot.Produce(4)
	if depot.EventLog().Len() != before {
		t.Fatalf("produce at capacity should not log")
	}
	if got := depot.Stock("widgets"); got != 25 {
		t.Fatalf("stock = %d, want 25 after clamped tick", got)
	}
}

func TestProduceWithoutRuleIsNoop(t *testing.T) {
	c := NewLocation("customer-1", "Customer-001", 0, 0, LocationCustomer)
	before := c.EventLog().Len()
	c.Produce(1)
	if c.EventLog().Len() != before {
		t.Fatalf("expected no events from ruleless produce")
	}
}

func TestRosterAnomalies(t *testing.T) {
	depot := NewLocation("depot-1", "Depot-A", 0, 0, LocationDepot)
	depot.OnArrival(1, "TRK-001")
	depot.OnArrival(2, "TRK-001")
	ev := lastEvent(t, depot)
	if ev.Type != "truck_already_present" {
		t.Fatalf("re-arrival event = %s, want truck_already_present", ev.Type)
	}
	if got := depot.TrucksPresent(); len(got) != 1 || got[0] != "TRK-001" {
		t.Fatalf("roster = %v, want [TRK-001]", got)
	}
	depot.OnDeparture(3, "TRK-002")
	ev = lastEvent(t, depot)
	if ev.Type != "truck_not_found_on_departure" {
		t.Fatalf("absent departure event = %s, want truck_not_found_on_departure", ev.Type)
	}
	depot.OnDeparture(4, "TRK-001")
	if got := depot.TrucksPresent(); len(got) != 0 {
		t.Fatalf("roster = %v, want empty", got)
	}
}

func TestAddDemandRejectedOffCustomer(t *testing.T) {
	depot := NewLocation("depot-1", "Depot-A", 0, 0, LocationDepot)
	id, ok := depot.AddDemand(1, "widgets", 10, "")
	if ok || id != "" {
		t.Fatalf("expected demand rejection at depot, got id=%q ok=%v", id, ok)
	}
	if len(depot.Demands()) != 0 {
		t.Fatalf("depot should hold no demands")
	}
}

func TestGeneratedDemandIDsUnique(t *testing.T) {
	c := NewLocation("customer-1", "Customer-001", 0, 0, LocationCustomer)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, ok := c.AddDemand(1, "widgets", 5, "")
		if !ok {
			t.Fatalf("add demand failed")
		}
		if seen[id] {
			t.Fatalf("duplicate demand id %s", id)
		}
		seen[id] = true
	}
}

func TestFulfillDemandFIFO(t *testing.T) {
	c := NewLocation("customer-1", "Customer-001", 0, 0, LocationCustomer)
	c.AddDemand(1, "widgets", 50, "first")
	c.AddDemand(2, "widgets", 30, "second")

	allocated := c.FulfillDemand(3, "widgets", 40, "TRK-001")
	if allocated != 40 {
		t.Fatalf("allocated = %d, want 40", allocated)
	}
	demands := c.Demands()
	if demands[0].Fulfilled != 40 || demands[0].Status != DemandPartiallyFulfilled {
		t.Fatalf("oldest demand = %d/%s, want 40/partially_fulfilled", demands[0].Fulfilled, demands[0].Status)
	}
	if demands[1].Fulfilled != 0 || demands[1].Status != DemandPending {
		t.Fatalf("newer demand = %d/%s, want 0/pending", demands[1].Fulfilled, demands[1].Status)
	}
}

func TestFulfillDemandDiscardsExcess(t *testing.T) {
	c := NewLocation("customer-1", "Customer-001", 0, 0, LocationCustomer)
	c.AddDemand(1, "widgets", 20, "only")
	allocated := c.FulfillDemand(2, "widgets", 50, "TRK-001")
	if allocated != 20 {
		t.Fatalf("allocated = %d, want 20", allocated)
	}
	d := c.Demands()[0]
	if d.Fulfilled != 20 || d.Status != DemandFulfilled {
		t.Fatalf("demand = %d/%s, want 20/fulfilled", d.Fulfilled, d.Status)
	}
	ev := lastEvent(t, c)
	if ev.Type != "demand_fulfillment_processed" {
		t.Fatalf("last event = %s, want demand_fulfillment_processed", ev.Type)
	}
	if ev.Details["unallocated"] != 30 {
		t.Fatalf("unallocated = %v, want 30", ev.Details["unallocated"])
	}
}

func TestFulfillDemandIgnoresOtherResources(t *testing.T) {
	c := NewLocation("customer-1", "Customer-001", 0, 0, LocationCustomer)
	c.AddDemand(1, "gravel", 10, "")
	if allocated := c.FulfillDemand(2, "widgets", 10, "TRK-001"); allocated != 0 {
		t.Fatalf("allocated = %d, want 0 for unmatched resource", allocated)
	}
}

func TestFulfillDemandOffCustomerReturnsZero(t *testing.T) {
	depot := NewLocation("depot-1", "Depot-A", 0, 0, LocationDepot)
	if got := depot.FulfillDemand(1, "widgets", 10, "TRK-001"); got != 0 {
		t.Fatalf("allocated = %d, want 0 at depot", got)
	}
}
