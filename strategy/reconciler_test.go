package strategy

import (
	"context"
	"testing"

	"quoteflow/models"
)

func testParams() Params {
	return Params{
		TickSize:         0.5,
		LotSize:          0.001,
		MaxOrders:        8,
		MinOrderSize:     0.01,
		MaxOrderSize:     0.1,
		InventoryExtreme: 0.6,
		TargetSpread:     1.0,
	}
}

func orderMap(orders ...models.Order) map[string]models.Order {
	m := make(map[string]models.Order, len(orders))
	for _, o := range orders {
		m[o.ID] = o
	}
	return m
}

func TestReconcileEmptyCurrentSubmitsLadder(t *testing.T) {
	r := NewReconciler(0.5)
	ladder := []models.Quote{
		{Side: models.SideBuy, Price: 100, Size: 0.01},
		{Side: models.SideSell, Price: 101, Size: 0.01},
	}
	plan := r.Reconcile(nil, ladder)
	if len(plan.Steps) != 1 || plan.Steps[0].Kind != StepSubmitBatch {
		t.Fatalf("expected single submit step, got %+v", plan.Steps)
	}
	if len(plan.Steps[0].Quotes) != 2 {
		t.Fatalf("submit must carry whole ladder")
	}
}

func TestReconcileUnchangedLadderIsNoop(t *testing.T) {
	r := NewReconciler(0.5)
	current := orderMap(
		models.Order{ID: "b1", Side: models.SideBuy, Price: 100, Size: 0.01},
		models.Order{ID: "b2", Side: models.SideBuy, Price: 99.5, Size: 0.01},
		models.Order{ID: "a1", Side: models.SideSell, Price: 101, Size: 0.01},
		models.Order{ID: "a2", Side: models.SideSell, Price: 101.5, Size: 0.01},
	)
	ladder := []models.Quote{
		{Side: models.SideBuy, Price: 100, Size: 0.01},
		{Side: models.SideBuy, Price: 99.5, Size: 0.01},
		{Side: models.SideSell, Price: 101, Size: 0.01},
		{Side: models.SideSell, Price: 101.5, Size: 0.01},
	}
	if plan := r.Reconcile(current, ladder); !plan.Empty() {
		t.Fatalf("expected empty plan, got %+v", plan.Steps)
	}
}

func TestReconcileLadderGrowthResubmitsAll(t *testing.T) {
	r := NewReconciler(0.5)
	current := orderMap(
		models.Order{ID: "b1", Side: models.SideBuy, Price: 100, Size: 0.01},
		models.Order{ID: "a1", Side: models.SideSell, Price: 101, Size: 0.01},
		models.Order{ID: "a2", Side: models.SideSell, Price: 101.5, Size: 0.01},
	)
	ladder := []models.Quote{
		{Side: models.SideBuy, Price: 100, Size: 0.01},
		{Side: models.SideBuy, Price: 99.5, Size: 0.01},
		{Side: models.SideBuy, Price: 99, Size: 0.01},
		{Side: models.SideSell, Price: 101, Size: 0.01},
		{Side: models.SideSell, Price: 101.5, Size: 0.01},
	}
	plan := r.Reconcile(current, ladder)
	if len(plan.Steps) != 2 {
		t.Fatalf("expected cancel-all then submit, got %+v", plan.Steps)
	}
	if plan.Steps[0].Kind != StepCancelAll || plan.Steps[1].Kind != StepSubmitBatch {
		t.Fatalf("wrong step order: %+v", plan.Steps)
	}
}

func TestReconcileOneSidedFarTier(t *testing.T) {
	r := NewReconciler(0.5)
	// Far tier is bids only: 5 bids means 3 beyond the near slots.
	current := orderMap(
		models.Order{ID: "b1", Side: models.SideBuy, Price: 100, Size: 0.01},
		models.Order{ID: "b2", Side: models.SideBuy, Price: 99.5, Size: 0.01},
		models.Order{ID: "b3", Side: models.SideBuy, Price: 99, Size: 0.01},
		models.Order{ID: "b4", Side: models.SideBuy, Price: 98.5, Size: 0.01},
		models.Order{ID: "b5", Side: models.SideBuy, Price: 98, Size: 0.01},
		models.Order{ID: "a1", Side: models.SideSell, Price: 101, Size: 0.01},
		models.Order{ID: "a2", Side: models.SideSell, Price: 101.5, Size: 0.01},
	)
	same := []models.Quote{
		{Side: models.SideBuy, Price: 100, Size: 0.01},
		{Side: models.SideBuy, Price: 99.5, Size: 0.01},
		{Side: models.SideBuy, Price: 99, Size: 0.01},
		{Side: models.SideBuy, Price: 98.5, Size: 0.01},
		{Side: models.SideBuy, Price: 98, Size: 0.01},
		{Side: models.SideSell, Price: 101, Size: 0.01},
		{Side: models.SideSell, Price: 101.5, Size: 0.01},
	}
	if plan := r.Reconcile(current, same); !plan.Empty() {
		t.Fatalf("identical one-sided set must be a noop, got %+v", plan.Steps)
	}

	moved := append([]models.Quote{}, same...)
	moved[2].Price = 99.25
	plan := r.Reconcile(current, moved)
	if len(plan.Steps) != 2 || plan.Steps[0].Kind != StepCancelAll || plan.Steps[1].Kind != StepSubmitBatch {
		t.Fatalf("one-sided drift must resubmit everything, got %+v", plan.Steps)
	}
}

func TestReconcileNearAmends(t *testing.T) {
	r := NewReconciler(0.5)
	current := orderMap(
		models.Order{ID: "b1", Side: models.SideBuy, Price: 100, Size: 0.01},
		models.Order{ID: "b2", Side: models.SideBuy, Price: 99.5, Size: 0.01},
		models.Order{ID: "a1", Side: models.SideSell, Price: 101, Size: 0.01},
		models.Order{ID: "a2", Side: models.SideSell, Price: 101.5, Size: 0.01},
	)
	ladder := []models.Quote{
		{Side: models.SideBuy, Price: 100.5, Size: 0.02},
		{Side: models.SideBuy, Price: 99.5, Size: 0.01},
		{Side: models.SideSell, Price: 101, Size: 0.01},
		{Side: models.SideSell, Price: 102, Size: 0.02},
	}
	plan := r.Reconcile(current, ladder)
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 amends, got %+v", plan.Steps)
	}
	first := plan.Steps[0]
	if first.Kind != StepAmend || first.Amend.OrderID != "b1" || first.Amend.Price != 100.5 {
		t.Fatalf("wrong bid amend: %+v", first)
	}
	second := plan.Steps[1]
	if second.Kind != StepAmend || second.Amend.OrderID != "a2" || second.Amend.Price != 102 {
		t.Fatalf("wrong ask amend: %+v", second)
	}
}

func TestReconcileFarCountMismatch(t *testing.T) {
	r := NewReconciler(0.5)
	current := orderMap(
		models.Order{ID: "b1", Side: models.SideBuy, Price: 100, Size: 0.01},
		models.Order{ID: "b2", Side: models.SideBuy, Price: 99.5, Size: 0.01},
		models.Order{ID: "b3", Side: models.SideBuy, Price: 99, Size: 0.01},
		models.Order{ID: "a1", Side: models.SideSell, Price: 101, Size: 0.01},
		models.Order{ID: "a2", Side: models.SideSell, Price: 101.5, Size: 0.01},
		models.Order{ID: "a3", Side: models.SideSell, Price: 102, Size: 0.01},
	)
	// Near tiers unchanged; new ladder drops both far orders.
	ladder := []models.Quote{
		{Side: models.SideBuy, Price: 100, Size: 0.01},
		{Side: models.SideBuy, Price: 99.5, Size: 0.01},
		{Side: models.SideSell, Price: 101, Size: 0.01},
		{Side: models.SideSell, Price: 101.5, Size: 0.01},
	}
	plan := r.Reconcile(current, ladder)
	if len(plan.Steps) != 1 || plan.Steps[0].Kind != StepCancelBatch {
		t.Fatalf("expected far cancel batch, got %+v", plan.Steps)
	}
	ids := plan.Steps[0].OrderIDs
	if len(ids) != 2 || ids[0] != "b3" || ids[1] != "a3" {
		t.Fatalf("wrong far cancels: %v", ids)
	}
}

func TestReconcileFarAmendBuffer(t *testing.T) {
	r := NewReconciler(0.5)
	current := orderMap(
		models.Order{ID: "b1", Side: models.SideBuy, Price: 100, Size: 0.01},
		models.Order{ID: "b2", Side: models.SideBuy, Price: 99.5, Size: 0.01},
		models.Order{ID: "b3", Side: models.SideBuy, Price: 99, Size: 0.01},
		models.Order{ID: "a1", Side: models.SideSell, Price: 101, Size: 0.01},
		models.Order{ID: "a2", Side: models.SideSell, Price: 101.5, Size: 0.01},
		models.Order{ID: "a3", Side: models.SideSell, Price: 102, Size: 0.01},
	)
	ladder := []models.Quote{
		{Side: models.SideBuy, Price: 100, Size: 0.01},
		{Side: models.SideBuy, Price: 99.5, Size: 0.01},
		{Side: models.SideBuy, Price: 98.6, Size: 0.01}, // moved 0.4, inside buffer
		{Side: models.SideSell, Price: 101, Size: 0.01},
		{Side: models.SideSell, Price: 101.5, Size: 0.01},
		{Side: models.SideSell, Price: 103, Size: 0.02}, // moved 1.0, beyond buffer
	}
	plan := r.Reconcile(current, ladder)
	if len(plan.Steps) != 1 || plan.Steps[0].Kind != StepAmendBatch {
		t.Fatalf("expected single amend batch, got %+v", plan.Steps)
	}
	amends := plan.Steps[0].Amends
	if len(amends) != 1 || amends[0].OrderID != "a3" || amends[0].Price != 103 {
		t.Fatalf("buffer filter failed: %+v", amends)
	}
}

type recordingGateway struct {
	calls   []string
	failOn  string
	lastErr error
}

func (g *recordingGateway) do(name string) error {
	g.calls = append(g.calls, name)
	if name == g.failOn {
		g.lastErr = context.DeadlineExceeded
		return g.lastErr
	}
	return nil
}

func (g *recordingGateway) SubmitBatch(ctx context.Context, quotes []models.Quote) error {
	return g.do("submit")
}
func (g *recordingGateway) Amend(ctx context.Context, a Amend) error { return g.do("amend") }
func (g *recordingGateway) AmendBatch(ctx context.Context, amends []Amend) error {
	return g.do("amendBatch")
}
func (g *recordingGateway) Cancel(ctx context.Context, orderID string) error {
	return g.do("cancel")
}
func (g *recordingGateway) CancelBatch(ctx context.Context, orderIDs []string) error {
	return g.do("cancelBatch")
}
func (g *recordingGateway) CancelAll(ctx context.Context) error { return g.do("cancelAll") }

func TestExecutePlanOrderAndAbort(t *testing.T) {
	plan := Plan{Steps: []Step{
		{Kind: StepCancelAll},
		{Kind: StepSubmitBatch},
	}}

	gw := &recordingGateway{}
	if err := ExecutePlan(context.Background(), gw, plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.calls) != 2 || gw.calls[0] != "cancelAll" || gw.calls[1] != "submit" {
		t.Fatalf("wrong call order: %v", gw.calls)
	}

	gw = &recordingGateway{failOn: "cancelAll"}
	if err := ExecutePlan(context.Background(), gw, plan); err == nil {
		t.Fatalf("expected failure to propagate")
	}
	if len(gw.calls) != 1 {
		t.Fatalf("failed step must abort the rest: %v", gw.calls)
	}
}
