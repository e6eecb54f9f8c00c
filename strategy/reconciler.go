package strategy

import (
	"context"
	"math"
	"sort"

	"quoteflow/models"
)

// nearSlots is the number of orders per side considered "near" the touch.
// Near orders are amended individually every cycle; everything further out
// is handled in bulk.
const nearSlots = 2

// Amend is a single price/size amendment addressed by exchange order id.
type Amend struct {
	OrderID string
	Price   float64
	Size    float64
}

// StepKind enumerates the operations a reconciliation plan can contain.
type StepKind int

const (
	StepSubmitBatch StepKind = iota
	StepAmend
	StepAmendBatch
	StepCancelBatch
	StepCancelAll
)

// Step is one gateway operation in a plan. Only the fields relevant to
// Kind are populated.
type Step struct {
	Kind     StepKind
	Quotes   []models.Quote
	Amend    Amend
	Amends   []Amend
	OrderIDs []string
}

// Plan is the ordered sequence of operations that moves the exchange's
// resting set onto the freshly computed ladder.
type Plan struct {
	Steps []Step
}

// Empty reports whether the plan requires no gateway calls.
func (p Plan) Empty() bool { return len(p.Steps) == 0 }

func (p *Plan) add(s Step) { p.Steps = append(p.Steps, s) }

// OrderGateway is the slice of the exchange gateway the plan executor
// needs. Implementations retry transient failures internally.
type OrderGateway interface {
	SubmitBatch(ctx context.Context, quotes []models.Quote) error
	Amend(ctx context.Context, a Amend) error
	AmendBatch(ctx context.Context, amends []Amend) error
	Cancel(ctx context.Context, orderID string) error
	CancelBatch(ctx context.Context, orderIDs []string) error
	CancelAll(ctx context.Context) error
}

// Reconciler diffs the current resting-order set against a new ladder and
// emits the cheapest plan that converges them, under the tiered
// near/far policy.
type Reconciler struct {
	buffer float64
}

// NewReconciler builds a reconciler with the given far-tier noise buffer:
// far orders whose price moved by no more than buffer are left alone.
func NewReconciler(buffer float64) *Reconciler {
	return &Reconciler{buffer: buffer}
}

// orderKey is the side/price/size triple used for whole-list equality in
// the degenerate far-tier check.
type orderKey struct {
	side  models.Side
	price float64
	size  float64
}

// segregate splits the current orders into bids sorted most-aggressive
// first (descending price) and asks likewise (ascending price).
func segregate(current map[string]models.Order) (bids, asks []models.Order) {
	for _, o := range current {
		if o.Side == models.SideBuy {
			bids = append(bids, o)
		} else {
			asks = append(asks, o)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	return bids, asks
}

func splitTiers(orders []models.Order) (near, far []models.Order) {
	if len(orders) <= nearSlots {
		return orders, nil
	}
	return orders[:nearSlots], orders[nearSlots:]
}

func splitQuotes(ladder []models.Quote) (bids, asks []models.Quote) {
	for _, q := range ladder {
		if q.Side == models.SideBuy {
			bids = append(bids, q)
		} else {
			asks = append(asks, q)
		}
	}
	return bids, asks
}

func splitQuoteTiers(quotes []models.Quote) (near, far []models.Quote) {
	if len(quotes) <= nearSlots {
		return quotes, nil
	}
	return quotes[:nearSlots], quotes[nearSlots:]
}

func sameLists(current []models.Order, next []models.Quote) bool {
	if len(current) != len(next) {
		return false
	}
	for i := range current {
		c := orderKey{current[i].Side, current[i].Price, current[i].Size}
		n := orderKey{next[i].Side, next[i].Price, next[i].Size}
		if c != n {
			return false
		}
	}
	return true
}

// Reconcile runs the guard cascade. Checks are evaluated top to bottom and
// the first matching terminal check ends the plan:
//
//  1. nothing resting: submit the whole ladder.
//  2. ladder grew: cancel everything and resubmit (topology change).
//  3. far tier purely one-sided: if anything differs, cancel everything
//     and resubmit. This check returns even when the lists are equal,
//     matching the behavior the rest of the system was tuned against.
//  4. amend near slots whose price moved (positionally matched).
//  5. far side counts changed: batch-cancel current far, batch-submit new.
//  6. batch-amend far pairs that moved beyond the buffer.
func (r *Reconciler) Reconcile(current map[string]models.Order, ladder []models.Quote) Plan {
	var plan Plan

	// Check 1: empty book of our own orders.
	if len(current) == 0 {
		if len(ladder) > 0 {
			plan.add(Step{Kind: StepSubmitBatch, Quotes: ladder})
		}
		return plan
	}

	curBids, curAsks := segregate(current)
	nearCurBids, farCurBids := splitTiers(curBids)
	nearCurAsks, farCurAsks := splitTiers(curAsks)

	newBids, newAsks := splitQuotes(ladder)
	nearNewBids, farNewBids := splitQuoteTiers(newBids)
	nearNewAsks, farNewAsks := splitQuoteTiers(newAsks)

	// Check 2: growing order count is too expensive to diff.
	if len(current) < len(ladder) {
		plan.add(Step{Kind: StepCancelAll})
		plan.add(Step{Kind: StepSubmitBatch, Quotes: ladder})
		return plan
	}

	// Check 3: degenerate far tier (pure bids or pure asks). Terminal
	// whether or not the lists differ.
	farCount := len(farCurBids) + len(farCurAsks)
	if farCount > 0 && (len(farCurBids) == farCount || len(farCurAsks) == farCount) {
		currentAll := make([]models.Order, 0, len(current))
		currentAll = append(currentAll, nearCurBids...)
		currentAll = append(currentAll, nearCurAsks...)
		currentAll = append(currentAll, farCurBids...)
		currentAll = append(currentAll, farCurAsks...)

		newAll := make([]models.Quote, 0, len(ladder))
		newAll = append(newAll, nearNewBids...)
		newAll = append(newAll, nearNewAsks...)
		newAll = append(newAll, farNewBids...)
		newAll = append(newAll, farNewAsks...)

		if !sameLists(currentAll, newAll) {
			plan.add(Step{Kind: StepCancelAll})
			plan.add(Step{Kind: StepSubmitBatch, Quotes: ladder})
		}
		return plan
	}

	// Check 4: near-tier amends, positionally matched.
	if len(nearNewBids) > 0 && len(nearNewAsks) > 0 {
		appendNearAmends(&plan, nearCurBids, nearNewBids)
		appendNearAmends(&plan, nearCurAsks, nearNewAsks)
	}

	// Check 5: far-tier topology shifted; replace it in bulk.
	if len(farCurBids) != len(farNewBids) || len(farCurAsks) != len(farNewAsks) {
		ids := make([]string, 0, farCount)
		for _, o := range farCurBids {
			ids = append(ids, o.ID)
		}
		for _, o := range farCurAsks {
			ids = append(ids, o.ID)
		}
		if len(ids) > 0 {
			plan.add(Step{Kind: StepCancelBatch, OrderIDs: ids})
		}
		farNew := append(append([]models.Quote{}, farNewBids...), farNewAsks...)
		if len(farNew) > 0 {
			plan.add(Step{Kind: StepSubmitBatch, Quotes: farNew})
		}
		return plan
	}

	// Check 6: buffer-filtered far amends in one batch.
	farCur := append(append([]models.Order{}, farCurBids...), farCurAsks...)
	farNew := append(append([]models.Quote{}, farNewBids...), farNewAsks...)
	var amends []Amend
	for i := range farCur {
		if math.Abs(farCur[i].Price-farNew[i].Price) > r.buffer {
			amends = append(amends, Amend{OrderID: farCur[i].ID, Price: farNew[i].Price, Size: farNew[i].Size})
		}
	}
	if len(amends) > 0 {
		plan.add(Step{Kind: StepAmendBatch, Amends: amends})
	}
	return plan
}

func appendNearAmends(plan *Plan, current []models.Order, next []models.Quote) {
	n := len(current)
	if len(next) < n {
		n = len(next)
	}
	for i := 0; i < n; i++ {
		if current[i].Price != next[i].Price {
			plan.add(Step{
				Kind:  StepAmend,
				Amend: Amend{OrderID: current[i].ID, Price: next[i].Price, Size: next[i].Size},
			})
		}
	}
}

// ExecutePlan walks the plan against the gateway in order. The first
// failing step aborts the rest; the caller logs and retries on the next
// cycle.
func ExecutePlan(ctx context.Context, gw OrderGateway, plan Plan) error {
	for _, step := range plan.Steps {
		var err error
		switch step.Kind {
		case StepSubmitBatch:
			err = gw.SubmitBatch(ctx, step.Quotes)
		case StepAmend:
			err = gw.Amend(ctx, step.Amend)
		case StepAmendBatch:
			err = gw.AmendBatch(ctx, step.Amends)
		case StepCancelBatch:
			err = gw.CancelBatch(ctx, step.OrderIDs)
		case StepCancelAll:
			err = gw.CancelAll(ctx)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
