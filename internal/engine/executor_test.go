package engine

import (
	"context"
	"testing"

	"dipsniper/internal/broker"
	"dipsniper/internal/domain"
)

func TestExecutorSubmitOrder(t *testing.T) {
	ctx := context.Background()
	sim := broker.NewSimulatorBroker(10000)
	sim.SetPrice("AAPL", 100)
	x := NewExecutor(sim, NewRiskManager(0.05, 0.03).WithMaxPositionPct(0.5))

	o, err := x.SubmitOrder(ctx, &domain.Order{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 40}, 100)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if o.Status != domain.OrderStatusFilled {
		t.Errorf("status = %s, want filled", o.Status)
	}

	// 60 more shares would bring notional above half of equity.
	if _, err := x.SubmitOrder(ctx, &domain.Order{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 60}, 100); err == nil {
		t.Error("SubmitOrder accepted an order above the position limit")
	}

	positions, err := x.GetPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 || positions[0].Qty != 40 {
		t.Errorf("positions = %+v, want 40 AAPL", positions)
	}
}
