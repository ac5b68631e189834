package payments

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/notify"
	"github.com/example/rider-api/internal/store"
)

type fakeCharger struct {
	amount   int64
	currency string
	fail     bool
	calls    int
}

func (f *fakeCharger) Charge(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	f.calls++
	f.amount = amount
	f.currency = currency
	if f.fail {
		return "", errors.New("card declined")
	}
	return "pi_test", nil
}

func newFixture(t *testing.T, due bool) (*Service, *store.MemoryStore, *fakeCharger) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.CreateRider(ctx, models.Rider{ID: "r1"}); err != nil {
		t.Fatal(err)
	}
	if due {
		err := st.SetPaymentDue(ctx, "r1", models.PastRide{
			StartAddr: "A", DestAddr: "B", DistanceKm: 12.3, Fare: 264.5, Mode: models.ModeCab,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	ch := &fakeCharger{}
	svc := &Service{
		Store:   st,
		Notify:  &notify.Service{Store: st},
		Charger: ch,
		Logger:  slog.Default(),
	}
	return svc, st, ch
}

func TestPendingSynthesizedFromRiderFields(t *testing.T) {
	svc, _, _ := newFixture(t, true)
	p, err := svc.Pending(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if p.StartAddress != "A" || p.DestinationAddress != "B" || p.Fare != 264.5 || p.Mode != models.ModeCab {
		t.Fatalf("unexpected pending view: %+v", p)
	}
}

func TestPendingNothingDue(t *testing.T) {
	svc, _, _ := newFixture(t, false)
	if _, err := svc.Pending(context.Background(), "r1"); !errors.Is(err, ErrNothingDue) {
		t.Fatalf("expected ErrNothingDue, got %v", err)
	}
}

func TestCompleteClearsFlagAndNotifies(t *testing.T) {
	svc, st, ch := newFixture(t, true)
	ctx := context.Background()
	if err := svc.Complete(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if ch.amount != 26450 || ch.currency != "inr" {
		t.Fatalf("charged %d %s", ch.amount, ch.currency)
	}
	rider, _ := st.Rider(ctx, "r1")
	if rider.IsPayment {
		t.Fatal("flag not cleared")
	}
	unread, _ := (&notify.Service{Store: st}).Unread(ctx, "r1")
	if len(unread) != 1 || unread[0].Text != "Payment Completed" {
		t.Fatalf("expected completion notification, got %+v", unread)
	}

	if err := svc.Complete(ctx, "r1"); !errors.Is(err, ErrNothingDue) {
		t.Fatalf("second completion must find nothing due, got %v", err)
	}
	if ch.calls != 1 {
		t.Fatalf("charger called %d times", ch.calls)
	}
}

func TestCompleteChargeFailureLeavesFlag(t *testing.T) {
	svc, st, ch := newFixture(t, true)
	ch.fail = true
	ctx := context.Background()
	if err := svc.Complete(ctx, "r1"); err == nil {
		t.Fatal("expected error")
	}
	rider, _ := st.Rider(ctx, "r1")
	if !rider.IsPayment {
		t.Fatal("flag must survive a failed charge")
	}
}
