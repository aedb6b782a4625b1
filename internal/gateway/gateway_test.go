package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/projectech/VoiceGuide/internal/dialogue"
	"github.com/projectech/VoiceGuide/internal/hub"
	"github.com/projectech/VoiceGuide/internal/location"
	"github.com/projectech/VoiceGuide/internal/messaging"
	"github.com/projectech/VoiceGuide/internal/models"
	"github.com/projectech/VoiceGuide/internal/store"
	"github.com/projectech/VoiceGuide/internal/testutil"
	"github.com/projectech/VoiceGuide/internal/twilio"
)

type fakeDescriber struct {
	desc string
	err  error
}

func (f fakeDescriber) Describe(ctx context.Context, at models.Coordinates) (string, error) {
	return f.desc, f.err
}

func newTestGateway(t *testing.T) (*Gateway, *twilio.MockClient, *store.InMemoryStore) {
	t.Helper()
	tw := twilio.NewMockClient()
	st := store.NewInMemoryStore()
	g := New(
		WithCaller(tw),
		WithMessenger(messaging.NewTwilioService(tw)),
		WithContacts(st),
		WithReceipts(st),
		WithLocation(location.Fixed{At: models.Coordinates{Latitude: 51.5, Longitude: -0.12}}),
		WithDescriber(fakeDescriber{desc: "10 Downing Street, London"}),
		WithNavigator(hub.New()),
	)
	g.now = func() time.Time { return time.Unix(1700000000, 0) }
	return g, tw, st
}

func receipts(t *testing.T, st *store.InMemoryStore) []models.Receipt {
	t.Helper()
	rs, err := st.GetReceipts(context.Background())
	if err != nil {
		t.Fatalf("GetReceipts: %v", err)
	}
	return rs
}

func TestPlaceCallRecordsReceipt(t *testing.T) {
	g, tw, st := newTestGateway(t)
	ctx := dialogue.ContextWithSessionID(context.Background(), "s_call")

	if err := g.PlaceCall(ctx, "5551234"); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if calls := tw.Calls(); len(calls) != 1 || calls[0] != "5551234" {
		t.Errorf("unexpected calls %v", calls)
	}
	rs := receipts(t, st)
	if len(rs) != 1 {
		t.Fatalf("expected one receipt, got %d", len(rs))
	}
	want := models.Receipt{SessionID: "s_call", Action: models.ActionPlaceCall, To: "5551234", Status: models.MessageStatusSent, Time: 1700000000}
	if rs[0] != want {
		t.Errorf("receipt = %+v, want %+v", rs[0], want)
	}
}

func TestSendMessageFailure(t *testing.T) {
	g, tw, st := newTestGateway(t)
	tw.Err = errors.New("carrier rejected")

	err := g.SendMessage(context.Background(), "+1 (555) 123-4567", "On my way")
	if err == nil {
		t.Fatal("expected provider error")
	}
	if msgs := tw.Messages(); len(msgs) != 1 || msgs[0].To != "+15551234567" {
		t.Errorf("unexpected messages %v", msgs)
	}
	rs := receipts(t, st)
	if len(rs) != 1 || rs[0].Status != models.MessageStatusFailed || rs[0].Detail != "carrier rejected" {
		t.Errorf("unexpected receipts %+v", rs)
	}
}

func TestSendMessageInvalidRecipient(t *testing.T) {
	g, tw, st := newTestGateway(t)
	if err := g.SendMessage(context.Background(), "12", "hi"); err == nil {
		t.Fatal("expected error for short number")
	}
	if len(tw.Messages()) != 0 {
		t.Error("invalid recipient should not reach the provider")
	}
	if rs := receipts(t, st); len(rs) != 1 || rs[0].Status != models.MessageStatusFailed {
		t.Errorf("unexpected receipts %+v", rs)
	}
}

func TestResolveContact(t *testing.T) {
	g, _, st := newTestGateway(t)
	ctx := context.Background()
	testutil.SeedContacts(t, st, models.Contact{Name: "Bob Smith", Number: "5550001"})

	number, found, err := g.ResolveContact(ctx, "bob")
	if err != nil || !found || number != "5550001" {
		t.Errorf("ResolveContact(bob) = %q, %v, %v", number, found, err)
	}
	if _, found, _ := g.ResolveContact(ctx, "Alice"); found {
		t.Error("unknown contact should not be found")
	}
}

func TestLocationAndDescription(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	here, found, err := g.CurrentLocation(ctx)
	if err != nil || !found || here.Latitude != 51.5 {
		t.Fatalf("CurrentLocation = %v, %v, %v", here, found, err)
	}
	desc, err := g.DescribeLocation(ctx, here)
	if err != nil || desc != "10 Downing Street, London" {
		t.Errorf("DescribeLocation = %q, %v", desc, err)
	}
}

func TestNavigationWithoutDevice(t *testing.T) {
	g, _, st := newTestGateway(t)
	err := g.LaunchNavigation(context.Background(), models.Coordinates{Latitude: 1, Longitude: 2})
	if !errors.Is(err, hub.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	rs := receipts(t, st)
	if len(rs) != 1 || rs[0].Action != models.ActionLaunchNavigation || rs[0].Status != models.MessageStatusFailed {
		t.Errorf("unexpected receipts %+v", rs)
	}
}

func TestUnconfiguredGateway(t *testing.T) {
	g := New()
	ctx := context.Background()
	if err := g.PlaceCall(ctx, "5551234"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("PlaceCall: expected ErrNotConfigured, got %v", err)
	}
	if err := g.SendMessage(ctx, "5551234", "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("SendMessage: expected ErrNotConfigured, got %v", err)
	}
	if _, found, err := g.CurrentLocation(ctx); found || err != nil {
		t.Errorf("CurrentLocation without provider = %v, %v", found, err)
	}
	if _, found, err := g.ResolveContact(ctx, "Bob"); found || err != nil {
		t.Errorf("ResolveContact without directory = %v, %v", found, err)
	}
}
