package marketplace

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localloop/core"
	"localloop/engine"
)

type call struct {
	User    core.UserID
	Action  core.ActionType
	Summary string
}

type fakeRecorder struct {
	mu      sync.Mutex
	calls   []call
	err     error
	failFor map[core.UserID]error
}

func (f *fakeRecorder) RecordImpact(_ context.Context, user core.UserID, action core.ActionType, summary string) (engine.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{user, action, summary})
	if err, ok := f.failFor[user]; ok {
		return engine.Receipt{}, err
	}
	return engine.Receipt{}, f.err
}

func (f *fakeRecorder) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestPaymentCreditsBuyerAndOrganizer(t *testing.T) {
	rec := &fakeRecorder{}
	a := NewAdapter(rec, NewMemoryDirectory(map[string]string{"ev1": "org"}), nil)

	err := a.Apply(context.Background(), Trigger{Kind: KindPayment, Payload: &Payment{UserID: "buyer", EventID: "ev1", EventTitle: "Beach Cleanup"}})
	require.NoError(t, err)
	assert.Equal(t, []call{
		{"buyer", core.ActionBuyEventTicket, "Bought Ticket for: Beach Cleanup"},
		{"org", core.ActionSellEventTicket, "Sold Ticket for: Beach Cleanup"},
	}, rec.recorded())
}

func TestPaymentOrganizerBuyingOwnTicket(t *testing.T) {
	rec := &fakeRecorder{}
	a := NewAdapter(rec, NewMemoryDirectory(map[string]string{"ev1": "org"}), nil)

	require.NoError(t, a.OnPaymentCreated(context.Background(), Payment{UserID: "org", EventID: "ev1"}))
	assert.Equal(t, []call{{"org", core.ActionBuyEventTicket, "Bought Ticket for: Unnamed Event"}}, rec.recorded())
}

func TestPaymentForMissingEventCreditsNobody(t *testing.T) {
	rec := &fakeRecorder{}
	a := NewAdapter(rec, NewMemoryDirectory(nil), nil)

	require.NoError(t, a.OnPaymentCreated(context.Background(), Payment{UserID: "buyer", EventID: "gone"}))
	assert.Empty(t, rec.recorded())
}

func TestOrderCreditsBothSides(t *testing.T) {
	rec := &fakeRecorder{}
	a := NewAdapter(rec, NewMemoryDirectory(nil), nil)

	require.NoError(t, a.OnOrderCreated(context.Background(), Order{BuyerID: "b", SellerID: "s"}))
	assert.Equal(t, []call{
		{"b", core.ActionBuyProduct, "Bought a Product: Unnamed Product"},
		{"s", core.ActionSellProduct, "Sold a Product: Unnamed Product"},
	}, rec.recorded())
}

func TestProductAndEventSummaries(t *testing.T) {
	rec := &fakeRecorder{}
	dir := NewMemoryDirectory(nil)
	a := NewAdapter(rec, dir, nil)
	ctx := context.Background()

	require.NoError(t, a.Apply(ctx, Trigger{Kind: KindProduct, Payload: &Product{OwnerID: "o", Name: "Bamboo Brush", Category: "home"}}))
	require.NoError(t, a.Apply(ctx, Trigger{Kind: KindProduct, Payload: &Product{OwnerID: "o"}}))
	require.NoError(t, a.Apply(ctx, Trigger{Kind: KindEvent, DocID: "ev9", Payload: &Event{CreatedBy: "host"}}))

	assert.Equal(t, []call{
		{"o", core.ActionProductListing, "Listed a new home product: Bamboo Brush"},
		{"o", core.ActionProductListing, "Listed a new unspecified product: Unnamed Product"},
		{"host", core.ActionEventListing, "Created a new event: Untitled Event"},
	}, rec.recorded())

	org, found, err := dir.Organizer(ctx, "ev9")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "host", org)
}

func TestIncompletePayloadsAreSkipped(t *testing.T) {
	rec := &fakeRecorder{}
	a := NewAdapter(rec, NewMemoryDirectory(nil), nil)
	ctx := context.Background()

	for _, tr := range []Trigger{
		{Kind: KindPayment, Payload: &Payment{UserID: "buyer"}},
		{Kind: KindOrder, Payload: &Order{BuyerID: "b"}},
		{Kind: KindProduct, Payload: &Product{Name: "orphan"}},
		{Kind: KindEvent, Payload: &Event{Title: "nobody"}},
	} {
		require.NoError(t, a.Apply(ctx, tr))
	}
	assert.Empty(t, rec.recorded())
}

func TestRecorderErrorsPropagate(t *testing.T) {
	boom := errors.New("store down")
	a := NewAdapter(&fakeRecorder{err: boom}, NewMemoryDirectory(nil), nil)

	err := a.OnEventCreated(context.Background(), Event{CreatedBy: "host"})
	require.ErrorIs(t, err, boom)
}

func TestBuyerFailureStillCreditsOtherSide(t *testing.T) {
	boom := errors.New("buyer write failed")
	rec := &fakeRecorder{failFor: map[core.UserID]error{"b": boom}}
	a := NewAdapter(rec, NewMemoryDirectory(map[string]string{"ev1": "org"}), nil)
	ctx := context.Background()

	err := a.OnOrderCreated(ctx, Order{BuyerID: "b", SellerID: "s", ProductName: "Jar"})
	require.ErrorIs(t, err, boom)

	err = a.OnPaymentCreated(ctx, Payment{UserID: "b", EventID: "ev1", EventTitle: "Swap"})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []call{
		{"b", core.ActionBuyProduct, "Bought a Product: Jar"},
		{"s", core.ActionSellProduct, "Sold a Product: Jar"},
		{"b", core.ActionBuyEventTicket, "Bought Ticket for: Swap"},
		{"org", core.ActionSellEventTicket, "Sold Ticket for: Swap"},
	}, rec.recorded())
}

func TestDecodeTrigger(t *testing.T) {
	tr, err := DecodeTrigger(KindOrder, "o1", []byte(`{"buyerId":"b","sellerId":"s","productName":"Jar"}`))
	require.NoError(t, err)
	assert.Equal(t, &Order{BuyerID: "b", SellerID: "s", ProductName: "Jar"}, tr.Payload)

	_, err = DecodeTrigger("refunds", "", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = DecodeTrigger(KindEvent, "", []byte(`not json`))
	require.Error(t, err)
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDispatcher(NewAdapter(rec, NewMemoryDirectory(nil), nil), nil, WithWorkers(2), WithQueueSize(16))

	for i := 0; i < 5; i++ {
		require.True(t, d.Submit(Trigger{Kind: KindEvent, Payload: &Event{CreatedBy: "host"}}))
	}
	d.Close()
	d.Close()

	assert.Len(t, rec.recorded(), 5)
	assert.False(t, d.Submit(Trigger{Kind: KindEvent, Payload: &Event{CreatedBy: "host"}}))
}
