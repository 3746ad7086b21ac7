package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"

	"localloop/core"
	"localloop/engine"
)

// Recorder is the part of the impact service the adapters call.
type Recorder interface {
	RecordImpact(ctx context.Context, user core.UserID, action core.ActionType, summary string) (engine.Receipt, error)
}

// EventDirectory resolves a community event to the user who organized it.
type EventDirectory interface {
	Organizer(ctx context.Context, eventID string) (organizer string, found bool, err error)
}

// Adapter turns marketplace documents into impact entries.
type Adapter struct {
	recorder Recorder
	events   EventDirectory
	validate *validator.Validate
	logger   *slog.Logger
}

func NewAdapter(recorder Recorder, events EventDirectory, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		recorder: recorder,
		events:   events,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Apply handles one trigger. Payloads missing required ids are ignored.
func (a *Adapter) Apply(ctx context.Context, t Trigger) error {
	if err := a.validate.StructCtx(ctx, t.Payload); err != nil {
		a.logger.DebugContext(ctx, "skipping incomplete marketplace document",
			"kind", t.Kind, "doc_id", t.DocID, "error", err)
		return nil
	}
	switch p := t.Payload.(type) {
	case *Payment:
		return a.OnPaymentCreated(ctx, *p)
	case *Order:
		return a.OnOrderCreated(ctx, *p)
	case *Product:
		return a.OnProductCreated(ctx, *p)
	case *Event:
		if r, ok := a.events.(interface{ Remember(eventID, organizer string) }); ok && t.DocID != "" {
			r.Remember(t.DocID, p.CreatedBy)
		}
		return a.OnEventCreated(ctx, *p)
	}
	return fmt.Errorf("%w: payload %T", ErrUnknownKind, t.Payload)
}

// OnPaymentCreated credits the buyer and, when it is someone else, the organizer.
// A payment for an unknown event credits nobody.
func (a *Adapter) OnPaymentCreated(ctx context.Context, p Payment) error {
	title := orDefault(p.EventTitle, "Unnamed Event")
	a.logger.InfoContext(ctx, "event payment created", "event_title", title, "buyer_id", p.UserID)

	organizer, found, err := a.events.Organizer(ctx, p.EventID)
	if err != nil {
		return fmt.Errorf("lookup event %s: %w", p.EventID, err)
	}
	if !found {
		a.logger.WarnContext(ctx, "event not found, skipping payment impact", "event_id", p.EventID)
		return nil
	}

	_, buyerErr := a.recorder.RecordImpact(ctx, core.UserID(p.UserID), core.ActionBuyEventTicket, "Bought Ticket for: "+title)
	var organizerErr error
	if organizer != "" && organizer != p.UserID {
		_, organizerErr = a.recorder.RecordImpact(ctx, core.UserID(organizer), core.ActionSellEventTicket, "Sold Ticket for: "+title)
	}
	return errors.Join(buyerErr, organizerErr)
}

func (a *Adapter) OnOrderCreated(ctx context.Context, o Order) error {
	name := orDefault(o.ProductName, "Unnamed Product")
	a.logger.InfoContext(ctx, "order created", "product_name", name, "buyer_id", o.BuyerID, "seller_id", o.SellerID)

	// each side is credited independently
	_, buyerErr := a.recorder.RecordImpact(ctx, core.UserID(o.BuyerID), core.ActionBuyProduct, "Bought a Product: "+name)
	_, sellerErr := a.recorder.RecordImpact(ctx, core.UserID(o.SellerID), core.ActionSellProduct, "Sold a Product: "+name)
	return errors.Join(buyerErr, sellerErr)
}

func (a *Adapter) OnProductCreated(ctx context.Context, p Product) error {
	name := orDefault(p.Name, "Unnamed Product")
	category := orDefault(p.Category, "unspecified")
	a.logger.InfoContext(ctx, "product listed", "owner_id", p.OwnerID, "product_name", name, "category", category)

	summary := fmt.Sprintf("Listed a new %s product: %s", category, name)
	_, err := a.recorder.RecordImpact(ctx, core.UserID(p.OwnerID), core.ActionProductListing, summary)
	return err
}

func (a *Adapter) OnEventCreated(ctx context.Context, e Event) error {
	title := orDefault(e.Title, "Untitled Event")
	a.logger.InfoContext(ctx, "event created", "created_by", e.CreatedBy, "title", title)

	_, err := a.recorder.RecordImpact(ctx, core.UserID(e.CreatedBy), core.ActionEventListing, "Created a new event: "+title)
	return err
}

// MemoryDirectory is an in-memory EventDirectory. It learns organizers from
// event triggers that carry a document id.
type MemoryDirectory struct {
	mu     sync.RWMutex
	events map[string]string
}

func NewMemoryDirectory(seed map[string]string) *MemoryDirectory {
	d := &MemoryDirectory{events: make(map[string]string, len(seed))}
	for id, org := range seed {
		d.events[id] = org
	}
	return d
}

func (d *MemoryDirectory) Remember(eventID, organizer string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[eventID] = organizer
}

func (d *MemoryDirectory) Organizer(_ context.Context, eventID string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	org, ok := d.events[eventID]
	return org, ok, nil
}
