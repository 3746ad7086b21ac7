package marketplace

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names the marketplace collection a trigger came from.
type Kind string

const (
	KindPayment Kind = "payments"
	KindOrder   Kind = "orders"
	KindProduct Kind = "products"
	KindEvent   Kind = "events"
)

// Kinds lists every marketplace collection that produces impact.
var Kinds = []Kind{KindPayment, KindOrder, KindProduct, KindEvent}

var ErrUnknownKind = errors.New("unknown marketplace kind")

// Payment is a newly created ticket payment.
type Payment struct {
	UserID     string `json:"userId" firestore:"userId" validate:"required"`
	EventID    string `json:"eventId" firestore:"eventId" validate:"required"`
	EventTitle string `json:"eventTitle,omitempty" firestore:"eventTitle"`
}

// Order is a newly created product order.
type Order struct {
	BuyerID     string `json:"buyerId" firestore:"buyerId" validate:"required"`
	SellerID    string `json:"sellerId" firestore:"sellerId" validate:"required"`
	ProductName string `json:"productName,omitempty" firestore:"productName"`
}

// Product is a newly created product listing.
type Product struct {
	OwnerID  string `json:"ownerId" firestore:"ownerId" validate:"required"`
	Name     string `json:"name,omitempty" firestore:"name"`
	Category string `json:"category,omitempty" firestore:"category"`
}

// Event is a newly created community event.
type Event struct {
	CreatedBy string `json:"createdBy" firestore:"createdBy" validate:"required"`
	Title     string `json:"title,omitempty" firestore:"title"`
}

// Trigger is one "document created" notification. Payload holds one of
// Payment, Order, Product or Event matching Kind.
type Trigger struct {
	Kind    Kind
	DocID   string
	Payload any
}

// NewPayload returns a pointer to the zero payload for kind.
func NewPayload(kind Kind) (any, error) {
	switch kind {
	case KindPayment:
		return &Payment{}, nil
	case KindOrder:
		return &Order{}, nil
	case KindProduct:
		return &Product{}, nil
	case KindEvent:
		return &Event{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// DecodeTrigger parses a JSON document body for kind.
func DecodeTrigger(kind Kind, docID string, body []byte) (Trigger, error) {
	payload, err := NewPayload(kind)
	if err != nil {
		return Trigger{}, err
	}
	if err := json.Unmarshal(body, payload); err != nil {
		return Trigger{}, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return Trigger{Kind: kind, DocID: docID, Payload: payload}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
