package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"localloop/integrations/marketplace"
)

// Sink receives decoded marketplace triggers.
type Sink interface {
	Submit(t marketplace.Trigger) bool
}

// Listener watches the marketplace collections and forwards every newly
// created document to a Sink. Documents present when a watch starts are
// ignored.
type Listener struct {
	client *firestore.Client
	sink   Sink
	kinds  []marketplace.Kind
	logger *slog.Logger
}

func NewListener(client *firestore.Client, sink Sink, logger *slog.Logger, kinds ...marketplace.Kind) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if len(kinds) == 0 {
		kinds = marketplace.Kinds
	}
	return &Listener{client: client, sink: sink, kinds: kinds, logger: logger}
}

// Run blocks until ctx is cancelled or a watch fails.
func (l *Listener) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range l.kinds {
		g.Go(func() error { return l.watch(ctx, kind) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return nil
	}
	return err
}

func (l *Listener) watch(ctx context.Context, kind marketplace.Kind) error {
	it := l.client.Collection(string(kind)).Snapshots(ctx)
	defer it.Stop()

	initial := true
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watch %s: %w", kind, err)
		}
		if initial {
			initial = false
			l.logger.Info("watching marketplace collection", "kind", kind, "existing", snap.Size)
			continue
		}
		for _, ch := range snap.Changes {
			if ch.Kind != firestore.DocumentAdded {
				continue
			}
			t, err := decodeTrigger(kind, ch.Doc)
			if err != nil {
				l.logger.Debug("skipping undecodable marketplace document", "kind", kind, "doc_id", ch.Doc.Ref.ID, "error", err)
				continue
			}
			l.sink.Submit(t)
		}
	}
}

func decodeTrigger(kind marketplace.Kind, doc *firestore.DocumentSnapshot) (marketplace.Trigger, error) {
	payload, err := marketplace.NewPayload(kind)
	if err != nil {
		return marketplace.Trigger{}, err
	}
	if err := doc.DataTo(payload); err != nil {
		return marketplace.Trigger{}, err
	}
	return marketplace.Trigger{Kind: kind, DocID: doc.Ref.ID, Payload: payload}, nil
}
