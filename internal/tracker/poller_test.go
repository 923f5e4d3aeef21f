package tracker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/domain/aftersales"
	"github.com/orderlanelabs/orderlane/internal/event"
	"github.com/orderlanelabs/orderlane/internal/outbox"
	"github.com/orderlanelabs/orderlane/pkg/carrier"
	"github.com/orderlanelabs/orderlane/pkg/snowflake"
)

type fakeRepo struct {
	exchanges     []*aftersales.OrderExchange
	returns       []*aftersales.OrderReturn
	shippings     []*aftersales.OrderShipping
	history       []*aftersales.TrackingHistory
	exchangeSaves int
	returnSaves   int
}

func (f *fakeRepo) FindExchange(_ context.Context, id int64) (*aftersales.OrderExchange, error) {
	for _, e := range f.exchanges {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindReturn(_ context.Context, id int64) (*aftersales.OrderReturn, error) {
	for _, r := range f.returns {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListActiveExchanges(context.Context, int) ([]*aftersales.OrderExchange, error) {
	var out []*aftersales.OrderExchange
	for _, e := range f.exchanges {
		if e.OnCollectionLeg() || e.OnShippingLeg() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListActiveReturns(context.Context, int) ([]*aftersales.OrderReturn, error) {
	var out []*aftersales.OrderReturn
	for _, r := range f.returns {
		if r.Active() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) SaveExchangeTx(_ *gorm.DB, e *aftersales.OrderExchange) error {
	f.exchangeSaves++
	return nil
}

func (f *fakeRepo) SaveReturnTx(_ *gorm.DB, r *aftersales.OrderReturn) error {
	f.returnSaves++
	return nil
}

func (f *fakeRepo) SaveShippingTx(_ *gorm.DB, s *aftersales.OrderShipping) error {
	for i := range f.shippings {
		if f.shippings[i].ID == s.ID {
			f.shippings[i] = s
			return nil
		}
	}
	f.shippings = append(f.shippings, s)
	return nil
}

func (f *fakeRepo) FindShippingByTracking(_ context.Context, trackingNo string) (*aftersales.OrderShipping, error) {
	for _, s := range f.shippings {
		if s.TrackingNo == trackingNo {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) AppendHistoryTx(_ *gorm.DB, h *aftersales.TrackingHistory) error {
	f.history = append(f.history, h)
	return nil
}

func (f *fakeRepo) LastKind(_ context.Context, aggregateType string, aggregateID int64) (string, error) {
	last := ""
	for _, h := range f.history {
		if h.AggregateType == aggregateType && h.AggregateID == aggregateID {
			last = h.ExternalKind
		}
	}
	return last, nil
}

func (f *fakeRepo) LastKindForTracking(_ context.Context, aggregateType string, aggregateID int64, trackingNo string) (string, error) {
	last := ""
	for _, h := range f.history {
		if h.AggregateType == aggregateType && h.AggregateID == aggregateID && h.TrackingNo == trackingNo {
			last = h.ExternalKind
		}
	}
	return last, nil
}

func (f *fakeRepo) ListHistory(context.Context, string, int64) ([]aftersales.TrackingHistory, error) {
	return nil, nil
}

type fakeTracker struct {
	statuses map[string]*carrier.TrackingStatus
	errs     map[string]error
	calls    []string
}

func (f *fakeTracker) Track(_ context.Context, _ string, trackingNo string) (*carrier.TrackingStatus, error) {
	f.calls = append(f.calls, trackingNo)
	if err, ok := f.errs[trackingNo]; ok {
		return nil, err
	}
	status, ok := f.statuses[trackingNo]
	if !ok {
		return nil, fmt.Errorf("no status for %s", trackingNo)
	}
	return status, nil
}

type fakeOutbox struct {
	records []*outbox.Record
}

func (f *fakeOutbox) EnqueueTx(_ *gorm.DB, rec *outbox.Record) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeTransactor struct{}

func (fakeTransactor) Transaction(fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newTestPoller(t *testing.T, repo *fakeRepo, trk *fakeTracker, ob *fakeOutbox) *Poller {
	t.Helper()
	node, err := snowflake.NewNode()
	require.NoError(t, err)
	return &Poller{
		repo:      repo,
		tracker:   trk,
		tx:        fakeTransactor{},
		outbox:    ob,
		ids:       node,
		logger:    zap.NewNop(),
		batchSize: 100,
	}
}

func approvedExchange(id int64, trackingNo string) *aftersales.OrderExchange {
	e := aftersales.NewExchange(id*10, "SKU-OLD", "SKU-NEW", 1)
	e.ID = id
	if err := e.Approve("acme", trackingNo); err != nil {
		panic(err)
	}
	return e
}

func kind(k carrier.Kind) *carrier.TrackingStatus {
	return &carrier.TrackingStatus{Kind: k, Location: "Seoul hub", Remark: "scanned"}
}

func TestSweepNoOpWhenKindUnchanged(t *testing.T) {
	exchange := approvedExchange(1, "TN-1")
	repo := &fakeRepo{exchanges: []*aftersales.OrderExchange{exchange}}
	repo.history = append(repo.history, aftersales.NewHistory(
		aftersales.AggregateExchange, 1, "TN-1", "", "", "", "", string(carrier.KindAccepted), aftersales.SourceTrackerPoll))

	trk := &fakeTracker{statuses: map[string]*carrier.TrackingStatus{"TN-1": kind(carrier.KindAccepted)}}
	ob := &fakeOutbox{}
	p := newTestPoller(t, repo, trk, ob)

	require.NoError(t, p.Sweep(context.Background()))

	assert.Len(t, repo.history, 1, "unchanged kind writes no history")
	assert.Zero(t, repo.exchangeSaves)
	assert.Empty(t, ob.records)
	assert.Equal(t, aftersales.ExchangeApproved, exchange.Status)
}

func TestSweepAcceptedIsHistoryOnly(t *testing.T) {
	exchange := approvedExchange(1, "TN-1")
	repo := &fakeRepo{exchanges: []*aftersales.OrderExchange{exchange}}
	trk := &fakeTracker{statuses: map[string]*carrier.TrackingStatus{"TN-1": kind(carrier.KindPickedUp)}}
	ob := &fakeOutbox{}
	p := newTestPoller(t, repo, trk, ob)

	require.NoError(t, p.Sweep(context.Background()))

	assert.Equal(t, aftersales.ExchangeApproved, exchange.Status)
	assert.Zero(t, repo.exchangeSaves)
	require.Len(t, repo.history, 1)
	assert.Equal(t, string(carrier.KindPickedUp), repo.history[0].ExternalKind)
	assert.Equal(t, "Seoul hub", repo.history[0].Location)
	assert.Empty(t, ob.records)
}

func TestSweepInTransitMovesCollectionLegToCollecting(t *testing.T) {
	exchange := approvedExchange(1, "TN-1")
	repo := &fakeRepo{exchanges: []*aftersales.OrderExchange{exchange}}
	trk := &fakeTracker{statuses: map[string]*carrier.TrackingStatus{"TN-1": kind(carrier.KindInTransit)}}
	ob := &fakeOutbox{}
	p := newTestPoller(t, repo, trk, ob)

	require.NoError(t, p.Sweep(context.Background()))

	assert.Equal(t, aftersales.ExchangeCollecting, exchange.Status)
	assert.Equal(t, 1, repo.exchangeSaves)
	require.Len(t, repo.history, 1)
	assert.Equal(t, string(aftersales.ExchangeApproved), repo.history[0].PreviousStatus)
	assert.Equal(t, string(aftersales.ExchangeCollecting), repo.history[0].NewStatus)

	require.Len(t, ob.records, 1)
	assert.Equal(t, string(event.TypeExchangeCollecting), ob.records[0].EventType)
}

func TestSweepFurtherTransitDoesNotRepeatCollectingEvent(t *testing.T) {
	exchange := approvedExchange(1, "TN-1")
	require.NoError(t, exchange.MarkCollecting())
	repo := &fakeRepo{exchanges: []*aftersales.OrderExchange{exchange}}
	repo.history = append(repo.history, aftersales.NewHistory(
		aftersales.AggregateExchange, 1, "TN-1",
		string(aftersales.ExchangeApproved), string(aftersales.ExchangeCollecting),
		"", "", string(carrier.KindInTransit), aftersales.SourceTrackerPoll))

	trk := &fakeTracker{statuses: map[string]*carrier.TrackingStatus{"TN-1": kind(carrier.KindAtDestination)}}
	ob := &fakeOutbox{}
	p := newTestPoller(t, repo, trk, ob)

	require.NoError(t, p.Sweep(context.Background()))

	assert.Equal(t, aftersales.ExchangeCollecting, exchange.Status)
	assert.Zero(t, repo.exchangeSaves, "status did not move")
	assert.Len(t, repo.history, 2)
	assert.Empty(t, ob.records, "collecting event fires only on the transition")
}

func TestSweepDeliveredCompletesCollectionLeg(t *testing.T) {
	exchange := approvedExchange(1, "TN-1")
	require.NoError(t, exchange.MarkCollecting())
	repo := &fakeRepo{exchanges: []*aftersales.OrderExchange{exchange}}
	trk := &fakeTracker{statuses: map[string]*carrier.TrackingStatus{"TN-1": kind(carrier.KindDelivered)}}
	ob := &fakeOutbox{}
	p := newTestPoller(t, repo, trk, ob)

	require.NoError(t, p.Sweep(context.Background()))

	assert.Equal(t, aftersales.ExchangeReturnCompleted, exchange.Status)
	assert.Equal(t, 1, repo.exchangeSaves)
	require.Len(t, repo.history, 1)
	assert.Equal(t, string(carrier.KindDelivered), repo.history[0].ExternalKind)
}

func TestSweepShippingLegDeliveredCompletesExchange(t *testing.T) {
	exchange := approvedExchange(1, "TN-1")
	require.NoError(t, exchange.CompleteReturn())
	require.NoError(t, exchange.Ship("acme", "TN-2"))

	shipping := aftersales.NewShipping(1, 10, "acme", "TN-2")
	shipping.ID = 77

	repo := &fakeRepo{
		exchanges: []*aftersales.OrderExchange{exchange},
		shippings: []*aftersales.OrderShipping{shipping},
	}
	// The collection leg already ended in DELIVERED on its own tracking
	// number; only the per-tracking-number scope keeps this poll alive.
	repo.history = append(repo.history, aftersales.NewHistory(
		aftersales.AggregateExchange, 1, "TN-1",
		string(aftersales.ExchangeCollecting), string(aftersales.ExchangeReturnCompleted),
		"", "", string(carrier.KindDelivered), aftersales.SourceTrackerPoll))

	trk := &fakeTracker{statuses: map[string]*carrier.TrackingStatus{"TN-2": kind(carrier.KindDelivered)}}
	ob := &fakeOutbox{}
	p := newTestPoller(t, repo, trk, ob)

	require.NoError(t, p.Sweep(context.Background()))

	assert.Equal(t, aftersales.Exchanged, exchange.Status)
	assert.Equal(t, 1, repo.exchangeSaves)
	assert.Len(t, repo.history, 2, "exactly one new history row")
	assert.Equal(t, "TN-2", repo.history[1].TrackingNo)
	assert.Equal(t, string(aftersales.Exchanged), repo.history[1].NewStatus)

	require.Len(t, ob.records, 1)
	assert.Equal(t, string(event.TypeExchangeCompleted), ob.records[0].EventType)

	assert.Equal(t, aftersales.ShippingDelivered, shipping.Status)
}

func TestSweepReturnDeliveredEmitsCompletion(t *testing.T) {
	ret := aftersales.NewReturn(11, "SKU-1", 1)
	ret.ID = 5
	require.NoError(t, ret.Approve("acme", "TN-9"))

	repo := &fakeRepo{returns: []*aftersales.OrderReturn{ret}}
	trk := &fakeTracker{statuses: map[string]*carrier.TrackingStatus{"TN-9": kind(carrier.KindDelivered)}}
	ob := &fakeOutbox{}
	p := newTestPoller(t, repo, trk, ob)

	require.NoError(t, p.Sweep(context.Background()))

	assert.Equal(t, aftersales.ReturnCompleted, ret.Status)
	assert.Equal(t, 1, repo.returnSaves)
	require.Len(t, ob.records, 1)
	assert.Equal(t, string(event.TypeReturnCompleted), ob.records[0].EventType)
}

func TestSweepIsolatesPerAggregateFailures(t *testing.T) {
	broken := approvedExchange(1, "TN-ERR")
	healthy := approvedExchange(2, "TN-OK")

	repo := &fakeRepo{exchanges: []*aftersales.OrderExchange{broken, healthy}}
	trk := &fakeTracker{
		statuses: map[string]*carrier.TrackingStatus{"TN-OK": kind(carrier.KindInTransit)},
		errs:     map[string]error{"TN-ERR": errors.New("carrier timeout")},
	}
	ob := &fakeOutbox{}
	p := newTestPoller(t, repo, trk, ob)

	require.NoError(t, p.Sweep(context.Background()))

	assert.Equal(t, []string{"TN-ERR", "TN-OK"}, trk.calls)
	assert.Equal(t, aftersales.ExchangeApproved, broken.Status)
	assert.Equal(t, aftersales.ExchangeCollecting, healthy.Status)
}
