package aftersales

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	coredomain "github.com/orderlanelabs/orderlane/internal/domain"
	domain "github.com/orderlanelabs/orderlane/internal/domain/aftersales"
	"github.com/orderlanelabs/orderlane/internal/event"
	"github.com/orderlanelabs/orderlane/internal/outbox"
	"github.com/orderlanelabs/orderlane/pkg/carrier"
	"github.com/orderlanelabs/orderlane/pkg/snowflake"
)

type fakeRepo struct {
	exchanges map[int64]*domain.OrderExchange
	returns   map[int64]*domain.OrderReturn
	shippings []*domain.OrderShipping
	history   []*domain.TrackingHistory
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		exchanges: map[int64]*domain.OrderExchange{},
		returns:   map[int64]*domain.OrderReturn{},
	}
}

func (f *fakeRepo) FindExchange(_ context.Context, id int64) (*domain.OrderExchange, error) {
	e, ok := f.exchanges[id]
	if !ok {
		return nil, nil
	}
	clone := *e
	return &clone, nil
}

func (f *fakeRepo) FindReturn(_ context.Context, id int64) (*domain.OrderReturn, error) {
	r, ok := f.returns[id]
	if !ok {
		return nil, nil
	}
	clone := *r
	return &clone, nil
}

func (f *fakeRepo) ListActiveExchanges(context.Context, int) ([]*domain.OrderExchange, error) {
	return nil, nil
}

func (f *fakeRepo) ListActiveReturns(context.Context, int) ([]*domain.OrderReturn, error) {
	return nil, nil
}

func (f *fakeRepo) SaveExchangeTx(_ *gorm.DB, e *domain.OrderExchange) error {
	clone := *e
	f.exchanges[e.ID] = &clone
	return nil
}

func (f *fakeRepo) SaveReturnTx(_ *gorm.DB, r *domain.OrderReturn) error {
	clone := *r
	f.returns[r.ID] = &clone
	return nil
}

func (f *fakeRepo) SaveShippingTx(_ *gorm.DB, s *domain.OrderShipping) error {
	clone := *s
	f.shippings = append(f.shippings, &clone)
	return nil
}

func (f *fakeRepo) FindShippingByTracking(_ context.Context, trackingNo string) (*domain.OrderShipping, error) {
	for _, s := range f.shippings {
		if s.TrackingNo == trackingNo {
			clone := *s
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) AppendHistoryTx(_ *gorm.DB, h *domain.TrackingHistory) error {
	clone := *h
	f.history = append(f.history, &clone)
	return nil
}

func (f *fakeRepo) LastKind(context.Context, string, int64) (string, error) {
	return "", nil
}

func (f *fakeRepo) LastKindForTracking(context.Context, string, int64, string) (string, error) {
	return "", nil
}

func (f *fakeRepo) ListHistory(_ context.Context, aggregateType string, aggregateID int64) ([]domain.TrackingHistory, error) {
	var out []domain.TrackingHistory
	for _, h := range f.history {
		if h.AggregateType == aggregateType && h.AggregateID == aggregateID {
			out = append(out, *h)
		}
	}
	return out, nil
}

type fakeOutbox struct {
	records []*outbox.Record
}

func (f *fakeOutbox) EnqueueTx(_ *gorm.DB, rec *outbox.Record) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeLabels struct {
	nextTracking string
	issueErr     error
	failReason   string
	cancelled    [][]string
}

func (f *fakeLabels) IssueLabels(_ context.Context, reqs []carrier.LabelRequest) ([]carrier.LabelResult, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	results := make([]carrier.LabelResult, 0, len(reqs))
	for _, req := range reqs {
		if f.failReason != "" {
			results = append(results, carrier.LabelResult{RefID: req.RefID, FailReason: f.failReason})
			continue
		}
		results = append(results, carrier.LabelResult{RefID: req.RefID, TrackingNo: f.nextTracking, Success: true})
	}
	return results, nil
}

func (f *fakeLabels) CancelLabels(_ context.Context, _ string, trackingNos []string) error {
	f.cancelled = append(f.cancelled, trackingNos)
	return nil
}

type fakeTransactor struct{}

func (fakeTransactor) Transaction(fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func receiver() Receiver {
	return Receiver{CarrierCode: "acme", Name: "Jo Doe", Phone: "010-0000", Postcode: "04524", Address: "1 Main St"}
}

func newTestUseCase(t *testing.T, repo *fakeRepo, ob *fakeOutbox, labels *fakeLabels) *UseCase {
	t.Helper()
	node, err := snowflake.NewNode()
	require.NoError(t, err)
	return &UseCase{
		repo:   repo,
		outbox: ob,
		labels: labels,
		tx:     fakeTransactor{},
		ids:    node,
		logger: zap.NewNop(),
	}
}

func TestApproveExchangeIssuesLabelAndEmitsDecrease(t *testing.T) {
	repo := newFakeRepo()
	ob := &fakeOutbox{}
	labels := &fakeLabels{nextTracking: "TN-100"}
	uc := newTestUseCase(t, repo, ob, labels)

	requested, err := uc.RequestExchange(context.Background(), 10, "SKU-OLD", "SKU-NEW", 2)
	require.NoError(t, err)

	approved, err := uc.ApproveExchange(context.Background(), requested.ID, receiver())
	require.NoError(t, err)

	assert.Equal(t, domain.ExchangeApproved, approved.Status)
	assert.Equal(t, "TN-100", approved.CollectionTrackingNo)

	stored := repo.exchanges[requested.ID]
	assert.Equal(t, domain.ExchangeApproved, stored.Status)

	require.Len(t, repo.history, 1)
	assert.Equal(t, string(domain.ExchangeRequested), repo.history[0].PreviousStatus)
	assert.Equal(t, string(domain.ExchangeApproved), repo.history[0].NewStatus)
	assert.Equal(t, domain.SourceOperator, repo.history[0].Source)

	require.Len(t, ob.records, 1)
	assert.Equal(t, string(event.TypeInventoryDecrease), ob.records[0].EventType)
	assert.Contains(t, ob.records[0].Payload, "SKU-NEW")
}

func TestApproveExchangeLabelFailureLeavesStateUntouched(t *testing.T) {
	repo := newFakeRepo()
	ob := &fakeOutbox{}
	labels := &fakeLabels{failReason: "invalid postcode"}
	uc := newTestUseCase(t, repo, ob, labels)

	requested, err := uc.RequestExchange(context.Background(), 10, "SKU-OLD", "SKU-NEW", 1)
	require.NoError(t, err)

	_, err = uc.ApproveExchange(context.Background(), requested.ID, receiver())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid postcode")

	assert.Equal(t, domain.ExchangeRequested, repo.exchanges[requested.ID].Status)
	assert.Empty(t, repo.history)
	assert.Empty(t, ob.records)
}

func TestApproveExchangeUnknownID(t *testing.T) {
	uc := newTestUseCase(t, newFakeRepo(), &fakeOutbox{}, &fakeLabels{nextTracking: "TN-1"})

	_, err := uc.ApproveExchange(context.Background(), 404, receiver())
	assert.ErrorIs(t, err, coredomain.ErrNotFound)
}

func TestShipExchangeCreatesShippingRow(t *testing.T) {
	repo := newFakeRepo()
	ob := &fakeOutbox{}
	labels := &fakeLabels{nextTracking: "TN-100"}
	uc := newTestUseCase(t, repo, ob, labels)

	requested, err := uc.RequestExchange(context.Background(), 10, "SKU-OLD", "SKU-NEW", 1)
	require.NoError(t, err)
	_, err = uc.ApproveExchange(context.Background(), requested.ID, receiver())
	require.NoError(t, err)

	// Collection leg finished; the tracker would normally drive this.
	collected := repo.exchanges[requested.ID]
	require.NoError(t, collected.CompleteReturn())

	labels.nextTracking = "TN-200"
	shipped, err := uc.ShipExchange(context.Background(), requested.ID, receiver())
	require.NoError(t, err)

	assert.Equal(t, domain.ExchangeShipping, shipped.Status)
	assert.Equal(t, "TN-200", shipped.ShippingTrackingNo)

	require.Len(t, repo.shippings, 1)
	assert.Equal(t, requested.ID, repo.shippings[0].ExchangeID)
	assert.Equal(t, "TN-200", repo.shippings[0].TrackingNo)
	assert.Equal(t, domain.ShippingInProgress, repo.shippings[0].Status)
}

func TestShipExchangeBeforeReturnCompletedFails(t *testing.T) {
	repo := newFakeRepo()
	uc := newTestUseCase(t, repo, &fakeOutbox{}, &fakeLabels{nextTracking: "TN-1"})

	requested, err := uc.RequestExchange(context.Background(), 10, "SKU-OLD", "SKU-NEW", 1)
	require.NoError(t, err)

	_, err = uc.ShipExchange(context.Background(), requested.ID, receiver())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReissueCollectionLabelCancelsOldOne(t *testing.T) {
	repo := newFakeRepo()
	labels := &fakeLabels{nextTracking: "TN-100"}
	uc := newTestUseCase(t, repo, &fakeOutbox{}, labels)

	requested, err := uc.RequestExchange(context.Background(), 10, "SKU-OLD", "SKU-NEW", 1)
	require.NoError(t, err)
	_, err = uc.ApproveExchange(context.Background(), requested.ID, receiver())
	require.NoError(t, err)

	labels.nextTracking = "TN-101"
	reissued, err := uc.ReissueCollectionLabel(context.Background(), requested.ID, receiver())
	require.NoError(t, err)

	assert.Equal(t, "TN-101", reissued.CollectionTrackingNo)
	require.Len(t, labels.cancelled, 1)
	assert.Equal(t, []string{"TN-100"}, labels.cancelled[0])
}

func TestApproveReturnEmitsReturnApproved(t *testing.T) {
	repo := newFakeRepo()
	ob := &fakeOutbox{}
	labels := &fakeLabels{nextTracking: "TN-300"}
	uc := newTestUseCase(t, repo, ob, labels)

	requested, err := uc.RequestReturn(context.Background(), 11, "SKU-1", 1)
	require.NoError(t, err)

	approved, err := uc.ApproveReturn(context.Background(), requested.ID, receiver())
	require.NoError(t, err)

	assert.Equal(t, domain.ReturnApproved, approved.Status)
	require.Len(t, ob.records, 1)
	assert.Equal(t, string(event.TypeReturnApproved), ob.records[0].EventType)
	require.Len(t, repo.history, 1)
	assert.Equal(t, domain.AggregateReturn, repo.history[0].AggregateType)
}

func TestRejectAfterApproveIsInvalid(t *testing.T) {
	repo := newFakeRepo()
	labels := &fakeLabels{nextTracking: "TN-300"}
	uc := newTestUseCase(t, repo, &fakeOutbox{}, labels)

	requested, err := uc.RequestReturn(context.Background(), 11, "SKU-1", 1)
	require.NoError(t, err)
	_, err = uc.ApproveReturn(context.Background(), requested.ID, receiver())
	require.NoError(t, err)

	_, err = uc.RejectReturn(context.Background(), requested.ID, "changed my mind")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}
