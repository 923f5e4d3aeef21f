package aftersales

import "time"

// HistorySource names what caused a history row.
type HistorySource string

const (
	SourceTrackerPoll HistorySource = "TRACKER_POLL"
	SourceOperator    HistorySource = "OPERATOR"
)

// Aggregate type tags used in history rows and broker message keys.
const (
	AggregateExchange = "Exchange"
	AggregateReturn   = "Return"
)

// TrackingHistory is one append-only audit row. Rows are never updated or
// deleted; the aggregate's current status can always be replayed from them.
type TrackingHistory struct {
	ID             int64         `json:"id,string"`
	AggregateType  string        `json:"aggregate_type"`
	AggregateID    int64         `json:"aggregate_id,string"`
	TrackingNo     string        `json:"tracking_no"`
	PreviousStatus string        `json:"previous_status"`
	NewStatus      string        `json:"new_status"`
	Location       string        `json:"location"`
	Remark         string        `json:"remark"`
	ExternalKind   string        `json:"external_kind"`
	Source         HistorySource `json:"source"`
	CreatedAt      time.Time     `json:"created_at"`
}

// NewHistory builds a history row stamped now.
func NewHistory(aggregateType string, aggregateID int64, trackingNo, previous, next, location, remark, externalKind string, source HistorySource) *TrackingHistory {
	return &TrackingHistory{
		AggregateType:  aggregateType,
		AggregateID:    aggregateID,
		TrackingNo:     trackingNo,
		PreviousStatus: previous,
		NewStatus:      next,
		Location:       location,
		Remark:         remark,
		ExternalKind:   externalKind,
		Source:         source,
		CreatedAt:      time.Now().UTC(),
	}
}
