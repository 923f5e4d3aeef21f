package carrier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// TrackingStatus is the carrier's last-known state for one parcel.
type TrackingStatus struct {
	Kind       Kind      `json:"kind"`
	Location   string    `json:"location"`
	Remark     string    `json:"remark"`
	ReportedAt time.Time `json:"reported_at"`
}

// Track looks up the latest status for a tracking number.
func (c *Client) Track(ctx context.Context, carrierCode, trackingNo string) (*TrackingStatus, error) {
	if carrierCode == "" || trackingNo == "" {
		return nil, fmt.Errorf("carrier: carrier code and tracking number are required")
	}

	path := fmt.Sprintf("/v1/carriers/%s/tracks/%s",
		url.PathEscape(carrierCode), url.PathEscape(trackingNo))

	var out struct {
		Status TrackingStatus `json:"status"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	if !out.Status.Kind.IsValid() {
		return nil, fmt.Errorf("carrier: unrecognized tracking kind %q for %s", out.Status.Kind, trackingNo)
	}

	return &out.Status, nil
}
