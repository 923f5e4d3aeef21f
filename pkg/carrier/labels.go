package carrier

import (
	"context"
	"fmt"
	"net/http"
)

// LabelRequest asks the carrier to issue one pickup/shipping label.
type LabelRequest struct {
	RefID            string `json:"ref_id"`
	CarrierCode      string `json:"carrier_code"`
	ReceiverName     string `json:"receiver_name"`
	ReceiverPhone    string `json:"receiver_phone"`
	ReceiverPostcode string `json:"receiver_postcode"`
	ReceiverAddress  string `json:"receiver_address"`
}

// LabelResult is the per-item outcome of a bulk label call. A failed item
// carries no tracking number.
type LabelResult struct {
	RefID      string `json:"ref_id"`
	TrackingNo string `json:"tracking_no"`
	Success    bool   `json:"success"`
	FailReason string `json:"fail_reason"`
}

// IssueLabels issues labels in bulk; partial failure is reported per item,
// not as a request error.
func (c *Client) IssueLabels(ctx context.Context, reqs []LabelRequest) ([]LabelResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	body := struct {
		Labels []LabelRequest `json:"labels"`
	}{Labels: reqs}

	var out struct {
		Results []LabelResult `json:"results"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/v1/labels", body, &out); err != nil {
		return nil, err
	}

	if len(out.Results) != len(reqs) {
		return nil, fmt.Errorf("carrier: label response count %d does not match request count %d",
			len(out.Results), len(reqs))
	}

	return out.Results, nil
}

// CancelLabels voids previously issued labels.
func (c *Client) CancelLabels(ctx context.Context, carrierCode string, trackingNos []string) error {
	if len(trackingNos) == 0 {
		return nil
	}

	body := struct {
		CarrierCode string   `json:"carrier_code"`
		TrackingNos []string `json:"tracking_nos"`
	}{CarrierCode: carrierCode, TrackingNos: trackingNos}

	return c.doRequest(ctx, http.MethodPost, "/v1/labels/cancel", body, nil)
}
