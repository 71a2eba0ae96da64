package jobqueue

import (
	"encoding/json"
	"fmt"

	"github.com/MartinGrube/SoloStore/app/models"
)

// Job types handled by the fulfillment executors.
const (
	JobTypeIssueLicense      = "issue_license"
	JobTypeSendReceiptEmail  = "send_receipt_email"
	JobTypeGitHubInvite      = "github_invite"
	JobTypeDeliverWebhooks   = "deliver_outbound_webhooks"
	JobTypeReverseOnRefund   = "reverse_on_refund"
	JobTypeComputeCommission = "affiliate_compute_commission"
	JobTypeAffiliatePayout   = "affiliate_payout"
)

// IssueLicensePayload asks for a license keyed by order+version. Replays
// return the existing license.
type IssueLicensePayload struct {
	OrderID   uint `json:"order_id"`
	VersionID uint `json:"version_id"`
	UserID    uint `json:"user_id"`
}

type SendReceiptEmailPayload struct {
	OrderID uint   `json:"order_id"`
	Email   string `json:"email"`
}

type GitHubInvitePayload struct {
	OrderID   uint   `json:"order_id"`
	VersionID uint   `json:"version_id"`
	Email     string `json:"email"`
	Repo      string `json:"repo"`
}

type DeliverWebhooksPayload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	DataJSON  string `json:"data_json"`
}

type ReverseOnRefundPayload struct {
	OrderID uint `json:"order_id"`
}

// CommissionOp selects between accrual and reversal in the commission
// executor.
const (
	CommissionOpCompute = "compute"
	CommissionOpReverse = "reverse"
)

type ComputeCommissionPayload struct {
	OrderID uint   `json:"order_id"`
	Op      string `json:"op"`
}

type AffiliatePayoutPayload struct {
	AffiliateID uint `json:"affiliate_id"` // 0 means all affiliates
}

// MarshalPayload encodes a typed payload for storage on a job row.
func MarshalPayload(payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return string(data), nil
}

// UnmarshalPayload decodes a job row payload into the typed struct for its
// job type.
func UnmarshalPayload(job *models.Job, out interface{}) error {
	if err := json.Unmarshal([]byte(job.PayloadJSON), out); err != nil {
		return fmt.Errorf("failed to unmarshal payload of job %d (%s): %w", job.ID, job.Type, err)
	}
	return nil
}
