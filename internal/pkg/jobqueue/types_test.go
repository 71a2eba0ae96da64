package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MartinGrube/SoloStore/app/models"
)

func TestJobTypeConstants(t *testing.T) {
	assert.Equal(t, "issue_license", JobTypeIssueLicense)
	assert.Equal(t, "send_receipt_email", JobTypeSendReceiptEmail)
	assert.Equal(t, "github_invite", JobTypeGitHubInvite)
	assert.Equal(t, "deliver_outbound_webhooks", JobTypeDeliverWebhooks)
	assert.Equal(t, "reverse_on_refund", JobTypeReverseOnRefund)
	assert.Equal(t, "affiliate_compute_commission", JobTypeComputeCommission)
	assert.Equal(t, "affiliate_payout", JobTypeAffiliatePayout)
}

func TestPayloadRoundTrip(t *testing.T) {
	in := IssueLicensePayload{OrderID: 42, VersionID: 7, UserID: 3}
	encoded, err := MarshalPayload(in)
	require.NoError(t, err)

	job := &models.Job{ID: 1, Type: JobTypeIssueLicense, PayloadJSON: encoded}
	var out IssueLicensePayload
	require.NoError(t, UnmarshalPayload(job, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshalPayloadBadJSON(t *testing.T) {
	job := &models.Job{ID: 9, Type: JobTypeReverseOnRefund, PayloadJSON: "{broken"}
	var out ReverseOnRefundPayload
	err := UnmarshalPayload(job, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job 9")
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, Backoff(0))
	assert.Equal(t, 1*time.Minute, Backoff(1))
	assert.Equal(t, 2*time.Minute, Backoff(2))
	assert.Equal(t, 16*time.Minute, Backoff(5))

	// Capped, and safe against absurd attempt counts.
	assert.Equal(t, 6*time.Hour, Backoff(12))
	assert.Equal(t, 6*time.Hour, Backoff(1000))
	assert.Equal(t, 30*time.Second, Backoff(-5))
}

func TestJobTerminal(t *testing.T) {
	for status, terminal := range map[string]bool{
		models.JobStatusQueued:    false,
		models.JobStatusRunning:   false,
		models.JobStatusFailed:    false,
		models.JobStatusSucceeded: true,
		models.JobStatusDead:      true,
	} {
		job := &models.Job{Status: status}
		assert.Equal(t, terminal, job.Terminal(), "status %s", status)
	}
}
