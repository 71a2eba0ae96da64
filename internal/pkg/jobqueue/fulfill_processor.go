package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/github"
	"github.com/MartinGrube/SoloStore/internal/pkg/licensing"
	"github.com/MartinGrube/SoloStore/internal/pkg/mail"
)

// FulfillmentProcessor executes the per-order fulfillment jobs: license
// issuance, receipt email and GitHub repository invites. Every handler is safe
// to run more than once for the same payload.
type FulfillmentProcessor struct {
	db       *gorm.DB
	licenses *licensing.Service
	github   *github.Client
}

func NewFulfillmentProcessor(db *gorm.DB, licenses *licensing.Service, gh *github.Client) *FulfillmentProcessor {
	return &FulfillmentProcessor{db: db, licenses: licenses, github: gh}
}

func (p *FulfillmentProcessor) RegisterWith(m *Manager) {
	m.Register(JobTypeIssueLicense, p.IssueLicense)
	m.Register(JobTypeSendReceiptEmail, p.SendReceiptEmail)
	m.Register(JobTypeGitHubInvite, p.GitHubInvite)
}

func (p *FulfillmentProcessor) IssueLicense(ctx context.Context, job *ClaimedJob) error {
	var payload IssueLicensePayload
	if err := UnmarshalPayload(job, &payload); err != nil {
		return apperr.Wrap(apperr.KindTerminal, "bad issue_license payload", err)
	}

	order, err := p.loadOrder(ctx, payload.OrderID)
	if err != nil {
		return err
	}
	if order.IsTerminalRevokedState() {
		// The refund beat this job; issuing now would hand out a dead key.
		log.Infof("[Jobs] Skipping license issuance for revoked order %d", order.ID)
		return nil
	}

	var version models.ProductVersion
	if err := p.db.WithContext(ctx).First(&version, payload.VersionID).Error; err != nil {
		return apperr.Wrap(apperr.KindTerminal, fmt.Sprintf("version %d not found", payload.VersionID), err)
	}
	if !version.LicensingEnabled {
		log.Warnf("[Jobs] Version %d no longer has licensing enabled, skipping issuance for order %d", version.ID, order.ID)
		return nil
	}

	license, err := p.licenses.Issue(ctx, payload.OrderID, payload.VersionID, payload.UserID, version.ActivationLimit)
	if err != nil {
		return err
	}
	log.Infof("[Jobs] License %s ready for order %d", license.Key, order.ID)
	return nil
}

func (p *FulfillmentProcessor) SendReceiptEmail(ctx context.Context, job *ClaimedJob) error {
	var payload SendReceiptEmailPayload
	if err := UnmarshalPayload(job, &payload); err != nil {
		return apperr.Wrap(apperr.KindTerminal, "bad send_receipt_email payload", err)
	}

	order, err := p.loadOrder(ctx, payload.OrderID)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Your receipt for order #%d", order.ID)
	body := receiptBody(order)
	if err := mail.SendMail(payload.Email, subject, body); err != nil {
		if mail.IsPermanentSMTPError(err) {
			return apperr.Wrap(apperr.KindTerminal, "recipient rejected permanently", err)
		}
		return apperr.Wrap(apperr.KindTransient, "smtp delivery failed", err)
	}
	return nil
}

func (p *FulfillmentProcessor) GitHubInvite(ctx context.Context, job *ClaimedJob) error {
	var payload GitHubInvitePayload
	if err := UnmarshalPayload(job, &payload); err != nil {
		return apperr.Wrap(apperr.KindTerminal, "bad github_invite payload", err)
	}

	order, err := p.loadOrder(ctx, payload.OrderID)
	if err != nil {
		return err
	}
	if order.IsTerminalRevokedState() {
		log.Infof("[Jobs] Skipping GitHub invite for revoked order %d", order.ID)
		return nil
	}

	// The GitHub client maps "already invited / already a collaborator" to a
	// terminal 422, which Complete treats as done rather than retrying.
	if err := p.github.InviteByEmail(ctx, payload.Repo, payload.Email); err != nil {
		if apperr.KindOf(err) == apperr.KindTerminal {
			log.Infof("[Jobs] GitHub invite for order %d not repeatable: %v", order.ID, err)
			return nil
		}
		return err
	}
	return nil
}

func (p *FulfillmentProcessor) loadOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	var order models.Order
	if err := p.db.WithContext(ctx).First(&order, orderID).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindTerminal, fmt.Sprintf("order %d not found", orderID), err)
	}
	return &order, nil
}

func receiptBody(order *models.Order) string {
	body := fmt.Sprintf("Thanks for your purchase!\n\nOrder #%d\nTotal: %s %.2f\n",
		order.ID, order.Currency, float64(order.TotalCents)/100)
	if order.DiscountCents > 0 {
		body += fmt.Sprintf("Discount applied: %s %.2f (%s)\n",
			order.Currency, float64(order.DiscountCents)/100, order.DiscountCode)
	}
	body += "\nYour downloads and license keys are available in your account.\n"
	return body
}
