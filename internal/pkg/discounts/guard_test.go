package discounts

import (
	"errors"
	"testing"
	"time"

	"github.com/MartinGrube/SoloStore/app/models"
)

func TestPrice(t *testing.T) {
	tests := []struct {
		name     string
		discount *models.Discount
		base     int64
		want     int64
	}{
		{"nil discount", nil, 1000, 1000},
		{"percent", &models.Discount{Type: models.DiscountTypePercent, Value: 20}, 1000, 800},
		{"percent full", &models.Discount{Type: models.DiscountTypePercent, Value: 100}, 1000, 0},
		{"fixed", &models.Discount{Type: models.DiscountTypeFixed, Value: 300}, 1000, 700},
		{"fixed exceeds base", &models.Discount{Type: models.DiscountTypeFixed, Value: 1500}, 1000, 0},
		{"unknown type", &models.Discount{Type: "bogo", Value: 50}, 1000, 1000},
		{"percent rounds down", &models.Discount{Type: models.DiscountTypePercent, Value: 33}, 999, 670},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Price(tt.discount, tt.base); got != tt.want {
				t.Fatalf("Price() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	versionTwo := uint(2)

	tests := []struct {
		name      string
		discount  models.Discount
		versionID uint
		wantErr   error
	}{
		{"active unscoped", models.Discount{Status: models.DiscountStatusActive}, 1, nil},
		{"disabled", models.Discount{Status: models.DiscountStatusDisabled}, 1, ErrDiscountNotApplicable},
		{"expired", models.Discount{Status: models.DiscountStatusActive, ExpiresAt: &past}, 1, ErrDiscountNotApplicable},
		{"not yet expired", models.Discount{Status: models.DiscountStatusActive, ExpiresAt: &future}, 1, nil},
		{"scoped to other version", models.Discount{Status: models.DiscountStatusActive, VersionID: &versionTwo}, 1, ErrDiscountNotApplicable},
		{"scoped to same version", models.Discount{Status: models.DiscountStatusActive, VersionID: &versionTwo}, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(&tt.discount, tt.versionID, now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnlimited(t *testing.T) {
	if !(&models.Discount{MaxRedemptions: 0}).Unlimited() {
		t.Fatalf("zero ceiling must mean unlimited")
	}
	if (&models.Discount{MaxRedemptions: 5}).Unlimited() {
		t.Fatalf("positive ceiling must not be unlimited")
	}
}
