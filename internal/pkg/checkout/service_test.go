package checkout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/discounts"
	"github.com/MartinGrube/SoloStore/internal/pkg/payments"

	affiliatespkg "github.com/MartinGrube/SoloStore/internal/pkg/affiliates"
)

func TestResolveAmount(t *testing.T) {
	tests := []struct {
		name      string
		version   models.ProductVersion
		requested int64
		want      int64
		wantErr   bool
	}{
		{
			name:    "fixed ignores client amount",
			version: models.ProductVersion{PricingMode: models.PricingModeFixed, PriceCents: 2900},
			// A tampered client amount never changes a fixed price.
			requested: 1,
			want:      2900,
		},
		{
			name:      "pwyw above minimum",
			version:   models.ProductVersion{PricingMode: models.PricingModePWYW, MinPriceCents: 500},
			requested: 1200,
			want:      1200,
		},
		{
			name:      "pwyw at minimum",
			version:   models.ProductVersion{PricingMode: models.PricingModePWYW, MinPriceCents: 500},
			requested: 500,
			want:      500,
		},
		{
			name:      "pwyw below minimum",
			version:   models.ProductVersion{PricingMode: models.PricingModePWYW, MinPriceCents: 500},
			requested: 499,
			wantErr:   true,
		},
		{
			name:      "unknown mode falls back to list price",
			version:   models.ProductVersion{PricingMode: "auction", PriceCents: 700},
			requested: 50,
			want:      700,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveAmount(&tt.version, tt.requested)
			if tt.wantErr {
				if !apperr.IsKind(err, apperr.KindValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveAmount: %v", err)
			}
			if got != tt.want {
				t.Fatalf("resolveAmount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCreateSessionRequestValidation(t *testing.T) {
	valid := CreateSessionRequest{
		AttemptID: "attempt-abc-123",
		ProductID: 1,
		VersionID: 2,
	}
	if err := validate.Struct(valid); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	missing := CreateSessionRequest{ProductID: 1, VersionID: 2}
	if err := validate.Struct(missing); err == nil {
		t.Fatalf("expected error for missing attempt id")
	}

	short := valid
	short.AttemptID = "abc"
	if err := validate.Struct(short); err == nil {
		t.Fatalf("expected error for short attempt id")
	}
}

type fakeProvider struct {
	server   *httptest.Server
	sessions int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.sessions++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"sess_fake_1","url":"https://pay.example/s/sess_fake_1"}`))
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) client() *payments.Client {
	return &payments.Client{
		APIKey:     "sk_test",
		APIBaseURL: p.server.URL,
		HTTPClient: p.server.Client(),
	}
}

func newCheckoutDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "checkout.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Product{},
		&models.ProductVersion{},
		&models.CheckoutAttempt{},
		&models.Discount{},
		&models.DiscountRedemption{},
		&models.Affiliate{},
		&models.AffiliateAttribution{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	product := &models.Product{CreatorID: 1, Slug: "toolkit", Name: "Toolkit"}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	version := &models.ProductVersion{
		ProductID:  product.ID,
		Slug:       "v1",
		Name:       "v1.0",
		PriceCents: 2900,
		Currency:   "usd",
		IsActive:   true,
	}
	if err := db.Create(version).Error; err != nil {
		t.Fatalf("seed version: %v", err)
	}
	return db
}

// A duplicate initiation while the first request is still at the provider must
// not open a second provider session; once the first attempt is abandoned the
// duplicate takes it over.
func TestCreateSessionDuplicateWhileInFlight(t *testing.T) {
	db := newCheckoutDB(t)
	provider := newFakeProvider(t)
	svc := NewService(db, provider.client(), discounts.NewGuard(db), affiliatespkg.NewServiceFromDB(db))
	ctx := context.Background()

	// The first request has inserted its attempt row but is still waiting on
	// the provider, so no session is stored yet.
	attempt := &models.CheckoutAttempt{
		AttemptID:   "attempt-inflight-1",
		ProductID:   1,
		VersionID:   1,
		AmountCents: 2900,
		Currency:    "usd",
		Status:      models.AttemptStatusCreated,
	}
	if err := db.Create(attempt).Error; err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	req := CreateSessionRequest{AttemptID: "attempt-inflight-1", ProductID: 1, VersionID: 1}
	_, err := svc.CreateSession(ctx, req)
	if !apperr.IsKind(err, apperr.KindStateConflict) {
		t.Fatalf("expected state conflict for in-flight duplicate, got %v", err)
	}
	if provider.sessions != 0 {
		t.Fatalf("provider sessions = %d, want 0", provider.sessions)
	}

	// Age the row past the takeover threshold: the first request is presumed
	// crashed and the duplicate finishes the attempt.
	stale := time.Now().Add(-SessionTakeoverAge - time.Minute)
	if err := db.Model(&models.CheckoutAttempt{}).Where("id = ?", attempt.ID).
		UpdateColumn("updated_at", stale).Error; err != nil {
		t.Fatalf("age attempt: %v", err)
	}

	result, err := svc.CreateSession(ctx, req)
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if provider.sessions != 1 {
		t.Fatalf("provider sessions = %d, want 1", provider.sessions)
	}
	if result.Attempt.ID != attempt.ID {
		t.Fatalf("takeover created attempt %d instead of reusing %d", result.Attempt.ID, attempt.ID)
	}
	if result.CheckoutURL == "" {
		t.Fatalf("takeover returned no checkout url")
	}

	var count int64
	if err := db.Model(&models.CheckoutAttempt{}).Count(&count).Error; err != nil {
		t.Fatalf("count attempts: %v", err)
	}
	if count != 1 {
		t.Fatalf("attempts = %d, want 1", count)
	}
}

func TestCreateSessionDuplicateReturnsExistingSession(t *testing.T) {
	db := newCheckoutDB(t)
	provider := newFakeProvider(t)
	svc := NewService(db, provider.client(), discounts.NewGuard(db), affiliatespkg.NewServiceFromDB(db))
	ctx := context.Background()

	req := CreateSessionRequest{AttemptID: "attempt-retry-1", ProductID: 1, VersionID: 1}
	first, err := svc.CreateSession(ctx, req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if first.Attempt.ListAmountCents != 2900 || first.Attempt.AmountCents != 2900 {
		t.Fatalf("attempt amounts = %d/%d, want 2900/2900",
			first.Attempt.ListAmountCents, first.Attempt.AmountCents)
	}

	second, err := svc.CreateSession(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if second.CheckoutURL != first.CheckoutURL {
		t.Fatalf("retry url %q differs from %q", second.CheckoutURL, first.CheckoutURL)
	}
	if provider.sessions != 1 {
		t.Fatalf("provider sessions = %d, want 1", provider.sessions)
	}
}
