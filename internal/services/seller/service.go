// Package seller manages sellers' payout accounts with the payment gateway.
package seller

import (
	"context"
	"errors"
	"fmt"

	apperrors "bazaar/internal/errors"
	"bazaar/internal/gateway"
	"bazaar/internal/models"
	"bazaar/internal/repositories"
	"bazaar/internal/validation"

	"go.uber.org/zap"
)

// Onboarding routes in the marketplace app.
const (
	OnboardingPath = "/seller/onboarding"
	DashboardPath  = "/seller/dashboard"
)

// CreateAccountResult reports the seller's connected account id.
type CreateAccountResult struct {
	AccountID      string `json:"account_id"`
	AlreadyExisted bool   `json:"already_existed"`
}

// AccountStatusView is the seller-facing onboarding state.
type AccountStatusView struct {
	Status           models.AccountStatus `json:"status"`
	ChargesEnabled   bool                 `json:"charges_enabled"`
	PayoutsEnabled   bool                 `json:"payouts_enabled"`
	DetailsSubmitted bool                 `json:"details_submitted"`
}

type Service interface {
	CreateAccount(ctx context.Context, userID string, req models.CreateSellerAccountRequest) (*CreateAccountResult, error)
	GetStatus(ctx context.Context, userID string) (*AccountStatusView, error)
	GetOnboardingLink(ctx context.Context, userID string) (string, error)

	// ApplyAccountUpdate stores a gateway account snapshot for whichever
	// seller owns it. It returns repositories.ErrNotFound for unknown
	// accounts.
	ApplyAccountUpdate(ctx context.Context, acct gateway.Account) (*models.SellerAccount, error)
	// SyncAll refreshes every seller with a connected account from the
	// gateway and returns how many were updated.
	SyncAll(ctx context.Context) (int, error)
}

type service struct {
	accounts   repositories.SellerAccountRepository
	gw         gateway.Gateway
	appBaseURL string
	log        *zap.Logger
}

func NewService(accounts repositories.SellerAccountRepository, gw gateway.Gateway, appBaseURL string, logger *zap.Logger) Service {
	if accounts == nil {
		panic("seller account repository is required")
	}
	if gw == nil {
		panic("payment gateway is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{accounts: accounts, gw: gw, appBaseURL: appBaseURL, log: logger.Named("seller")}
}

func (s *service) CreateAccount(ctx context.Context, userID string, req models.CreateSellerAccountRequest) (*CreateAccountResult, error) {
	if userID == "" {
		return nil, apperrors.ErrUnauthenticated
	}

	existing, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing.HasGatewayAccount() {
		return &CreateAccountResult{AccountID: *existing.GatewayAccountID, AlreadyExisted: true}, nil
	}

	v := validation.New()
	v.SellerAccount(&req)
	if err := v.Err(); err != nil {
		return nil, err
	}

	acct, err := s.gw.CreateAccount(ctx, gateway.CreateAccountParams{
		Email:          req.Email,
		DisplayName:    req.DisplayName,
		UserID:         userID,
		IdempotencyKey: "acct-create-" + userID,
	})
	if err != nil {
		s.log.Error("create connected account failed", zap.String("user_id", userID), zap.Error(err))
		return nil, apperrors.Gateway("create connected account", err)
	}

	err = s.accounts.AttachGatewayAccount(ctx, userID, acct.ID, models.AccountPendingDetails)
	if errors.Is(err, repositories.ErrStaleWrite) {
		// Someone attached a different account first; theirs stands.
		current, findErr := s.find(ctx, userID)
		if findErr == nil && current.HasGatewayAccount() {
			return &CreateAccountResult{AccountID: *current.GatewayAccountID, AlreadyExisted: true}, nil
		}
		return nil, apperrors.Conflict("seller account changed concurrently, please retry")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	s.log.Info("connected account created",
		zap.String("user_id", userID),
		zap.String("account_id", acct.ID))
	return &CreateAccountResult{AccountID: acct.ID}, nil
}

func (s *service) GetStatus(ctx context.Context, userID string) (*AccountStatusView, error) {
	existing, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !existing.HasGatewayAccount() {
		return &AccountStatusView{Status: models.AccountNotCreated}, nil
	}

	live, err := s.gw.GetAccount(ctx, *existing.GatewayAccountID)
	if err != nil {
		return nil, apperrors.Gateway("get connected account", err)
	}

	snap := snapshotOf(*live)
	if err := s.accounts.UpdateStatus(ctx, userID, snap); err != nil {
		return nil, apperrors.Internal(err)
	}
	return viewOf(snap), nil
}

func (s *service) GetOnboardingLink(ctx context.Context, userID string) (string, error) {
	existing, err := s.find(ctx, userID)
	if err != nil {
		return "", err
	}
	if !existing.HasGatewayAccount() {
		return "", apperrors.FailedPrecondition("create a seller account first")
	}

	url, err := s.gw.CreateAccountLink(ctx, *existing.GatewayAccountID,
		s.appBaseURL+OnboardingPath,
		s.appBaseURL+DashboardPath)
	if err != nil {
		return "", apperrors.Gateway("create account link", err)
	}
	return url, nil
}

func (s *service) ApplyAccountUpdate(ctx context.Context, acct gateway.Account) (*models.SellerAccount, error) {
	existing, err := s.accounts.FindByGatewayAccountID(ctx, acct.ID)
	if err != nil {
		return nil, err
	}

	snap := snapshotOf(acct)
	if err := s.accounts.UpdateStatus(ctx, existing.UserID, snap); err != nil {
		return nil, fmt.Errorf("update seller %s: %w", existing.UserID, err)
	}
	existing.AccountStatus = snap.Status
	existing.DetailsSubmitted = snap.DetailsSubmitted
	existing.ChargesEnabled = snap.ChargesEnabled
	existing.PayoutsEnabled = snap.PayoutsEnabled

	s.log.Info("seller account updated",
		zap.String("user_id", existing.UserID),
		zap.String("account_id", acct.ID),
		zap.String("status", string(snap.Status)))
	return existing, nil
}

func (s *service) SyncAll(ctx context.Context) (int, error) {
	accounts, err := s.accounts.ListWithGatewayAccount(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	var errs []error
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if _, err := s.GetStatus(ctx, a.UserID); err != nil {
			s.log.Warn("seller sync failed", zap.String("user_id", a.UserID), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", a.UserID, err))
			continue
		}
		synced++
	}
	return synced, errors.Join(errs...)
}

func (s *service) find(ctx context.Context, userID string) (*models.SellerAccount, error) {
	acct, err := s.accounts.FindByUserID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return acct, nil
}

func snapshotOf(acct gateway.Account) repositories.AccountSnapshot {
	return repositories.AccountSnapshot{
		Status:           DeriveAccountStatus(acct.DetailsSubmitted, acct.ChargesEnabled),
		DetailsSubmitted: acct.DetailsSubmitted,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
	}
}

func viewOf(snap repositories.AccountSnapshot) *AccountStatusView {
	return &AccountStatusView{
		Status:           snap.Status,
		ChargesEnabled:   snap.ChargesEnabled,
		PayoutsEnabled:   snap.PayoutsEnabled,
		DetailsSubmitted: snap.DetailsSubmitted,
	}
}
