// Package testutil holds in-memory fakes of the repositories, gateway and
// notifier for service and handler tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"bazaar/internal/models"
	"bazaar/internal/repositories"
)

// Store is an in-memory database. Its views implement the repository
// interfaces and Store itself implements repositories.Transactor.
type Store struct {
	mu           sync.Mutex
	txMu         sync.Mutex
	transactions map[string]models.Transaction
	sellers      map[string]models.SellerAccount
	ledger       []models.WebhookEvent
	listings     map[string]models.Listing
	nextEventID  uint

	// FailNextUpdate makes the next UpdateIf return this error once.
	FailNextUpdate error
}

var (
	_ repositories.Transactor              = (*Store)(nil)
	_ repositories.TransactionRepository   = (*TransactionRepo)(nil)
	_ repositories.SellerAccountRepository = (*SellerAccountRepo)(nil)
	_ repositories.WebhookLedger           = (*Ledger)(nil)
	_ repositories.ListingRepository       = (*ListingRepo)(nil)
)

func NewStore() *Store {
	return &Store{
		transactions: map[string]models.Transaction{},
		sellers:      map[string]models.SellerAccount{},
		listings:     map[string]models.Listing{},
	}
}

// Atomically serializes atomic blocks and restores the pre-call state when
// fn fails.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(storeTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, storeTxKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type storeTxKey struct{}

type storeSnapshot struct {
	transactions map[string]models.Transaction
	sellers      map[string]models.SellerAccount
	ledger       []models.WebhookEvent
	listings     map[string]models.Listing
}

func (s *Store) snapshot() storeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := storeSnapshot{
		transactions: make(map[string]models.Transaction, len(s.transactions)),
		sellers:      make(map[string]models.SellerAccount, len(s.sellers)),
		ledger:       append([]models.WebhookEvent(nil), s.ledger...),
		listings:     make(map[string]models.Listing, len(s.listings)),
	}
	for k, v := range s.transactions {
		snap.transactions[k] = v
	}
	for k, v := range s.sellers {
		snap.sellers[k] = v
	}
	for k, v := range s.listings {
		snap.listings[k] = v
	}
	return snap
}

func (s *Store) restore(snap storeSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = snap.transactions
	s.sellers = snap.sellers
	s.ledger = snap.ledger
	s.listings = snap.listings
}

func (s *Store) Transactions() *TransactionRepo     { return &TransactionRepo{s: s} }
func (s *Store) SellerAccounts() *SellerAccountRepo { return &SellerAccountRepo{s: s} }
func (s *Store) Ledger() *Ledger                    { return &Ledger{s: s} }
func (s *Store) Listings() *ListingRepo             { return &ListingRepo{s: s} }

// PutTransaction stores tx as-is.
func (s *Store) PutTransaction(tx models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
}

// Transaction returns a copy of the stored transaction.
func (s *Store) Transaction(id string) (models.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	return tx, ok
}

func (s *Store) PutSeller(acct models.SellerAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellers[acct.UserID] = acct
}

func (s *Store) Seller(userID string) (models.SellerAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.sellers[userID]
	return acct, ok
}

func (s *Store) PutListing(l models.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
}

func (s *Store) Listing(id string) (models.Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	return l, ok
}

// LedgerLen is the number of recorded webhook events.
func (s *Store) LedgerLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}

// TransactionRepo implements repositories.TransactionRepository.
type TransactionRepo struct{ s *Store }

func (r *TransactionRepo) Create(_ context.Context, tx *models.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	r.s.transactions[tx.ID] = *tx
	return nil
}

func (r *TransactionRepo) FindByID(_ context.Context, id string) (*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.transactions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &tx, nil
}

func (r *TransactionRepo) UpdateIf(_ context.Context, id string, g repositories.TransactionGuard, u repositories.TransactionUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.FailNextUpdate; err != nil {
		r.s.FailNextUpdate = nil
		return err
	}
	tx, ok := r.s.transactions[id]
	if !ok || !guardHolds(tx, g) {
		return repositories.ErrStaleWrite
	}

	if u.Status != nil {
		tx.Status = *u.Status
	}
	if u.PaymentStatus != nil {
		tx.PaymentStatus = *u.PaymentStatus
	}
	if u.PaymentIntentID != nil {
		intentID := *u.PaymentIntentID
		tx.PaymentIntentID = &intentID
	}
	if u.CancellationReason != nil {
		reason := *u.CancellationReason
		tx.CancellationReason = &reason
	}
	switch {
	case u.Claim != nil:
		at := u.ClaimedAt
		tx.PendingOperation = *u.Claim
		tx.PendingOperationAt = &at
	case u.ReleaseClaim:
		tx.PendingOperation = models.OperationNone
		tx.PendingOperationAt = nil
	}
	tx.UpdatedAt = time.Now().UTC()
	r.s.transactions[id] = tx
	return nil
}

func (r *TransactionRepo) ListByParticipant(_ context.Context, userID string, limit, offset int) ([]models.Transaction, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Transaction
	for _, tx := range r.s.transactions {
		if tx.IsParticipant(userID) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func guardHolds(tx models.Transaction, g repositories.TransactionGuard) bool {
	if len(g.Statuses) > 0 && !containsStatus(g.Statuses, tx.Status) {
		return false
	}
	if len(g.PaymentStatuses) > 0 && !containsPaymentStatus(g.PaymentStatuses, tx.PaymentStatus) {
		return false
	}
	if g.IntentUnset && tx.PaymentIntentID != nil {
		return false
	}
	if g.IntentID != nil && (tx.PaymentIntentID == nil || *tx.PaymentIntentID != *g.IntentID) {
		return false
	}
	if g.Unclaimed && tx.PendingOperation != models.OperationNone {
		stale := g.ClaimStaleBefore != nil && tx.PendingOperationAt != nil &&
			tx.PendingOperationAt.Before(*g.ClaimStaleBefore)
		if !stale {
			return false
		}
	}
	if g.ClaimedBy != nil && tx.PendingOperation != *g.ClaimedBy {
		return false
	}
	return true
}

func containsStatus(list []models.TransactionStatus, s models.TransactionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPaymentStatus(list []models.PaymentStatus, s models.PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SellerAccountRepo implements repositories.SellerAccountRepository.
type SellerAccountRepo struct{ s *Store }

func (r *SellerAccountRepo) FindByUserID(_ context.Context, userID string) (*models.SellerAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	acct, ok := r.s.sellers[userID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &acct, nil
}

func (r *SellerAccountRepo) FindByGatewayAccountID(_ context.Context, accountID string) (*models.SellerAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, acct := range r.s.sellers {
		if acct.GatewayAccountID != nil && *acct.GatewayAccountID == accountID {
			a := acct
			return &a, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *SellerAccountRepo) AttachGatewayAccount(_ context.Context, userID, accountID string, status models.AccountStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	acct, ok := r.s.sellers[userID]
	if !ok {
		acct = models.SellerAccount{UserID: userID, CreatedAt: time.Now().UTC()}
	}
	if acct.GatewayAccountID != nil && *acct.GatewayAccountID != accountID {
		return repositories.ErrStaleWrite
	}
	id := accountID
	acct.GatewayAccountID = &id
	acct.AccountStatus = status
	acct.UpdatedAt = time.Now().UTC()
	r.s.sellers[userID] = acct
	return nil
}

func (r *SellerAccountRepo) UpdateStatus(_ context.Context, userID string, snap repositories.AccountSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	acct, ok := r.s.sellers[userID]
	if !ok {
		return repositories.ErrNotFound
	}
	acct.AccountStatus = snap.Status
	acct.DetailsSubmitted = snap.DetailsSubmitted
	acct.ChargesEnabled = snap.ChargesEnabled
	acct.PayoutsEnabled = snap.PayoutsEnabled
	acct.UpdatedAt = time.Now().UTC()
	r.s.sellers[userID] = acct
	return nil
}

func (r *SellerAccountRepo) ListWithGatewayAccount(_ context.Context) ([]models.SellerAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.SellerAccount
	for _, acct := range r.s.sellers {
		if acct.HasGatewayAccount() {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Ledger implements repositories.WebhookLedger.
type Ledger struct{ s *Store }

func (l *Ledger) Exists(_ context.Context, eventID string) (bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for _, e := range l.s.ledger {
		if e.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (l *Ledger) Record(_ context.Context, evt *models.WebhookEvent) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for _, e := range l.s.ledger {
		if e.EventID == evt.EventID {
			return repositories.ErrDuplicateEvent
		}
	}
	l.s.nextEventID++
	evt.ID = l.s.nextEventID
	l.s.ledger = append(l.s.ledger, *evt)
	return nil
}

func (l *Ledger) Recent(_ context.Context, limit int) ([]models.WebhookEvent, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []models.WebhookEvent
	for i := len(l.s.ledger) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, l.s.ledger[i])
	}
	return out, nil
}

// ListingRepo implements repositories.ListingRepository.
type ListingRepo struct{ s *Store }

func (r *ListingRepo) GetListing(_ context.Context, itemID string) (*models.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.listings[itemID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &l, nil
}

func (r *ListingRepo) ReserveStock(_ context.Context, itemID string, quantity int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.listings[itemID]
	if !ok || l.Stock < quantity {
		return repositories.ErrInsufficientStock
	}
	l.Stock -= quantity
	r.s.listings[itemID] = l
	return nil
}

func (r *ListingRepo) ReleaseStock(_ context.Context, itemID string, quantity int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.listings[itemID]
	if !ok {
		return repositories.ErrNotFound
	}
	l.Stock += quantity
	r.s.listings[itemID] = l
	return nil
}
