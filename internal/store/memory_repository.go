package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

// MemoryRepository is an in-memory Repository for tests and local runs. WithTx holds the
// write lock for the whole callback, so units of work are fully serialized.
type MemoryRepository struct {
	mu           sync.RWMutex
	wallets      map[uuid.UUID]domain.Wallet
	owners       map[string]uuid.UUID
	transactions map[uuid.UUID]domain.Transaction
	references   map[string]uuid.UUID
	bankAccounts map[uuid.UUID]domain.BankAccount
	cards        map[uuid.UUID]domain.Card
	schedules    map[uuid.UUID]domain.SettlementSchedule
	events       map[uuid.UUID]domain.WebhookEvent
}

// NewMemoryRepository builds an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		wallets:      make(map[uuid.UUID]domain.Wallet),
		owners:       make(map[string]uuid.UUID),
		transactions: make(map[uuid.UUID]domain.Transaction),
		references:   make(map[string]uuid.UUID),
		bankAccounts: make(map[uuid.UUID]domain.BankAccount),
		cards:        make(map[uuid.UUID]domain.Card),
		schedules:    make(map[uuid.UUID]domain.SettlementSchedule),
		events:       make(map[uuid.UUID]domain.WebhookEvent),
	}
}

var _ Repository = (*MemoryRepository)(nil)

// PutWallet stores a wallet as-is. It is meant for seeding test fixtures.
func (r *MemoryRepository) PutWallet(wallet *domain.Wallet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[wallet.ID] = *wallet
	r.owners[wallet.OwnerID] = wallet.ID
}

// PutTransaction stores a transaction as-is. It is meant for seeding test fixtures.
func (r *MemoryRepository) PutTransaction(txn *domain.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions[txn.ID] = cloneTransaction(*txn)
	r.references[txn.Reference] = txn.ID
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{
		repo:         r,
		wallets:      make(map[uuid.UUID]*domain.Wallet),
		transactions: make(map[uuid.UUID]domain.Transaction),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, w := range tx.saved() {
		r.wallets[id] = w
	}
	for id, txn := range tx.transactions {
		r.transactions[id] = txn
		r.references[txn.Reference] = id
	}
	return nil
}

func (r *MemoryRepository) GetOrCreateWallet(ctx context.Context, ownerID string, currency string, now time.Time) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.owners[ownerID]; ok {
		w := r.wallets[id]
		return &w, nil
	}
	w := domain.NewWallet(ownerID, currency, now)
	r.wallets[w.ID] = *w
	r.owners[ownerID] = w.ID
	return w, nil
}

func (r *MemoryRepository) FindWalletByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[id]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &w, nil
}

func (r *MemoryRepository) FindWalletByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owners[ownerID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	w := r.wallets[id]
	return &w, nil
}

func (r *MemoryRepository) FindWalletByDedicatedAccount(ctx context.Context, accountNumber string) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.wallets {
		if w.DedicatedAccountNumber != nil && *w.DedicatedAccountNumber == accountNumber {
			out := w
			return &out, nil
		}
	}
	return nil, domain.ErrWalletNotFound
}

func (r *MemoryRepository) ResetDailyCounters(ctx context.Context, today time.Time, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, w := range r.wallets {
		if !dateOnly(w.DailyResetDate).Before(dateOnly(today)) {
			continue
		}
		w.DailyTotal = domain.Zero(w.Currency())
		w.DailyCount = 0
		w.DailyResetDate = today
		w.UpdatedAt = now
		r.wallets[id] = w
		n++
	}
	return n, nil
}

func (r *MemoryRepository) DeactivateWalletInstruments(ctx context.Context, walletID uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, account := range r.bankAccounts {
		if account.WalletID == walletID && account.IsActive {
			account.IsActive = false
			account.IsDefault = false
			account.UpdatedAt = now
			r.bankAccounts[id] = account
		}
	}
	for id, card := range r.cards {
		if card.WalletID == walletID && card.IsActive {
			card.IsActive = false
			card.UpdatedAt = now
			r.cards[id] = card
		}
	}
	for id, schedule := range r.schedules {
		if schedule.WalletID == walletID && schedule.IsActive {
			schedule.IsActive = false
			schedule.NextRun = nil
			schedule.UpdatedAt = now
			r.schedules[id] = schedule
		}
	}
	return nil
}

func (r *MemoryRepository) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	txn, ok := r.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	out := cloneTransaction(txn)
	return &out, nil
}

func (r *MemoryRepository) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.references[reference]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	out := cloneTransaction(r.transactions[id])
	return &out, nil
}

func (r *MemoryRepository) FindTransactionByExternalReference(ctx context.Context, externalReference string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, txn := range r.transactions {
		if txn.ExternalReference != nil && *txn.ExternalReference == externalReference {
			out := cloneTransaction(txn)
			return &out, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (r *MemoryRepository) ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Transaction
	for _, txn := range r.transactions {
		if txn.WalletID != walletID {
			continue
		}
		if opts.Type != nil && txn.Type != *opts.Type {
			continue
		}
		if opts.Status != nil && txn.Status != *opts.Status {
			continue
		}
		out = append(out, cloneTransaction(txn))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Reference > out[j].Reference
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts.Limit, opts.Offset), nil
}

func (r *MemoryRepository) ListStalePendingTransactions(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Transaction
	for _, txn := range r.transactions {
		if txn.Status != domain.TransactionStatusPending || !txn.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, cloneTransaction(txn))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, 0), nil
}

func (r *MemoryRepository) SetTransactionExternalReference(ctx context.Context, id uuid.UUID, externalReference string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.transactions[id]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	if txn.ExternalReference == nil {
		ref := externalReference
		txn.ExternalReference = &ref
		txn.UpdatedAt = now
		r.transactions[id] = txn
	}
	return nil
}

func (r *MemoryRepository) CreateBankAccount(ctx context.Context, account *domain.BankAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.bankAccounts {
		if existing.WalletID == account.WalletID && existing.BankCode == account.BankCode && existing.AccountNumber == account.AccountNumber {
			return domain.ErrBankAccountExists
		}
	}
	r.bankAccounts[account.ID] = *account
	return nil
}

func (r *MemoryRepository) FindBankAccountByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.bankAccounts[id]
	if !ok {
		return nil, domain.ErrBankAccountNotFound
	}
	return &account, nil
}

func (r *MemoryRepository) ListBankAccountsByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.BankAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.BankAccount
	for _, account := range r.bankAccounts {
		if account.WalletID == walletID {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) SetDefaultBankAccount(ctx context.Context, walletID uuid.UUID, accountID uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.bankAccounts[accountID]
	if !ok || target.WalletID != walletID {
		return domain.ErrBankAccountNotFound
	}
	for id, account := range r.bankAccounts {
		if account.WalletID != walletID {
			continue
		}
		isDefault := id == accountID
		if account.IsDefault != isDefault {
			account.IsDefault = isDefault
			account.UpdatedAt = now
			r.bankAccounts[id] = account
		}
	}
	return nil
}

func (r *MemoryRepository) UpsertCard(ctx context.Context, card *domain.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if card.Signature != "" {
		for id, existing := range r.cards {
			if existing.WalletID == card.WalletID && existing.Signature == card.Signature {
				card.ID = id
				card.CreatedAt = existing.CreatedAt
				card.IsDefault = existing.IsDefault
				break
			}
		}
	}
	r.cards[card.ID] = *card
	return nil
}

func (r *MemoryRepository) FindCardByID(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[id]
	if !ok {
		return nil, domain.ErrCardNotFound
	}
	return &card, nil
}

func (r *MemoryRepository) ListCardsByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Card
	for _, card := range r.cards {
		if card.WalletID == walletID {
			out = append(out, card)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) CreateSettlementSchedule(ctx context.Context, schedule *domain.SettlementSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[schedule.ID] = *schedule
	return nil
}

func (r *MemoryRepository) UpdateSettlementSchedule(ctx context.Context, schedule *domain.SettlementSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[schedule.ID]; !ok {
		return domain.ErrScheduleNotFound
	}
	r.schedules[schedule.ID] = *schedule
	return nil
}

func (r *MemoryRepository) FindSettlementScheduleByID(ctx context.Context, id uuid.UUID) (*domain.SettlementSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schedule, ok := r.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	return &schedule, nil
}

func (r *MemoryRepository) ListSettlementSchedulesByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.SettlementSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SettlementSchedule
	for _, schedule := range r.schedules {
		if schedule.WalletID == walletID {
			out = append(out, schedule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListDueSettlementSchedules(ctx context.Context, now time.Time, limit int) ([]domain.SettlementSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SettlementSchedule
	for _, schedule := range r.schedules {
		if !schedule.IsActive || !schedule.Type.IsTimeBased() || schedule.NextRun == nil || schedule.NextRun.After(now) {
			continue
		}
		out = append(out, schedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(*out[j].NextRun) })
	return paginate(out, limit, 0), nil
}

func (r *MemoryRepository) ListActiveThresholdSchedules(ctx context.Context, walletID uuid.UUID) ([]domain.SettlementSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SettlementSchedule
	for _, schedule := range r.schedules {
		if schedule.WalletID == walletID && schedule.IsActive && schedule.Type == domain.ScheduleTypeThreshold {
			out = append(out, schedule)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListReachedThresholdSchedules(ctx context.Context, limit int) ([]domain.SettlementSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SettlementSchedule
	for _, schedule := range r.schedules {
		if !schedule.IsActive || schedule.Type != domain.ScheduleTypeThreshold || schedule.AmountThreshold == nil {
			continue
		}
		wallet, ok := r.wallets[schedule.WalletID]
		if !ok || !wallet.IsActive || wallet.IsLocked || wallet.Balance.LessThan(*schedule.AmountThreshold) {
			continue
		}
		out = append(out, schedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, 0), nil
}

func (r *MemoryRepository) RecordSettlementRun(ctx context.Context, id uuid.UUID, lastRun *time.Time, nextRun *time.Time, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.schedules[id]
	if !ok {
		return domain.ErrScheduleNotFound
	}
	if lastRun != nil {
		schedule.LastRun = lastRun
	}
	schedule.NextRun = nextRun
	schedule.UpdatedAt = now
	r.schedules[id] = schedule
	return nil
}

func (r *MemoryRepository) CreateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.SignatureValid {
		for _, existing := range r.events {
			if existing.SignatureValid && existing.Reference == event.Reference && existing.EventType == event.EventType {
				return domain.ErrDuplicateEvent
			}
		}
	}
	r.events[event.ID] = *event
	return nil
}

func (r *MemoryRepository) UpdateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ID]; !ok {
		return domain.ErrWebhookEventNotFound
	}
	r.events[event.ID] = *event
	return nil
}

func (r *MemoryRepository) FindWebhookEventByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[id]
	if !ok {
		return nil, domain.ErrWebhookEventNotFound
	}
	return &event, nil
}

func (r *MemoryRepository) FindWebhookEvent(ctx context.Context, reference string, eventType string) (*domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, event := range r.events {
		if event.SignatureValid && event.Reference == reference && event.EventType == eventType {
			return &event, nil
		}
	}
	return nil, domain.ErrWebhookEventNotFound
}

func (r *MemoryRepository) ListRetryableWebhookEvents(ctx context.Context, receivedBefore time.Time, now time.Time, maxAttempts int, limit int) ([]domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WebhookEvent
	for _, event := range r.events {
		if !event.SignatureValid || event.Attempts >= maxAttempts || !event.ReceivedAt.Before(receivedBefore) {
			continue
		}
		if event.Status != domain.WebhookStatusFailed && event.Status != domain.WebhookStatusReceived {
			continue
		}
		if event.NextAttemptAt != nil && event.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return paginate(out, limit, 0), nil
}

type memoryTx struct {
	repo         *MemoryRepository
	wallets      map[uuid.UUID]*domain.Wallet
	dirty        map[uuid.UUID]bool
	transactions map[uuid.UUID]domain.Transaction
}

func (t *memoryTx) saved() map[uuid.UUID]domain.Wallet {
	out := make(map[uuid.UUID]domain.Wallet, len(t.dirty))
	for id := range t.dirty {
		out[id] = *t.wallets[id]
	}
	return out
}

func (t *memoryTx) LockWallets(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Wallet, error) {
	out := make(map[uuid.UUID]*domain.Wallet, len(ids))
	for _, id := range SortedWalletIDs(ids) {
		w, ok := t.wallets[id]
		if !ok {
			base, found := t.repo.wallets[id]
			if !found {
				return nil, fmt.Errorf("%w: %s", domain.ErrWalletNotFound, id)
			}
			w = &base
			t.wallets[id] = w
		}
		out[id] = w
	}
	return out, nil
}

func (t *memoryTx) SaveWallet(ctx context.Context, wallet *domain.Wallet) error {
	if _, ok := t.wallets[wallet.ID]; !ok {
		return fmt.Errorf("wallet %s saved without being locked", wallet.ID)
	}
	copied := *wallet
	t.wallets[wallet.ID] = &copied
	if t.dirty == nil {
		t.dirty = make(map[uuid.UUID]bool)
	}
	t.dirty[wallet.ID] = true
	return nil
}

func (t *memoryTx) lookup(id uuid.UUID) (domain.Transaction, bool) {
	if txn, ok := t.transactions[id]; ok {
		return txn, true
	}
	txn, ok := t.repo.transactions[id]
	return txn, ok
}

func (t *memoryTx) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	if _, exists := t.repo.references[txn.Reference]; exists {
		return fmt.Errorf("duplicate transaction reference %s", txn.Reference)
	}
	for _, pending := range t.transactions {
		if pending.Reference == txn.Reference {
			return fmt.Errorf("duplicate transaction reference %s", txn.Reference)
		}
	}
	t.transactions[txn.ID] = cloneTransaction(*txn)
	return nil
}

func (t *memoryTx) LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, ok := t.lookup(id)
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	out := cloneTransaction(txn)
	return &out, nil
}

func (t *memoryTx) LockTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	for _, txn := range t.transactions {
		if txn.Reference == reference {
			out := cloneTransaction(txn)
			return &out, nil
		}
	}
	id, ok := t.repo.references[reference]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return t.LockTransaction(ctx, id)
}

func (t *memoryTx) UpdateTransactionStatus(ctx context.Context, txn *domain.Transaction, from domain.TransactionStatus) error {
	current, ok := t.lookup(txn.ID)
	if !ok {
		return domain.ErrTransactionNotFound
	}
	if current.Status != from {
		return domain.ErrAlreadyTerminal
	}
	t.transactions[txn.ID] = cloneTransaction(*txn)
	return nil
}

func (t *memoryTx) SumRefunds(ctx context.Context, originalID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	seen := make(map[uuid.UUID]bool)
	add := func(txn domain.Transaction) {
		if seen[txn.ID] {
			return
		}
		seen[txn.ID] = true
		if txn.Type == domain.TransactionTypeRefund && txn.Status == domain.TransactionStatusSuccess &&
			txn.RelatedTransactionID != nil && *txn.RelatedTransactionID == originalID {
			total = total.Add(txn.Amount.Amount)
		}
	}
	for _, txn := range t.transactions {
		add(txn)
	}
	for _, txn := range t.repo.transactions {
		add(txn)
	}
	return total, nil
}

// SortedWalletIDs returns the distinct ids in ascending order, the global wallet lock order.
func SortedWalletIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func cloneTransaction(txn domain.Transaction) domain.Transaction {
	if txn.Metadata != nil {
		md := make(map[string]any, len(txn.Metadata))
		for k, v := range txn.Metadata {
			md[k] = v
		}
		txn.Metadata = md
	}
	return txn
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
