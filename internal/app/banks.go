package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

// BankCache stores the gateway bank list per country.
type BankCache interface {
	GetBanks(ctx context.Context, country string) ([]domain.Bank, bool, error)
	SetBanks(ctx context.Context, country string, banks []domain.Bank, ttl time.Duration) error
}

// RedisBankCache keeps the bank list in Redis so every replica shares one refresh.
type RedisBankCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisBankCache(client redis.UniversalClient, prefix string) *RedisBankCache {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "wallet:banks"
	}
	return &RedisBankCache{client: client, prefix: trimmedPrefix}
}

func (c *RedisBankCache) key(country string) string {
	return c.prefix + ":" + strings.ToLower(strings.TrimSpace(country))
}

func (c *RedisBankCache) GetBanks(ctx context.Context, country string) ([]domain.Bank, bool, error) {
	raw, err := c.client.Get(ctx, c.key(country)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var banks []domain.Bank
	if err := json.Unmarshal(raw, &banks); err != nil {
		return nil, false, fmt.Errorf("decode cached bank list: %w", err)
	}
	return banks, true, nil
}

func (c *RedisBankCache) SetBanks(ctx context.Context, country string, banks []domain.Bank, ttl time.Duration) error {
	raw, err := json.Marshal(banks)
	if err != nil {
		return fmt.Errorf("encode bank list: %w", err)
	}
	return c.client.Set(ctx, c.key(country), raw, ttl).Err()
}

// MemoryBankCache is the in-process fallback used when Redis is not configured.
type MemoryBankCache struct {
	mu      sync.RWMutex
	entries map[string]bankCacheEntry
}

type bankCacheEntry struct {
	banks     []domain.Bank
	expiresAt time.Time
}

func NewMemoryBankCache() *MemoryBankCache {
	return &MemoryBankCache{entries: make(map[string]bankCacheEntry)}
}

func (c *MemoryBankCache) GetBanks(ctx context.Context, country string) ([]domain.Bank, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[strings.ToLower(country)]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return append([]domain.Bank(nil), entry.banks...), true, nil
}

func (c *MemoryBankCache) SetBanks(ctx context.Context, country string, banks []domain.Bank, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[strings.ToLower(country)] = bankCacheEntry{
		banks:     append([]domain.Bank(nil), banks...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// bankCountry maps a wallet currency to the gateway's bank list country.
func bankCountry(currency string) string {
	switch currency {
	case "GHS":
		return "ghana"
	case "KES":
		return "kenya"
	case "ZAR":
		return "south africa"
	default:
		return "nigeria"
	}
}

// ListBanks returns the bank list, refreshing it from the gateway when the cache is cold.
// Cache failures fall through to the gateway.
func (s *Service) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	country := bankCountry(s.opts.Currency)
	banks, ok, err := s.banks.GetBanks(ctx, country)
	if err != nil {
		s.logger.Warn("bank cache read failed", "country", country, "error", err)
	}
	if ok {
		return banks, nil
	}
	return s.SyncBanks(ctx)
}

// SyncBanks reloads the bank list from the gateway and refreshes the cache.
func (s *Service) SyncBanks(ctx context.Context) ([]domain.Bank, error) {
	country := bankCountry(s.opts.Currency)
	remote, err := s.gateway.ListBanks(ctx, country)
	if err != nil {
		return nil, gatewayError("list banks", err)
	}
	banks := make([]domain.Bank, 0, len(remote))
	for _, b := range remote {
		banks = append(banks, domain.Bank{
			Name:     b.Name,
			Code:     b.Code,
			Slug:     b.Slug,
			Country:  b.Country,
			Currency: b.Currency,
			Active:   b.Active,
		})
	}
	if err := s.banks.SetBanks(ctx, country, banks, s.opts.BankListTTL); err != nil {
		s.logger.Warn("bank cache write failed", "country", country, "error", err)
	}
	s.logger.Info("bank list synced", "country", country, "count", len(banks))
	return banks, nil
}

func (s *Service) bankName(ctx context.Context, code string) string {
	banks, err := s.ListBanks(ctx)
	if err != nil {
		return ""
	}
	for _, b := range banks {
		if b.Code == code {
			return b.Name
		}
	}
	return ""
}

// AddBankAccount verifies an account number with the gateway, registers it as a transfer
// recipient and links it to the wallet. The first linked account becomes the default.
func (s *Service) AddBankAccount(ctx context.Context, walletID uuid.UUID, bankCode, accountNumber string, now time.Time) (*domain.BankAccount, error) {
	bankCode = strings.TrimSpace(bankCode)
	accountNumber = strings.TrimSpace(accountNumber)
	if bankCode == "" || accountNumber == "" {
		return nil, fmt.Errorf("%w: bank code and account number are required", domain.ErrInvalidPayload)
	}
	for _, r := range accountNumber {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: account number must be numeric", domain.ErrInvalidPayload)
		}
	}
	wallet, err := s.repo.FindWalletByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive {
		return nil, domain.ErrWalletInactive
	}

	resolved, err := s.gateway.ResolveAccount(ctx, accountNumber, bankCode)
	if err != nil {
		var apiErr *paystackclient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %s", domain.ErrBankAccountUnverified, apiErr.Message)
		}
		return nil, gatewayError("resolve account", err)
	}
	recipient, err := s.gateway.CreateTransferRecipient(ctx, paystackclient.CreateRecipientRequest{
		Type:          "nuban",
		Name:          resolved.AccountName,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		Currency:      s.opts.Currency,
	})
	if err != nil {
		return nil, gatewayError("create transfer recipient", err)
	}

	existing, err := s.repo.ListBankAccountsByWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	hasDefault := false
	for _, a := range existing {
		if a.IsActive && a.IsDefault {
			hasDefault = true
		}
	}

	account := &domain.BankAccount{
		ID:            uuid.New(),
		WalletID:      walletID,
		BankCode:      bankCode,
		BankName:      s.bankName(ctx, bankCode),
		AccountNumber: accountNumber,
		AccountName:   resolved.AccountName,
		RecipientCode: recipient.RecipientCode,
		IsVerified:    true,
		IsDefault:     !hasDefault,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateBankAccount(ctx, account); err != nil {
		return nil, err
	}
	s.logger.Info("bank account linked", "wallet_id", walletID, "bank_code", bankCode, "default", account.IsDefault)
	return account, nil
}

// ListBankAccounts returns the wallet's linked bank accounts.
func (s *Service) ListBankAccounts(ctx context.Context, walletID uuid.UUID) ([]domain.BankAccount, error) {
	return s.repo.ListBankAccountsByWallet(ctx, walletID)
}

// SetDefaultBankAccount makes accountID the wallet's only default account.
func (s *Service) SetDefaultBankAccount(ctx context.Context, walletID, accountID uuid.UUID, now time.Time) (*domain.BankAccount, error) {
	account, err := s.repo.FindBankAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.WalletID != walletID || !account.IsActive {
		return nil, domain.ErrBankAccountNotFound
	}
	if err := s.repo.SetDefaultBankAccount(ctx, walletID, accountID, now); err != nil {
		return nil, err
	}
	account.IsDefault = true
	account.UpdatedAt = now
	return account, nil
}
