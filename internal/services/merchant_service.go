package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/baharkarakas/paygate/internal/apperr"
	"github.com/baharkarakas/paygate/internal/auth"
	"github.com/baharkarakas/paygate/internal/checkmac"
	"github.com/baharkarakas/paygate/internal/ecpay"
	"github.com/baharkarakas/paygate/internal/models"
	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/baharkarakas/paygate/internal/vault"
)

// MerchantService provisions merchants and manages their processor
// credentials. Plaintext secrets only ever leave it masked.
type MerchantService struct {
	merchants repo.Merchants
	audit     repo.AuditLogs
	vault     *vault.Vault
	processor *ecpay.Client
	log       *slog.Logger
	now       Clock
}

func NewMerchantService(r repo.Set, v *vault.Vault, pc *ecpay.Client, log *slog.Logger) *MerchantService {
	return &MerchantService{
		merchants: r.Merchants,
		audit:     r.AuditLogs,
		vault:     v,
		processor: pc,
		log:       log.With("component", "merchant"),
		now:       time.Now,
	}
}

func (s *MerchantService) WithClock(c Clock) *MerchantService { s.now = c; return s }

type NewMerchant struct {
	Code        string
	Name        string
	Credentials models.Credentials
	WebhookURL  string
	SuccessURL  string
	FailureURL  string
	CommerceURL string
	CommerceKey string
}

// Create provisions a merchant and returns its API key. The key is only
// stored as a bcrypt hash, so this is the one time it is visible.
func (s *MerchantService) Create(ctx context.Context, req NewMerchant, ip string) (models.Merchant, string, error) {
	if req.Credentials.Environment == "" {
		req.Credentials.Environment = models.EnvStaging
	}
	var fields []apperr.FieldError
	for _, f := range []struct{ name, v string }{
		{"code", req.Code}, {"name", req.Name}, {"success_url", req.SuccessURL}, {"failure_url", req.FailureURL},
	} {
		if strings.TrimSpace(f.v) == "" {
			fields = append(fields, apperr.FieldError{Field: f.name, Msg: "required"})
		}
	}
	var ve *apperr.ValidationError
	if err := req.Credentials.Validate(); errors.As(err, &ve) {
		fields = append(fields, ve.Fields...)
	}
	if len(fields) > 0 {
		return models.Merchant{}, "", &apperr.ValidationError{Fields: fields}
	}

	apiKey, err := vault.GenerateAPIKey()
	if err != nil {
		return models.Merchant{}, "", err
	}
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return models.Merchant{}, "", err
	}
	keyEnc, ivEnc, err := s.seal(req.Credentials)
	if err != nil {
		return models.Merchant{}, "", err
	}

	m, err := s.merchants.Create(ctx, models.Merchant{
		Code:                req.Code,
		Name:                req.Name,
		APIKeyPrefix:        auth.APIKeyPrefix(apiKey),
		APIKeyHash:          hash,
		ProcessorMerchantID: req.Credentials.MerchantID,
		HashKeyEnc:          keyEnc,
		HashIVEnc:           ivEnc,
		Environment:         req.Credentials.Environment,
		WebhookURL:          req.WebhookURL,
		SuccessURL:          req.SuccessURL,
		FailureURL:          req.FailureURL,
		CommerceURL:         req.CommerceURL,
		CommerceKey:         req.CommerceKey,
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return models.Merchant{}, "", fmt.Errorf("%w: merchant code %s already exists", apperr.ErrConflict, req.Code)
	}
	if err != nil {
		return models.Merchant{}, "", err
	}

	audit(ctx, s.audit, s.log, "merchant", m.Code, "create_merchant", map[string]any{
		"processor_merchant_id": m.ProcessorMerchantID, "environment": m.Environment, "source_ip": ip,
	})
	s.log.Info("merchant created", "code", m.Code, "environment", m.Environment)
	return m, apiKey, nil
}

func (s *MerchantService) seal(c models.Credentials) (string, string, error) {
	keyEnc, err := s.vault.Encrypt(c.HashKey)
	if err != nil {
		return "", "", err
	}
	ivEnc, err := s.vault.Encrypt(c.HashIV)
	if err != nil {
		return "", "", err
	}
	return keyEnc, ivEnc, nil
}

// Authenticate resolves an x-api-key header to an active merchant.
func (s *MerchantService) Authenticate(ctx context.Context, apiKey string) (models.Merchant, error) {
	prefix := auth.APIKeyPrefix(apiKey)
	if prefix == "" {
		return models.Merchant{}, fmt.Errorf("%w: malformed api key", apperr.ErrUnauthorized)
	}
	candidates, err := s.merchants.GetByAPIKeyPrefix(ctx, prefix)
	if err != nil {
		return models.Merchant{}, err
	}
	for _, m := range candidates {
		if auth.VerifyAPIKey(apiKey, m.APIKeyHash) == nil {
			return m, nil
		}
	}
	return models.Merchant{}, fmt.Errorf("%w: invalid api key", apperr.ErrUnauthorized)
}

func (s *MerchantService) List(ctx context.Context) ([]models.Merchant, error) {
	out, err := s.merchants.List(ctx)
	if out == nil && err == nil {
		out = []models.Merchant{}
	}
	return out, err
}

type CredentialView struct {
	Code                string             `json:"code"`
	ProcessorMerchantID string             `json:"processor_merchant_id"`
	HashKeySet          bool               `json:"hash_key_set"`
	HashKeyMasked       string             `json:"hash_key_masked"`
	HashIVSet           bool               `json:"hash_iv_set"`
	HashIVMasked        string             `json:"hash_iv_masked"`
	Environment         models.Environment `json:"environment"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Credentials shows a merchant's secrets masked to their first and last four characters.
func (s *MerchantService) Credentials(ctx context.Context, code string) (CredentialView, error) {
	m, err := s.merchants.GetByCode(ctx, code)
	if err != nil {
		return CredentialView{}, notFound(err, "merchant", code)
	}
	v := CredentialView{
		Code:                m.Code,
		ProcessorMerchantID: m.ProcessorMerchantID,
		Environment:         m.Environment,
		UpdatedAt:           m.UpdatedAt,
	}
	v.HashKeySet, v.HashKeyMasked = s.masked(m.HashKeyEnc)
	v.HashIVSet, v.HashIVMasked = s.masked(m.HashIVEnc)
	return v, nil
}

func (s *MerchantService) masked(blob string) (bool, string) {
	if blob == "" {
		return false, models.MaskSecret("")
	}
	plain, err := s.vault.Decrypt(blob)
	if err != nil {
		return false, "(decrypt error)"
	}
	return true, models.MaskSecret(plain)
}

// RotateCredentials re-encrypts and stores a new processor account.
func (s *MerchantService) RotateCredentials(ctx context.Context, code string, c models.Credentials, ip string) (CredentialView, error) {
	m, err := s.merchants.GetByCode(ctx, code)
	if err != nil {
		return CredentialView{}, notFound(err, "merchant", code)
	}
	if c.Environment == "" {
		c.Environment = m.Environment
	}
	if err := c.Validate(); err != nil {
		return CredentialView{}, err
	}
	keyEnc, ivEnc, err := s.seal(c)
	if err != nil {
		return CredentialView{}, err
	}
	if err := s.merchants.UpdateCredentials(ctx, code, c.MerchantID, keyEnc, ivEnc, c.Environment); err != nil {
		return CredentialView{}, notFound(err, "merchant", code)
	}

	audit(ctx, s.audit, s.log, "merchant", code, "update_payment_credentials", map[string]any{
		"processor_merchant_id": c.MerchantID, "environment": c.Environment, "source_ip": ip,
	})
	s.log.Info("merchant credentials rotated", "code", code, "environment", c.Environment)
	return CredentialView{
		Code:                m.Code,
		ProcessorMerchantID: c.MerchantID,
		HashKeySet:          true,
		HashKeyMasked:       models.MaskSecret(c.HashKey),
		HashIVSet:           true,
		HashIVMasked:        models.MaskSecret(c.HashIV),
		Environment:         c.Environment,
		UpdatedAt:           s.now(),
	}, nil
}

// SwitchEnvironment flips a merchant between staging and production. It
// refuses to act unless confirm is set.
func (s *MerchantService) SwitchEnvironment(ctx context.Context, code string, target models.Environment, confirm bool, ip string) (from models.Environment, err error) {
	if !confirm {
		return "", apperr.Invalid("confirm", "set confirm: true to proceed")
	}
	if !target.Valid() {
		return "", apperr.Invalid("target_environment", `must be "staging" or "production"`)
	}
	m, err := s.merchants.GetByCode(ctx, code)
	if err != nil {
		return "", notFound(err, "merchant", code)
	}
	if err := s.merchants.UpdateEnvironment(ctx, code, target); err != nil {
		return "", notFound(err, "merchant", code)
	}
	audit(ctx, s.audit, s.log, "merchant", code, "switch_payment_environment", map[string]any{
		"from": m.Environment, "to": target, "source_ip": ip,
	})
	s.log.Warn("merchant environment switched", "code", code, "from", m.Environment, "to", target)
	return m.Environment, nil
}

type ProbeResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// TestCredentials signs a QueryTradeInfo for a trade that cannot exist; a
// "not found" answer proves the processor accepted the signature.
func (s *MerchantService) TestCredentials(ctx context.Context, code string) (ProbeResult, error) {
	m, err := s.merchants.GetByCode(ctx, code)
	if err != nil {
		return ProbeResult{}, notFound(err, "merchant", code)
	}
	if m.HashKeyEnc == "" || m.HashIVEnc == "" {
		return ProbeResult{Valid: false, Message: "Credentials not set"}, nil
	}
	creds, err := credentials(s.vault, m)
	if err != nil {
		return ProbeResult{Valid: false, Message: "Failed to decrypt credentials"}, nil
	}

	now := s.now()
	params := ecpay.TradeQueryParams(creds.MerchantID, fmt.Sprintf("TEST%d", now.UnixMilli()), now)
	checkmac.SignInto(params, creds.HashKey, creds.HashIV, checkmac.Payment)

	body, err := s.processor.QueryTrade(ctx, m.Staging(), params)
	if err != nil {
		return ProbeResult{}, err
	}
	valid, msg := ecpay.ProbeValid(body)
	return ProbeResult{Valid: valid, Message: msg}, nil
}

// Deactivate soft-deletes a merchant; its rows stay for audit.
func (s *MerchantService) Deactivate(ctx context.Context, code, ip string) error {
	if err := s.merchants.Deactivate(ctx, code); err != nil {
		return notFound(err, "merchant", code)
	}
	audit(ctx, s.audit, s.log, "merchant", code, "deactivate_merchant", map[string]any{"source_ip": ip})
	return nil
}
