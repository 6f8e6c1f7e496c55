package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/baharkarakas/paygate/internal/apperr"
	"github.com/baharkarakas/paygate/internal/models"
	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/baharkarakas/paygate/internal/vault"
)

// Clock is swapped in tests.
type Clock func() time.Time

// credentials decrypts a merchant's processor secrets for the current request only.
func credentials(v *vault.Vault, m models.Merchant) (models.Credentials, error) {
	key, err := v.Decrypt(m.HashKeyEnc)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("merchant %s hash key: %w", m.Code, err)
	}
	iv, err := v.Decrypt(m.HashIVEnc)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("merchant %s hash iv: %w", m.Code, err)
	}
	return models.Credentials{MerchantID: m.ProcessorMerchantID, HashKey: key, HashIV: iv, Environment: m.Environment}, nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.NotFound(what, id)
	}
	return err
}

func audit(ctx context.Context, l repo.AuditLogs, log *slog.Logger, entity, id, action string, details map[string]any) {
	if err := l.Create(ctx, models.AuditLog{EntityType: entity, EntityID: &id, Action: action, Details: details}); err != nil {
		log.Warn("audit log write failed", "entity", entity, "id", id, "action", action, "err", err)
	}
}

func gatewayPath(base, path string) string { return strings.TrimRight(base, "/") + path }
