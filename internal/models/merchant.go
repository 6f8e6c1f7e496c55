package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/baharkarakas/paygate/internal/apperr"
)

type Environment string

const (
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
)

func (e Environment) Valid() bool { return e == EnvStaging || e == EnvProduction }

// Merchant is one processor account. HashKeyEnc and HashIVEnc are vault blobs
// and are never serialized.
type Merchant struct {
	ID                  string      `json:"id"`
	Code                string      `json:"code"`
	Name                string      `json:"name"`
	APIKeyPrefix        string      `json:"-"`
	APIKeyHash          string      `json:"-"`
	ProcessorMerchantID string      `json:"processor_merchant_id"`
	HashKeyEnc          string      `json:"-"`
	HashIVEnc           string      `json:"-"`
	Environment         Environment `json:"environment"`
	WebhookURL          string      `json:"webhook_url,omitempty"`
	SuccessURL          string      `json:"success_url"`
	FailureURL          string      `json:"failure_url"`
	CommerceURL         string      `json:"commerce_url,omitempty"`
	CommerceKey         string      `json:"-"`
	IsActive            bool        `json:"is_active"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

func (m Merchant) Staging() bool { return m.Environment != EnvProduction }

var merchantIDPattern = regexp.MustCompile(`^\d{7,10}$`)

// Credentials is the plaintext form of a merchant's processor account, only
// ever held for the duration of one request.
type Credentials struct {
	MerchantID  string
	HashKey     string
	HashIV      string
	Environment Environment
}

func (c Credentials) Validate() error {
	var fields []apperr.FieldError
	if !merchantIDPattern.MatchString(c.MerchantID) {
		fields = append(fields, apperr.FieldError{Field: "processor_merchant_id", Msg: "must be 7-10 digits"})
	}
	if len(c.HashKey) != 16 {
		fields = append(fields, apperr.FieldError{Field: "hash_key", Msg: "must be exactly 16 characters"})
	}
	if len(c.HashIV) != 16 {
		fields = append(fields, apperr.FieldError{Field: "hash_iv", Msg: "must be exactly 16 characters"})
	}
	if !c.Environment.Valid() {
		fields = append(fields, apperr.FieldError{Field: "environment", Msg: `must be "staging" or "production"`})
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}

// MaskSecret keeps the first and last four characters of long values.
func MaskSecret(v string) string {
	n := len(v)
	switch {
	case n == 0:
		return "(not set)"
	case n <= 4:
		return strings.Repeat("*", n)
	case n <= 8:
		return v[:2] + "****" + v[n-2:]
	default:
		return v[:4] + "****" + v[n-4:]
	}
}
