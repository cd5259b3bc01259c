package ledger

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}

// SeedCurrencies inserts the default currency set, skipping keys that exist.
func (s *Service) SeedCurrencies(ctx context.Context) error {
	for _, currency := range DefaultCurrencies() {
		exist, err := s.currencies.FindOne(ctx, &Currency{Key: currency.Key})
		if err != nil {
			return err
		}
		if exist != nil {
			continue
		}

		if err := s.currencies.Create(ctx, currency); err != nil {
			return err
		}
	}

	return nil
}
