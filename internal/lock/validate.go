package lock

import (
	"strings"
	"time"
	"unicode"

	"github.com/cockroachdb/errors"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
)

const maxIDLen = 128

// validateID rejects empty, oversized or control-character identifiers.
// Ids end up in Redis keys and MySQL columns, so they are kept printable.
func validateID(field, v string) error {
	if strings.TrimSpace(v) != v || v == "" {
		return errors.Wrapf(repository.ErrInvalidArgument, "%s is required and must not have surrounding spaces", field)
	}
	if len(v) > maxIDLen {
		return errors.Wrapf(repository.ErrInvalidArgument, "%s exceeds %d bytes", field, maxIDLen)
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return errors.Wrapf(repository.ErrInvalidArgument, "%s contains control characters", field)
		}
	}
	return nil
}

func validateSeat(eventID, seatID, holderID string) error {
	if err := validateID("event id", eventID); err != nil {
		return err
	}
	if err := validateID("seat id", seatID); err != nil {
		return err
	}
	return validateID("holder id", holderID)
}

// resolveTTL maps a zero ttl to the default and rejects values outside the
// configured bounds.
func resolveTTL(cfg config.LockConfig, ttl time.Duration) (time.Duration, error) {
	if ttl == 0 {
		return cfg.DefaultTTL, nil
	}
	if ttl < cfg.MinTTL || ttl > cfg.MaxTTL {
		return 0, errors.Wrapf(repository.ErrInvalidArgument, "ttl %s outside [%s, %s]", ttl, cfg.MinTTL, cfg.MaxTTL)
	}
	return ttl, nil
}
