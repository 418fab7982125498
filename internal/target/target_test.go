package target

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dbashand/dbreplicate/internal/config"
)

func TestIsMissingDatabaseMatchesInvalidCatalogName(t *testing.T) {
	err := &pgconn.PgError{Code: invalidCatalogName}
	assert.True(t, isMissingDatabase(err))
}

func TestIsMissingDatabaseFalseForOtherCodes(t *testing.T) {
	err := &pgconn.PgError{Code: "23505"} // unique_violation
	assert.False(t, isMissingDatabase(err))
}

func TestIsMissingDatabaseFalseForNonPgError(t *testing.T) {
	assert.False(t, isMissingDatabase(errors.New("boom")))
}

func TestIsMissingDatabaseUnwrapsWrappedError(t *testing.T) {
	wrapped := errors.New("wrapping")
	_ = wrapped
	err := &pgconn.PgError{Code: invalidCatalogName}
	assert.True(t, isMissingDatabase(errors_Join(err)))
}

// errors_Join exists only so the wrap test above exercises errors.As through
// a wrapped chain without importing fmt solely for one %w.
func errors_Join(err error) error {
	return errors.Join(err)
}

func TestConnectPolicyMatchesDocumentedSchedule(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, ConnectPolicy.Base)
	assert.Equal(t, 2.0, ConnectPolicy.Factor)
	assert.Equal(t, 10000*time.Millisecond, ConnectPolicy.Cap)
	assert.Equal(t, 3, ConnectPolicy.MaxAttempts)
	assert.Equal(t, 2000*time.Millisecond, ConnectPolicy.Delay(1))
	assert.Equal(t, 4000*time.Millisecond, ConnectPolicy.Delay(2))
}

func TestConnectTimeoutDerivesFromConfig(t *testing.T) {
	cfg := &config.RunConfig{ConnectTimeoutMs: 5000}
	assert.Equal(t, 5*time.Second, connectTimeout(cfg))
}
