package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, StorePostgres, cfg.Store)
	require.Equal(t, uint16(500), cfg.Params.FeeBps)
	require.Equal(t, 72*time.Hour, cfg.Params.AcceptWindow)
	require.Equal(t, 168*time.Hour, cfg.Params.SubmitWindow)
	require.Equal(t, 72*time.Hour, cfg.Params.VoteWindow)
	require.True(t, cfg.Params.DisputeDeposit.IsZero())
	require.Equal(t, 2*time.Second, cfg.Relay.Interval)
	require.Equal(t, 5, cfg.Relay.MaxAttempts)
	require.Equal(t, time.Minute, cfg.Relay.Lease)
	require.Equal(t, 30.0, cfg.RateLimit.AuthPerMinute)
	require.Equal(t, 10, cfg.RateLimit.AuthBurst)

	require.True(t, errors.Is(cfg.Validate(), ErrInvalid))
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escrow.yaml")
	body := []byte(`
store: memory
jwt_secret: from-file
owner: "0x00000000000000000000000000000000000000a0"
params:
  fee_bps: 250
  vote_window: 24h
  dispute_deposit: "100000000000000000"
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("ESCROW_JWT_SECRET", "from-env")
	t.Setenv("ESCROW_PARAMS_FEE_BPS", "300")
	t.Setenv("DATABASE_URL", "postgres://localhost/escrow")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, "from-env", cfg.JWTSecret)
	require.Equal(t, uint16(300), cfg.Params.FeeBps)
	require.Equal(t, 24*time.Hour, cfg.Params.VoteWindow)
	require.Equal(t, "100000000000000000", cfg.Params.DisputeDeposit.Dec())
	require.Equal(t, common.HexToAddress("0xa0"), cfg.Params.Owner)
	require.Equal(t, "postgres://localhost/escrow", cfg.Database.URL)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ESCROW_OWNER", "not-an-address")
	_, err := Load("")
	require.ErrorIs(t, err, ErrInvalid)

	t.Setenv("ESCROW_OWNER", "")
	t.Setenv("ESCROW_PARAMS_FEE_BPS", "1001")
	_, err = Load("")
	require.ErrorIs(t, err, ErrInvalid)
}
