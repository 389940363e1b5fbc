package main

import (
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/nodereg/config"
	"github.com/Klingon-tech/nodereg/internal/devnet"
	"github.com/Klingon-tech/nodereg/internal/ledger"
	"github.com/Klingon-tech/nodereg/internal/wallet"
	"github.com/stretchr/testify/require"
)

func TestWriteClientFiles(t *testing.T) {
	nw, err := devnet.NewNetwork(devnet.Config{}, 2, "127.0.0.1", 0)
	require.NoError(t, err)
	require.NoError(t, nw.Start())
	defer nw.Stop()

	dir := filepath.Join(t.TempDir(), "devnet")
	require.NoError(t, writeClientFiles(dir, nw, 3))

	values, err := config.LoadFile(filepath.Join(dir, config.ConfigFileName))
	require.NoError(t, err)
	cfg := config.Default()
	require.NoError(t, config.ApplyFileConfig(cfg, values))
	require.NoError(t, config.Validate(cfg))

	urls := nw.URLs()
	require.Equal(t, urls[0], cfg.RPC.URL)
	require.Equal(t, urls[1], cfg.RPC.Global)

	art, err := ledger.LoadArtifact(cfg.Contract.Artifact)
	require.NoError(t, err)
	addr, err := art.Address(cfg.Contract.Network)
	require.NoError(t, err)
	require.Equal(t, nw.Chain().Contract(), addr)

	creds, err := wallet.LoadCredentials(cfg.Credentials.File, nil)
	require.NoError(t, err)
	require.Len(t, creds.Accounts, 3)
}
