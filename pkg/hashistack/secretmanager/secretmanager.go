package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/zap"
)

// ProvideVault builds a client from the VAULT_* environment. Without
// VAULT_ADDR it returns nil and configuration is read without secrets.
func ProvideVault() (*vault.Client, error) {
	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return nil, nil
	}

	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		zap.L().Error("[Vault] failed to create client", zap.String("addr", addr), zap.Error(err))
		return nil, err
	}

	zap.L().Info("[Vault] client ready", zap.String("addr", addr))
	return client, nil
}
