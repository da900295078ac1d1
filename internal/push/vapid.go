package push

import (
	"encoding/json"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/logger"
)

// VAPIDKeys — пара ключей для Web Push (VAPID).
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

const defaultVAPIDKeysPath = "config/vapid.json"

// ResolveKeys возвращает cfg как есть, если ключи заданы в окружении. Иначе
// загружает их из файла; если файла нет — генерирует и сохраняет.
// Путь: аргумент, env VAPID_KEYS_FILE или config/vapid.json (относительно cwd).
func ResolveKeys(cfg config.PushConfig, path string) (config.PushConfig, error) {
	if cfg.Enabled() {
		return cfg, nil
	}
	if path == "" {
		path = os.Getenv("VAPID_KEYS_FILE")
	}
	if path == "" {
		path = defaultVAPIDKeysPath
	}
	keys, err := loadVAPIDKeys(path)
	if err != nil || keys.PublicKey == "" || keys.PrivateKey == "" {
		priv, pub, genErr := webpush.GenerateVAPIDKeys()
		if genErr != nil {
			return cfg, genErr
		}
		keys = &VAPIDKeys{PublicKey: pub, PrivateKey: priv}
		if err := saveVAPIDKeys(path, keys); err != nil {
			logger.Errorf("push: не удалось сохранить VAPID-ключи в %s: %v (ключи сгенерированы и используются)", path, err)
		} else {
			logger.Infof("push: VAPID-ключи сгенерированы и сохранены в %s", path)
		}
	}
	cfg.VAPIDPublicKey = keys.PublicKey
	cfg.VAPIDPrivateKey = keys.PrivateKey
	return cfg, nil
}

func loadVAPIDKeys(path string) (*VAPIDKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys VAPIDKeys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	return &keys, nil
}

func saveVAPIDKeys(path string, keys *VAPIDKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
