package bot

import (
	"fmt"

	"go.uber.org/zap"

	"dcabot/internal/config"
	"dcabot/internal/exchange"
	"dcabot/internal/models"
	"dcabot/pkg/crypto"
)

// NewBinanceFactory возвращает фабрику биржевых клиентов: расшифровывает
// учётные данные пользователя и создает клиента Binance.
// Ключи в БД лежат зашифрованными (AES-256-GCM), в открытом виде живут
// только внутри клиента.
func NewBinanceFactory(encryptionKey []byte) ExchangeFactory {
	return func(user *models.UserSettings) (exchange.Exchange, error) {
		apiKey, err := crypto.Decrypt(user.APIKey, encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt api key for user %d: %w", user.ID, err)
		}

		secretKey, err := crypto.Decrypt(user.SecretKey, encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret key for user %d: %w", user.ID, err)
		}

		return exchange.NewBinance(apiKey, secretKey), nil
	}
}

// NewBinanceStreamFactory возвращает фабрику user-data stream'ов.
// Работает только с клиентами Binance: чужая реализация Exchange
// означает отсутствие stream'а (ядро остаётся на polling'е).
func NewBinanceStreamFactory(cfg *config.BotConfig, log *zap.Logger) StreamFactory {
	return func(ex exchange.Exchange, onUpdate func(*exchange.OrderUpdate)) (Stream, error) {
		client, ok := ex.(*exchange.Binance)
		if !ok {
			return nil, fmt.Errorf("user streams require a binance client, got %s", ex.GetName())
		}

		streamCfg := exchange.DefaultUserStreamConfig()
		if cfg.WSReconnectDelay > 0 {
			streamCfg.InitialDelay = cfg.WSReconnectDelay
		}
		if cfg.WSReadTimeout > 0 {
			streamCfg.ReadTimeout = cfg.WSReadTimeout
		}
		if cfg.ListenKeyKeepalive > 0 {
			streamCfg.KeepAliveInterval = cfg.ListenKeyKeepalive
		}

		return exchange.NewUserStream(client, streamCfg, onUpdate, log), nil
	}
}
