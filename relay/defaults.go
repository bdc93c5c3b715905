// Package relay holds process-wide defaults shared by the chatrelay packages.
package relay

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName = "chatrelay"

	// DefaultHistoryFile is the JSON snapshot used by the "json" history backend.
	DefaultHistoryFile = "chat_history.json"
	// DefaultDownloadsDir receives files uploaded by users.
	DefaultDownloadsDir = "downloads"

	DefaultHistoryBackend = "json"
	DefaultDatabaseDSN    = "file:chatrelay.db"
	DefaultBoltPath       = "chatrelay.bolt"
	DefaultRedisKey       = "chatrelay:transcripts"

	DefaultProviderBaseURL = "https://api.deepseek.com/v1"
	DefaultProviderModel   = "deepseek-chat"
)

// DefaultConfigPath is the per-user configuration directory.
var DefaultConfigPath = defaultConfigPath()

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", DefaultAppName)
	}
	return filepath.Join(home, ".config", DefaultAppName)
}
