/*
File Name:  Config.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers
*/

package core

import (
	_ "embed" // Required for embedding default Config file
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config is the core configuration. The file also stores the identity seed,
// which is written back exactly once on first start.
type Config struct {
	LogFile string `yaml:"LogFile"` // Log file

	// User specific settings
	IdentitySeed string `yaml:"IdentitySeed"` // The identity seed, hex encoded so it can be copied manually
	Nickname     string `yaml:"Nickname"`     // Nickname announced to nearby peers

	// Radio identifiers
	ServiceUUID        string `yaml:"ServiceUUID"`        // Well-known service UUID
	CharacteristicUUID string `yaml:"CharacteristicUUID"` // Characteristic to write and subscribe to

	// Connection budget
	MaxConnections int `yaml:"MaxConnections"` // Budget of simultaneous radio links. Default 7.
	RSSIFloor      int `yaml:"RSSIFloor"`      // Weakest accepted signal. Default -80.

	// Persistence
	StorePath string `yaml:"StorePath"` // Path of the favorites store. Empty = memory only.

	// Relay network
	Relays []relaySeed `yaml:"Relays"`     // Relay list. Empty disables the relay transport.
	Socks  string      `yaml:"SocksProxy"` // Optional SOCKS5 proxy host:port for relay sockets.
}

// relaySeed is a single relay entry from the config
type relaySeed struct {
	URL     string `yaml:"URL"`     // Websocket URL
	Geohash string `yaml:"Geohash"` // Optional geographic scope
}

//go:embed "Config Default.yaml"
var defaultConfig []byte

// LoadConfig reads the YAML configuration file into the target structure.
// If the file does not exist or is empty, the built-in default is used.
// The returned status is one of the ExitX codes; anything other than
// ExitSuccess means the application shall exit.
func LoadConfig(filename string, target interface{}) (status int, err error) {
	var configData []byte

	stats, err := os.Stat(filename)
	if err != nil && os.IsNotExist(err) || err == nil && stats.Size() == 0 {
		configData = defaultConfig
	} else if err != nil {
		return ExitErrorConfigAccess, err
	} else if configData, err = os.ReadFile(filename); err != nil {
		return ExitErrorConfigRead, err
	}

	if err = yaml.Unmarshal(configData, target); err != nil {
		return ExitErrorConfigParse, err
	}

	return ExitSuccess, nil
}

var saveConfigMutex sync.Mutex

// saveConfig writes the config back to disk. Called only on explicit changes
// such as first-start seed creation or a nickname change.
func (backend *Backend) saveConfig() {
	saveConfigMutex.Lock()
	defer saveConfigMutex.Unlock()

	data, err := yaml.Marshal(backend.Config)
	if err != nil {
		backend.LogError("saveConfig", "marshalling config: %v", err)
		return
	}

	if err = os.WriteFile(backend.ConfigFilename, data, 0644); err != nil {
		backend.LogError("saveConfig", "writing config '%s': %v", backend.ConfigFilename, err)
	}
}

// initLog redirects subsequent log messages into the configured log file.
func (backend *Backend) initLog() (err error) {
	if backend.Config.LogFile == "" {
		return nil
	}

	logFile, err := os.OpenFile(backend.Config.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	// has to remain open until the program closes

	log.SetOutput(logFile)
	log.Printf("---- %s (meshchat core %s) ----\n", backend.userAgent, Version)

	return nil
}
