package federator

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

type Config struct {
	Aggregator  AggregatorConfig  `toml:"aggregator"`
	Participant ParticipantConfig `toml:"participant"`
}

type AggregatorConfig struct {
	HTTPPort     string `toml:"http_port"`
	MQTTAddress  string `toml:"mqtt_address"`
	MQTTPassword string `toml:"mqtt_password"`
	FederationID string `toml:"federation_id"`
	MetricsDB    string `toml:"metrics_db"`
}

type ParticipantConfig struct {
	MQTTAddress  string `toml:"mqtt_address"`
	MQTTPassword string `toml:"mqtt_password"`
	FederationID string `toml:"federation_id"`
	BankID       string `toml:"bank_id"`
	DatasetPath  string `toml:"dataset_path"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
