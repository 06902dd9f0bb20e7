package participant

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
)

type Config struct {
	BrokerURL    string  `json:"broker_url"`
	Password     string  `json:"password"`
	BankID       string  `json:"bank_id"`
	FederationID string  `json:"federation_id"`
	DatasetPath  string  `json:"dataset_path"`
	HiddenUnits  int     `json:"hidden_units"`
	Seed         int64   `json:"seed"`
	TestFraction float64 `json:"test_fraction"`
}

func LoadConfig(filepath string) (Config, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return Config{}, fmt.Errorf("unable to open configuration file '%s': %w", filepath, err)
	}
	defer file.Close()

	var config Config
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration file '%s': %w", filepath, err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func (c Config) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker_url is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return fmt.Errorf("broker_url is not a valid URL: %w", err)
	}
	if c.BankID == "" {
		return errors.New("bank_id is required")
	}
	if c.FederationID == "" {
		return errors.New("federation_id is required")
	}
	if c.DatasetPath == "" {
		return errors.New("dataset_path is required")
	}
	if c.HiddenUnits < 0 {
		return errors.New("hidden_units must not be negative")
	}
	if c.TestFraction < 0 || c.TestFraction >= 1 {
		return errors.New("test_fraction must be in [0, 1)")
	}

	return nil
}
