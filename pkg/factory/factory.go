/*
 * Reconf Configuration Factory
 */

package factory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/comp590/reconf/internal/logger"
)

// InitConfigFactory reads the file at f into cfg.
func InitConfigFactory(f string, cfg *Config) error {
	if f == "" {
		f = ReconfDefaultConfigPath
	}

	content, err := os.ReadFile(f)
	if err != nil {
		return fmt.Errorf("[Factory] %+v", err)
	}

	logger.CfgLog.Infof("Read config from [%s]", f)
	if yamlErr := yaml.Unmarshal(content, cfg); yamlErr != nil {
		return fmt.Errorf("[Factory] %+v", yamlErr)
	}

	return nil
}

func ReadConfig(cfgPath string) (*Config, error) {
	cfg := &Config{}
	if err := InitConfigFactory(cfgPath, cfg); err != nil {
		return nil, fmt.Errorf("ReadConfig [%s] Error: %+v", cfgPath, err)
	}
	if _, err := cfg.Validate(); err != nil {
		logger.CfgLog.Errorf("[-- PLEASE REFER TO SAMPLE CONFIG FILE COMMENTS --]")
		return nil, fmt.Errorf("config validate Error: %+v", err)
	}

	return cfg, nil
}
