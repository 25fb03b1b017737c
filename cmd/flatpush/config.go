package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// defaultConfigName is looked up in the working directory when --config is
// not given.
const defaultConfigName = "flatpushrc.toml"

// fileConfig provides defaults for flags that would otherwise repeat on
// every invocation. Flags always win over the file.
type fileConfig struct {
	ManagerURL string   `toml:"manager_url"`
	Repo       string   `toml:"repo"`
	TokenFile  string   `toml:"token_file"`
	SkipDelta  []string `toml:"skip_delta"`
}

// loadConfig reads the config file into g.config. A missing default file is
// fine; an explicitly named file must exist.
func (g *globalFlags) loadConfig() error {
	path := g.configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return usageErrorf("read config: %v", err)
	}
	if err := toml.Unmarshal(data, &g.config); err != nil {
		return usageErrorf("parse config %s: %v", path, err)
	}
	return nil
}
