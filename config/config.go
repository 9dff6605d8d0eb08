// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/mochi-mqtt/fixture"
	"github.com/mochi-mqtt/fixture/hooks/debug"
	"github.com/mochi-mqtt/fixture/hooks/storage/bolt"
	"github.com/mochi-mqtt/fixture/listeners"
)

// config defines the structure of configuration data to be parsed from a config source.
type config struct {
	Options     fixture.Options
	Listeners   []listeners.Config `yaml:"listeners" json:"listeners"`
	HookConfigs HookConfigs        `yaml:"hooks" json:"hooks"`
}

// HookConfigs contains configurations to enable individual hooks.
type HookConfigs struct {
	Storage *HookStorageConfig `yaml:"storage" json:"storage"`
	Debug   *debug.Options     `yaml:"debug" json:"debug"`
}

// HookStorageConfig contains configurations for the different storage hooks.
type HookStorageConfig struct {
	Bolt *bolt.Options `yaml:"bolt" json:"bolt"`
}

// ToHooks converts Hook file configurations into Hooks to be added to the server.
func (hc HookConfigs) ToHooks() []fixture.HookLoadConfig {
	var hlc []fixture.HookLoadConfig

	if hc.Storage != nil {
		hlc = append(hlc, hc.toHooksStorage()...)
	}

	if hc.Debug != nil {
		hlc = append(hlc, fixture.HookLoadConfig{
			Hook:   new(debug.Hook),
			Config: hc.Debug,
		})
	}

	return hlc
}

// toHooksStorage converts storage hook configurations into storage hooks.
func (hc HookConfigs) toHooksStorage() []fixture.HookLoadConfig {
	var hlc []fixture.HookLoadConfig
	if hc.Storage.Bolt != nil {
		hlc = append(hlc, fixture.HookLoadConfig{
			Hook:   new(bolt.Hook),
			Config: hc.Storage.Bolt,
		})
	}

	return hlc
}

// FromBytes unmarshals a byte slice of JSON or YAML config data into a valid server options value.
// Any hooks configurations are converted into Hooks using the toHooks methods in this package.
func FromBytes(b []byte) (*fixture.Options, error) {
	c := new(config)
	o := fixture.Options{}

	if len(b) == 0 {
		return nil, nil
	}

	if b[0] == '{' {
		err := json.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	} else {
		err := yaml.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	}

	o = c.Options
	o.Hooks = c.HookConfigs.ToHooks()
	o.Listeners = c.Listeners

	return &o, nil
}
