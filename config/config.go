/*
 * Copyright (c) SAS Institute Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"errors"
	"io/ioutil"

	"gopkg.in/yaml.v3"
)

// UserAgent and Author are stamped into generated .SF signature files'
// "Created-By" attribute by lib/signjar.
var (
	UserAgent = "apksigner/" + Version
	Author    = "apksigner"
	Version   = "1.0"
)

// EngineConfig holds the policy knobs the signing engine is constructed
// with. It carries no key material: SignerConfig certificates and private
// keys are loaded by the caller via lib/certloader and handed to the
// engine directly, never read from this file.
type EngineConfig struct {
	V1Enabled            bool        `yaml:"v1Enabled"`
	V2Enabled            bool        `yaml:"v2Enabled"`
	DebuggablePermitted  bool        `yaml:"debuggablePermitted"`
	PreserveOtherSigners bool        `yaml:"preserveOtherSigners"`
	CreatedBy            string      `yaml:"createdBy"`
	MinSdkVersion        int         `yaml:"minSdkVersion"`
	Signers              []SignerRef `yaml:"signers"`
}

// SignerRef names one signer's key/certificate files on disk, for configs
// that describe signers declaratively rather than constructing them in code.
type SignerRef struct {
	Name     string `yaml:"name"`
	KeyFile  string `yaml:"keyFile"`
	CertFile string `yaml:"certFile"`
}

// Default returns an EngineConfig matching Android's own default signer
// behavior: both signature schemes on, signing debuggable APKs permitted,
// foreign signatures not preserved.
func Default() EngineConfig {
	return EngineConfig{
		V1Enabled:           true,
		V2Enabled:           true,
		DebuggablePermitted: true,
		CreatedBy:           "1.0 (Android)",
		MinSdkVersion:       1,
	}
}

// ReadFile loads an EngineConfig from a YAML document.
func ReadFile(path string) (*EngineConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	if len(config.Signers) == 0 {
		return nil, errors.New("configuration defines no signers")
	}
	return &config, nil
}
