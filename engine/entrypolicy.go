//
// Copyright (c) SAS Institute Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package engine

import (
	"path"
	"strings"
)

// Instruction is what the driver should do with an incoming ZIP entry.
type Instruction int

const (
	PassThrough Instruction = iota
	Drop
	EngineOwned
)

const metaInf = "META-INF/"

// entryPolicy classifies entries given the engine's current configuration.
// It is a pure function of the entry name and the SignerSet's owned names,
// with no mutable state of its own.
type entryPolicy struct {
	ownedNames           map[string]bool
	preserveOtherSigners bool
}

func newEntryPolicy(signers *SignerSet, preserveOtherSigners bool) *entryPolicy {
	owned := make(map[string]bool)
	for _, name := range signers.V1EntryNames() {
		owned[name] = true
	}
	return &entryPolicy{ownedNames: owned, preserveOtherSigners: preserveOtherSigners}
}

func (p *entryPolicy) classify(entryName string) Instruction {
	if p.ownedNames[entryName] {
		return EngineOwned
	}
	if p.preserveOtherSigners || isV1Covered(entryName) {
		return PassThrough
	}
	return Drop
}

// isV1Covered reports whether entryName is subject to v1 content-digest
// coverage: everything except directories and the handful of well-known
// JAR metadata files under META-INF/ that are not digested (manifest,
// foreign signature files, directory markers).
func isV1Covered(entryName string) bool {
	if strings.HasSuffix(entryName, "/") {
		return false
	}
	if !strings.HasPrefix(strings.ToUpper(entryName), strings.ToUpper(metaInf)) {
		return true
	}
	base := strings.ToUpper(path.Base(entryName))
	switch path.Ext(base) {
	case ".SF", ".RSA", ".DSA", ".EC", ".SIG":
		return false
	}
	if base == "MANIFEST.MF" {
		return false
	}
	if strings.HasPrefix(base, "SIG-") {
		return false
	}
	return true
}
