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

import "github.com/relicapk/apksigner/manifestquery"

// DebuggablePolicy caches the debuggable bit parsed from the output
// AndroidManifest.xml and enforces the configured policy against it at
// every v1/v2 emission point.
type DebuggablePolicy struct {
	permitted bool
	query     manifestquery.Query
	known     bool
	debuggable bool
}

func newDebuggablePolicy(permitted bool, query manifestquery.Query) *DebuggablePolicy {
	if query == nil {
		query = manifestquery.StubQuery{}
	}
	return &DebuggablePolicy{permitted: permitted, query: query}
}

// Observe parses manifestBytes and caches the resulting debuggable bit.
func (p *DebuggablePolicy) Observe(manifestBytes []byte) error {
	debuggable, err := p.query.IsDebuggable(manifestBytes)
	if err != nil {
		return wrapErr(KindFormat, "parsing AndroidManifest.xml", err)
	}
	p.debuggable = debuggable
	p.known = true
	return nil
}

// Invalidate drops the cached debuggable bit, forcing a later Enforce call
// to fail with *state-violation* until Observe runs again. Called whenever
// the output AndroidManifest.xml entry is overwritten.
func (p *DebuggablePolicy) Invalidate() {
	p.known = false
	p.debuggable = false
}

// Enforce fails emission when debuggable APKs are prohibited: with
// *state-violation* if the manifest has not yet been observed, or with
// *signature-refused-debuggable* if it was observed to be debuggable.
func (p *DebuggablePolicy) Enforce() error {
	if p.permitted {
		return nil
	}
	if !p.known {
		return newErr(KindStateViolation, "debuggable policy enforced before AndroidManifest.xml was observed")
	}
	if p.debuggable {
		return newErr(KindSignatureRefusedDebuggable, "refusing to sign a debuggable APK")
	}
	return nil
}
