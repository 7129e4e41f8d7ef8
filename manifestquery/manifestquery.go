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

// Package manifestquery answers the one question the signing engine needs
// from AndroidManifest.xml: is the application debuggable? The binary AXML
// format itself is out of scope here; StubQuery recognizes only the
// textual forms a test harness is likely to hand it.
package manifestquery

import (
	"bytes"
	"errors"
)

// Query answers the debuggable question over an already-extracted
// AndroidManifest.xml blob.
type Query interface {
	IsDebuggable(androidManifestBytes []byte) (bool, error)
}

// StubQuery is a narrow, documented stand-in for a binary AXML parser. It
// recognizes a pre-decoded `android:debuggable="true"` or
// `android:debuggable="false"` attribute in ASCII/UTF-8 text and fails with
// an error for anything it cannot confidently answer, most notably a real
// compiled binary AndroidManifest.xml.
type StubQuery struct{}

var (
	trueNeedle  = []byte(`android:debuggable="true"`)
	falseNeedle = []byte(`android:debuggable="false"`)
)

// ErrNotDecoded is returned when the input does not contain a recognizable
// textual debuggable attribute, most likely because it is a real compiled
// binary manifest that this stub does not parse.
var ErrNotDecoded = errors.New("manifestquery: cannot determine debuggable bit from binary AndroidManifest.xml")

func (StubQuery) IsDebuggable(androidManifestBytes []byte) (bool, error) {
	if bytes.Contains(androidManifestBytes, trueNeedle) {
		return true, nil
	}
	if bytes.Contains(androidManifestBytes, falseNeedle) {
		return false, nil
	}
	return false, ErrNotDecoded
}
