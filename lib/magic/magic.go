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

// Package magic sniffs whether a stream is plausibly an Android APK before
// a driver bothers handing it to the signing engine, the same way a
// general-purpose artifact signer would sniff RPM/DEB/PE before dispatching
// to a format-specific signer.
package magic

import (
	"bytes"
	"io"
)

type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeAPK
)

var (
	zipLocalFileHeader = []byte{0x50, 0x4b, 0x03, 0x04}
	androidManifest    = []byte("AndroidManifest.xml")
	classesDex         = []byte("classes.dex")
)

// Detect sniffs the leading bytes of r for the ZIP local file header
// signature plus a filename a real APK's early entries are overwhelmingly
// likely to carry (AndroidManifest.xml or classes.dex), without parsing
// the archive itself. A plain ZIP with neither reports FileTypeUnknown.
func Detect(r io.Reader) FileType {
	var buf [1024]byte
	blob := buf[:]
	n, err := r.Read(blob)
	if err != nil && n == 0 {
		return FileTypeUnknown
	}
	blob = blob[:n]
	if !bytes.HasPrefix(blob, zipLocalFileHeader) {
		return FileTypeUnknown
	}
	if bytes.Contains(blob, androidManifest) || bytes.Contains(blob, classesDex) {
		return FileTypeAPK
	}
	return FileTypeUnknown
}
