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

package magic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectAPK(t *testing.T) {
	blob := append([]byte{0x50, 0x4b, 0x03, 0x04}, make([]byte, 26)...)
	blob = append(blob, []byte("AndroidManifest.xml")...)
	require.Equal(t, FileTypeAPK, Detect(bytes.NewReader(blob)))
}

func TestDetectAPKByClassesDex(t *testing.T) {
	blob := append([]byte{0x50, 0x4b, 0x03, 0x04}, make([]byte, 26)...)
	blob = append(blob, []byte("classes.dex")...)
	require.Equal(t, FileTypeAPK, Detect(bytes.NewReader(blob)))
}

func TestDetectPlainZip(t *testing.T) {
	blob := append([]byte{0x50, 0x4b, 0x03, 0x04}, make([]byte, 26)...)
	blob = append(blob, []byte("readme.txt")...)
	require.Equal(t, FileTypeUnknown, Detect(bytes.NewReader(blob)))
}

func TestDetectNotAZip(t *testing.T) {
	require.Equal(t, FileTypeUnknown, Detect(bytes.NewReader([]byte("hello"))))
}
