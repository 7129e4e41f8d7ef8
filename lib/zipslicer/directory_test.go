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

package zipslicer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeEOCD(t *testing.T, cdOffset, cdSize uint32, totalCount uint16) []byte {
	t.Helper()
	buf := make([]byte, directoryEndLen)
	binary.LittleEndian.PutUint32(buf[0:], directoryEndSignature)
	binary.LittleEndian.PutUint16(buf[8:], totalCount)
	binary.LittleEndian.PutUint16(buf[10:], totalCount)
	binary.LittleEndian.PutUint32(buf[12:], cdSize)
	binary.LittleEndian.PutUint32(buf[16:], cdOffset)
	return buf
}

func TestPatchCentralDirectoryOffset(t *testing.T) {
	eocd := fakeEOCD(t, 1000, 200, 3)
	out, err := PatchCentralDirectoryOffset(eocd, 4096)
	require.NoError(t, err)
	require.Len(t, out, len(eocd))
	require.Equal(t, uint32(5096), binary.LittleEndian.Uint32(out[16:20]))
	// everything else is untouched
	require.Equal(t, uint32(directoryEndSignature), binary.LittleEndian.Uint32(out[0:4]))
	require.Equal(t, uint32(200), binary.LittleEndian.Uint32(out[12:16]))
}

func TestPatchCentralDirectoryOffsetPreservesTrailer(t *testing.T) {
	eocd := append(fakeEOCD(t, 100, 50, 1), []byte("comment")...)
	out, err := PatchCentralDirectoryOffset(eocd, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("comment"), out[directoryEndLen:])
}

func TestPatchCentralDirectoryOffsetRejectsZip64(t *testing.T) {
	eocd := fakeEOCD(t, uint32Max, uint32Max, uint16Max)
	_, err := PatchCentralDirectoryOffset(eocd, 10)
	require.ErrorIs(t, err, ErrZip64Unsupported)
}

func TestPatchCentralDirectoryOffsetRejectsOverflow(t *testing.T) {
	eocd := fakeEOCD(t, uint32Max-5, 10, 1)
	_, err := PatchCentralDirectoryOffset(eocd, 10)
	require.ErrorIs(t, err, ErrZip64Unsupported)
}

func TestPatchCentralDirectoryOffsetRejectsBadSignature(t *testing.T) {
	eocd := fakeEOCD(t, 100, 50, 1)
	binary.LittleEndian.PutUint32(eocd[0:], 0)
	_, err := PatchCentralDirectoryOffset(eocd, 10)
	require.Error(t, err)
}

func TestPatchCentralDirectoryOffsetRejectsShortInput(t *testing.T) {
	_, err := PatchCentralDirectoryOffset([]byte{1, 2, 3}, 10)
	require.Error(t, err)
}
