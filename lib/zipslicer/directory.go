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

// Package zipslicer patches a ZIP end-of-central-directory record's
// central-directory offset field, the one piece of central-directory
// bookkeeping the v2 signing pipeline needs when an APK Signing Block is
// inserted ahead of the central directory.
package zipslicer

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	directoryEndSignature = 0x06054b50
	directoryEndLen       = 22

	uint16Max = 0xffff
	uint32Max = 0xffffffff
)

type zipEndRecord struct {
	Signature    uint32
	DiskNumber   uint16
	DiskWithCD   uint16
	DiskCDCount  uint16
	TotalCDCount uint16
	CDSize       uint32
	CDOffset     uint32
	CommentLen   uint16
}

// ErrZip64Unsupported is returned by PatchCentralDirectoryOffset when the
// given end-of-central-directory record describes a zip64 archive.
var ErrZip64Unsupported = errors.New("zipslicer: zip64 central directories are not supported")

// PatchCentralDirectoryOffset returns a copy of a non-zip64
// end-of-central-directory record with its central-directory offset field
// advanced by delta bytes, as needed when inserting an APK Signing Block
// between the last zip entry and the central directory. Fails with
// ErrZip64Unsupported if eocd describes a zip64 archive, or if advancing
// the offset would overflow the 32-bit field.
func PatchCentralDirectoryOffset(eocd []byte, delta uint32) ([]byte, error) {
	if len(eocd) < directoryEndLen {
		return nil, errors.New("zipslicer: end-of-central-directory record too short")
	}
	var end zipEndRecord
	if err := binary.Read(bytes.NewReader(eocd[:directoryEndLen]), binary.LittleEndian, &end); err != nil {
		return nil, err
	}
	if end.Signature != directoryEndSignature {
		return nil, errors.New("zipslicer: not an end-of-central-directory record")
	}
	if end.TotalCDCount == uint16Max || end.CDSize == uint32Max || end.CDOffset == uint32Max {
		return nil, ErrZip64Unsupported
	}
	if uint64(end.CDOffset)+uint64(delta) >= uint32Max {
		return nil, ErrZip64Unsupported
	}
	end.CDOffset += delta
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, end); err != nil {
		return nil, err
	}
	out := append(buf.Bytes(), eocd[directoryEndLen:]...)
	return out, nil
}
