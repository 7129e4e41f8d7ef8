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
	"crypto"

	"github.com/relicapk/apksigner/lib/zipslicer"
	"github.com/relicapk/apksigner/v2builder"
)

// blockAlignment is the boundary the end of the APK Signing Block (and
// therefore the start of the central directory that immediately follows
// it) is padded to, matching the platform's page-alignment convention for
// mmap'd zip entries.
const blockAlignment = 4096

// V2Artifact is what Emit returns: the serialized APK Signing Block
// envelope, and how many zero bytes the driver must insert between the
// last zip entry and the block to keep it aligned.
type V2Artifact struct {
	Block         []byte
	PaddingBefore uint32
}

// V2Pipeline builds the APK Signature Scheme v2 block. Unlike V1Pipeline it
// carries no incremental state: every Emit call is a full rebuild from the
// three ZIP sections it is handed, matching the state machine's rule that
// v2's Emitted artifact is always recomputed from scratch on invalidation.
type V2Pipeline struct {
	signers *SignerSet
}

func newV2Pipeline(signers *SignerSet) *V2Pipeline {
	return &V2Pipeline{signers: signers}
}

// Emit computes the v2 content digest over entriesRegion, centralDir and a
// corrected copy of eocd, signs it for every configured signer, and wraps
// the result in the generic APK Signing Block envelope. supportsPadding
// controls whether the block is padded for 4 KiB alignment; callers pass
// false when targeting devices/tools that don't expect page-aligned
// entries.
//
// Inserting the signing block always moves the central directory forward
// from where eocd says it is, so the EOCD that gets digested and signed
// must never be the driver's original copy: it must carry the
// central-directory offset the archive will actually have once the block
// (and any padding) is in place. A trial build against the original eocd
// first measures the block's length -- fixed by signer/cert/digest sizes,
// never by the digest values themselves, so it doesn't change once the
// corrected EOCD is substituted in -- then the real build runs against the
// padded entries region and the corrected EOCD.
func (p *V2Pipeline) Emit(entriesRegion, centralDir, eocd []byte, supportsPadding bool) (*V2Artifact, error) {
	signers := p.signers.v2SignerInputs()
	hashes := distinctHashes(signers)

	trial, err := p.build(hashes, entriesRegion, centralDir, eocd, signers)
	if err != nil {
		return nil, err
	}

	var padding uint32
	if supportsPadding {
		padding = alignmentPadding(len(entriesRegion), len(trial))
	}

	correctedEOCD, err := zipslicer.PatchCentralDirectoryOffset(eocd, padding+uint32(len(trial)))
	if err != nil {
		return nil, wrapErr(KindFormat, "computing corrected end-of-central-directory record", err)
	}

	paddedEntries := entriesRegion
	if padding > 0 {
		paddedEntries = append(append([]byte{}, entriesRegion...), make([]byte, padding)...)
	}
	block, err := p.build(hashes, paddedEntries, centralDir, correctedEOCD, signers)
	if err != nil {
		return nil, err
	}

	return &V2Artifact{Block: block, PaddingBefore: padding}, nil
}

func (p *V2Pipeline) build(hashes []crypto.Hash, entriesRegion, centralDir, eocd []byte, signers []v2builder.SignerInput) ([]byte, error) {
	digestValues, err := v2builder.ContentDigests(hashes, entriesRegion, centralDir, eocd)
	if err != nil {
		return nil, wrapErr(KindFormat, "computing v2 content digest", err)
	}
	digests := make(map[crypto.Hash][]byte, len(hashes))
	for i, h := range hashes {
		digests[h] = digestValues[i]
	}
	block, err := v2builder.BuildBlock(digests, signers)
	if err != nil {
		return nil, wrapErr(KindCrypto, "building APK Signature Scheme v2 block", err)
	}
	return block, nil
}

func distinctHashes(signers []v2builder.SignerInput) []crypto.Hash {
	seen := make(map[crypto.Hash]bool, len(signers))
	var hashes []crypto.Hash
	for _, s := range signers {
		if !seen[s.Hash] {
			seen[s.Hash] = true
			hashes = append(hashes, s.Hash)
		}
	}
	return hashes
}

// alignmentPadding returns the number of zero bytes to insert before the
// signing block so that entriesLen + padding + blockLen lands on a
// blockAlignment boundary.
func alignmentPadding(entriesLen, blockLen int) uint32 {
	total := entriesLen + blockLen
	rem := total % blockAlignment
	if rem == 0 {
		return 0
	}
	return uint32(blockAlignment - rem)
}
