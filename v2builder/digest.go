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

package v2builder

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"fmt"

	"github.com/relicapk/apksigner/lib/certloader"
)

// SignerInput is one signer's contribution to an APK Signature Scheme v2
// block: the certificate/key to sign with, the content-digest algorithm it
// covers, and whether it should use the RSASSA-PSS padding variant.
type SignerInput struct {
	Cert *certloader.Certificate
	Hash crypto.Hash
	PSS  bool
}

// BuildBlock assembles the v2 scheme's "signer" records for every entry in
// signers, each covering the content digest in digests keyed by that
// signer's chosen hash, and wraps the resulting signer list in the generic
// APK Signing Block envelope.
func BuildBlock(digests map[crypto.Hash][]byte, signers []SignerInput) ([]byte, error) {
	records := make([]signer, 0, len(signers))
	for _, in := range signers {
		value, ok := digests[in.Hash]
		if !ok {
			return nil, fmt.Errorf("no content digest computed for hash %v", in.Hash)
		}
		alg, err := AlgorithmForKey(in.Cert.Leaf.PublicKeyAlgorithm, in.Hash, in.PSS)
		if err != nil {
			return nil, err
		}
		sd := signedData{
			Digests: []attribute{{ID: alg.ID, Value: value}},
		}
		for _, cert := range in.Cert.Chain() {
			sd.Certificates = append(sd.Certificates, cert.Raw)
		}
		sdBlob, err := marshal(sd)
		if err != nil {
			return nil, err
		}
		digest := alg.Hash.New()
		digest.Write(sdBlob.Bytes())
		var opts crypto.SignerOpts = alg.Hash
		if alg.PSS {
			opts = &rsa.PSSOptions{Hash: alg.Hash, SaltLength: rsa.PSSSaltLengthEqualsHash}
		}
		sigv, err := in.Cert.Signer().Sign(rand.Reader, digest.Sum(nil), opts)
		if err != nil {
			return nil, err
		}
		records = append(records, signer{
			SignedData: sdBlob,
			Signatures: []attribute{{ID: alg.ID, Value: sigv}},
			PublicKey:  in.Cert.Leaf.RawSubjectPublicKeyInfo,
		})
	}
	sblob, err := marshal(records)
	if err != nil {
		return nil, err
	}
	return wrapSigningBlock(sblob), nil
}

// wrapSigningBlock places the serialized v2 signer list into the generic
// APK Signing Block container format as its only id/value pair, and writes
// the repeated size and magic footer itself.
func wrapSigningBlock(sblob []byte) []byte {
	block := make([]byte, 8+12+len(sblob)+24)
	// length prefix on signing block, includes the magic suffix but not itself
	binary.LittleEndian.PutUint64(block, uint64(8+4+len(sblob)+8+16))
	// length prefix on the inner block
	binary.LittleEndian.PutUint64(block[8:], uint64(4+len(sblob)))
	// block type
	binary.LittleEndian.PutUint32(block[8+8:], sigApkV2)
	// the block itself
	copy(block[8+8+4:], sblob)
	// magic suffix
	suffix := block[8+8+4+len(sblob):]
	copy(suffix, block[:8])    // length again
	copy(suffix[8:], sigMagic) // magic
	return block
}
