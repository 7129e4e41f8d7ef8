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
	"crypto/x509"
	"fmt"
)

// wire shapes of an APK Signature Scheme v2 signer record
// https://source.android.com/security/apksigning/v2#apk-signature-scheme-v2-block-format

const (
	sigMagic = "APK Sig Block 42"
	sigApkV2 = 0x7109871a
)

type signer struct {
	SignedData rawBlock
	Signatures []attribute
	PublicKey  []byte
}

type signedData struct {
	Digests      []attribute
	Certificates [][]byte
	Attributes   []attribute
}

type attribute struct {
	ID    uint32
	Value []byte
}

// SignatureAlgorithm is one row of the APK Signature Scheme v2 signature
// algorithm ID table.
type SignatureAlgorithm struct {
	ID   uint32
	Hash crypto.Hash
	Key  x509.PublicKeyAlgorithm
	PSS  bool
}

// SignatureAlgorithms is the full v2 signature algorithm ID table.
var SignatureAlgorithms = []SignatureAlgorithm{
	{0x0101, crypto.SHA256, x509.RSA, true},    // RSASSA-PSS with SHA2-256 digest
	{0x0102, crypto.SHA512, x509.RSA, true},    // RSASSA-PSS with SHA2-512 digest
	{0x0103, crypto.SHA256, x509.RSA, false},   // RSASSA-PKCS1-v1_5 with SHA2-256 digest
	{0x0104, crypto.SHA512, x509.RSA, false},   // RSASSA-PKCS1-v1_5 with SHA2-512 digest
	{0x0201, crypto.SHA256, x509.ECDSA, false}, // ECDSA with SHA2-256 digest
	{0x0202, crypto.SHA512, x509.ECDSA, false}, // ECDSA with SHA2-512 digest
	{0x0301, crypto.SHA256, x509.DSA, false},   // DSA with SHA2-256 digest
}

// AlgorithmByID looks up a signature algorithm by its wire ID.
func AlgorithmByID(id uint32) (SignatureAlgorithm, error) {
	for _, s := range SignatureAlgorithms {
		if s.ID == id {
			if !s.Hash.Available() {
				return s, fmt.Errorf("unsupported signature type 0x%04x", id)
			}
			return s, nil
		}
	}
	return SignatureAlgorithm{}, fmt.Errorf("unknown signature type 0x%04x", id)
}

// AlgorithmForKey returns the v2 signature algorithm for the given public
// key algorithm and digest: the RSASSA-PSS row when pss is set, otherwise the
// non-PSS row (what minSdkVersion gating below API level 24, which has no
// PSS support, requires).
func AlgorithmForKey(alg x509.PublicKeyAlgorithm, hash crypto.Hash, pss bool) (SignatureAlgorithm, error) {
	for _, s := range SignatureAlgorithms {
		if s.Key == alg && s.Hash == hash && s.PSS == pss {
			return s, nil
		}
	}
	return SignatureAlgorithm{}, fmt.Errorf("no v2 signature algorithm for key type %v / %v (pss=%v)", alg, hash, pss)
}
