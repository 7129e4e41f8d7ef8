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

package x509tools

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"
)

func MakeSerial() *big.Int {
	blob := make([]byte, 12)
	if n, err := rand.Reader.Read(blob); err != nil || n != len(blob) {
		return nil
	}
	return new(big.Int).SetBytes(blob)
}

// ArgRSAPSS selects the RSASSA-PSS variant of RSA signing where a caller
// would otherwise get PKCS#1v1.5, mirroring the CLI flag of the same name
// in the upstream signing tool this package was adapted from.
var ArgRSAPSS bool

func X509SignatureAlgorithm(pub crypto.PublicKey) x509.SignatureAlgorithm {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		if ArgRSAPSS {
			return x509.SHA256WithRSAPSS
		}
		return x509.SHA256WithRSA
	case *ecdsa.PublicKey:
		switch key.Curve.Params().BitSize {
		case 521:
			return x509.ECDSAWithSHA512
		case 384:
			return x509.ECDSAWithSHA384
		default:
			return x509.ECDSAWithSHA256
		}
	default:
		return x509.UnknownSignatureAlgorithm
	}
}

// publicKey normalizes a private or public key to its public half so
// SameKey can compare either combination.
func publicKey(k interface{}) interface{} {
	switch key := k.(type) {
	case *rsa.PrivateKey:
		return &key.PublicKey
	case *ecdsa.PrivateKey:
		return &key.PublicKey
	case *dsa.PrivateKey:
		return &key.PublicKey
	case crypto.Signer:
		return key.Public()
	default:
		return k
	}
}

// SameKey reports whether a and b (each a public or private key) share the
// same public key material.
func SameKey(a, b interface{}) bool {
	a, b = publicKey(a), publicKey(b)
	switch k1 := a.(type) {
	case *rsa.PublicKey:
		k2, ok := b.(*rsa.PublicKey)
		return ok && k1.E == k2.E && k1.N.Cmp(k2.N) == 0
	case *ecdsa.PublicKey:
		k2, ok := b.(*ecdsa.PublicKey)
		return ok && k1.Curve == k2.Curve && k1.X.Cmp(k2.X) == 0 && k1.Y.Cmp(k2.Y) == 0
	case *dsa.PublicKey:
		k2, ok := b.(*dsa.PublicKey)
		return ok && k1.Y.Cmp(k2.Y) == 0 && k1.P.Cmp(k2.P) == 0 && k1.Q.Cmp(k2.Q) == 0 && k1.G.Cmp(k2.G) == 0
	default:
		return false
	}
}

// EcdsaSignature is the ASN.1 SEQUENCE{r, s} encoding shared by ECDSA and
// DSA signatures.
type EcdsaSignature struct {
	R, S *big.Int
}

// UnmarshalEcdsaSignature decodes the ASN.1 DER form used on the wire by
// both ECDSA and DSA.
func UnmarshalEcdsaSignature(der []byte) (EcdsaSignature, error) {
	var sig EcdsaSignature
	if rest, err := asn1.Unmarshal(der, &sig); err != nil {
		return EcdsaSignature{}, err
	} else if len(rest) != 0 {
		return EcdsaSignature{}, errors.New("x509tools: trailing data after ECDSA signature")
	}
	return sig, nil
}

// Marshal re-encodes the signature in ASN.1 DER.
func (sig EcdsaSignature) Marshal() []byte {
	der, err := asn1.Marshal(sig)
	if err != nil {
		panic(err)
	}
	return der
}

// Pack returns R and S as a fixed-width big-endian pair, each padded to the
// longer of the two component's natural byte length. This is the raw
// R||S encoding some non-ASN.1 verifiers (and test fixtures) expect.
func (sig EcdsaSignature) Pack() []byte {
	rb, sb := sig.R.Bytes(), sig.S.Bytes()
	width := len(rb)
	if len(sb) > width {
		width = len(sb)
	}
	out := make([]byte, 2*width)
	copy(out[width-len(rb):width], rb)
	copy(out[2*width-len(sb):], sb)
	return out
}

// UnpackEcdsaSignature splits a fixed-width R||S pair produced by Pack back
// into its two components.
func UnpackEcdsaSignature(packed []byte) (EcdsaSignature, error) {
	if len(packed)%2 != 0 {
		return EcdsaSignature{}, errors.New("x509tools: packed ECDSA signature has odd length")
	}
	half := len(packed) / 2
	return EcdsaSignature{
		R: new(big.Int).SetBytes(packed[:half]),
		S: new(big.Int).SetBytes(packed[half:]),
	}, nil
}

// Verify checks digest against sig using pub, dispatching on the public key
// type. hash identifies the digest algorithm for RSA only; ECDSA and DSA
// verification use the digest as given and ignore hash.
func Verify(pub crypto.PublicKey, hash crypto.Hash, digest, sig []byte) error {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, hash, digest, sig)
	case *ecdsa.PublicKey:
		esig, err := UnmarshalEcdsaSignature(sig)
		if err != nil {
			return err
		}
		if !ecdsa.Verify(key, digest, esig.R, esig.S) {
			return errors.New("x509tools: ECDSA verification failed")
		}
		return nil
	case *dsa.PublicKey:
		esig, err := UnmarshalEcdsaSignature(sig)
		if err != nil {
			return err
		}
		if !dsa.Verify(key, digest, esig.R, esig.S) {
			return errors.New("x509tools: DSA verification failed")
		}
		return nil
	default:
		return errors.New("x509tools: unsupported public key type")
	}
}

type pkixPublicKey struct {
	Algo      pkix.AlgorithmIdentifier
	BitString asn1.BitString
}

func SubjectKeyId(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	// extract the raw "bit string" part of the public key bytes
	var pki pkixPublicKey
	if rest, err := asn1.Unmarshal(der, &pki); err != nil {
		return nil, err
	} else if len(rest) != 0 {
		return nil, errors.New("trailing garbage on public key")
	}
	digest := sha256.Sum256(pki.BitString.Bytes)
	return digest[:], nil
}
