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
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/relicapk/apksigner/lib/certloader"
	"github.com/relicapk/apksigner/lib/x509tools"
	"github.com/relicapk/apksigner/v1builder"
	"github.com/relicapk/apksigner/v2builder"
)

// digestStrength orders the hashes the v1/v2 schemes use. Larger is
// stronger; used to pick the engine-wide content-digest algorithm as the
// strongest of every signer's chosen signature-digest algorithm.
func digestStrength(h crypto.Hash) int {
	switch h {
	case crypto.SHA1:
		return 1
	case crypto.SHA256:
		return 2
	case crypto.SHA512:
		return 3
	default:
		return 0
	}
}

func strongerHash(a, b crypto.Hash) crypto.Hash {
	if digestStrength(b) > digestStrength(a) {
		return b
	}
	return a
}

// minSdkDigest is the signature-digest algorithm APK signing uses for a
// given minSdkVersion: SHA-1 below API 18 (Jelly Bean MR2), SHA-256 at or
// above it, matching the platform's own verifier requirements.
func minSdkDigest(minSdkVersion int) crypto.Hash {
	if minSdkVersion < 18 {
		return crypto.SHA1
	}
	return crypto.SHA256
}

// SignerConfig is one signer's immutable identity: a private key and the
// certificate chain that vouches for its public key. Name is used verbatim
// to derive the v1 signature filename base (see safeSignerName).
type SignerConfig struct {
	Name string
	Cert *certloader.Certificate
}

// v1SignerConfig is a SignerConfig together with the signature-digest
// algorithm selected for it.
type v1SignerConfig struct {
	SignerConfig
	safeName string
	sigHash  crypto.Hash
}

// SignerSet is the immutable, validated collection of signers an engine
// instance was constructed with.
type SignerSet struct {
	signers       []v1SignerConfig
	contentDigest crypto.Hash
	minSdkVersion int
	pss           bool
}

// NewSignerSet validates the given signers against minSdkVersion and
// derives the engine-wide content-digest algorithm. supportsPSS controls
// whether RSA signers use the PSS variant of the v2 algorithm table
// (available from API 24 on); callers pass the value their minSdkVersion
// implies.
func NewSignerSet(signers []SignerConfig, minSdkVersion int, supportsPSS bool) (*SignerSet, error) {
	if len(signers) == 0 {
		return nil, newErr(KindInvalidConfig, "no signers configured")
	}
	seen := make(map[string]bool, len(signers))
	set := &SignerSet{minSdkVersion: minSdkVersion, pss: supportsPSS}
	for _, s := range signers {
		safe := safeSignerName(s.Name)
		if seen[safe] {
			return nil, newErr(KindInvalidConfig, fmt.Sprintf("duplicate signer name %q", s.Name))
		}
		seen[safe] = true
		hash := minSdkDigest(minSdkVersion)
		if !supportsKeyAlgorithm(s.Cert.Leaf.PublicKeyAlgorithm) {
			return nil, newErr(KindInvalidKey, fmt.Sprintf("signer %q: unsupported public key algorithm %v", s.Name, s.Cert.Leaf.PublicKeyAlgorithm))
		}
		if ecKey, ok := s.Cert.Leaf.PublicKey.(*ecdsa.PublicKey); ok {
			if _, err := x509tools.CurveByCurve(ecKey.Curve); err != nil {
				return nil, wrapErr(KindInvalidKey, fmt.Sprintf("signer %q: unsupported EC curve", s.Name), err)
			}
		}
		set.signers = append(set.signers, v1SignerConfig{SignerConfig: s, safeName: safe, sigHash: hash})
		set.contentDigest = strongerHash(set.contentDigest, hash)
	}
	return set, nil
}

func supportsKeyAlgorithm(alg x509.PublicKeyAlgorithm) bool {
	for _, s := range v2builder.SignatureAlgorithms {
		if s.Key == alg {
			return true
		}
	}
	return false
}

// safeSignerName derives the JAR signature-file basename for a signer name,
// following the same character restrictions `jarsigner` uses: only
// [A-Za-z0-9_-], truncated to 8 characters, uppercased.
func safeSignerName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe := strings.ToUpper(b.String())
	if len(safe) > 8 {
		safe = safe[:8]
	}
	if safe == "" {
		safe = "SIGNER"
	}
	return safe
}

// ContentDigest is the single content-digest algorithm every v1 signer's
// MANIFEST.MF entries are hashed under.
func (s *SignerSet) ContentDigest() crypto.Hash {
	return s.contentDigest
}

// V1EntryNames returns every output entry name the engine will itself
// produce for the v1 scheme: the manifest and each signer's .SF/signature
// block.
func (s *SignerSet) V1EntryNames() []string {
	names := []string{"META-INF/MANIFEST.MF"}
	for _, signer := range s.signers {
		names = append(names, "META-INF/"+signer.safeName+".SF")
		names = append(names, "META-INF/"+signer.safeName+sigBlockExtension(signer.Cert.Leaf))
	}
	return names
}

// IsV1EntryName reports whether name is one of the entries V1EntryNames
// enumerates, letting callers classify an output entry without rebuilding
// the full list each time.
func (s *SignerSet) IsV1EntryName(name string) bool {
	for _, n := range s.V1EntryNames() {
		if n == name {
			return true
		}
	}
	return false
}

func sigBlockExtension(cert *x509.Certificate) string {
	switch cert.PublicKeyAlgorithm {
	case x509.RSA:
		return ".RSA"
	case x509.ECDSA:
		return ".EC"
	case x509.DSA:
		return ".DSA"
	default:
		return ".SIG"
	}
}

// v2SignerInputs returns the v2builder.SignerInput for each signer, under
// the engine-wide content digest, choosing PSS when the SignerSet was
// constructed for an SDK range that supports it.
func (s *SignerSet) v2SignerInputs() []v2builder.SignerInput {
	inputs := make([]v2builder.SignerInput, 0, len(s.signers))
	for _, signer := range s.signers {
		inputs = append(inputs, v2builder.SignerInput{
			Cert: signer.Cert,
			Hash: s.contentDigest,
			PSS:  s.pss && signer.Cert.Leaf.PublicKeyAlgorithm == x509.RSA,
		})
	}
	return inputs
}

// v1BuilderSigners returns the v1builder.Signer for each configured signer,
// carrying the safe on-disk name and per-signer signature-digest algorithm
// NewSignerSet already resolved.
func (s *SignerSet) v1BuilderSigners() []v1builder.Signer {
	out := make([]v1builder.Signer, 0, len(s.signers))
	for _, signer := range s.signers {
		out = append(out, v1builder.Signer{Name: signer.safeName, Cert: signer.Cert, SigHash: signer.sigHash})
	}
	return out
}
