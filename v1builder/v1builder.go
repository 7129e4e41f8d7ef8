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

// Package v1builder synthesizes the JAR-style v1 signature artifacts:
// MANIFEST.MF, one .SF per signer, and one PKCS#7 SignedData block per
// signer over that .SF. It knows nothing of the engine's pending/emitted
// bookkeeping; it is handed exactly the inputs it needs and returns bytes.
package v1builder

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/relicapk/apksigner/lib/certloader"
	"github.com/relicapk/apksigner/lib/pkcs7"
	"github.com/relicapk/apksigner/lib/signjar"
)

// Signer is one v1 signer's identity, as SignerSet has already resolved
// it: a safe on-disk name and the signature-digest algorithm to use.
type Signer struct {
	Name    string
	Cert    *certloader.Certificate
	SigHash crypto.Hash
}

// Artifact is one (entryName, bytes) pair the engine hands back to the
// driver.
type Artifact struct {
	Name  string
	Bytes []byte
}

// BuildManifest constructs MANIFEST.MF from the engine's content-digest
// algorithm, its ordered per-entry digest map, and optionally the input
// APK's borrowed main-attributes section.
func BuildManifest(contentDigest crypto.Hash, order []string, digests map[string][]byte, mainSection []byte, v2Applied bool, createdBy string) ([]byte, error) {
	manifest, err := signjar.BuildManifest(contentDigest, order, digests, mainSection, v2Applied, createdBy)
	if err != nil {
		return nil, fmt.Errorf("v1builder: building MANIFEST.MF: %w", err)
	}
	return manifest, nil
}

// SignManifest produces the ordered list of per-signer .SF and PKCS#7
// signature-block artifacts over an already-built manifest. When more than
// one signer is present, per-signer work is fanned out concurrently; every
// signer's work runs to completion and the first failure is returned.
func SignManifest(manifest []byte, v2Applied bool, signers []Signer) ([]Artifact, error) {
	results := make([][2]Artifact, len(signers))
	var g errgroup.Group
	for i, signer := range signers {
		i, signer := i, signer
		g.Go(func() error {
			sf, err := signjar.DigestManifest(manifest, signer.SigHash, false, v2Applied)
			if err != nil {
				return fmt.Errorf("v1builder: signer %q: building .SF: %w", signer.Name, err)
			}
			sig, err := signSF(sf, signer)
			if err != nil {
				return fmt.Errorf("v1builder: signer %q: signing .SF: %w", signer.Name, err)
			}
			results[i] = [2]Artifact{
				{Name: "META-INF/" + signer.Name + ".SF", Bytes: sf},
				{Name: "META-INF/" + signer.Name + sigBlockExtension(signer.Cert.Leaf), Bytes: sig},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	artifacts := make([]Artifact, 0, 2*len(signers))
	for _, pair := range results {
		artifacts = append(artifacts, pair[0], pair[1])
	}
	return artifacts, nil
}

// Build is the "cold" path: build the manifest from scratch, then sign it
// for every configured signer. The engine's "manifest-changed" branch calls
// BuildManifest and SignManifest separately instead, so it can compare the
// rebuilt manifest before signing it.
func Build(contentDigest crypto.Hash, order []string, digests map[string][]byte, mainSection []byte, v2Applied bool, createdBy string, signers []Signer) ([]Artifact, error) {
	manifest, err := BuildManifest(contentDigest, order, digests, mainSection, v2Applied, createdBy)
	if err != nil {
		return nil, err
	}
	perSigner, err := SignManifest(manifest, v2Applied, signers)
	if err != nil {
		return nil, err
	}
	artifacts := make([]Artifact, 0, 1+len(perSigner))
	artifacts = append(artifacts, Artifact{Name: "META-INF/MANIFEST.MF", Bytes: manifest})
	artifacts = append(artifacts, perSigner...)
	return artifacts, nil
}

func signSF(sf []byte, signer Signer) ([]byte, error) {
	digest := signer.SigHash.New()
	digest.Write(sf)
	info, err := pkcs7.SignDetached(digest.Sum(nil), signer.Cert.Signer(), signer.Cert.Chain(), signer.SigHash)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(*info)
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
