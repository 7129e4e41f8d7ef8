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
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relicapk/apksigner/lib/certloader"
)

func testRSACert(t *testing.T) *certloader.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "v2test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &certloader.Certificate{Leaf: leaf, Certificates: []*x509.Certificate{leaf}, PrivateKey: key}
}

// TestBuildBlockPSS checks that a PSS-selected algorithm ID produces a
// signature that verifies under rsa.VerifyPSS, not plain PKCS#1v1.5 --
// regression coverage for a reflection-opts mismatch where a bare
// crypto.Hash was being passed as SignerOpts regardless of alg.PSS.
func TestBuildBlockPSS(t *testing.T) {
	cert := testRSACert(t)
	digest := []byte("0123456789abcdef0123456789abcdef")
	block, err := BuildBlock(map[crypto.Hash][]byte{crypto.SHA256: digest}, []SignerInput{
		{Cert: cert, Hash: crypto.SHA256, PSS: true},
	})
	require.NoError(t, err)

	var records []signer
	require.NoError(t, unmarshal(block[8+8+4:len(block)-24], &records))
	require.Len(t, records, 1)
	require.Len(t, records[0].Signatures, 1)
	require.Equal(t, uint32(0x0101), records[0].Signatures[0].ID)

	pub := cert.Leaf.PublicKey.(*rsa.PublicKey)
	h := crypto.SHA256.New()
	h.Write(records[0].SignedData.Bytes())
	sum := h.Sum(nil)

	require.NoError(t, rsa.VerifyPSS(pub, crypto.SHA256, sum, records[0].Signatures[0].Value, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}))
	require.Error(t, rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum, records[0].Signatures[0].Value))
}

// TestBuildBlockPKCS1v15 checks the non-PSS algorithm ID path signs with
// plain PKCS#1v1.5, matching the v2 scheme's non-PSS RSA algorithm rows.
func TestBuildBlockPKCS1v15(t *testing.T) {
	cert := testRSACert(t)
	digest := []byte("0123456789abcdef0123456789abcdef")
	block, err := BuildBlock(map[crypto.Hash][]byte{crypto.SHA256: digest}, []SignerInput{
		{Cert: cert, Hash: crypto.SHA256, PSS: false},
	})
	require.NoError(t, err)

	var records []signer
	require.NoError(t, unmarshal(block[8+8+4:len(block)-24], &records))
	require.Equal(t, uint32(0x0103), records[0].Signatures[0].ID)

	pub := cert.Leaf.PublicKey.(*rsa.PublicKey)
	h := crypto.SHA256.New()
	h.Write(records[0].SignedData.Bytes())
	sum := h.Sum(nil)
	require.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum, records[0].Signatures[0].Value))
}
