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
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/relicapk/apksigner/config"
	"github.com/relicapk/apksigner/lib/certloader"
)

func testSigner(t *testing.T, name string) SignerConfig {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return SignerConfig{
		Name: name,
		Cert: &certloader.Certificate{
			Leaf:         leaf,
			Certificates: []*x509.Certificate{leaf},
			PrivateKey:   key,
		},
	}
}

func baseConfig() config.EngineConfig {
	cfg := config.Default()
	cfg.MinSdkVersion = 18
	return cfg
}

func manifestWithDebuggable(v bool) []byte {
	if v {
		return []byte(`<manifest><application android:debuggable="true"/></manifest>`)
	}
	return []byte(`<manifest><application android:debuggable="false"/></manifest>`)
}

// writeOutputEntry drives the engine the way the surrounding ZIP writer
// would: ask for a sink, stream the bytes, mark it done.
func writeOutputEntry(t *testing.T, e *Engine, name string, data []byte) {
	t.Helper()
	sink, err := e.OnOutputEntry(name)
	require.NoError(t, err)
	if sink == nil {
		return
	}
	_, err = sink.Write(data)
	require.NoError(t, err)
	require.NoError(t, sink.Done())
}

func fakeEOCD(cdOffset uint32) []byte {
	buf := make([]byte, 22)
	binary.LittleEndian.PutUint32(buf[0:], 0x06054b50)
	binary.LittleEndian.PutUint32(buf[12:], 0) // CDSize
	binary.LittleEndian.PutUint32(buf[16:], cdOffset)
	return buf
}

func asEngineErr(t *testing.T, err error) *Error {
	t.Helper()
	var e *Error
	require.True(t, errors.As(err, &e), "expected *engine.Error, got %T: %v", err, err)
	return e
}

// TestColdV1AndV2 drives a single RSA-2048 signer through a cold, from
// scratch run at minSdk=18 with a non-debuggable output. EmitV1 must return
// the manifest, .SF and signature block in that order with a correct
// SHA-256 digest line and the v2-applied hint, and EmitV2 must return a
// well-formed signing block envelope.
func TestColdV1AndV2(t *testing.T) {
	signer := testSigner(t, "testkey")
	eng, err := New(baseConfig(), []SignerConfig{signer}, nil)
	require.NoError(t, err)

	dex := []byte("fake classes.dex content")
	writeOutputEntry(t, eng, "classes.dex", dex)
	writeOutputEntry(t, eng, "AndroidManifest.xml", manifestWithDebuggable(false))

	v1, err := eng.EmitV1()
	require.NoError(t, err)
	require.NotNil(t, v1)
	require.Len(t, v1.Entries, 3)
	require.Equal(t, "META-INF/MANIFEST.MF", v1.Entries[0].Name)
	require.Equal(t, "META-INF/TESTKEY.SF", v1.Entries[1].Name)
	require.Equal(t, "META-INF/TESTKEY.RSA", v1.Entries[2].Name)

	manifest := string(v1.Entries[0].Bytes)
	require.Contains(t, manifest, "X-Android-APK-Signed: 2")
	sum := sha256.Sum256(dex)
	wantLine := "SHA-256-Digest: " + base64.StdEncoding.EncodeToString(sum[:])
	require.Contains(t, manifest, wantLine)

	for _, a := range v1.Entries {
		writeOutputEntry(t, eng, a.Name, a.Bytes)
	}
	// The write-back touched the v1-owned entries again, so v1 must
	// confirm stability before v2 is allowed to run.
	confirm, err := eng.EmitV1()
	require.NoError(t, err)
	require.Nil(t, confirm)

	entries := []byte("zip entries region")
	cdir := []byte("central directory bytes")
	eocd := fakeEOCD(uint32(len(entries)))
	v2, err := eng.EmitV2(entries, cdir, eocd)
	require.NoError(t, err)
	require.NotNil(t, v2)
	require.True(t, len(v2.Block) >= 32)
	require.Equal(t, "APK Sig Block 42", string(v2.Block[len(v2.Block)-16:]))
	size := binary.LittleEndian.Uint64(v2.Block[:8])
	require.Equal(t, uint64(len(v2.Block)-8), size)
	trailer := binary.LittleEndian.Uint64(v2.Block[len(v2.Block)-24 : len(v2.Block)-16])
	require.Equal(t, size, trailer)

	require.NoError(t, eng.Commit())
	require.NoError(t, eng.Close())

	_, err = eng.EmitV1()
	require.Equal(t, KindStateViolation, asEngineErr(t, err).Kind)
}

// TestV1SkipsWhenOutputStable checks that replaying an identical output
// after a successful emission produces nothing to add.
func TestV1SkipsWhenOutputStable(t *testing.T) {
	signer := testSigner(t, "stable")
	eng, err := New(baseConfig(), []SignerConfig{signer}, nil)
	require.NoError(t, err)

	writeOutputEntry(t, eng, "classes.dex", []byte("v1"))
	writeOutputEntry(t, eng, "AndroidManifest.xml", manifestWithDebuggable(false))
	first, err := eng.EmitV1()
	require.NoError(t, err)
	require.NotNil(t, first)

	for _, a := range first.Entries {
		writeOutputEntry(t, eng, a.Name, a.Bytes)
	}
	second, err := eng.EmitV1()
	require.NoError(t, err)
	require.Nil(t, second)
}

// TestV1ReemitsOnManifestChange checks that rewriting a v1-covered entry
// changes its content digest, which must cause the manifest (and therefore
// the resignature) to change too.
func TestV1ReemitsOnManifestChange(t *testing.T) {
	signer := testSigner(t, "changed")
	eng, err := New(baseConfig(), []SignerConfig{signer}, nil)
	require.NoError(t, err)

	writeOutputEntry(t, eng, "classes.dex", []byte("before"))
	writeOutputEntry(t, eng, "AndroidManifest.xml", manifestWithDebuggable(false))
	first, err := eng.EmitV1()
	require.NoError(t, err)
	for _, a := range first.Entries {
		writeOutputEntry(t, eng, a.Name, a.Bytes)
	}

	writeOutputEntry(t, eng, "classes.dex", []byte("after"))
	second, err := eng.EmitV1()
	require.NoError(t, err)
	require.NotNil(t, second)
	require.NotEqual(t, manifestOf(first.Entries), manifestOf(second.Entries))
}

// TestDuplicateSignerNames checks that two signers whose names collide
// once sanitized to a JAR signature-file basename are rejected at
// construction.
func TestDuplicateSignerNames(t *testing.T) {
	a := testSigner(t, "dup-key")
	b := testSigner(t, "DUP-KEY")
	_, err := New(baseConfig(), []SignerConfig{a, b}, nil)
	require.Error(t, err)
	require.Equal(t, KindInvalidConfig, asEngineErr(t, err).Kind)
}

// TestDebuggableRejection checks that a debuggable output blocks v1
// emission when debuggablePermitted is false, and succeeds once it's
// observed false.
func TestDebuggableRejection(t *testing.T) {
	signer := testSigner(t, "guard")
	cfg := baseConfig()
	cfg.DebuggablePermitted = false

	t.Run("debuggable", func(t *testing.T) {
		eng, err := New(cfg, []SignerConfig{signer}, nil)
		require.NoError(t, err)
		writeOutputEntry(t, eng, "classes.dex", []byte("x"))
		writeOutputEntry(t, eng, "AndroidManifest.xml", manifestWithDebuggable(true))
		_, err = eng.EmitV1()
		require.Equal(t, KindSignatureRefusedDebuggable, asEngineErr(t, err).Kind)
	})

	t.Run("not debuggable", func(t *testing.T) {
		eng, err := New(cfg, []SignerConfig{signer}, nil)
		require.NoError(t, err)
		writeOutputEntry(t, eng, "classes.dex", []byte("x"))
		writeOutputEntry(t, eng, "AndroidManifest.xml", manifestWithDebuggable(false))
		v1, err := eng.EmitV1()
		require.NoError(t, err)
		require.NotNil(t, v1)
	})
}

// TestV2InvalidationClosure confirms that any output mutation after v2 was
// emitted puts v2 back to pending, so commit fails until it is re-emitted,
// while an entry removal outside v1's interest (here a foreign META-INF
// signature file the engine neither owns nor digests) leaves v1 untouched.
func TestV2InvalidationClosure(t *testing.T) {
	signer := testSigner(t, "invalidate")
	eng, err := New(baseConfig(), []SignerConfig{signer}, nil)
	require.NoError(t, err)

	writeOutputEntry(t, eng, "classes.dex", []byte("x"))
	writeOutputEntry(t, eng, "AndroidManifest.xml", manifestWithDebuggable(false))
	v1, err := eng.EmitV1()
	require.NoError(t, err)
	for _, a := range v1.Entries {
		writeOutputEntry(t, eng, a.Name, a.Bytes)
	}
	confirm, err := eng.EmitV1()
	require.NoError(t, err)
	require.Nil(t, confirm)

	entries, cdir := []byte("entries"), []byte("cdir")
	eocd := fakeEOCD(uint32(len(entries)))
	_, err = eng.EmitV2(entries, cdir, eocd)
	require.NoError(t, err)
	require.NoError(t, eng.Commit())

	require.NoError(t, eng.OnOutputEntryRemoved("META-INF/SIG-OTHER.SF"))
	require.False(t, eng.v1.Pending())

	err = eng.Commit()
	require.Equal(t, KindStateViolation, asEngineErr(t, err).Kind, "removal always re-arms v2 regardless of what was removed")

	_, err = eng.EmitV2(entries, cdir, eocd)
	require.NoError(t, err)
	require.NoError(t, eng.Commit())
}

// TestCommitBeforeEmissionFails checks that committing before any
// emission leaves v1 pending and is rejected.
func TestCommitBeforeEmissionFails(t *testing.T) {
	signer := testSigner(t, "unemitted")
	eng, err := New(baseConfig(), []SignerConfig{signer}, nil)
	require.NoError(t, err)
	err = eng.Commit()
	require.Equal(t, KindStateViolation, asEngineErr(t, err).Kind)
}

// TestCommitFailsOnByteMismatch checks that a driver which silently
// corrupts a promised v1 entry on write-back cannot commit.
func TestCommitFailsOnByteMismatch(t *testing.T) {
	signer := testSigner(t, "mismatch")
	cfg := baseConfig()
	cfg.V2Enabled = false
	eng, err := New(cfg, []SignerConfig{signer}, nil)
	require.NoError(t, err)

	writeOutputEntry(t, eng, "classes.dex", []byte("x"))
	writeOutputEntry(t, eng, "AndroidManifest.xml", manifestWithDebuggable(false))
	v1, err := eng.EmitV1()
	require.NoError(t, err)
	require.NoError(t, err)

	for _, a := range v1.Entries[1:] {
		writeOutputEntry(t, eng, a.Name, a.Bytes)
	}
	writeOutputEntry(t, eng, v1.Entries[0].Name, append(append([]byte{}, v1.Entries[0].Bytes...), '!'))

	_, err = eng.EmitV1()
	require.NoError(t, err)
	err = eng.Commit()
	require.Equal(t, KindStateViolation, asEngineErr(t, err).Kind)
}

// TestPostCloseFails checks that every operation after Close rejects with
// a state-violation, including a second Close.
func TestPostCloseFails(t *testing.T) {
	signer := testSigner(t, "closer")
	eng, err := New(baseConfig(), []SignerConfig{signer}, nil)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	_, err = eng.OnOutputEntry("classes.dex")
	require.Equal(t, KindStateViolation, asEngineErr(t, err).Kind)

	err = eng.Close()
	require.Equal(t, KindStateViolation, asEngineErr(t, err).Kind)
}

// TestContentDigestFollowsMinSdk checks the minSdkVersion threshold: SHA-1
// below API 18, SHA-256 at or above it.
func TestContentDigestFollowsMinSdk(t *testing.T) {
	low := baseConfig()
	low.MinSdkVersion = 7
	engLow, err := New(low, []SignerConfig{testSigner(t, "low")}, nil)
	require.NoError(t, err)
	require.Equal(t, "SHA-1", engLow.ContentDigest().String())

	high := baseConfig()
	high.MinSdkVersion = 18
	engHigh, err := New(high, []SignerConfig{testSigner(t, "high")}, nil)
	require.NoError(t, err)
	require.Equal(t, "SHA-256", engHigh.ContentDigest().String())
}

// TestContentDigestMonotonicity checks that the engine-wide content-digest
// algorithm is the strongest of every signer's own signature-digest
// algorithm, never weaker than any one of them.
func TestContentDigestMonotonicity(t *testing.T) {
	set, err := NewSignerSet([]SignerConfig{
		testSigner(t, "one"),
		testSigner(t, "two"),
		testSigner(t, "three"),
	}, 18, false)
	require.NoError(t, err)

	for _, signer := range set.signers {
		require.GreaterOrEqual(t, digestStrength(set.ContentDigest()), digestStrength(signer.sigHash))
	}
}

func TestSplitMainSection(t *testing.T) {
	manifest := []byte("Manifest-Version: 1.0\r\nCreated-By: x\r\n\r\nName: a\r\nSHA-256-Digest: y\r\n\r\n")
	main := splitMainSection(manifest)
	require.True(t, bytes.HasSuffix(main, []byte("\r\n\r\n")))
	require.Contains(t, string(main), "Created-By: x")
	require.NotContains(t, string(main), "Name: a")
}

// TestAuditRecordPopulated checks that the accumulated audit record carries
// the signer's certificate identity from construction and picks up the
// emitted manifest's content digest once v1 has run, and that it can be
// piped into a zerolog.Logger the way a driver would.
func TestAuditRecordPopulated(t *testing.T) {
	signer := testSigner(t, "audited")
	eng, err := New(baseConfig(), []SignerConfig{signer}, nil)
	require.NoError(t, err)

	rec := eng.Audit()
	require.NotNil(t, rec)
	require.Equal(t, "audited", rec.Attributes["sig.keyname"])
	require.Equal(t, "apk-v1+v2", rec.Attributes["sig.type"])
	require.NotEmpty(t, rec.Attributes["sig.x509.fingerprint"])
	require.Nil(t, rec.Attributes["sig.content-digest"])

	writeOutputEntry(t, eng, "classes.dex", []byte("x"))
	writeOutputEntry(t, eng, "AndroidManifest.xml", manifestWithDebuggable(false))
	_, err = eng.EmitV1()
	require.NoError(t, err)
	require.NotEmpty(t, rec.Attributes["sig.content-digest"])

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Dict("sig", rec.AttrsForLog("sig.")).Msg("apk signed")
	require.Contains(t, buf.String(), "audited")
}
