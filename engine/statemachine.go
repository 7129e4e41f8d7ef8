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

// Package engine is the stateful streaming orchestrator that decides what
// to do with each ZIP entry of an APK being signed, and produces the v1
// (JAR-style) and v2 (APK Signing Block) signature artifacts for the
// driver to inject into its output archive. The engine never reads or
// writes a ZIP file itself; it only ever sees the bytes the driver streams
// through the InspectionRequest handles it hands back.
package engine

import (
	"crypto"
	"io"

	"github.com/relicapk/apksigner/config"
	"github.com/relicapk/apksigner/lib/audit"
	"github.com/relicapk/apksigner/lib/magic"
	"github.com/relicapk/apksigner/manifestquery"
)

const (
	manifestEntryName = "META-INF/MANIFEST.MF"
	androidManifestName = "AndroidManifest.xml"
)

// supportsPSS reports whether minSdkVersion implies the device population
// being targeted can verify RSASSA-PSS v2 signatures (added in API 24).
func supportsPSS(minSdkVersion int) bool {
	return minSdkVersion >= 24
}

// supportsBlockPadding reports whether minSdkVersion implies 4 KiB
// page-alignment of the APK Signing Block is expected (the convention
// adopted from API 30 on for mmap'd zip entries).
func supportsBlockPadding(minSdkVersion int) bool {
	return minSdkVersion >= 30
}

// EntryInstruction is what OnInputEntry returns: the classification of the
// entry, plus an optional InspectionRequest for entries the engine also
// needs to read (presently only the input manifest).
type EntryInstruction struct {
	Policy  Instruction
	Request Sink
}

// Engine is the public façade: it owns the SignerSet, the entry
// classification policy, the v1/v2 pipelines and the debuggable policy, and
// sequences them according to the state machine in the driver-facing
// operations below.
type Engine struct {
	signers *SignerSet
	policy  *entryPolicy

	v1Enabled bool
	v2Enabled bool

	v1 *V1Pipeline
	v2 *V2Pipeline

	supportsPadding bool
	v2Pending       bool

	debuggable      *DebuggablePolicy
	pendingManifest *BufferRequest

	audit *audit.Info

	closed bool
}

// New constructs an Engine from a validated configuration, the caller's
// resolved signer key/certificate material, and an optional debuggable-bit
// query (nil selects manifestquery.StubQuery).
func New(cfg config.EngineConfig, signers []SignerConfig, query manifestquery.Query) (*Engine, error) {
	if cfg.PreserveOtherSigners {
		return nil, newErr(KindUnsupported, "preserving foreign signatures is not supported")
	}
	if !cfg.V1Enabled && !cfg.V2Enabled {
		return nil, newErr(KindInvalidConfig, "at least one of v1Enabled/v2Enabled must be set")
	}
	set, err := NewSignerSet(signers, cfg.MinSdkVersion, supportsPSS(cfg.MinSdkVersion))
	if err != nil {
		return nil, err
	}
	e := &Engine{
		signers:         set,
		policy:          newEntryPolicy(set, cfg.PreserveOtherSigners),
		v1Enabled:       cfg.V1Enabled,
		v2Enabled:       cfg.V2Enabled,
		supportsPadding: supportsBlockPadding(cfg.MinSdkVersion),
		debuggable:      newDebuggablePolicy(cfg.DebuggablePermitted, query),
	}
	if cfg.V1Enabled {
		e.v1 = newV1Pipeline(set, cfg.CreatedBy)
	}
	if cfg.V2Enabled {
		e.v2 = newV2Pipeline(set)
		e.v2Pending = true
	}
	primary := signers[0]
	e.audit = audit.New(primary.Name, schemeLabel(cfg.V1Enabled, cfg.V2Enabled), set.ContentDigest())
	e.audit.SetX509Cert(primary.Cert.Leaf)
	return e, nil
}

// schemeLabel names the signing operation for the audit record's sig.type
// attribute, the way each per-format signer in this ecosystem names itself.
func schemeLabel(v1, v2 bool) string {
	switch {
	case v1 && v2:
		return "apk-v1+v2"
	case v1:
		return "apk-v1"
	case v2:
		return "apk-v2"
	default:
		return "apk"
	}
}

// Audit returns the structured audit record accumulated for this signing
// operation: signer identity, certificate subject/issuer/fingerprint, and,
// once available, the content-digest of the emitted v1 manifest. Callers
// that want it logged pipe Audit().AttrsForLog("sig.") into their own
// zerolog.Logger; the engine itself never logs.
func (e *Engine) Audit() *audit.Info {
	return e.audit
}

// SniffAPK reports whether r's leading bytes look like an APK, letting a
// driver decide whether to open an Engine at all before committing to a
// full streaming pass over the archive.
func SniffAPK(r io.Reader) bool {
	return magic.Detect(r) == magic.FileTypeAPK
}

// ContentDigest returns the single digest algorithm MANIFEST.MF entries
// are hashed under: the strongest of every configured signer's own
// signature-digest algorithm.
func (e *Engine) ContentDigest() crypto.Hash {
	return e.signers.ContentDigest()
}

// NotifyInputSigningBlock is accepted but ignored: preserving a foreign APK
// Signing Block is recognized as a configuration flag (PreserveOtherSigners)
// but rejected outright at construction, so by the time this is reachable
// there is nothing for it to do.
func (e *Engine) NotifyInputSigningBlock(_ []byte) {}

// OnInputEntry classifies an entry from the input APK and, for the input
// manifest, opens a BufferRequest so V1Pipeline can borrow its main
// section later.
func (e *Engine) OnInputEntry(name string) (EntryInstruction, error) {
	if err := e.checkOpen(); err != nil {
		return EntryInstruction{}, err
	}
	instr := EntryInstruction{Policy: e.policy.classify(name)}
	if e.v1 != nil && name == manifestEntryName {
		instr.Request = e.v1.OnInputManifest()
	}
	return instr, nil
}

// OnInputEntryRemoved is a pure classification query, like OnInputEntry's
// policy half, with no side effects: the input APK is read-only.
func (e *Engine) OnInputEntryRemoved(name string) (Instruction, error) {
	if err := e.checkOpen(); err != nil {
		return Drop, err
	}
	return e.policy.classify(name), nil
}

// OnOutputEntry is called once per entry the driver writes to the output
// archive. It always invalidates v2 (any output byte change affects the
// final v2 content digest), and returns whatever InspectionRequest
// V1Pipeline and/or the debuggable policy need to observe that entry's
// bytes, fanned out if both do.
func (e *Engine) OnOutputEntry(name string) (Sink, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	e.v2Pending = true
	var sinks []Sink
	if e.v1 != nil {
		if s := e.v1.OnOutputEntry(name); s != nil {
			sinks = append(sinks, s)
		}
	}
	if name == androidManifestName {
		buf := newBufferRequest()
		e.pendingManifest = buf
		e.debuggable.Invalidate()
		sinks = append(sinks, buf)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return newFanOutRequest(sinks...), nil
	}
}

// OnOutputEntryRemoved invalidates v2 and updates V1Pipeline and the
// debuggable policy's tracking of the removed entry.
func (e *Engine) OnOutputEntryRemoved(name string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.v2Pending = true
	if e.v1 != nil {
		e.v1.OnOutputEntryRemoved(name)
	}
	if name == androidManifestName {
		e.pendingManifest = nil
		e.debuggable.Invalidate()
	}
	return nil
}

// EmitV1 runs the v1 signature-generation protocol described in V1Pipeline
// and returns the entries the driver needs to (re-)write, or nil if
// nothing has changed since the last successful call.
func (e *Engine) EmitV1() (*V1Artifacts, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.v1 == nil {
		return nil, newErr(KindStateViolation, "v1 is not enabled for this engine")
	}
	if err := e.resolveDebuggable(); err != nil {
		return nil, err
	}
	artifacts, err := e.v1.Emit(e.v2Enabled, e.debuggable)
	if err != nil {
		return nil, err
	}
	if artifacts != nil {
		if manifest := manifestOf(artifacts.Entries); manifest != nil {
			h := e.signers.ContentDigest().New()
			h.Write(manifest)
			e.audit.SetContentDigest(e.signers.ContentDigest(), h.Sum(nil))
		}
	}
	return artifacts, nil
}

// EmitV2 runs the v2 block-generation protocol described in V2Pipeline
// over the driver's final ZIP sections. v1 must already be fulfilled (if
// enabled).
func (e *Engine) EmitV2(entriesRegion, centralDir, eocd []byte) (*V2Artifact, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.v2 == nil {
		return nil, newErr(KindStateViolation, "v2 is not enabled for this engine")
	}
	if e.v1 != nil && e.v1.Pending() {
		return nil, newErr(KindStateViolation, "v2 emission requested before v1 was finalized")
	}
	if err := e.resolveDebuggable(); err != nil {
		return nil, err
	}
	if err := e.debuggable.Enforce(); err != nil {
		return nil, err
	}
	artifact, err := e.v2.Emit(entriesRegion, centralDir, eocd, e.supportsPadding)
	if err != nil {
		return nil, err
	}
	e.v2Pending = false
	return artifact, nil
}

// Commit verifies that every enabled scheme has been fully satisfied by
// the driver, failing with *state-violation* otherwise.
func (e *Engine) Commit() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.v1 != nil {
		if e.v1.Pending() {
			return newErr(KindStateViolation, "v1 signature not finalized before commit")
		}
		if err := e.v1.Finalize(); err != nil {
			return err
		}
	}
	if e.v2 != nil && e.v2Pending {
		return newErr(KindStateViolation, "v2 signature not finalized before commit")
	}
	return nil
}

// Close releases all buffers and cached state. Any further call on the
// engine fails with *state-violation*.
func (e *Engine) Close() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.closed = true
	e.v1 = nil
	e.v2 = nil
	e.pendingManifest = nil
	return nil
}

func (e *Engine) checkOpen() error {
	if e.closed {
		return newErr(KindStateViolation, "engine operation after close")
	}
	return nil
}

func (e *Engine) resolveDebuggable() error {
	if e.pendingManifest == nil {
		return nil
	}
	if !e.pendingManifest.IsDone() {
		return newErr(KindStateViolation, "AndroidManifest.xml entry not finished streaming")
	}
	data, err := e.pendingManifest.Bytes()
	if err != nil {
		return err
	}
	if err := e.debuggable.Observe(data); err != nil {
		return err
	}
	e.pendingManifest = nil
	return nil
}
