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
	"fmt"
	"sort"

	"github.com/relicapk/apksigner/v1builder"
)

// V1Artifacts is the set of v1 entries an Emit call produced or re-emitted.
type V1Artifacts struct {
	Entries []v1builder.Artifact
}

// V1Pipeline tracks every output entry the v1 (JAR-style) scheme cares
// about and decides, at Emit time, whether the manifest and its signature
// blocks need to be rebuilt from scratch, resigned over a changed manifest,
// or simply re-emitted unchanged.
type V1Pipeline struct {
	signers   *SignerSet
	createdBy string

	pendingDigests map[string]*DigestRequest
	outputDigests  map[string][]byte
	pendingBuffers map[string]*BufferRequest

	inputManifest *BufferRequest
	mainSection   []byte

	lastManifest []byte
	emitted      map[string][]byte
	pending      bool
}

func newV1Pipeline(signers *SignerSet, createdBy string) *V1Pipeline {
	return &V1Pipeline{
		signers:        signers,
		createdBy:      createdBy,
		pendingDigests: make(map[string]*DigestRequest),
		outputDigests:  make(map[string][]byte),
		pendingBuffers: make(map[string]*BufferRequest),
		emitted:        make(map[string][]byte),
		pending:        true,
	}
}

// OnOutputEntry returns the Sink the driver should stream name's
// uncompressed output bytes into, or nil when the v1 pipeline has no
// interest in that entry at all.
func (p *V1Pipeline) OnOutputEntry(name string) Sink {
	switch {
	case p.signers.IsV1EntryName(name):
		buf := newBufferRequest()
		p.pendingBuffers[name] = buf
		p.pending = true
		return buf
	case isV1Covered(name):
		req := newDigestRequest(p.signers.ContentDigest())
		p.pendingDigests[name] = req
		delete(p.outputDigests, name)
		p.pending = true
		return req
	default:
		return nil
	}
}

// OnOutputEntryRemoved drops any tracked state for a deleted output entry.
// Only entries v1 actually cares about (its own signature files, or entries
// covered by the manifest) invalidate the pending signature; removing an
// entry v1 never looked at in the first place leaves it untouched.
func (p *V1Pipeline) OnOutputEntryRemoved(name string) {
	switch {
	case p.signers.IsV1EntryName(name):
		delete(p.pendingBuffers, name)
		p.pending = true
	case isV1Covered(name):
		delete(p.pendingDigests, name)
		delete(p.outputDigests, name)
		p.pending = true
	}
}

// OnInputManifest returns the Sink the driver should stream the input
// APK's existing META-INF/MANIFEST.MF into, so its main-attributes section
// can be borrowed by the rebuilt manifest. Optional: an engine with no
// input APK to borrow from never calls this.
func (p *V1Pipeline) OnInputManifest() Sink {
	p.inputManifest = newBufferRequest()
	return p.inputManifest
}

// Pending reports whether Emit has not yet run successfully, or whether any
// tracked output entry has changed since the last successful Emit.
func (p *V1Pipeline) Pending() bool {
	return p.pending
}

// Finalize is the pre-commit check: every entry the engine last emitted
// must have actually been written back by the driver, byte for byte. It
// fails with *state-violation* on the first entry that was never written,
// is still streaming, or came back different.
func (p *V1Pipeline) Finalize() error {
	for name, want := range p.emitted {
		buf, ok := p.pendingBuffers[name]
		if !ok {
			return newErr(KindStateViolation, fmt.Sprintf("v1 entry %q was never written back by the driver", name))
		}
		if !buf.IsDone() {
			return newErr(KindStateViolation, fmt.Sprintf("v1 entry %q was not finished streaming", name))
		}
		got, err := buf.Bytes()
		if err != nil {
			return err
		}
		if !bytes.Equal(got, want) {
			return newErr(KindStateViolation, fmt.Sprintf("v1 entry %q does not match the emitted signature bytes", name))
		}
	}
	return nil
}

// Emit produces the v1 artifacts for the engine's current state. v2Applied
// records whether the rebuilt manifest should carry an
// X-Android-APK-Signed: 2 attribute. A nil result with a nil error means
// nothing needs to change: the previously emitted artifacts are still
// valid as written.
func (p *V1Pipeline) Emit(v2Applied bool, debuggable *DebuggablePolicy) (*V1Artifacts, error) {
	if err := p.collectDigests(); err != nil {
		return nil, err
	}
	mainSection, err := p.resolveMainSection()
	if err != nil {
		return nil, err
	}
	if err := debuggable.Enforce(); err != nil {
		return nil, err
	}

	order := make([]string, 0, len(p.outputDigests))
	for name := range p.outputDigests {
		order = append(order, name)
	}
	sort.Strings(order)

	signers := p.signers.v1BuilderSigners()

	if len(p.emitted) == 0 {
		artifacts, err := v1builder.Build(p.signers.ContentDigest(), order, p.outputDigests, mainSection, v2Applied, p.createdBy, signers)
		if err != nil {
			return nil, err
		}
		p.recordEmitted(artifacts)
		p.lastManifest = manifestOf(artifacts)
		p.pending = false
		return &V1Artifacts{Entries: artifacts}, nil
	}

	candidate, err := v1builder.BuildManifest(p.signers.ContentDigest(), order, p.outputDigests, mainSection, v2Applied, p.createdBy)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(candidate, p.lastManifest) {
		perSigner, err := v1builder.SignManifest(candidate, v2Applied, signers)
		if err != nil {
			return nil, err
		}
		artifacts := append([]v1builder.Artifact{{Name: "META-INF/MANIFEST.MF", Bytes: candidate}}, perSigner...)
		p.recordEmitted(artifacts)
		p.lastManifest = candidate
		p.pending = false
		return &V1Artifacts{Entries: artifacts}, nil
	}

	// Manifest-stable: the content digests haven't moved, so the existing
	// signature blocks remain valid. Re-emit only what the driver's output
	// archive no longer carries correctly.
	var stale []v1builder.Artifact
	for name, want := range p.emitted {
		buf, ok := p.pendingBuffers[name]
		if !ok {
			stale = append(stale, v1builder.Artifact{Name: name, Bytes: want})
			continue
		}
		got, err := buf.Bytes()
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(got, want) {
			stale = append(stale, v1builder.Artifact{Name: name, Bytes: want})
		}
	}
	p.pending = false
	if len(stale) == 0 {
		return nil, nil
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].Name < stale[j].Name })
	return &V1Artifacts{Entries: stale}, nil
}

func (p *V1Pipeline) collectDigests() error {
	for name, req := range p.pendingDigests {
		digest, err := req.Digest()
		if err != nil {
			return err
		}
		p.outputDigests[name] = digest
	}
	return nil
}

func (p *V1Pipeline) resolveMainSection() ([]byte, error) {
	if p.inputManifest == nil {
		return p.mainSection, nil
	}
	if !p.inputManifest.IsDone() {
		return nil, newErr(KindStateViolation, "v1 emit requested before the input manifest was observed")
	}
	full, err := p.inputManifest.Bytes()
	if err != nil {
		return nil, err
	}
	p.mainSection = splitMainSection(full)
	p.inputManifest = nil
	return p.mainSection, nil
}

func (p *V1Pipeline) recordEmitted(artifacts []v1builder.Artifact) {
	p.emitted = make(map[string][]byte, len(artifacts))
	for _, a := range artifacts {
		p.emitted[a.Name] = a.Bytes
	}
}

func manifestOf(artifacts []v1builder.Artifact) []byte {
	for _, a := range artifacts {
		if a.Name == "META-INF/MANIFEST.MF" {
			return a.Bytes
		}
	}
	return nil
}

// splitMainSection returns the leading main-attributes chunk of a
// MANIFEST.MF, the same boundary signjar's own section splitter uses, so
// BuildManifest can borrow it without re-parsing the whole manifest.
func splitMainSection(manifest []byte) []byte {
	if i := bytes.Index(manifest, []byte("\r\n\r\n")); i >= 0 {
		return manifest[:i+4]
	}
	if i := bytes.Index(manifest, []byte("\n\n")); i >= 0 {
		return manifest[:i+2]
	}
	return manifest
}
