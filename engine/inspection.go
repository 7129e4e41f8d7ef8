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
	"crypto"
	"hash"
	"sync"
)

// Sink is the driver-facing half of an InspectionRequest: somewhere to
// stream an entry's uncompressed bytes, and a way to signal that streaming
// is finished. A Sink is single-shot: once Done has been called, Write and
// a second Done both fail.
type Sink interface {
	Write(p []byte) (int, error)
	Done() error
	IsDone() bool
}

// BufferRequest buffers every byte written to it and exposes the result
// once Done. Used for entries the engine needs to read back in full, such
// as engine-owned signature files or the input manifest.
type BufferRequest struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	done bool
}

func newBufferRequest() *BufferRequest {
	return &BufferRequest{}
}

func (r *BufferRequest) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return 0, newErr(KindStateViolation, "write to a completed BufferRequest")
	}
	return r.buf.Write(p)
}

func (r *BufferRequest) Done() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return newErr(KindStateViolation, "BufferRequest already done")
	}
	r.done = true
	return nil
}

func (r *BufferRequest) IsDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Bytes returns a snapshot of the buffered data. Fails with
// *state-violation* if the request has not yet been marked done.
func (r *BufferRequest) Bytes() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		return nil, newErr(KindStateViolation, "BufferRequest read before done")
	}
	out := make([]byte, r.buf.Len())
	copy(out, r.buf.Bytes())
	return out, nil
}

// DigestRequest feeds every byte written to it into a rolling hash and
// exposes the final digest once Done, at which point the hasher itself is
// released.
type DigestRequest struct {
	mu     sync.Mutex
	hasher hash.Hash
	digest []byte
	done   bool
}

func newDigestRequest(alg crypto.Hash) *DigestRequest {
	return &DigestRequest{hasher: alg.New()}
}

func (r *DigestRequest) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return 0, newErr(KindStateViolation, "write to a completed DigestRequest")
	}
	return r.hasher.Write(p)
}

func (r *DigestRequest) Done() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return newErr(KindStateViolation, "DigestRequest already done")
	}
	r.digest = r.hasher.Sum(nil)
	r.hasher = nil
	r.done = true
	return nil
}

func (r *DigestRequest) IsDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Digest returns the final digest. Fails with *state-violation* if the
// request has not yet been marked done.
func (r *DigestRequest) Digest() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		return nil, newErr(KindStateViolation, "DigestRequest read before done")
	}
	out := make([]byte, len(r.digest))
	copy(out, r.digest)
	return out, nil
}

// FanOutRequest tees every write to a fixed set of child sinks and
// propagates Done to all of them. Used when a single output entry is both
// v1-covered (needs a DigestRequest) and AndroidManifest.xml, which the
// debuggable policy also needs buffered, or more generally whenever more
// than one observer needs the same byte stream.
type FanOutRequest struct {
	mu       sync.Mutex
	children []Sink
	done     bool
}

func newFanOutRequest(children ...Sink) *FanOutRequest {
	return &FanOutRequest{children: children}
}

func (r *FanOutRequest) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return 0, newErr(KindStateViolation, "write to a completed FanOutRequest")
	}
	for _, child := range r.children {
		if n, err := child.Write(p); err != nil {
			return n, err
		}
	}
	return len(p), nil
}

func (r *FanOutRequest) Done() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return newErr(KindStateViolation, "FanOutRequest already done")
	}
	for _, child := range r.children {
		if err := child.Done(); err != nil {
			return err
		}
	}
	r.done = true
	return nil
}

func (r *FanOutRequest) IsDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		return false
	}
	for _, child := range r.children {
		if !child.IsDone() {
			return false
		}
	}
	return true
}
