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

package pkcs7

import (
	"encoding/asn1"
	"errors"
)

// AttributeList is a PKCS#7 SET OF Attribute, as found in
// SignerInfo.AuthenticatedAttributes / UnauthenticatedAttributes.
type AttributeList []Attribute

// Exists reports whether an attribute with the given OID is present.
func (l AttributeList) Exists(oid asn1.ObjectIdentifier) bool {
	for _, a := range l {
		if a.Type.Equal(oid) {
			return true
		}
	}
	return false
}

// Add appends an attribute with the given OID and value.
func (l *AttributeList) Add(oid asn1.ObjectIdentifier, value interface{}) error {
	encoded, err := asn1.Marshal(value)
	if err != nil {
		return err
	}
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(encoded, &raw); err != nil {
		return err
	}
	*l = append(*l, Attribute{Type: oid, Value: raw})
	return nil
}

// GetOne decodes the single attribute value for oid into dest. It is an
// error for zero or more than one matching attribute to be present.
func (l AttributeList) GetOne(oid asn1.ObjectIdentifier, dest interface{}) error {
	var found *Attribute
	for i := range l {
		if l[i].Type.Equal(oid) {
			if found != nil {
				return errors.New("pkcs7: multiple values for attribute, expected one")
			}
			found = &l[i]
		}
	}
	if found == nil {
		return errors.New("pkcs7: attribute not found")
	}
	_, err := asn1.Unmarshal(found.Value.FullBytes, dest)
	return err
}

// GetAll decodes every attribute value for oid into dest, which must be a
// pointer to a slice.
func (l AttributeList) GetAll(oid asn1.ObjectIdentifier, dest interface{}) error {
	var raws []asn1.RawValue
	for _, a := range l {
		if a.Type.Equal(oid) {
			raws = append(raws, a.Value)
		}
	}
	if len(raws) == 0 {
		return errors.New("pkcs7: attribute not found")
	}
	blob, err := marshalUnsortedSet(sliceOfRaw(raws))
	if err != nil {
		return err
	}
	_, err = asn1.UnmarshalWithParams(blob, dest, "set")
	return err
}

// sliceOfRaw marshals a bare slice of asn1.RawValue, one per Marshal call,
// concatenated -- used by GetAll to build a temporary SET for decoding.
type sliceOfRaw []asn1.RawValue

func (s sliceOfRaw) elements() [][]byte {
	out := make([][]byte, len(s))
	for i, r := range s {
		out[i] = r.FullBytes
	}
	return out
}

// Bytes returns the DER encoding of the attribute list as an (unsorted) SET
// OF Attribute, which is what the authenticated-attributes digest is
// computed over.
func (l AttributeList) Bytes() ([]byte, error) {
	return marshalUnsortedSet(l)
}

// marshalUnsortedSet DER-encodes v as a SET OF, preserving element order.
// encoding/asn1 always sorts SET elements by encoding, which PKCS#7 does not
// require and which would disagree with the order attributes were added in.
func marshalUnsortedSet(v interface{}) ([]byte, error) {
	switch l := v.(type) {
	case AttributeList:
		var body []byte
		for _, a := range l {
			encoded, err := asn1.Marshal(a)
			if err != nil {
				return nil, err
			}
			body = append(body, encoded...)
		}
		return wrapSet(body), nil
	case sliceOfRaw:
		var body []byte
		for _, e := range l.elements() {
			body = append(body, e...)
		}
		return wrapSet(body), nil
	default:
		return nil, errors.New("pkcs7: unsupported type for marshalUnsortedSet")
	}
}

func wrapSet(body []byte) []byte {
	val := asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: body}
	encoded, err := asn1.Marshal(val)
	if err != nil {
		// body is already valid DER; wrapping it in a SET tag cannot fail
		panic(err)
	}
	return encoded
}
