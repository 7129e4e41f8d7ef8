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
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
)

var (
	OidData                   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OidSignedData             = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OidAttributeContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OidAttributeMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OidAttributeSigningTime   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
)

// ContentInfo is the PKCS#7 ContentInfo structure. Content carries the
// DER-encoded inner value (an OCTET STRING for signed data with attached
// content, or nothing for detached signatures).
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     []byte `asn1:"explicit,optional,tag:0"`
}

// NewContentInfo wraps content (already the DER encoding of whatever the
// content type expects) in a ContentInfo with the given type.
func NewContentInfo(contentType asn1.ObjectIdentifier, content []byte) (ContentInfo, error) {
	if content == nil {
		return ContentInfo{ContentType: contentType}, nil
	}
	octets, err := asn1.Marshal(content)
	if err != nil {
		return ContentInfo{}, err
	}
	return ContentInfo{ContentType: contentType, Content: octets}, nil
}

// Bytes returns the decoded inner OCTET STRING, or nil if no content is
// present (the detached-signature case).
func (c ContentInfo) Bytes() ([]byte, error) {
	if len(c.Content) == 0 {
		return nil, nil
	}
	var out []byte
	if _, err := asn1.Unmarshal(c.Content, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Unmarshal decodes the inner OCTET STRING into dest.
func (c ContentInfo) Unmarshal(dest interface{}) error {
	_, err := asn1.Unmarshal(c.Content, dest)
	return err
}

// ContentInfoSignedData is the outer PKCS#7 structure for a SignedData
// payload: an object identifier plus an explicitly-tagged SignedData value.
type ContentInfoSignedData struct {
	ContentType asn1.ObjectIdentifier
	Content     SignedData `asn1:"explicit,optional,tag:0"`
}

type SignedData struct {
	Version                    int                        `asn1:"default:1"`
	DigestAlgorithmIdentifiers []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo                ContentInfo
	Certificates               RawCertificates `asn1:"optional,tag:0"`
	CRLs                       []pkix.CertificateList `asn1:"optional,tag:1"`
	SignerInfos                []SignerInfo            `asn1:"set"`
}

// RawCertificates holds the DER bytes of the implicitly-tagged SET OF
// Certificate without fully parsing them, so callers can choose whether to.
type RawCertificates struct {
	Raw asn1.RawContent
}

type Attribute struct {
	Type  asn1.ObjectIdentifier
	Value asn1.RawValue `asn1:"set"`
}

type SignerInfo struct {
	Version                   int `asn1:"default:1"`
	IssuerAndSerialNumber     IssuerAndSerial
	DigestAlgorithm           pkix.AlgorithmIdentifier
	AuthenticatedAttributes   AttributeList `asn1:"optional,tag:0"`
	DigestEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedDigest           []byte
	UnauthenticatedAttributes AttributeList `asn1:"optional,tag:1"`
}

type IssuerAndSerial struct {
	IssuerName   asn1.RawValue
	SerialNumber *big.Int
}
