// Package sigv4 computes AWS Signature Version 4 authentication material for
// S3-compatible object stores.
//
// Two modes are supported:
//
//   - Header signing, for control-plane requests issued by the server
//     (initiate, complete and abort a multipart upload). The signer emits the
//     Authorization, X-Amz-Date and X-Amz-Content-Sha256 headers.
//   - Presigned URLs, for part uploads issued directly by clients. All signing
//     parameters travel in the query string and the payload hash is the literal
//     UNSIGNED-PAYLOAD.
//
// The canonicalization steps are exported as pure functions so each stage can be
// tested byte for byte:
//
//	creq := sigv4.CanonicalRequest(method, sigv4.CanonicalURI(path),
//		sigv4.CanonicalQuery(query), headers, signed, payloadHash)
//	sts := sigv4.StringToSign(t, sigv4.CredentialScope(t, region, service), creq)
//	sig := sigv4.Signature(sigv4.DeriveSigningKey(secret, t, region, service), sts)
package sigv4
