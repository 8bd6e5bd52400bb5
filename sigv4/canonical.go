package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	// Algorithm is the signing algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	// UnsignedPayload is the payload hash used for presigned URLs.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// EmptyPayloadHash is the hex SHA-256 of an empty body.
	EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// TimeFormat is the ISO-8601 basic format used in X-Amz-Date.
	TimeFormat = "20060102T150405Z"

	// DateFormat is the date stamp used in the credential scope.
	DateFormat = "20060102"

	scopeTerminator = "aws4_request"
)

// Header and query parameter names.
const (
	HeaderAuthorization = "Authorization"
	HeaderDate          = "X-Amz-Date"
	HeaderContentSHA256 = "X-Amz-Content-Sha256"

	QueryAlgorithm     = "X-Amz-Algorithm"
	QueryCredential    = "X-Amz-Credential"
	QueryDate          = "X-Amz-Date"
	QueryExpires       = "X-Amz-Expires"
	QuerySignedHeaders = "X-Amz-SignedHeaders"
	QuerySignature     = "X-Amz-Signature"
)

// HashPayload returns the lower-case hex SHA-256 of body.
func HashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Escape percent-encodes s per RFC 3986, leaving only unreserved characters.
func Escape(s string) string {
	return escape(s, false)
}

// EscapePath percent-encodes each path segment, keeping the '/' separators.
func EscapePath(path string) string {
	return escape(path, true)
}

func escape(s string, keepSlash bool) string {
	const hexUpper = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || (keepSlash && c == '/') {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexUpper[c>>4])
		b.WriteByte(hexUpper[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return 'A' <= c && c <= 'Z' ||
		'a' <= c && c <= 'z' ||
		'0' <= c && c <= '9' ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// CanonicalURI encodes an unescaped absolute path. S3 paths are encoded once.
func CanonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return EscapePath(path)
}

// CanonicalQuery sorts parameters by encoded name then encoded value and joins
// them. Keys without a value render as "key=".
func CanonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(query))
	for k, vs := range query {
		ek := Escape(k)
		if len(vs) == 0 {
			pairs = append(pairs, pair{ek, ""})
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, pair{ek, Escape(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(p.v)
	}
	return b.String()
}

// CanonicalHeaders lower-cases names, trims values and collapses inner runs of
// spaces, joins repeated values with commas and sorts by name. It returns the
// canonical header block (each line newline-terminated) and the signed header list.
func CanonicalHeaders(h http.Header) (canonical, signed string) {
	names := make([]string, 0, len(h))
	values := make(map[string][]string, len(h))
	for name, vs := range h {
		lower := strings.ToLower(name)
		if _, seen := values[lower]; !seen {
			names = append(names, lower)
		}
		for _, v := range vs {
			values[lower] = append(values[lower], trimHeaderValue(v))
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(values[name], ","))
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

func trimHeaderValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// CanonicalRequest assembles the canonical request from its canonicalized parts.
func CanonicalRequest(method, uri, query, headers, signedHeaders, payloadHash string) string {
	return strings.Join([]string{
		method,
		uri,
		query,
		headers,
		signedHeaders,
		payloadHash,
	}, "\n")
}

// CredentialScope returns date/region/service/aws4_request for t in UTC.
func CredentialScope(t time.Time, region, service string) string {
	return strings.Join([]string{t.UTC().Format(DateFormat), region, service, scopeTerminator}, "/")
}

// StringToSign hashes the canonical request into the string that gets signed.
func StringToSign(t time.Time, scope, canonicalRequest string) string {
	return strings.Join([]string{
		Algorithm,
		t.UTC().Format(TimeFormat),
		scope,
		HashPayload([]byte(canonicalRequest)),
	}, "\n")
}

// DeriveSigningKey runs the HMAC-SHA256 chain over date, region, service and the
// fixed terminator, keyed initially by "AWS4" + secret.
func DeriveSigningKey(secret string, t time.Time, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), t.UTC().Format(DateFormat))
	k = hmacSHA256(k, region)
	k = hmacSHA256(k, service)
	return hmacSHA256(k, scopeTerminator)
}

// Signature returns the hex HMAC-SHA256 of stringToSign under key.
func Signature(key []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(key, stringToSign))
}

func hmacSHA256(key []byte, data string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(data))
	return m.Sum(nil)
}
