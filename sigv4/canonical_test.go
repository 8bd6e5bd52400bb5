package sigv4

import (
	"encoding/hex"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"unreserved", "AZaz09-_.~", "AZaz09-_.~"},
		{"space", "a b", "a%20b"},
		{"slash", "a/b", "a%2Fb"},
		{"plus", "a+b", "a%2Bb"},
		{"utf8", "é", "%C3%A9"},
		{"dollar", "test$file", "test%24file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Escape(tt.in))
		})
	}
}

func TestCanonicalURI(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"empty", "", "/"},
		{"root", "/", "/"},
		{"no_leading_slash", "bucket/key", "/bucket/key"},
		{"keeps_separators", "/bucket/videos/2026/10/16/a.mp4", "/bucket/videos/2026/10/16/a.mp4"},
		{"encodes_segments", "/bucket/my file$.mp4", "/bucket/my%20file%24.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalURI(tt.path))
		})
	}
}

func TestCanonicalQuery(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
		want  string
	}{
		{"empty", nil, ""},
		{"flag_without_value", url.Values{"uploads": {""}}, "uploads="},
		{"no_values", url.Values{"uploads": nil}, "uploads="},
		{
			"sorted_by_name",
			url.Values{"uploadId": {"abc"}, "partNumber": {"3"}},
			"partNumber=3&uploadId=abc",
		},
		{
			"name_prefix_sorts_first",
			url.Values{"a-b": {"1"}, "a": {"2"}},
			"a=2&a-b=1",
		},
		{
			"repeated_values_sorted",
			url.Values{"k": {"b", "a"}},
			"k=a&k=b",
		},
		{
			"values_encoded",
			url.Values{"X-Amz-Credential": {"AKID/20130524/us-east-1/s3/aws4_request"}},
			"X-Amz-Credential=AKID%2F20130524%2Fus-east-1%2Fs3%2Faws4_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalQuery(tt.query))
		})
	}
}

func TestCanonicalHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Host", "example.com")
	h.Set("X-Amz-Date", "20130524T000000Z")
	h.Add("X-Custom", "  a   b  ")
	h.Add("X-Custom", "c")
	h.Set("Content-Type", "video/mp4")

	canonical, signed := CanonicalHeaders(h)

	assert.Equal(t, "content-type:video/mp4\n"+
		"host:example.com\n"+
		"x-amz-date:20130524T000000Z\n"+
		"x-custom:a b,c\n", canonical)
	assert.Equal(t, "content-type;host;x-amz-date;x-custom", signed)
}

func TestDeriveSigningKey(t *testing.T) {
	// Published derivation example for secret wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY.
	ts := time.Date(2012, 2, 15, 0, 0, 0, 0, time.UTC)
	key := DeriveSigningKey("wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", ts, "us-east-1", "iam")

	assert.Equal(t, "f4780e2d9f65fa895f9c67b32ce1baf0b0d8a43505a000a1a9e090d414db404d",
		hex.EncodeToString(key))
}

func TestCredentialScope(t *testing.T) {
	ts := time.Date(2013, 5, 24, 23, 59, 59, 0, time.FixedZone("x", 3600))
	assert.Equal(t, "20130524/auto/s3/aws4_request", CredentialScope(ts, "auto", "s3"))
}

func TestHashPayload(t *testing.T) {
	assert.Equal(t, EmptyPayloadHash, HashPayload(nil))
	assert.Equal(t,
		"44ce7dd67c959e0d3524ffac1771dfbba87d2b6b4b4e99e42034a8b803f8b072",
		HashPayload([]byte("Welcome to Amazon S3.")))
}
