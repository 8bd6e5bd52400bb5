package sigv4

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

const (
	// DefaultMaxExpiry bounds presigned URL lifetimes unless overridden.
	DefaultMaxExpiry = time.Hour

	// MaxExpiryLimit is the longest lifetime SigV4 presigning allows.
	MaxExpiryLimit = 7 * 24 * time.Hour
)

// Request describes what gets signed. Path is unescaped; the signer encodes it.
type Request struct {
	// Method is the HTTP method
	Method string

	// Scheme is "https" unless set
	Scheme string

	// Host is the store host, including a port when not the default
	Host string

	// Path is the absolute, unescaped request path (e.g. /bucket/videos/a.mp4)
	Path string

	// Query holds the request's query parameters
	Query url.Values

	// Header holds additional headers to sign; Host is always signed
	Header http.Header

	// PayloadHash is the hex SHA-256 of the body; empty means an empty body
	PayloadHash string
}

// URL renders the request URL without any signing material.
func (r Request) URL() *url.URL {
	scheme := r.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.Path,
		RawPath:  CanonicalURI(r.Path),
		RawQuery: CanonicalQuery(r.Query),
	}
}

// Signer produces SigV4 authorization for one set of credentials.
// A Signer is safe for concurrent use.
type Signer struct {
	creds     Credentials
	maxExpiry time.Duration
	now       func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithMaxExpiry sets the longest presigned URL lifetime the signer accepts.
func WithMaxExpiry(d time.Duration) Option {
	return func(s *Signer) {
		s.maxExpiry = d
	}
}

// WithClock sets the time source used by Now and SignHTTP.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// New returns a Signer. It fails with ErrConfiguration when any credential field
// is empty or the maximum expiry is outside (0, 7 days].
func New(creds Credentials, opts ...Option) (*Signer, error) {
	s := &Signer{
		creds:     creds,
		maxExpiry: DefaultMaxExpiry,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if s.maxExpiry <= 0 || s.maxExpiry > MaxExpiryLimit {
		return nil, errors.NewError("newSigner", errors.ErrConfiguration).
			WithMessage("max expiry must be between 1s and 7 days")
	}
	return s, nil
}

// Credentials returns the signer's credentials.
func (s *Signer) Credentials() Credentials {
	return s.creds
}

// MaxExpiry returns the longest presigned URL lifetime the signer accepts.
func (s *Signer) MaxExpiry() time.Duration {
	return s.maxExpiry
}

// Now returns the signer's current time in UTC.
func (s *Signer) Now() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// SignHeaders computes header authorization for req at time t. The returned
// header holds Authorization, X-Amz-Date and X-Amz-Content-Sha256; callers
// must send every header in req.Header unchanged.
func (s *Signer) SignHeaders(req Request, t time.Time) (http.Header, error) {
	if err := s.creds.Validate(); err != nil {
		return nil, err
	}
	if req.Host == "" {
		return nil, errors.NewError("sign", errors.ErrInvalidInput).WithMessage("host is required")
	}

	t = t.UTC()
	amzDate := t.Format(TimeFormat)
	payloadHash := req.PayloadHash
	if payloadHash == "" {
		payloadHash = EmptyPayloadHash
	}

	headers := cloneHeader(req.Header)
	headers.Set("Host", req.Host)
	headers.Set(HeaderDate, amzDate)
	headers.Set(HeaderContentSHA256, payloadHash)

	canonicalHeaders, signedHeaders := CanonicalHeaders(headers)
	creq := CanonicalRequest(
		req.Method,
		CanonicalURI(req.Path),
		CanonicalQuery(req.Query),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	)
	scope := CredentialScope(t, s.creds.Region, s.creds.Service)
	sig := Signature(
		DeriveSigningKey(s.creds.SecretAccessKey, t, s.creds.Region, s.creds.Service),
		StringToSign(t, scope, creq),
	)

	out := make(http.Header, 3)
	out.Set(HeaderAuthorization, Algorithm+
		" Credential="+s.creds.AccessKeyID+"/"+scope+
		", SignedHeaders="+signedHeaders+
		", Signature="+sig)
	out.Set(HeaderDate, amzDate)
	out.Set(HeaderContentSHA256, payloadHash)
	return out, nil
}

// Presign returns a fully-qualified URL authorizing req for expires from t.
// The payload is always UNSIGNED-PAYLOAD; req.PayloadHash is ignored.
func (s *Signer) Presign(req Request, t time.Time, expires time.Duration) (string, error) {
	if err := s.creds.Validate(); err != nil {
		return "", err
	}
	if req.Host == "" {
		return "", errors.NewError("presign", errors.ErrInvalidInput).WithMessage("host is required")
	}
	if err := s.checkExpiry(expires); err != nil {
		return "", err
	}

	t = t.UTC()
	scope := CredentialScope(t, s.creds.Region, s.creds.Service)

	headers := cloneHeader(req.Header)
	headers.Set("Host", req.Host)
	canonicalHeaders, signedHeaders := CanonicalHeaders(headers)

	query := cloneQuery(req.Query)
	query.Set(QueryAlgorithm, Algorithm)
	query.Set(QueryCredential, s.creds.AccessKeyID+"/"+scope)
	query.Set(QueryDate, t.Format(TimeFormat))
	query.Set(QueryExpires, strconv.FormatInt(int64(expires/time.Second), 10))
	query.Set(QuerySignedHeaders, signedHeaders)

	canonicalQuery := CanonicalQuery(query)
	creq := CanonicalRequest(
		req.Method,
		CanonicalURI(req.Path),
		canonicalQuery,
		canonicalHeaders,
		signedHeaders,
		UnsignedPayload,
	)
	sig := Signature(
		DeriveSigningKey(s.creds.SecretAccessKey, t, s.creds.Region, s.creds.Service),
		StringToSign(t, scope, creq),
	)

	u := req.URL()
	u.RawQuery = canonicalQuery + "&" + QuerySignature + "=" + sig
	return u.String(), nil
}

// SignHTTP signs r in place at the signer's current time. The body must be
// described by payloadHash; use EmptyPayloadHash for bodiless requests.
func (s *Signer) SignHTTP(r *http.Request, payloadHash string) error {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}

	extra := make(http.Header)
	for name, vs := range r.Header {
		if ignoredHeader(name) {
			continue
		}
		extra[name] = vs
	}

	signed, err := s.SignHeaders(Request{
		Method:      r.Method,
		Scheme:      r.URL.Scheme,
		Host:        host,
		Path:        r.URL.Path,
		Query:       r.URL.Query(),
		Header:      extra,
		PayloadHash: payloadHash,
	}, s.Now())
	if err != nil {
		return err
	}
	for name, vs := range signed {
		r.Header[name] = vs
	}
	return nil
}

func (s *Signer) checkExpiry(expires time.Duration) error {
	if expires < time.Second || expires > s.maxExpiry {
		return errors.NewError("presign", errors.ErrInvalidExpiry).
			WithMessage("expiry " + expires.String() + " outside [1s, " + s.maxExpiry.String() + "]")
	}
	return nil
}

// ignoredHeader reports headers that proxies and transports may rewrite.
func ignoredHeader(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "user-agent", "x-amzn-trace-id", "expect", "content-length":
		return true
	}
	return false
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return make(http.Header)
	}
	return h.Clone()
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q)+6)
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
