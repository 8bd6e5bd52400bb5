// Package testutil provides test doubles for the object store.
package testutil

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/upload/sigv4"
)

// FakeStore is an in-memory S3-compatible multipart endpoint. It verifies
// header signatures and presigned URLs with the same algorithm a real store
// uses, honoring expiry against its own clock.
type FakeStore struct {
	server *httptest.Server
	bucket string
	creds  sigv4.Credentials

	mu       sync.Mutex
	now      func() time.Time
	uploads  map[string]*fakeUpload
	objects  map[string][]byte
	attempts map[int]int
	failures map[int][]int
	complete []int
	requests []string
	inflight int
	maxInfl  int
	partHook func(partNumber int)
}

type fakeUpload struct {
	key         string
	contentType string
	parts       map[int]fakePart
}

type fakePart struct {
	etag string
	data []byte
}

// NewFakeStore starts a fake store for bucket that accepts creds.
func NewFakeStore(t *testing.T, bucket string, creds sigv4.Credentials) *FakeStore {
	t.Helper()

	f := &FakeStore{
		bucket:   bucket,
		creds:    creds,
		now:      time.Now,
		uploads:  make(map[string]*fakeUpload),
		objects:  make(map[string][]byte),
		attempts: make(map[int]int),
		failures: make(map[int][]int),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the store endpoint.
func (f *FakeStore) URL() string {
	return f.server.URL
}

// Client returns an HTTP client for the store.
func (f *FakeStore) Client() *http.Client {
	return f.server.Client()
}

// SetClock replaces the clock used for presigned URL expiry checks.
func (f *FakeStore) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// FailPart makes the next attempts of partNumber fail with the given statuses, in order.
func (f *FakeStore) FailPart(partNumber int, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[partNumber] = append(f.failures[partNumber], statuses...)
}

// FailComplete makes the next complete calls fail with the given statuses.
// A status of 200 answers with an error document in a 200 response.
func (f *FakeStore) FailComplete(statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complete = append(f.complete, statuses...)
}

// OnPart registers a hook run while a part upload is in flight.
func (f *FakeStore) OnPart(hook func(partNumber int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partHook = hook
}

// PartAttempts returns how many PUTs partNumber received across all uploads.
func (f *FakeStore) PartAttempts(partNumber int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[partNumber]
}

// MaxInflightParts returns the highest number of concurrent part PUTs observed.
func (f *FakeStore) MaxInflightParts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInfl
}

// ActiveUploads returns the upload ids that were neither completed nor aborted.
func (f *FakeStore) ActiveUploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.uploads))
	for id := range f.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UploadedParts returns the part numbers stored for uploadID.
func (f *FakeStore) UploadedParts(uploadID string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[uploadID]
	if !ok {
		return nil
	}
	nums := make([]int, 0, len(u.parts))
	for n := range u.parts {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Object returns an assembled object's bytes.
func (f *FakeStore) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}

// Requests returns "METHOD op" entries for every request received.
func (f *FakeStore) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *FakeStore) serveHTTP(w http.ResponseWriter, r *http.Request) {
	key, ok := strings.CutPrefix(r.URL.Path, "/"+f.bucket+"/")
	if !ok || key == "" {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "unknown bucket")
		return
	}
	q := r.URL.Query()

	switch {
	case r.Method == http.MethodPost && q.Has("uploads"):
		f.record("POST initiate")
		if f.verifyHeaders(w, r, nil) {
			f.initiate(w, r, key)
		}
	case r.Method == http.MethodPut && q.Has("partNumber") && q.Has("uploadId"):
		f.record("PUT part")
		f.uploadPart(w, r, key)
	case r.Method == http.MethodPost && q.Has("uploadId"):
		f.record("POST complete")
		body, _ := io.ReadAll(r.Body)
		if f.verifyHeaders(w, r, body) {
			f.completeUpload(w, key, q.Get("uploadId"), body)
		}
	case r.Method == http.MethodDelete && q.Has("uploadId"):
		f.record("DELETE abort")
		if f.verifyHeaders(w, r, nil) {
			f.abort(w, q.Get("uploadId"))
		}
	case r.Method == http.MethodGet:
		f.record("GET object")
		f.getObject(w, key)
	default:
		writeError(w, http.StatusNotImplemented, "NotImplemented", r.Method)
	}
}

func (f *FakeStore) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, op)
}

func (f *FakeStore) initiate(w http.ResponseWriter, r *http.Request, key string) {
	id := uuid.NewString()
	f.mu.Lock()
	f.uploads[id] = &fakeUpload{
		key:         key,
		contentType: r.Header.Get("Content-Type"),
		parts:       make(map[int]fakePart),
	}
	f.mu.Unlock()

	writeXML(w, http.StatusOK, struct {
		XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
		Bucket   string   `xml:"Bucket"`
		Key      string   `xml:"Key"`
		UploadID string   `xml:"UploadId"`
	}{Bucket: f.bucket, Key: key, UploadID: id})
}

func (f *FakeStore) uploadPart(w http.ResponseWriter, r *http.Request, key string) {
	q := r.URL.Query()
	partNumber, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil || partNumber < 1 || partNumber > 10000 {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "bad part number")
		return
	}

	f.mu.Lock()
	f.attempts[partNumber]++
	var injected int
	if queue := f.failures[partNumber]; len(queue) > 0 {
		injected, f.failures[partNumber] = queue[0], queue[1:]
	}
	f.inflight++
	if f.inflight > f.maxInfl {
		f.maxInfl = f.inflight
	}
	hook := f.partHook
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if hook != nil {
		hook(partNumber)
	}

	if !f.verifyPresigned(w, r) {
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "IncompleteBody", err.Error())
		return
	}
	if injected != 0 {
		writeError(w, injected, "InjectedFailure", "injected failure")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[q.Get("uploadId")]
	if !ok || u.key != key {
		writeError(w, http.StatusNotFound, "NoSuchUpload", "upload does not exist")
		return
	}
	sum := md5.Sum(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	u.parts[partNumber] = fakePart{etag: etag, data: data}
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
}

func (f *FakeStore) completeUpload(w http.ResponseWriter, key, uploadID string, body []byte) {
	var req struct {
		Parts []struct {
			PartNumber int    `xml:"PartNumber"`
			ETag       string `xml:"ETag"`
		} `xml:"Part"`
	}
	if err := xml.Unmarshal(body, &req); err != nil || len(req.Parts) == 0 {
		writeError(w, http.StatusBadRequest, "MalformedXML", "bad complete body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.complete) > 0 {
		status := f.complete[0]
		f.complete = f.complete[1:]
		writeError(w, status, "InternalError", "injected complete failure")
		return
	}

	u, ok := f.uploads[uploadID]
	if !ok || u.key != key {
		writeError(w, http.StatusNotFound, "NoSuchUpload", "upload does not exist")
		return
	}

	var buf bytes.Buffer
	for i, p := range req.Parts {
		if i > 0 && p.PartNumber <= req.Parts[i-1].PartNumber {
			writeError(w, http.StatusBadRequest, "InvalidPartOrder", "parts must be ascending")
			return
		}
		stored, ok := u.parts[p.PartNumber]
		if !ok || stored.etag != p.ETag {
			writeError(w, http.StatusBadRequest, "InvalidPart", fmt.Sprintf("part %d not found", p.PartNumber))
			return
		}
		if i < len(req.Parts)-1 && int64(len(stored.data)) < 5<<20 {
			writeError(w, http.StatusBadRequest, "EntityTooSmall", fmt.Sprintf("part %d too small", p.PartNumber))
			return
		}
		buf.Write(stored.data)
	}

	f.objects[key] = buf.Bytes()
	delete(f.uploads, uploadID)

	sum := md5.Sum(buf.Bytes())
	writeXML(w, http.StatusOK, struct {
		XMLName xml.Name `xml:"CompleteMultipartUploadResult"`
		Bucket  string   `xml:"Bucket"`
		Key     string   `xml:"Key"`
		ETag    string   `xml:"ETag"`
	}{Bucket: f.bucket, Key: key, ETag: `"` + hex.EncodeToString(sum[:]) + fmt.Sprintf(`-%d"`, len(req.Parts))})
}

func (f *FakeStore) abort(w http.ResponseWriter, uploadID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.uploads[uploadID]; !ok {
		writeError(w, http.StatusNotFound, "NoSuchUpload", "upload does not exist")
		return
	}
	delete(f.uploads, uploadID)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeStore) getObject(w http.ResponseWriter, key string) {
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchKey", "object does not exist")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (f *FakeStore) verifier() *sigv4.Signer {
	s, _ := sigv4.New(f.creds, sigv4.WithMaxExpiry(sigv4.MaxExpiryLimit))
	return s
}

// verifyHeaders recomputes the Authorization header from the request.
func (f *FakeStore) verifyHeaders(w http.ResponseWriter, r *http.Request, body []byte) bool {
	auth := r.Header.Get(sigv4.HeaderAuthorization)
	signedList := between(auth, "SignedHeaders=", ",")
	if auth == "" || signedList == "" {
		writeError(w, http.StatusForbidden, "AccessDenied", "missing authorization")
		return false
	}

	payloadHash := r.Header.Get(sigv4.HeaderContentSHA256)
	if payloadHash != sigv4.HashPayload(body) {
		writeError(w, http.StatusBadRequest, "XAmzContentSHA256Mismatch", "payload hash mismatch")
		return false
	}

	t, err := time.Parse(sigv4.TimeFormat, r.Header.Get(sigv4.HeaderDate))
	if err != nil {
		writeError(w, http.StatusForbidden, "AccessDenied", "bad date")
		return false
	}

	extra := make(http.Header)
	for _, name := range strings.Split(signedList, ";") {
		switch name {
		case "host", "x-amz-date", "x-amz-content-sha256":
			continue
		}
		extra[http.CanonicalHeaderKey(name)] = r.Header.Values(name)
	}

	want, err := f.verifier().SignHeaders(sigv4.Request{
		Method:      r.Method,
		Host:        r.Host,
		Path:        r.URL.Path,
		Query:       r.URL.Query(),
		Header:      extra,
		PayloadHash: payloadHash,
	}, t)
	if err != nil || want.Get(sigv4.HeaderAuthorization) != auth {
		writeError(w, http.StatusForbidden, "SignatureDoesNotMatch", "signature mismatch")
		return false
	}
	return true
}

// verifyPresigned recomputes the query signature and enforces expiry.
func (f *FakeStore) verifyPresigned(w http.ResponseWriter, r *http.Request) bool {
	q := r.URL.Query()
	t, err := time.Parse(sigv4.TimeFormat, q.Get(sigv4.QueryDate))
	if err != nil {
		writeError(w, http.StatusForbidden, "AccessDenied", "missing signature date")
		return false
	}
	secs, err := strconv.Atoi(q.Get(sigv4.QueryExpires))
	if err != nil {
		writeError(w, http.StatusForbidden, "AccessDenied", "missing expiry")
		return false
	}
	expires := time.Duration(secs) * time.Second

	f.mu.Lock()
	now := f.now()
	f.mu.Unlock()
	if now.After(t.Add(expires)) {
		writeError(w, http.StatusForbidden, "AccessDenied", "Request has expired")
		return false
	}

	given := q.Get(sigv4.QuerySignature)
	unsigned := url.Values{}
	for k, vs := range q {
		switch k {
		case sigv4.QueryAlgorithm, sigv4.QueryCredential, sigv4.QueryDate,
			sigv4.QueryExpires, sigv4.QuerySignedHeaders, sigv4.QuerySignature:
			continue
		}
		unsigned[k] = vs
	}

	raw, err := f.verifier().Presign(sigv4.Request{
		Method: r.Method,
		Host:   r.Host,
		Path:   r.URL.Path,
		Query:  unsigned,
	}, t, expires)
	if err != nil {
		writeError(w, http.StatusForbidden, "AccessDenied", err.Error())
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Query().Get(sigv4.QuerySignature) != given {
		writeError(w, http.StatusForbidden, "SignatureDoesNotMatch", "signature mismatch")
		return false
	}
	return true
}

func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	rest := s[i+len(start):]
	if j := strings.Index(rest, end); j >= 0 {
		return rest[:j]
	}
	return rest
}

func writeXML(w http.ResponseWriter, status int, v any) {
	data, _ := xml.Marshal(v)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeXML(w, status, struct {
		XMLName   xml.Name `xml:"Error"`
		Code      string   `xml:"Code"`
		Message   string   `xml:"Message"`
		RequestID string   `xml:"RequestId"`
	}{Code: code, Message: message, RequestID: uuid.NewString()})
}
