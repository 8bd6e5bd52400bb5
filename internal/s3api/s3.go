// Package s3api defines the slice of the AWS SDK S3 client the reclaimer uses.
// This allows for easy mocking in tests.
package s3api

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API defines the S3 operations used to reconcile storage state.
type S3API interface {
	// ListMultipartUploads lists in-progress multipart uploads.
	ListMultipartUploads(
		ctx context.Context,
		params *s3.ListMultipartUploadsInput,
		optFns ...func(*s3.Options),
	) (*s3.ListMultipartUploadsOutput, error)

	// ListObjectsV2 lists objects in a bucket.
	ListObjectsV2(
		ctx context.Context,
		params *s3.ListObjectsV2Input,
		optFns ...func(*s3.Options),
	) (*s3.ListObjectsV2Output, error)

	// AbortMultipartUpload aborts a multipart upload.
	AbortMultipartUpload(
		ctx context.Context,
		params *s3.AbortMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.AbortMultipartUploadOutput, error)

	// DeleteObjects deletes multiple objects in a single request.
	DeleteObjects(
		ctx context.Context,
		params *s3.DeleteObjectsInput,
		optFns ...func(*s3.Options),
	) (*s3.DeleteObjectsOutput, error)
}

// Ensure that the real S3 client implements our interface
var _ S3API = (*s3.Client)(nil)
