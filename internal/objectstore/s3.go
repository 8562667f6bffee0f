// Package objectstore reads artifacts and their metadata from S3.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/kiranshivaraju/datapump/internal/apperrors"
	"github.com/kiranshivaraju/datapump/internal/sizing"
)

// Location is a bucket and key pair.
type Location struct {
	Bucket string
	Key    string
}

// ParseURI splits an s3://bucket/key URI.
func ParseURI(uri string) (Location, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return Location{}, apperrors.Validation("uri", fmt.Sprintf("%q is not an s3 uri", uri))
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return Location{}, apperrors.Validation("uri", fmt.Sprintf("%q must name a bucket and a key", uri))
	}
	return Location{Bucket: bucket, Key: key}, nil
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// HeadObjectAPI is the subset of the S3 client used here.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Sizer looks up object sizes with HeadObject.
type S3Sizer struct {
	client HeadObjectAPI
}

func NewS3Sizer(client HeadObjectAPI) *S3Sizer {
	return &S3Sizer{client: client}
}

// Size returns the content length of the object at uri. A missing object
// yields an error matching apperrors.ErrNotFound.
func (s *S3Sizer) Size(ctx context.Context, uri string) (int64, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return 0, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, apperrors.NotFound("object", uri)
		}
		return 0, fmt.Errorf("head object %s: %w", uri, err)
	}

	return aws.ToInt64(out.ContentLength), nil
}

// GetObjectAPI is the subset of the S3 client used by S3Reader.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Reader streams object contents with GetObject.
type S3Reader struct {
	client GetObjectAPI
}

func NewS3Reader(client GetObjectAPI) *S3Reader {
	return &S3Reader{client: client}
}

// Open returns the body of the object at uri. The caller must close it. A
// missing object yields an error matching apperrors.ErrNotFound.
func (r *S3Reader) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("object", uri)
		}
		return nil, fmt.Errorf("get object %s: %w", uri, err)
	}
	return out.Body, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

// Compile-time check that S3Sizer implements sizing.ObjectSizer.
var _ sizing.ObjectSizer = (*S3Sizer)(nil)
