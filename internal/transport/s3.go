package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// BodyCallback receives a fetched body and its size, or -1 when the size is
// unknown. The reader is only valid for the duration of the call.
type BodyCallback func(r io.Reader, size int64) error

// S3Transfer fetches objects from an S3-hosted mirror of the patch tree.
// Mirror URLs use the s3://bucket/key form.
type S3Transfer struct {
	session  *session.Session
	s3Client *s3.S3
}

// NewS3Transfer creates an S3 transfer from the ambient AWS configuration
// (environment, shared credentials, instance profile).
func NewS3Transfer() (*S3Transfer, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &S3Transfer{
		session:  sess,
		s3Client: s3.New(sess),
	}, nil
}

// SplitURL splits an s3://bucket/key URL into bucket and key.
func SplitURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URL %q: %w", rawURL, err)
	}
	if u.Scheme != "s3" || u.Host == "" || len(u.Path) < 2 {
		return "", "", fmt.Errorf("invalid S3 URL %q: want s3://bucket/key", rawURL)
	}
	return u.Host, u.Path[1:], nil
}

// Fetch retrieves the object at an s3://bucket/key URL and hands its body
// and size to cb.
func (t *S3Transfer) Fetch(ctx context.Context, rawURL string, cb BodyCallback) error {
	bucket, key, err := SplitURL(rawURL)
	if err != nil {
		return err
	}

	result, err := t.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	size := int64(-1)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return cb(result.Body, size)
}
