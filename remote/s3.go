package remote

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// S3 is a Store kept in a single AWS S3 bucket. Each remote bucket is the
// key prefix "<Prefix><bucket>/", so one S3 bucket can hold every hash
// algorithm. Completed objects are uploaded assets. Multipart uploads which
// were started but never completed are the partial assets.
//
// The description of a bucket is kept at "<Prefix><bucket>.description.md",
// outside the asset prefix.
// Do not change Bucket or Prefix concurrently with calls using the structure.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
	// Endpoint is used to build AssetURL addresses. Empty means AWS.
	Endpoint string
}

var _ Store = &S3{}

// NewS3 creates a new S3 store. It will use the given bucket and will prepend
// prefix to all keys. The authorization method and credentials in the
// session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
	}
}

func (s *S3) key(bucket, name string) string {
	return s.Prefix + bucket + "/" + name
}

func (s *S3) capture(err error, op, key string) {
	log.Println("S3", op+":", s.Bucket, key, err)
	raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": key, "Op": op})
}

// AssetURL returns the https address of an asset.
func (s *S3) AssetURL(bucket, name string) string {
	host := s.Bucket + ".s3.amazonaws.com"
	if s.Endpoint != "" {
		host = s.Endpoint + "/" + s.Bucket
	}
	return "https://" + host + "/" + s.key(bucket, name)
}

// ListAssets lists the objects and unfinished multipart uploads under the
// bucket prefix.
func (s *S3) ListAssets(bucket string) ([]Asset, error) {
	prefix := s.key(bucket, "")
	var result []Asset
	err := s.svc.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastpage bool) bool {
		for _, item := range page.Contents {
			result = append(result, Asset{
				Name:  strings.TrimPrefix(*item.Key, prefix),
				State: Uploaded,
				Size:  aws.Int64Value(item.Size),
			})
		}
		return !lastpage
	})
	if err != nil {
		s.capture(err, "ListAssets", prefix)
		return nil, err
	}
	err = s.svc.ListMultipartUploadsPages(&s3.ListMultipartUploadsInput{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListMultipartUploadsOutput, lastpage bool) bool {
		for _, up := range page.Uploads {
			result = append(result, Asset{
				Name:  strings.TrimPrefix(*up.Key, prefix),
				State: Partial,
			})
		}
		return !lastpage
	})
	if err != nil {
		s.capture(err, "ListAssets", prefix)
		return nil, err
	}
	return result, nil
}

// Download copies an object into w.
func (s *S3) Download(bucket, name string, w io.Writer) error {
	key := s.key(bucket, name)
	output, err := s.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		s.capture(err, "Download", key)
		return err
	}
	defer output.Body.Close()
	_, err = io.Copy(w, output.Body)
	return err
}

func isNotFound(err error) bool {
	e, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch e.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}

// Upload streams a file into the bucket. Small files are sent with a
// single PUT, larger ones with the multipart interface. If the upload fails
// part way, the multipart upload is aborted.
func (s *S3) Upload(bucket, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	key := s.key(bucket, filepath.Base(localPath))
	wc := &s3WriteCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    key,
	}
	_, err = io.Copy(wc, f)
	if err != nil {
		wc.abort = true
	}
	err2 := wc.Close()
	if err == nil {
		err = err2
	}
	if err != nil {
		s.capture(err, "Upload", key)
	}
	return err
}

// Delete removes an object along with any unfinished multipart uploads for
// the same key. It is not an error to delete something that doesn't exist.
func (s *S3) Delete(bucket, name string) error {
	key := s.key(bucket, name)
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.capture(err, "Delete", key)
		return err
	}
	err = s.svc.ListMultipartUploadsPages(&s3.ListMultipartUploadsInput{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(key),
	}, func(page *s3.ListMultipartUploadsOutput, lastpage bool) bool {
		for _, up := range page.Uploads {
			if *up.Key != key {
				continue
			}
			_, err2 := s.svc.AbortMultipartUpload(&s3.AbortMultipartUploadInput{
				Bucket:   aws.String(s.Bucket),
				Key:      up.Key,
				UploadId: up.UploadId,
			})
			if err2 != nil && err == nil {
				err = err2
			}
		}
		return !lastpage
	})
	if err != nil {
		s.capture(err, "Delete", key)
	}
	return err
}

// CreateBucket does nothing, since a prefix exists as soon as something
// is stored under it.
func (s *S3) CreateBucket(bucket string) error {
	return nil
}

// SetDescription stores text beside the bucket prefix.
func (s *S3) SetDescription(bucket, text string) error {
	key := s.Prefix + bucket + ".description.md"
	_, err := s.svc.PutObject(&s3.PutObjectInput{
		Body:          strings.NewReader(text),
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(key),
		ContentLength: aws.Int64(int64(len(text))),
		ContentType:   aws.String("text/markdown; charset=utf-8"),
	})
	if err != nil {
		s.capture(err, "SetDescription", key)
	}
	return err
}

// s3WriteCloser does an upload to s3. If the entire file fits into one buffer
// it will do a single PUT. Otherwise it will use the s3 multipart upload
// interface.
//
// A challenge is that we do not know the ultimate size of the object while we
// are writing it. To accommodate large file sizes, we vary the size of each
// part. Varying the part sizes lets us use small parts for small files, but
// still be able to handle large files.
//
// AWS restricts part sizes to be between 5 MB and 5 GB.
//
// We set the upload threshold of part i to size(i) = min(a*2^i, b) where
// constants a and b are a = 64 * 1024 * 1024 (64 MB) and
// b = 4 * 1024 * 1024 * 1024 (4 GB)
type s3WriteCloser struct {
	svc      *s3.S3
	bucket   string
	key      string
	buf      *bytes.Buffer // current buffer we are writing to
	isMulti  bool          // true if this is a multipart upload
	uploadID string        // the multipart id that s3 gave us
	part     int           // the part number we are currently filling up (0-based. n.b. AWS is 1-based)
	etags    []string      // list of etags for all our uploaded parts, index i == etag for part i
	abort    bool          // true to abort upload at close
}

// These are constants, but beware! The relationship that
// wcBaseSize << 6 == wcMaxSize is baked into the code below
const (
	wcBaseSize = 64 * 1024 * 1024
	wcMaxSize  = 4 * 1024 * 1024 * 1024
)

var (
	// wcBufferPool contains spare buffers to use for uploading. It is shared
	// between all the s3WriteCloser instances.
	wcBufferPool sync.Pool

	ErrNoETag = errors.New("No ETag was returned from AWS")
)

func (wc *s3WriteCloser) Write(p []byte) (int, error) {
	// lazily initialize stuff
	if wc.buf == nil {
		wc.buf = wc.getbuf()
	}
	n, err := wc.buf.Write(p)
	if n == 0 && err != nil {
		wc.abort = true
		return n, err
	}
	// see if we need to upload this buffer
	lowerlimit := wcMaxSize
	if wc.part < 6 {
		lowerlimit = wcBaseSize << wc.part
	}
	if wc.buf.Len() > lowerlimit {
		err = wc.uploadpart(wc.part, wc.buf)
		wc.buf.Reset()
		if err != nil {
			wc.abort = true
			return 0, err
		}
		wc.part++
	}
	return n, nil
}

// Close will flush any temporary buffers to S3, and then wait for everything
// to be uploaded. If there were any errors (either now, or while calling
// Write()), the multipart upload is aborted.
func (wc *s3WriteCloser) Close() error {
	if wc.buf != nil {
		defer func() {
			// we're done with the buffer, so return it for someone else
			wcBufferPool.Put(wc.buf)
			wc.buf = nil
		}()
	}

	if !wc.isMulti {
		if wc.abort {
			return nil
		}
		return wc.uploadfull(wc.buf)
	}

	var err error
	if !wc.abort && wc.buf.Len() > 0 {
		err = wc.uploadpart(wc.part, wc.buf)
		if err != nil {
			wc.abort = true
		}
	}
	if wc.abort {
		_, err2 := wc.svc.AbortMultipartUpload(&s3.AbortMultipartUploadInput{
			Bucket:   aws.String(wc.bucket),
			Key:      aws.String(wc.key),
			UploadId: aws.String(wc.uploadID),
		})
		if err == nil {
			err = err2
		}
		return err
	}
	return wc.finishMultipart()
}

func (wc *s3WriteCloser) getbuf() *bytes.Buffer {
	b, ok := wcBufferPool.Get().(*bytes.Buffer)
	if !ok {
		b = &bytes.Buffer{}
	}
	b.Reset()
	return b
}

func (wc *s3WriteCloser) startMultipart() error {
	result, err := wc.svc.CreateMultipartUpload(&s3.CreateMultipartUploadInput{
		Bucket: aws.String(wc.bucket),
		Key:    aws.String(wc.key),
	})
	if err != nil {
		return err
	}
	wc.isMulti = true
	wc.uploadID = *result.UploadId
	return nil
}

func (wc *s3WriteCloser) finishMultipart() error {
	// need to upload all the part number/etag pairs
	var completed []*s3.CompletedPart
	for i, etag := range wc.etags {
		completed = append(completed, &s3.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int64(int64(i + 1)), // part numbers are 1-based
		})
	}
	_, err := wc.svc.CompleteMultipartUpload(
		&s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(wc.bucket),
			Key:      aws.String(wc.key),
			UploadId: aws.String(wc.uploadID),
			MultipartUpload: &s3.CompletedMultipartUpload{
				Parts: completed,
			},
		})
	return err
}

func (wc *s3WriteCloser) uploadpart(partno int, buf *bytes.Buffer) error {
	if !wc.isMulti {
		if err := wc.startMultipart(); err != nil {
			return err
		}
	}
	output, err := wc.svc.UploadPart(&s3.UploadPartInput{
		Body:       bytes.NewReader(buf.Bytes()), // need Seek()
		Bucket:     aws.String(wc.bucket),
		Key:        aws.String(wc.key),
		PartNumber: aws.Int64(int64(partno + 1)), // parts are 1-based in AWS
		UploadId:   aws.String(wc.uploadID),
	})
	if err != nil {
		return err
	}
	if output.ETag == nil {
		return ErrNoETag
	}
	wc.etags = append(wc.etags, *output.ETag)
	return nil
}

func (wc *s3WriteCloser) uploadfull(buf *bytes.Buffer) error {
	// it is possible to get here with buf == nil. This happens for empty
	// files, when Write() is never called
	source := &bytes.Reader{} // need Seek(), and bytes.Buffer doesn't have it
	if buf != nil {
		source.Reset(buf.Bytes())
	}
	_, err := wc.svc.PutObject(&s3.PutObjectInput{
		Body:          source,
		Bucket:        aws.String(wc.bucket),
		Key:           aws.String(wc.key),
		ContentLength: aws.Int64(int64(source.Len())),
	})
	return err
}
