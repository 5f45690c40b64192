package remote

import (
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
)

// Credentials carries what is needed to reach the GitHub API. They are
// passed explicitly to Open; nothing here reads the environment.
type Credentials struct {
	Repo   string
	Token  string
	APIURL string // empty for api.github.com
	WebURL string // empty for github.com
}

// ErrBadLocation is returned by Open for locations it cannot parse.
var ErrBadLocation = errors.New("bad remote location")

// splitBucketPrefix will take a path and separate the bucket name from a
// prefix, if any. The prefix returned is either empty or ends with a slash.
//
// examples:
// 		"" -> ("", "")
//		"bucket" -> ("bucket", "")
//		"bucket/and/a/prefix" -> ("bucket", "and/a/prefix/")
func splitBucketPrefix(location string) (bucket, prefix string) {
	location = strings.TrimPrefix(location, "/")
	if location == "" {
		return
	}
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		prefix = path.Clean(v[1])
		if prefix == "." {
			prefix = ""
		}
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return
}

// Open creates the remote described by location.
//
//	"" or "github:"                 GitHub releases of creds.Repo
//	"github:owner/name"             GitHub releases of the given repository
//	"s3:/bucket/prefix"             S3 on AWS
//	"s3://host:port/bucket/prefix"  S3 compatible server, e.g. minio
//	"file:/path" or "/path"         directory tree
//	"memory:"                       in-memory store
func Open(location string, creds Credentials) (Store, error) {
	if location == "" {
		location = "github:"
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrap(ErrBadLocation, err.Error())
	}
	switch u.Scheme {
	case "github":
		repo := creds.Repo
		if u.Opaque != "" {
			repo = u.Opaque
		} else if p := strings.Trim(u.Host+u.Path, "/"); p != "" {
			repo = p
		}
		if strings.Count(repo, "/") != 1 {
			return nil, errors.Wrapf(ErrBadLocation, "repository %q is not owner/name", repo)
		}
		g := NewGitHub(repo, creds.Token)
		if creds.APIURL != "" {
			g.APIURL = strings.TrimSuffix(creds.APIURL, "/")
		}
		if creds.WebURL != "" {
			g.WebURL = strings.TrimSuffix(creds.WebURL, "/")
		}
		return g, nil
	case "s3":
		conf := &aws.Config{}
		if u.Host != "" {
			conf.Endpoint = aws.String(u.Host)
			conf.Region = aws.String("us-east-1")
			// disable SSL for local development
			if strings.Contains(u.Host, "localhost") {
				conf.DisableSSL = aws.Bool(true)
				conf.S3ForcePathStyle = aws.Bool(true)
			}
		}
		bucket, prefix := splitBucketPrefix(u.Path)
		if bucket == "" {
			return nil, errors.Wrapf(ErrBadLocation, "no bucket name in %q", location)
		}
		sess, err := session.NewSession(conf)
		if err != nil {
			return nil, err
		}
		s := NewS3(bucket, prefix, sess)
		s.Endpoint = u.Host
		return s, nil
	case "", "file":
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		if p == "" {
			return nil, errors.Wrapf(ErrBadLocation, "no path in %q", location)
		}
		return NewDir(p), nil
	case "memory":
		return NewMemory(), nil
	}
	return nil, errors.Wrapf(ErrBadLocation, "unknown scheme %q", u.Scheme)
}
