package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
)

// GitHub is a Store keeping each bucket as a release of a GitHub
// repository. The bucket name is the release tag, and assets are release
// assets. The token is sent with every request; it is never read from
// global state.
type GitHub struct {
	// Repo is the repository, "owner/name".
	Repo  string
	Token string

	// APIURL is the base of the REST API, without a trailing slash.
	APIURL string

	// WebURL is the base used to build AssetURL addresses.
	WebURL string

	client *http.Client

	m        sync.Mutex
	releases map[string]release // cache of releases by tag
}

type release struct {
	id        int64
	uploadURL string // with the URI template removed

	// asset ids by name, nil until the assets have been listed
	ids map[string]int64
}

var _ Store = &GitHub{}

// NewGitHub returns a store for the given repository. An empty token allows
// read-only access to public repositories.
func NewGitHub(repo, token string) *GitHub {
	return &GitHub{
		Repo:   repo,
		Token:  token,
		APIURL: "https://api.github.com",
		WebURL: "https://github.com",
	}
}

// AssetURL returns the public download address of an asset.
func (g *GitHub) AssetURL(bucket, name string) string {
	return g.WebURL + "/" + g.Repo + "/releases/download/" + bucket + "/" + name
}

// ListAssets returns the assets of the release tagged bucket. A missing
// release has no assets.
func (g *GitHub) ListAssets(bucket string) ([]Asset, error) {
	rel, err := g.release(bucket)
	if err == ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	objs, err := g.assets(bucket, rel)
	if err != nil {
		return nil, err
	}
	var result []Asset
	for _, obj := range objs {
		name, _ := obj.GetString("name")
		state, _ := obj.GetString("state")
		size, _ := obj.GetInt64("size")
		a := Asset{Name: name, State: Partial, Size: size}
		if state == "uploaded" {
			a.State = Uploaded
		}
		result = append(result, a)
	}
	return result, nil
}

// Download copies the given asset into w.
func (g *GitHub) Download(bucket, name string, w io.Writer) error {
	id, err := g.assetID(bucket, name)
	if err != nil {
		return err
	}
	path := g.APIURL + "/repos/" + g.Repo + "/releases/assets/" + strconv.FormatInt(id, 10)
	req, _ := http.NewRequest("GET", path, nil)
	req.Header.Set("Accept", "application/octet-stream")
	resp, err := g.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, path); err != nil {
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Upload sends the file at localPath as a new asset of the release.
func (g *GitHub) Upload(bucket, localPath string) error {
	rel, err := g.release(bucket)
	if err == ErrNotFound {
		return ErrNoBucket
	} else if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	path := rel.uploadURL + "?name=" + url.QueryEscape(filepath.Base(localPath))
	req, _ := http.NewRequest("POST", path, f)
	req.ContentLength = fi.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	v, err := g.doJason(req)
	if err != nil {
		g.forget(bucket, "")
		return err
	}
	if id, _ := v.GetInt64("id"); id != 0 {
		g.learn(bucket, filepath.Base(localPath), id)
	} else {
		g.forget(bucket, "")
	}
	return nil
}

// Delete removes the named asset from the release, if it is there.
func (g *GitHub) Delete(bucket, name string) error {
	id, err := g.assetID(bucket, name)
	if err == ErrNotFound {
		return nil
	} else if err != nil {
		return err
	}
	path := g.APIURL + "/repos/" + g.Repo + "/releases/assets/" + strconv.FormatInt(id, 10)
	req, _ := http.NewRequest("DELETE", path, nil)
	resp, err := g.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	err = checkStatus(resp, path)
	if err == ErrNotFound {
		err = nil
	}
	if err == nil {
		g.forget(bucket, name)
	}
	return err
}

// CreateBucket creates a published release tagged bucket, unless there is
// one already.
func (g *GitHub) CreateBucket(bucket string) error {
	_, err := g.release(bucket)
	if err != ErrNotFound {
		return err
	}
	path := g.APIURL + "/repos/" + g.Repo + "/releases"
	v, err := g.doJSON("POST", path, map[string]interface{}{
		"tag_name":   bucket,
		"name":       bucket,
		"draft":      false,
		"prerelease": false,
	})
	if err != nil {
		return err
	}
	g.remember(bucket, v)
	return nil
}

// SetDescription replaces the body text of the release.
func (g *GitHub) SetDescription(bucket, text string) error {
	rel, err := g.release(bucket)
	if err == ErrNotFound {
		return ErrNoBucket
	} else if err != nil {
		return err
	}
	path := g.APIURL + "/repos/" + g.Repo + "/releases/" + strconv.FormatInt(rel.id, 10)
	_, err = g.doJSON("PATCH", path, map[string]interface{}{"body": text})
	return err
}

// release looks up the release for a tag. Returns ErrNotFound if there is
// no such release.
func (g *GitHub) release(tag string) (release, error) {
	g.m.Lock()
	rel, ok := g.releases[tag]
	g.m.Unlock()
	if ok {
		return rel, nil
	}
	path := g.APIURL + "/repos/" + g.Repo + "/releases/tags/" + url.PathEscape(tag)
	req, _ := http.NewRequest("GET", path, nil)
	v, err := g.doJason(req)
	if err != nil {
		return release{}, err
	}
	return g.remember(tag, v), nil
}

func (g *GitHub) remember(tag string, v *jason.Object) release {
	var rel release
	rel.id, _ = v.GetInt64("id")
	rel.uploadURL, _ = v.GetString("upload_url")
	if i := strings.Index(rel.uploadURL, "{"); i >= 0 {
		rel.uploadURL = rel.uploadURL[:i]
	}
	g.m.Lock()
	if g.releases == nil {
		g.releases = make(map[string]release)
	}
	g.releases[tag] = rel
	g.m.Unlock()
	return rel
}

// the number of assets to ask for in each page of a listing
const assetPageSize = 100

// assets returns the raw asset descriptions of the release tagged tag,
// reading all pages. The asset ids are remembered for assetID.
func (g *GitHub) assets(tag string, rel release) ([]*jason.Object, error) {
	var result []*jason.Object
	for page := 1; ; page++ {
		path := fmt.Sprintf("%s/repos/%s/releases/%d/assets?per_page=%d&page=%d",
			g.APIURL, g.Repo, rel.id, assetPageSize, page)
		req, _ := http.NewRequest("GET", path, nil)
		resp, err := g.do(req)
		if err != nil {
			return nil, err
		}
		err = checkStatus(resp, path)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		v, err := jason.NewValueFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		vals, err := v.Array()
		if err != nil {
			return nil, err
		}
		for _, x := range vals {
			obj, err := x.Object()
			if err != nil {
				return nil, err
			}
			result = append(result, obj)
		}
		if len(vals) < assetPageSize {
			break
		}
	}
	ids := make(map[string]int64, len(result))
	for _, obj := range result {
		name, _ := obj.GetString("name")
		ids[name], _ = obj.GetInt64("id")
	}
	g.m.Lock()
	if r, ok := g.releases[tag]; ok && r.id == rel.id {
		r.ids = ids
		g.releases[tag] = r
	}
	g.m.Unlock()
	return result, nil
}

// assetID finds the id of the named asset. Returns ErrNotFound if either
// the release or the asset is missing. The release is listed only the
// first time; after that the remembered ids are used.
func (g *GitHub) assetID(bucket, name string) (int64, error) {
	rel, err := g.release(bucket)
	if err != nil {
		return 0, err
	}
	if rel.ids == nil {
		_, err = g.assets(bucket, rel)
		if err != nil {
			return 0, err
		}
		rel, err = g.release(bucket)
		if err != nil {
			return 0, err
		}
	}
	g.m.Lock()
	id, ok := rel.ids[name]
	g.m.Unlock()
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

// learn records the id of an asset, if the release has been listed.
func (g *GitHub) learn(tag, name string, id int64) {
	g.m.Lock()
	defer g.m.Unlock()
	if r, ok := g.releases[tag]; ok && r.ids != nil {
		r.ids[name] = id
	}
}

// forget drops the remembered id of an asset. An empty name drops the
// whole listing of the release.
func (g *GitHub) forget(tag, name string) {
	g.m.Lock()
	defer g.m.Unlock()
	r, ok := g.releases[tag]
	if !ok || r.ids == nil {
		return
	}
	if name == "" {
		r.ids = nil
		g.releases[tag] = r
		return
	}
	delete(r.ids, name)
}

// doJSON sends body encoded as JSON and decodes the JSON object returned.
func (g *GitHub) doJSON(method, path string, body interface{}) (*jason.Object, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, _ := http.NewRequest(method, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	return g.doJason(req)
}

func (g *GitHub) doJason(req *http.Request) (*jason.Object, error) {
	resp, err := g.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, req.URL.String()); err != nil {
		return nil, err
	}
	return jason.NewObjectFromReader(resp.Body)
}

// checkStatus maps an unsuccessful response to an error.
func checkStatus(resp *http.Response, path string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == 404:
		return ErrNotFound
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return ErrNotAuthorized
	}
	msg, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
	log.Printf("GitHub: status %d from %s: %s", resp.StatusCode, path, msg)
	return fmt.Errorf("Received status %d from GitHub", resp.StatusCode)
}

// do performs an http request using our client with a timeout. The
// timeout is arbitrary, and is just there so we don't hang indefinitely
// should the server never close the connection.
func (g *GitHub) do(req *http.Request) (*http.Response, error) {
	if g.Token != "" {
		req.Header.Set("Authorization", "token "+g.Token)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/vnd.github+json")
	}
	if g.client == nil {
		g.client = &http.Client{
			Timeout: 30 * time.Minute, // arbitrary
		}
	}
	return g.client.Do(req)
}
