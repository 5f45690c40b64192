// Package config holds the settings for a hashsync run. Settings come from
// built in defaults, optionally overlaid by a TOML file, and then by command
// line flags. Once loaded a Config is not changed.
//
// An example file:
//
//	repo = "Slicer/SlicerTestingData"
//	root = "/data/testing"
//	algorithms = ["MD5", "SHA256"]
//	layout = "list"
//	log_file = "/var/log/hashsync.log"
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ndlib/hashsync/hashing"
	"github.com/ndlib/hashsync/index"
	"github.com/ndlib/hashsync/remote"
)

// TokenEnv is the environment variable consulted when no token is
// configured.
const TokenEnv = "GITHUB_TOKEN"

// Config is the complete set of settings.
type Config struct {
	Repo  string `toml:"repo"`  // GitHub repository, "owner/name"
	Token string `toml:"token"` // GitHub access token

	// Remote selects the remote store. See remote.Open. Empty means the
	// releases of Repo.
	Remote string `toml:"remote"`

	// Root is the working directory holding a cache per algorithm.
	// Incoming and Download are relative to it unless absolute.
	Root     string `toml:"root"`
	Incoming string `toml:"incoming"`
	Download string `toml:"download"`

	// Algorithms are used by upload, DownloadAlgorithm by download.
	Algorithms        []string `toml:"algorithms"`
	DownloadAlgorithm string   `toml:"download_algorithm"`

	Layout    string `toml:"layout"` // "table" or "list"
	LogFile   string `toml:"log_file"`
	SentryDSN string `toml:"sentry_dsn"`

	// Override the GitHub addresses, e.g. for GitHub Enterprise.
	APIURL string `toml:"api_url"`
	WebURL string `toml:"web_url"`
}

// Default returns the settings used when nothing else is given.
func Default() Config {
	return Config{
		Repo:              "Slicer/SlicerTestingData",
		Root:              ".",
		Incoming:          "INCOMING",
		Download:          "DOWNLOAD",
		Algorithms:        []string{"MD5", "SHA256"},
		DownloadAlgorithm: "MD5",
		Layout:            "table",
	}
}

// Load reads the TOML file at path over the defaults. An empty path gives
// the defaults. Keys in the file which are not settings are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, errors.Wrap(err, path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		var keys []string
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return cfg, errors.Errorf("%s: unknown settings %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate checks the settings which can be checked without touching the
// disk or network.
func (c Config) Validate() error {
	if _, err := c.ParsedLayout(); err != nil {
		return err
	}
	if len(c.Algorithms) == 0 {
		return errors.Wrap(hashing.ErrUnsupportedAlgorithm, "no algorithms given")
	}
	for _, name := range c.Algorithms {
		if _, err := hashing.Lookup(name); err != nil {
			return err
		}
	}
	if _, err := hashing.Lookup(c.DownloadAlgorithm); err != nil {
		return err
	}
	if c.Root == "" {
		return errors.New("no root directory given")
	}
	return nil
}

// ParsedLayout returns the rendering layout.
func (c Config) ParsedLayout() (index.Layout, error) {
	return index.ParseLayout(c.Layout)
}

// IncomingDir returns the directory files are uploaded from.
func (c Config) IncomingDir() string {
	return c.underRoot(c.Incoming)
}

// DownloadDir returns the directory files are downloaded into.
func (c Config) DownloadDir() string {
	return c.underRoot(c.Download)
}

func (c Config) underRoot(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Credentials returns what is needed to reach GitHub. If no token is set,
// the GITHUB_TOKEN environment variable is used.
func (c Config) Credentials() remote.Credentials {
	token := c.Token
	if token == "" {
		token = os.Getenv(TokenEnv)
	}
	return remote.Credentials{
		Repo:   c.Repo,
		Token:  token,
		APIURL: c.APIURL,
		WebURL: c.WebURL,
	}
}
