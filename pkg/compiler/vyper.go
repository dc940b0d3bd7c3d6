package compiler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
)

// VyperDriver invokes a native vyper binary with -f standard-json-input
// (vyper's flag for reading a standard-JSON document off stdin).
type VyperDriver struct {
	cache      *binaryCache
	httpClient *http.Client
	baseURL    string
}

// NewVyperDriver returns a driver that caches downloaded vyper binaries
// under binDir, fetched from the vyperlang GitHub releases.
func NewVyperDriver(binDir string) *VyperDriver {
	return NewVyperDriverWithRepo(binDir, vyperReleasesBase)
}

// NewVyperDriverWithRepo is NewVyperDriver with an overridden release base.
func NewVyperDriverWithRepo(binDir, repo string) *VyperDriver {
	if repo == "" {
		repo = vyperReleasesBase
	}
	return &VyperDriver{
		cache:      newBinaryCache(binDir),
		httpClient: http.DefaultClient,
		baseURL:    repo,
	}
}

// vyperPrereleasePattern matches Vyper's own pre-release version spelling
// ("0.4.0rc6", "0.3.10b2") so it can be rewritten into valid semver
// ("0.4.0-rc6") for auxdata.StyleFor.
var vyperPrereleasePattern = regexp.MustCompile(`^(\d+\.\d+\.\d+)(rc\d+|a\d+|b\d+|dev\d+|alpha\d+|beta\d+)(.*)$`)

// normalizeVyperVersion rewrites a claimed Vyper version into semver form.
// Versions already valid semver, or matching no known pre-release suffix,
// are returned unchanged.
func normalizeVyperVersion(raw string) string {
	m := vyperPrereleasePattern.FindStringSubmatch(raw)
	if m == nil {
		return raw
	}
	return m[1] + "-" + m[2] + m[3]
}

func (d *VyperDriver) IsVersionAvailable(ctx context.Context, version string) (bool, error) {
	return d.cache.has("vyper", version)
}

func (d *VyperDriver) DownloadVersion(ctx context.Context, version string) error {
	_, err := d.cache.fetch(ctx, "vyper", version, func(ctx context.Context, dest string) error {
		return d.download(ctx, version, dest)
	})
	return err
}

// vyperReleasesBase mirrors the Vyper project's GitHub release assets,
// named "vyper.<platform>" per tagged version.
const vyperReleasesBase = "https://github.com/vyperlang/vyper/releases/download"

func (d *VyperDriver) download(ctx context.Context, version, dest string) error {
	var asset string
	switch runtime.GOOS {
	case "linux":
		asset = "vyper.linux"
	case "darwin":
		asset = "vyper.darwin"
	case "windows":
		asset = "vyper.windows.exe"
	default:
		return fmt.Errorf("%w: unsupported platform %s", ErrUnsupportedLanguage, runtime.GOOS)
	}
	url := fmt.Sprintf("%s/v%s/%s", d.baseURL, version, asset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCompilerNotFound, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: version %s (status %d)", ErrInvalidCompilerVersion, version, resp.StatusCode)
	}

	out, err := newTempFileWriter(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

func (d *VyperDriver) Compile(ctx context.Context, in Input) (*Output, error) {
	if in.Language != LanguageVyper {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, in.Language)
	}

	available, err := d.IsVersionAvailable(ctx, in.Version)
	if err != nil {
		return nil, err
	}
	if !available {
		if err := d.DownloadVersion(ctx, in.Version); err != nil {
			return nil, err
		}
	}

	vyperPath := d.cache.path("vyper", in.Version)
	cmd := exec.CommandContext(ctx, vyperPath, "-f", "standard-json-input")
	cmd.Stdin = bytes.NewReader(in.JSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = limitedWriter(&stdout, maxCompilerOutputBytes)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		if stdout.Len() == 0 {
			return nil, fmt.Errorf("%w: %s", ErrCompilerError, stderr.String())
		}
	}

	out, err := parseStandardJSONOutput(stdout.Bytes(), in.Target)
	if err != nil {
		return nil, err
	}

	out.Language = LanguageVyper
	out.CompilerVersion = normalizeVyperVersion(in.Version)
	out.RawVersion = in.Version
	out.Target = in.Target
	if !strings.HasPrefix(out.Metadata, "{") {
		out.Metadata = ""
	}
	return out, nil
}
