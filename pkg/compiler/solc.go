package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
)

// SolcDriver invokes a native solc binary with --standard-json. It also
// handles Yul input, since solc compiles Yul directly but never emits a
// metadata blob for it.
type SolcDriver struct {
	cache      *binaryCache
	httpClient *http.Client
	baseURL    string
}

// NewSolcDriver returns a driver that caches downloaded solc binaries under
// binDir, fetched from the default soliditylang.org release mirror.
func NewSolcDriver(binDir string) *SolcDriver {
	return NewSolcDriverWithRepo(binDir, solcBinariesBase)
}

// NewSolcDriverWithRepo is NewSolcDriver with an overridden release mirror,
// for deployments that proxy or vendor solc binaries themselves.
func NewSolcDriverWithRepo(binDir, repo string) *SolcDriver {
	if repo == "" {
		repo = solcBinariesBase
	}
	return &SolcDriver{
		cache:      newBinaryCache(binDir),
		httpClient: http.DefaultClient,
		baseURL:    repo,
	}
}

func (d *SolcDriver) IsVersionAvailable(ctx context.Context, version string) (bool, error) {
	return d.cache.has("solc", version)
}

func (d *SolcDriver) DownloadVersion(ctx context.Context, version string) error {
	_, err := d.cache.fetch(ctx, "solc", version, func(ctx context.Context, dest string) error {
		return d.download(ctx, version, dest)
	})
	return err
}

// solcBinariesBase is the canonical distribution point for prebuilt solc
// releases, mirrored by the Solidity project itself.
const solcBinariesBase = "https://binaries.soliditylang.org"

func (d *SolcDriver) download(ctx context.Context, version, dest string) error {
	var url string
	switch runtime.GOOS {
	case "linux":
		url = fmt.Sprintf("%s/linux-amd64/solc-linux-amd64-v%s", d.baseURL, version)
	case "darwin":
		url = fmt.Sprintf("%s/macosx-amd64/solc-macosx-amd64-v%s", d.baseURL, version)
	case "windows":
		url = fmt.Sprintf("%s/windows-amd64/solc-windows-amd64-v%s.exe", d.baseURL, version)
	default:
		return fmt.Errorf("%w: unsupported platform %s", ErrUnsupportedLanguage, runtime.GOOS)
	}

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

// Compile shells out to the cached solc binary for in.Version with
// --standard-json on stdin, then extracts in.Target from the output.
func (d *SolcDriver) Compile(ctx context.Context, in Input) (*Output, error) {
	if in.Language != LanguageSolidity && in.Language != LanguageYul {
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

	solcPath := d.cache.path("solc", in.Version)
	cmd := exec.CommandContext(ctx, solcPath, "--standard-json")
	cmd.Stdin = bytes.NewReader(in.JSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = limitedWriter(&stdout, maxCompilerOutputBytes)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		// solc reports compile errors via stdout JSON, not exit status;
		// a nonzero exit with empty stdout means solc itself failed.
		if stdout.Len() == 0 {
			return nil, fmt.Errorf("%w: %s", ErrCompilerError, stderr.String())
		}
	}

	out, err := parseStandardJSONOutput(stdout.Bytes(), in.Target)
	if err != nil {
		return nil, err
	}
	out.Language = in.Language
	out.CompilerVersion = in.Version
	out.RawVersion = in.Version
	out.Target = in.Target

	if in.Language == LanguageYul {
		out.Metadata = ""
	}
	return out, nil
}

type standardJSONOutput struct {
	Errors    []compilerDiagnostic                           `json:"errors"`
	Contracts map[string]map[string]standardJSONContractEntry `json:"contracts"`
}

type standardJSONContractEntry struct {
	ABI      json.RawMessage `json:"abi"`
	Metadata string          `json:"metadata"`
	Evm      struct {
		Bytecode         standardJSONBytecode `json:"bytecode"`
		DeployedBytecode standardJSONBytecode `json:"deployedBytecode"`
	} `json:"evm"`
}

type standardJSONBytecode struct {
	Object              string                         `json:"object"`
	LinkReferences       map[string]map[string][]struct {
		Start  int `json:"start"`
		Length int `json:"length"`
	} `json:"linkReferences"`
	ImmutableReferences map[string][]struct {
		Start  int `json:"start"`
		Length int `json:"length"`
	} `json:"immutableReferences"`
	CborAuxdata map[string]CborAuxdataPosition `json:"cborAuxdata"`
}

func parseStandardJSONOutput(raw []byte, target Target) (*Output, error) {
	if len(raw) == 0 {
		return nil, ErrNoCompilerOutput
	}

	var parsed standardJSONOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCompilerOutput, err)
	}
	if err := firstFatalError(parsed.Errors); err != nil {
		return nil, err
	}
	if len(parsed.Contracts) == 0 {
		return nil, ErrNoCompilerOutput
	}

	contracts, ok := parsed.Contracts[target.Path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFoundInCompilerOutput, target.FullyQualifiedName())
	}
	contract, ok := contracts[target.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFoundInCompilerOutput, target.FullyQualifiedName())
	}

	out := &Output{
		ABI:              contract.ABI,
		Metadata:         contract.Metadata,
		CreationBytecode: strings.TrimPrefix(contract.Evm.Bytecode.Object, "0x"),
		RuntimeBytecode:  strings.TrimPrefix(contract.Evm.DeployedBytecode.Object, "0x"),
	}

	out.CreationLinkReferences = convertLinkReferences(contract.Evm.Bytecode.LinkReferences)
	out.RuntimeLinkReferences = convertLinkReferences(contract.Evm.DeployedBytecode.LinkReferences)
	out.ImmutableReferences = convertImmutableReferences(contract.Evm.DeployedBytecode.ImmutableReferences)
	out.CreationCborAuxdata = contract.Evm.Bytecode.CborAuxdata
	out.RuntimeCborAuxdata = contract.Evm.DeployedBytecode.CborAuxdata

	return out, nil
}

func convertLinkReferences(in map[string]map[string][]struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}) map[string]map[string][]LinkReference {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]map[string][]LinkReference, len(in))
	for path, libs := range in {
		out[path] = make(map[string][]LinkReference, len(libs))
		for name, ranges := range libs {
			converted := make([]LinkReference, 0, len(ranges))
			for _, r := range ranges {
				converted = append(converted, LinkReference{Start: r.Start, Length: r.Length})
			}
			out[path][name] = converted
		}
	}
	return out
}

func convertImmutableReferences(in map[string][]struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}) map[string][]ImmutableReference {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]ImmutableReference, len(in))
	for id, ranges := range in {
		converted := make([]ImmutableReference, 0, len(ranges))
		for _, r := range ranges {
			converted = append(converted, ImmutableReference{Start: r.Start, Length: r.Length})
		}
		out[id] = converted
	}
	return out
}
