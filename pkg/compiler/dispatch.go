package compiler

import (
	"context"
	"fmt"
)

// MultiDriver routes a compilation to the driver registered for its
// language. The verifier holds one MultiDriver and never needs to know
// which concrete driver backs a given language.
type MultiDriver struct {
	solidity *SolcDriver
	vyper    *VyperDriver
}

// NewMultiDriver wires a SolcDriver (serving both Solidity and Yul) and a
// VyperDriver, each caching binaries under its own subdirectory of binDir.
func NewMultiDriver(binDir string) *MultiDriver {
	return &MultiDriver{
		solidity: NewSolcDriver(binDir + "/solc"),
		vyper:    NewVyperDriver(binDir + "/vyper"),
	}
}

// NewMultiDriverWithRepos is NewMultiDriver with overridden release
// mirrors for solc and vyper, as configured by internal/config.CompilerConfig.
func NewMultiDriverWithRepos(binDir, solcRepo, vyperRepo string) *MultiDriver {
	return &MultiDriver{
		solidity: NewSolcDriverWithRepo(binDir+"/solc", solcRepo),
		vyper:    NewVyperDriverWithRepo(binDir+"/vyper", vyperRepo),
	}
}

func (m *MultiDriver) driverFor(lang Language) (Driver, error) {
	switch lang {
	case LanguageSolidity, LanguageYul:
		return m.solidity, nil
	case LanguageVyper:
		return m.vyper, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
}

func (m *MultiDriver) Compile(ctx context.Context, in Input) (*Output, error) {
	d, err := m.driverFor(in.Language)
	if err != nil {
		return nil, err
	}
	return d.Compile(ctx, in)
}

func (m *MultiDriver) IsVersionAvailable(ctx context.Context, version string) (bool, error) {
	return false, fmt.Errorf("%w: MultiDriver requires a language to check availability", ErrUnsupportedLanguage)
}

func (m *MultiDriver) DownloadVersion(ctx context.Context, version string) error {
	return fmt.Errorf("%w: MultiDriver requires a language to download", ErrUnsupportedLanguage)
}

// IsVersionAvailableFor and DownloadVersionFor are the language-aware
// variants of IsVersionAvailable and DownloadVersion; nothing in this module
// calls them.
func (m *MultiDriver) IsVersionAvailableFor(ctx context.Context, lang Language, version string) (bool, error) {
	d, err := m.driverFor(lang)
	if err != nil {
		return false, err
	}
	return d.IsVersionAvailable(ctx, version)
}

func (m *MultiDriver) DownloadVersionFor(ctx context.Context, lang Language, version string) error {
	d, err := m.driverFor(lang)
	if err != nil {
		return err
	}
	return d.DownloadVersion(ctx, version)
}
