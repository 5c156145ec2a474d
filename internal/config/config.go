package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds everything the assembler needs besides the skip-build flag.
// Paths are relative to the working root unless absolute.
type Config struct {
	// Staging describes where the package tree is laid out.
	Staging Staging `yaml:"staging" toml:"staging"`
	// Build holds the platform build commands.
	Build Build `yaml:"build" toml:"build"`
	// VCS holds the command returning the latest commit.
	VCS VCS `yaml:"vcs" toml:"vcs"`
	// Archive holds the command turning the staging tree into a .deb.
	Archive Archive `yaml:"archive" toml:"archive"`
	// Control holds the static control manifest fields.
	Control Control `yaml:"control" toml:"control"`
	// Assets is the declarative list of files copied into the staging tree.
	Assets []Asset `yaml:"assets" toml:"assets"`
	// LockLifetime is how long a run marker held by a live process stays valid.
	LockLifetime time.Duration `yaml:"lock_lifetime" toml:"lock_lifetime"`
}

// Staging describes the staging tree.
type Staging struct {
	// BaseDir is created if absent and holds the tree, the archive and the release description.
	BaseDir string `yaml:"base_dir" toml:"base_dir"`
	// PackageDir is the tree directory name inside BaseDir, recreated on every run.
	PackageDir string `yaml:"package_dir" toml:"package_dir"`
	// Directories is the skeleton created inside the tree before copying.
	Directories []string `yaml:"directories" toml:"directories"`
}

// Build holds the build commands per platform.
type Build struct {
	// WindowsCommand is used when the platform is windows.
	WindowsCommand string `yaml:"windows_command" toml:"windows_command"`
	// UnixCommand is used on every other platform.
	UnixCommand string `yaml:"unix_command" toml:"unix_command"`
	// Target is appended to the build command.
	Target string `yaml:"target" toml:"target"`
}

// VCS holds the version-control query.
type VCS struct {
	// Command must print full hash, short hash and commit time on three lines.
	Command string `yaml:"command" toml:"command"`
}

// Archive holds the packaging tool invocation.
type Archive struct {
	// Command receives the staging tree path as its last argument.
	Command string `yaml:"command" toml:"command"`
}

// Control holds the control manifest fields that do not depend on the commit.
type Control struct {
	Package       string `yaml:"package" toml:"package"`
	VersionPrefix string `yaml:"version_prefix" toml:"version_prefix"`
	Section       string `yaml:"section" toml:"section"`
	Priority      string `yaml:"priority" toml:"priority"`
	Architecture  string `yaml:"architecture" toml:"architecture"`
	Maintainer    string `yaml:"maintainer" toml:"maintainer"`
	Description   string `yaml:"description" toml:"description"`
}

// Asset maps a source path to its place in the staging tree.
type Asset struct {
	// Source is relative to the working root.
	Source string `yaml:"source" toml:"source"`
	// Destination is relative to the staging tree. A trailing slash means
	// "into this directory" and keeps the source file name.
	Destination string `yaml:"destination" toml:"destination"`
	// Recursive copies the contents of the Source directory into Destination.
	Recursive bool `yaml:"recursive,omitempty" toml:"recursive,omitempty"`
	// Optional assets are skipped with a warning when Source does not exist.
	Optional bool `yaml:"optional,omitempty" toml:"optional,omitempty"`
}

const (
	// DefaultConfigFilename is looked up in the working root when --config is not given.
	DefaultConfigFilename = "casal2-deb.yaml"

	// DefaultLockLifetime bounds how long a live run may hold the staging tree.
	DefaultLockLifetime = 6 * time.Hour

	// DefaultFilePermissions is used for configuration files.
	DefaultFilePermissions = 0o644

	// PlatformWindows selects the batch build command.
	PlatformWindows = "windows"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnsupportedFormat is returned for config files that are neither YAML nor TOML.
	ErrUnsupportedFormat = errors.New("unsupported configuration format")
)

// Default returns the layout, commands and asset list of the Casal2 Linux package.
func Default() *Config {
	const (
		bin    = "usr/local/bin/"
		lib    = "usr/local/lib/"
		docDir = "usr/local/share/doc/"
	)

	return &Config{
		Staging: Staging{
			BaseDir:    "bin/linux/deb",
			PackageDir: "Casal2",
			Directories: []string{
				bin,
				lib,
				docDir + "casal2",
				docDir + "ContributorsGuide",
				docDir + "README",
				docDir + "R-library",
				docDir + "Examples",
				"DEBIAN",
			},
		},
		Build: Build{
			WindowsCommand: "cmd /C doBuild.bat",
			UnixCommand:    "./doBuild.sh",
			Target:         "archive",
		},
		VCS: VCS{
			Command: "git --no-pager log -n 1 --pretty=format:%H%n%h%n%ci",
		},
		Archive: Archive{
			Command: "dpkg-deb --build",
		},
		Control: Control{
			Package:       "Casal2",
			VersionPrefix: "0x",
			Section:       "base",
			Priority:      "optional",
			Architecture:  "amd64",
			Maintainer:    "NIWA <casal2@niwa.co.nz>",
			Description:   "Casal2 Modeling Platform",
		},
		Assets: []Asset{
			{Source: "Casal2/casal2", Destination: bin},
			{Source: "Casal2/casal2_adolc.so", Destination: lib},
			{Source: "Casal2/casal2_betadiff.so", Destination: lib},
			{Source: "Casal2/casal2_cppad.so", Destination: lib},
			{Source: "Casal2/casal2_release.so", Destination: lib},
			{Source: "Casal2/casal2_test.so", Destination: lib},
			{Source: "../Documentation/UserManual/CASAL2.pdf", Destination: docDir + "casal2/"},
			{Source: "../Documentation/ContributorsManual/ContributorsGuide.pdf", Destination: docDir + "ContributorsGuide/"},
			{Source: "../README.txt", Destination: docDir + "README/"},
			{Source: "../Examples", Destination: docDir + "Examples", Recursive: true},
			{Source: "../R-libraries/casal_2.30.tar.gz", Destination: docDir + "R-library/casal_2.30.tar.gz"},
			{Source: "../R-libraries/casal2_1.0.tar.gz", Destination: docDir + "R-library/casal2_1.0.tar.gz"},
		},
		LockLifetime: DefaultLockLifetime,
	}
}

// Load reads configuration from path on top of Default and validates it.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err = toml.Decode(string(contents), cfg); err != nil {
			return nil, fmt.Errorf("decode toml settings: %w", err)
		}
	case ".yaml", ".yml", "":
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads path when given. Without a path it loads
// DefaultConfigFilename from workDir if present and falls back to Default.
func LoadOrDefault(path, workDir string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	candidate := filepath.Join(workDir, DefaultConfigFilename)
	if _, err := os.Stat(candidate); err == nil {
		return Load(candidate)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat settings: %w", err)
	}

	cfg := Default()
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to path as YAML or TOML, depending on the extension.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var sb strings.Builder
		if err = toml.NewEncoder(&sb).Encode(cfg); err != nil {
			return fmt.Errorf("encode toml settings: %w", err)
		}

		data = []byte(sb.String())
	case ".yaml", ".yml", "":
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("marshal settings: %w", err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and fills defaults for optional ones.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.LockLifetime <= 0 {
		cfg.LockLifetime = DefaultLockLifetime
	}

	required := map[string]string{
		"staging.base_dir":      cfg.Staging.BaseDir,
		"staging.package_dir":   cfg.Staging.PackageDir,
		"build.windows_command": cfg.Build.WindowsCommand,
		"build.unix_command":    cfg.Build.UnixCommand,
		"vcs.command":           cfg.VCS.Command,
		"archive.command":       cfg.Archive.Command,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidConfig, key)
		}
	}

	if err := validateRelative("staging.package_dir", cfg.Staging.PackageDir); err != nil {
		return err
	}

	if strings.ContainsAny(cfg.Staging.PackageDir, `/\`) {
		return fmt.Errorf("%w: staging.package_dir must be a single path element", ErrInvalidConfig)
	}

	for _, dir := range cfg.Staging.Directories {
		if err := validateRelative("staging.directories", dir); err != nil {
			return err
		}
	}

	for i, asset := range cfg.Assets {
		if strings.TrimSpace(asset.Source) == "" {
			return fmt.Errorf("%w: assets[%d].source is required", ErrInvalidConfig, i)
		}

		if err := validateRelative(fmt.Sprintf("assets[%d].destination", i), asset.Destination); err != nil {
			return err
		}
	}

	return nil
}

// BuildCommand returns the build command line for the platform (a GOOS value).
func (c *Config) BuildCommand(platform string) string {
	if strings.EqualFold(platform, PlatformWindows) {
		return c.Build.WindowsCommand
	}

	return c.Build.UnixCommand
}

// validateRelative rejects empty, absolute and escaping paths inside the staging tree.
func validateRelative(key, value string) error {
	value = strings.ReplaceAll(strings.TrimSpace(value), `\`, "/")
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, key)
	}

	if path.IsAbs(value) || filepath.IsAbs(value) {
		return fmt.Errorf("%w: %s must be relative: %s", ErrInvalidConfig, key, value)
	}

	cleaned := path.Clean(value)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: %s escapes the staging tree: %s", ErrInvalidConfig, key, value)
	}

	return nil
}
