package patcher

import (
	"fmt"
	"strings"
)

// Config is the remote patcher configuration (patcher.ini), a key=value
// grammar with # comments. Unknown keys are an error; missing keys keep
// their defaults.
type Config struct {
	PatcherExeVersion     string
	ServerDirectory       string
	DownloadDirectory     string
	PatcherDirectory      string
	InstallerDirectory    string
	VersionFile           string
	IndexFile             string
	DefaultManifestFile   string
	MinimalManifestFile   string
	HotfixManifestFile    string
	PackCatalog           string
	DefaultInstallPath    string
	InstallKey            string
	InstallFile           string
	ConfigFile            string
	WinExclude            []string
	MacExclude            []string
	NoClean               []string
	Caption               string
	CacheFile             string
	Check                 bool
	QuickCheck            bool
	Clean                 bool
	Log                   bool
	WaitStart             bool
	UseDefaultInstallPath bool
	UseDynamicDownload    bool
}

// DefaultConfig returns the defaults the shipped client assumes when a key
// is absent from patcher.ini.
func DefaultConfig() *Config {
	return &Config{
		ServerDirectory:     "lwoclient",
		DownloadDirectory:   "versions",
		PatcherDirectory:    "patcher",
		InstallerDirectory:  "installer",
		VersionFile:         "version.txt",
		IndexFile:           "index.txt",
		DefaultManifestFile: "trunk.txt",
		MinimalManifestFile: "frontend.txt",
		HotfixManifestFile:  "hotfix.txt",
		PackCatalog:         "primary.pki",
		DefaultInstallPath:  "..",
		InstallKey:          "Software\\NetDevil\\LEGO Universe",
		InstallFile:         "lego_universe_install.exe",
		ConfigFile:          "{%installpath}\\client\\boot.cfg",
		WinExclude: []string{
			"client/legouniverse_mac.exe",
			"client/stlport.5.2.dll",
			"cider/*",
			"patcher/*",
		},
		MacExclude: []string{
			"client/legouniverse.exe",
			"client/d3dx9_34.dll",
			"client/awesomium.dll",
			"patcher/*",
		},
		Caption:               "LEGO Universe Updater",
		CacheFile:             "quickcheck.txt",
		Check:                 true,
		QuickCheck:            true,
		Clean:                 true,
		Log:                   true,
		WaitStart:             true,
		UseDefaultInstallPath: true,
		UseDynamicDownload:    true,
	}
}

func isTrue(s string) bool {
	return s == "Yes" || s == "True"
}

func splitList(s string) []string {
	return strings.Split(s, ",")
}

// ParseConfig parses patcher.ini text over the defaults.
func ParseConfig(s string) (*Config, error) {
	cfg := DefaultConfig()
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"`)
		switch key {
		case "patcherexeversion":
			cfg.PatcherExeVersion = value
		case "serverdirectory":
			cfg.ServerDirectory = value
		case "downloaddirectory":
			cfg.DownloadDirectory = value
		case "patcherdirectory":
			cfg.PatcherDirectory = value
		case "installerdirectory":
			cfg.InstallerDirectory = value
		case "versionfile":
			cfg.VersionFile = value
		case "indexfile":
			cfg.IndexFile = value
		case "defaultmanifestfile":
			cfg.DefaultManifestFile = value
		case "minimalmanifestfile":
			cfg.MinimalManifestFile = value
		case "hotfixmanifestfile":
			cfg.HotfixManifestFile = value
		case "packcatalog":
			cfg.PackCatalog = value
		case "defaultinstallpath":
			cfg.DefaultInstallPath = value
		case "installkey":
			cfg.InstallKey = value
		case "installfile":
			cfg.InstallFile = value
		case "configfile":
			cfg.ConfigFile = value
		case "win_exclude":
			cfg.WinExclude = splitList(value)
		case "mac_exclude":
			cfg.MacExclude = splitList(value)
		case "noclean":
			cfg.NoClean = append(cfg.NoClean, value)
		case "caption":
			cfg.Caption = value
		case "cachefile":
			cfg.CacheFile = value
		case "check":
			cfg.Check = isTrue(value)
		case "quickcheck":
			cfg.QuickCheck = isTrue(value)
		case "clean":
			cfg.Clean = isTrue(value)
		case "log":
			cfg.Log = isTrue(value)
		case "waitstart":
			cfg.WaitStart = isTrue(value)
		case "usedefaultinstallpath":
			cfg.UseDefaultInstallPath = isTrue(value)
		case "usedynamicdownload":
			cfg.UseDynamicDownload = isTrue(value)
		default:
			return nil, fmt.Errorf("unknown key %q in patcher config", key)
		}
	}
	return cfg, nil
}

// ManifestFor maps a selection name to the configured manifest file.
func (c *Config) ManifestFor(selection string) (string, error) {
	switch selection {
	case "default", "":
		return c.DefaultManifestFile, nil
	case "minimal":
		return c.MinimalManifestFile, nil
	case "hotfix":
		return c.HotfixManifestFile, nil
	}
	return "", fmt.Errorf("unknown manifest selection %q: want default, minimal or hotfix", selection)
}

// ConfigKey is the manifest path of the patcher's own config file.
func (c *Config) ConfigKey() string {
	return c.PatcherDirectory + "/patcher.ini"
}

// InstallFileKey is the manifest path of the standalone installer.
func (c *Config) InstallFileKey() string {
	return c.InstallerDirectory + "/" + c.InstallFile
}
