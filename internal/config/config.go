// Package config resolves the session's small environment-variable
// surface (spec.md section 6). It follows gravwell/ingest/config's
// env.go pattern: a thin loadEnv/loadEnvFile helper pair with an `_FILE`
// fallback for values too sensitive or too long to pass as a literal
// environment variable, and sentinel errors rather than panics for bad
// input. This system has no on-disk config file format of its own (see
// DESIGN.md on gravwell's gcfg/ini parser being left unwired), so only the
// environment-driven path is implemented.
package config

import (
	"bufio"
	"errors"
	"os"

	"github.com/charmoniumQ/provenance-to-use/internal/provlog"
)

const (
	envProvenanceMode   = "IN_CDE_PROVENANCE_MODE"
	envParentNamespace  = "CDE_PROV_NAMESPACE"
	envLogLevel         = "CDE_PROV_LOG_LEVEL"
	envPackageDir       = "CDE_PROV_PACKAGE_DIR"
	envRootName         = "CDE_PROV_ROOT_NAME"
)

var (
	errNoEnvArg     = errors.New("config: environment variable not set")
	ErrEmptyEnvFile = errors.New("config: environment secret file is empty")
)

// Session is the resolved set of session parameters this system needs at
// bootstrap.
type Session struct {
	// ForceProvenance mirrors IN_CDE_PROVENANCE_MODE == "1": when true, the
	// collaborator's exec-mode flag is overridden and provenance recording
	// is always on.
	ForceProvenance bool
	// ParentNamespace is the invoking session's namespace, recorded
	// verbatim as meta.parentns. Empty when this is a root session.
	ParentNamespace string
	// LogLevel controls the diagnostic logger (internal/provlog), defaulting
	// to INFO when unset or invalid.
	LogLevel provlog.Level
	// PackageDir (P in spec.md section 6) is where the log/store pair is
	// created. Defaults to the current working directory.
	PackageDir string
	// RootName (R in spec.md section 6) is the log/store filename root.
	// Defaults to "provenance".
	RootName string
}

func loadEnvFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Scan()
	if err := sc.Err(); err != nil {
		return "", err
	}
	v := sc.Text()
	if v == "" {
		return "", ErrEmptyEnvFile
	}
	return v, nil
}

// loadEnv resolves nm directly, falling back to reading a path named by
// nm+"_FILE" if nm itself is unset.
func loadEnv(nm string) (string, error) {
	if v, ok := os.LookupEnv(nm); ok {
		return v, nil
	}
	if fp, ok := os.LookupEnv(nm + "_FILE"); ok {
		return loadEnvFile(fp)
	}
	return "", errNoEnvArg
}

// Load resolves a Session from the process environment, applying the
// defaults documented on the Session struct fields for anything unset.
func Load() Session {
	s := Session{
		LogLevel:   provlog.INFO,
		PackageDir: ".",
		RootName:   "provenance",
	}

	if v, err := loadEnv(envProvenanceMode); err == nil {
		s.ForceProvenance = v == "1"
	}
	if v, err := loadEnv(envParentNamespace); err == nil {
		s.ParentNamespace = v
	}
	if v, err := loadEnv(envLogLevel); err == nil {
		if lvl, err := provlog.LevelFromString(v); err == nil {
			s.LogLevel = lvl
		}
	}
	if v, err := loadEnv(envPackageDir); err == nil {
		s.PackageDir = v
	}
	if v, err := loadEnv(envRootName); err == nil {
		s.RootName = v
	}
	return s
}
