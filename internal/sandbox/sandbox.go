// Package sandbox confines job scripts to their owner's web root.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

var (
	ErrOutsideSandbox = errors.New("path outside sandbox")
	ErrUnresolvable   = errors.New("path cannot be resolved")
	ErrInvalidOwner   = errors.New("invalid owner name")
)

const (
	rootCacheTTL     = 5 * time.Minute
	rootCacheCleanup = 10 * time.Minute
	baseKey          = "web_root"
)

type Validator struct {
	webRoot string
	logger  *logrus.Logger
	roots   *cache.Cache
}

func NewValidator(webRoot string, logger *logrus.Logger) (*Validator, error) {
	if webRoot == "" || !filepath.IsAbs(webRoot) {
		return nil, fmt.Errorf("web root must be an absolute path, got %q", webRoot)
	}

	return &Validator{
		webRoot: filepath.Clean(webRoot),
		logger:  logger,
		roots:   cache.New(rootCacheTTL, rootCacheCleanup),
	}, nil
}

// Root returns the normalized sandbox root for owner
func (v *Validator) Root(owner string) (string, error) {
	if owner == "" || owner == "." || owner == ".." || strings.ContainsAny(owner, `/\`) || strings.ContainsRune(owner, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidOwner, owner)
	}
	return filepath.Clean(v.webRoot + "/" + owner), nil
}

// Resolve canonicalizes path and verifies it lies inside owner's sandbox.
// Relative paths are taken relative to the sandbox root.
func (v *Validator) Resolve(path, owner string) (string, error) {
	root, err := v.Root(owner)
	if err != nil {
		return "", err
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(candidate))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnresolvable, path, err)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnresolvable, path, err)
	}

	// only the base is canonicalized; a symlinked owner directory must not
	// widen the sandbox to wherever it points
	canonicalRoot := filepath.Join(v.canonicalBase(), owner)
	if !contains(canonicalRoot, resolved) {
		v.logger.WithFields(logrus.Fields{
			"owner":    owner,
			"path":     path,
			"resolved": resolved,
			"root":     canonicalRoot,
		}).Warn("Script resolves outside sandbox")
		return "", fmt.Errorf("%w: %s resolves to %s, outside %s", ErrOutsideSandbox, path, resolved, canonicalRoot)
	}

	return resolved, nil
}

// Within reports whether path resolves inside owner's sandbox
func (v *Validator) Within(path, owner string) bool {
	_, err := v.Resolve(path, owner)
	return err == nil
}

// canonicalBase resolves symlinks in the web root itself so that a symlinked
// base does not reject every script. A missing base is returned as-is.
func (v *Validator) canonicalBase() string {
	if cached, ok := v.roots.Get(baseKey); ok {
		return cached.(string)
	}

	resolved, err := filepath.EvalSymlinks(v.webRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			v.logger.WithError(err).WithField("web_root", v.webRoot).Debug("Failed to resolve web root")
		}
		return v.webRoot
	}

	v.roots.Set(baseKey, resolved, cache.DefaultExpiration)
	return resolved
}

func contains(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}
