// Package profile selects which remote items a run transfers. Profiles are
// named include/exclude pattern sets loaded from YAML; patterns match both
// the item's relative path and its base name, shell style.
package profile

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// Profile is a named filter.
type Profile struct {
	Name    string   `yaml:"name"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// File is the on-disk shape of a profiles file.
type File struct {
	Profiles []Profile `yaml:"profiles"`
}

// Load reads a profiles YAML file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	return &f, nil
}

// Get returns the named profile.
func (f *File) Get(name string) (*Profile, error) {
	for i := range f.Profiles {
		if f.Profiles[i].Name == name {
			return &f.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("profile %q not found", name)
}

// Filter decides inclusion for relative paths. A nil Filter includes
// everything.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter builds a Filter from a profile. A nil profile yields a nil
// Filter.
func NewFilter(p *Profile) *Filter {
	if p == nil {
		return nil
	}
	return &Filter{include: p.Include, exclude: p.Exclude}
}

// ShouldInclude reports whether rel passes the filter. Excludes win over
// includes; an empty include list means include all.
func (f *Filter) ShouldInclude(rel string) bool {
	if f == nil {
		return true
	}
	if matchAny(f.exclude, rel) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	return matchAny(f.include, rel)
}

// ShouldDescend reports whether a directory at rel should be walked.
// Only excludes apply here; include patterns name files, so a directory
// that matches no include may still hold files that do.
func (f *Filter) ShouldDescend(rel string) bool {
	if f == nil {
		return true
	}
	return !matchAny(f.exclude, rel)
}

func matchAny(patterns []string, rel string) bool {
	base := path.Base(rel)
	for _, p := range patterns {
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}
