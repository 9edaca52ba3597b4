// Package storage keeps the files uploaded for a cluster under an explicit
// root, one directory per cluster id.
package storage

import (
	"fmt"
	"github.com/pgacloud/manager/internal/naming"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"io"
	"os"
	"path/filepath"
	"sort"
)

const filesDir = "files"

// Store is a handle on the upload root.
type Store struct {
	fs   afero.Fs
	root string
}

// New returns a store keeping files under {root}/files.
func New(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: filepath.Join(root, filesDir)}
}

// NewOS is New on the real filesystem.
func NewOS(root string) *Store {
	return New(afero.NewOsFs(), root)
}

// Dir is the directory holding a cluster's files.
func (s *Store) Dir(id naming.ClusterID) string {
	return filepath.Join(s.root, string(id))
}

// Save writes one file for a cluster, replacing any previous content.
func (s *Store) Save(id naming.ClusterID, name string, r io.Reader) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.Dir(id), 0o755); err != nil {
		return errors.Wrapf(err, "unable to create upload directory for %s", id)
	}
	f, err := s.fs.OpenFile(filepath.Join(s.Dir(id), name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "unable to create %s", name)
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "unable to write %s", name)
	}
	return f.Close()
}

// Read returns the content of one of a cluster's files.
func (s *Store) Read(id naming.ClusterID, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, filepath.Join(s.Dir(id), name))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", name)
	}
	return data, nil
}

// List returns the names of a cluster's files, sorted.
func (s *Store) List(id naming.ClusterID) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.Dir(id))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list files of %s", id)
	}
	var names []string
	for _, fi := range infos {
		if fi.Mode().IsRegular() {
			names = append(names, fi.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes every file of a cluster.
func (s *Store) Remove(id naming.ClusterID) error {
	return errors.Wrapf(s.fs.RemoveAll(s.Dir(id)), "unable to remove files of %s", id)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}
