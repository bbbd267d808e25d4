// SPDX-License-Identifier: ice License 1.0

//go:build test

package cfg

import (
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cockroachdb/errors"
)

func init() {
	mustInit(findAllApplicationConfigFiles()...)
}

// The package under test wins over the module root: `.testdata/application.yaml` in the working
// directory, then `application.yaml` in the working directory, then the module root one.
func findAllApplicationConfigFiles() []string {
	var files []string
	if wd, err := os.Getwd(); err == nil {
		files = append(files, glob(filepath.Join(wd, ".testdata", "application.yaml"))...)
		files = append(files, glob(filepath.Join(wd, "application.yaml"))...)
	}
	//nolint:dogsled // Because those 3 blank identifiers are useless
	_, callerFile, _, _ := runtime.Caller(0)

	return append(files, glob(filepath.Join(filepath.Dir(callerFile), "..", "application.yaml"))...)
}

func glob(pattern string) []string {
	f, err := filepath.Glob(pattern)
	if err != nil {
		log.Println(errors.Wrapf(err, "glob failed for [%v]", pattern))
	}

	return f
}
