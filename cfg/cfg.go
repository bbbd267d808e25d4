// SPDX-License-Identifier: ice License 1.0

package cfg

import (
	"log"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultYAMLConfigurationFilePath = "application.yaml"
	modulePrefix                     = "github.com/ice-blockchain/devbridge/"
)

var (
	yamlConfigurationFilePathInitializer = new(sync.Once)
	yamlConfigurationFilePath            string
)

func MustInit(absoluteCfgPaths ...string) {
	yamlConfigurationFilePathInitializer.Do(func() { mustInit(absoluteCfgPaths...) })
}

func mustInit(absoluteCfgPaths ...string) {
	yamlConfigurationFilePath = ""
	for _, path := range absoluteCfgPaths {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err == nil {
			yamlConfigurationFilePath = path
			break
		}
	}
	if yamlConfigurationFilePath == "" {
		if len(absoluteCfgPaths) > 0 {
			log.Printf("warn: could not find any of the provided file paths %+v, defaulting to `%v`", absoluteCfgPaths, defaultYAMLConfigurationFilePath)
		}
		yamlConfigurationFilePath = defaultYAMLConfigurationFilePath
	}
}

// MustGet decodes the yaml section named after T's package path (relative to this module),
// i.e. `bridge.Config` is read from the `bridge` key.
func MustGet[T any]() *T {
	var t T
	key := Key[T]()
	if err := viper.UnmarshalKey(key, &t, viper.DecodeHook(decodeHook())); err != nil {
		log.Panic(errors.Wrapf(err, "could not deserialised `%v` yaml key `%v` into %+v", yamlConfigurationFilePath, key, t))
	}

	return &t
}

func Key[T any]() string {
	var t T

	return strings.Replace(reflect.TypeOf(t).PkgPath(), modulePrefix, "", 1)
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToURLHook,
	)
}

func stringToURLHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(url.URL{}) {
		return data, nil
	}
	u, err := url.Parse(data.(string)) //nolint:forcetypeassert // Checked above.
	if err != nil {
		return nil, errors.Wrapf(err, "invalid url %q", data)
	}

	return *u, nil
}
