package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
)

const (
	secretSchemeEnv  = "env://"
	secretSchemeFile = "file://"
)

// resolveSecrets walks cfg (a *DaemonConfig or *CtlConfig) and rewrites any
// string field holding an env:// or file:// reference in place. This is how
// TLS.KeyFile or a future hub auth token gets kept out of the config file on
// disk: the file names a reference, and the real value only ever exists in
// memory after loading, the environment, or a root-only secret file.
func resolveSecrets(cfg interface{}) error {
	return walkSecretFields(reflect.ValueOf(cfg))
}

func walkSecretFields(v reflect.Value) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if f := v.Field(i); f.CanSet() {
				if err := walkSecretFields(f); err != nil {
					return err
				}
			}
		}
	case reflect.String:
		if v.CanSet() {
			resolved, err := dereferenceSecret(v.String())
			if err != nil {
				return err
			}
			v.SetString(resolved)
		}
	}

	return nil
}

// dereferenceSecret resolves one field value if it carries a secret scheme
// prefix; plain values (the common case — most config keys aren't secrets
// at all) pass through unchanged.
func dereferenceSecret(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, secretSchemeEnv):
		name := strings.TrimPrefix(value, secretSchemeEnv)
		v := os.Getenv(name)
		if v == "" {
			return "", fmt.Errorf("config: environment variable %q not set", name)
		}
		return v, nil

	case strings.HasPrefix(value, secretSchemeFile):
		path := strings.TrimPrefix(value, secretSchemeFile)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("config: read secret file %q: %w", path, err)
		}
		return strings.TrimSpace(string(data)), nil

	default:
		return value, nil
	}
}
