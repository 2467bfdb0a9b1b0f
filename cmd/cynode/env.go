package main

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/opencyphal-garage/cynode/pkg/register"
)

var errUnsupportedOverrideKind = errors.New("env override: unsupported register kind for this wire form")

// envOverrides scans the process environment for "UAVCAN__..." variables
// and returns them as register-name -> raw-string pairs (spec.md §6
// "Environment overrides (hosted deployments)": "UAVCAN__NODE__ID ...
// double underscore maps to dot").
func envOverrides() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "UAVCAN__") {
			continue
		}
		name := strings.ToLower(strings.ReplaceAll(k, "__", "."))
		out[name] = v
	}
	return out
}

// applyEnvOverrides applies every UAVCAN__... environment variable to its
// matching register in tree, parsing the raw string according to the
// register's existing Kind and width. Names that match no register are
// skipped silently; parse and override failures are passed to warn by
// name so one malformed override doesn't block the rest.
func applyEnvOverrides(tree *register.Tree, overrides map[string]string, warn func(name, raw string, err error)) {
	for name, raw := range overrides {
		reg, ok := tree.FindByName(name)
		if !ok {
			continue // not one of this node's recognized registers
		}
		val, err := parseOverride(reg.Value, raw)
		if err != nil {
			warn(name, raw, err)
			continue
		}
		if err := tree.Override(name, val); err != nil {
			warn(name, raw, err)
		}
	}
}

// parseOverride builds a register.Value of the same Kind/width as existing
// from raw, the only shapes spec.md §6's required register table actually
// needs for environment overrides (natural integers and strings).
func parseOverride(existing register.Value, raw string) (register.Value, error) {
	switch existing.Kind {
	case register.KindString:
		return register.String(raw), nil
	case register.KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return register.Value{}, err
		}
		return register.Value{
			Kind:      register.KindInt,
			IntSigned: existing.IntSigned,
			IntWidth:  existing.IntWidth,
			Ints:      []int64{n},
		}, nil
	default:
		return register.Value{}, errUnsupportedOverrideKind
	}
}
