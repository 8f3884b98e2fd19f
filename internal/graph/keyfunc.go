package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dandantas/vcollab/internal/topology"
	"github.com/oliveagle/jsonpath"
)

// KeyFunc returns the grouping key of a VM. An empty key leaves the VM ungrouped.
type KeyFunc func(vm topology.VM) (string, error)

// ParentKey groups VMs by their parent reference
func ParentKey(vm topology.VM) (string, error) {
	return vm.Parent, nil
}

// JSONPathKey evaluates expr against the JSON document of each VM, for example
// "$.cluster" or "$.tags[0]". A path that matches nothing yields an empty key.
func JSONPathKey(expr string) (KeyFunc, error) {
	if strings.TrimSpace(expr) == "" || expr == "$.parent" {
		return ParentKey, nil
	}

	pattern, err := jsonpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath expression '%s': %w", expr, err)
	}

	return func(vm topology.VM) (string, error) {
		raw, err := json.Marshal(vm)
		if err != nil {
			return "", fmt.Errorf("failed to encode vm %s: %w", vm.MOID, err)
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return "", fmt.Errorf("failed to decode vm %s: %w", vm.MOID, err)
		}

		value, err := pattern.Lookup(doc)
		if err != nil {
			// missing keys are not an error, the VM stays ungrouped
			return "", nil
		}
		return keyString(value), nil
	}, nil
}

// keyString renders a JSONPath result as a group key. Lists use their first non-empty
// element.
func keyString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []interface{}:
		for _, item := range v {
			if s := keyString(item); s != "" {
				return s
			}
		}
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
