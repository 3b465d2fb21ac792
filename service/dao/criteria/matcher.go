package criteria

import (
	"strings"

	"github.com/viant/kgrader/service/dao"
)

// FilterByPrefix reports whether key satisfies every prefix parameter.
func FilterByPrefix(key string, parameters []*dao.Parameter) bool {
	for _, parameter := range parameters {
		if parameter == nil || parameter.Name != dao.ParameterPrefix {
			continue
		}
		switch actual := parameter.Value.(type) {
		case string:
			if !strings.HasPrefix(key, actual) {
				return false
			}
		case []string:
			matched := false
			for _, prefix := range actual {
				if strings.HasPrefix(key, prefix) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
	}
	return true
}
