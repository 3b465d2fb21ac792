package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/kgrader/service/dao"
)

func TestFilterByPrefix(t *testing.T) {
	testCases := []struct {
		name       string
		key        string
		parameters []*dao.Parameter
		expect     bool
	}{
		{name: "no parameters", key: "run-1/0001", expect: true},
		{name: "match", key: "run-1/0001", parameters: []*dao.Parameter{dao.WithPrefix("run-1/")}, expect: true},
		{name: "mismatch", key: "run-2/0001", parameters: []*dao.Parameter{dao.WithPrefix("run-1/")}, expect: false},
		{name: "any of", key: "run-2/0001", parameters: []*dao.Parameter{dao.NewParameter(dao.ParameterPrefix, "run-1/", "run-2/")}, expect: true},
		{name: "other parameter ignored", key: "x", parameters: []*dao.Parameter{dao.NewParameter("State", "done")}, expect: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, FilterByPrefix(tc.key, tc.parameters))
		})
	}
}
