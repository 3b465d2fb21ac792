package dao

// ParameterPrefix restricts List to keys starting with the given value.
const ParameterPrefix = "Prefix"

type Parameter struct {
	Name  string
	Value interface{}
}

func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}

// WithPrefix returns a key prefix parameter.
func WithPrefix(prefix string) *Parameter {
	return NewParameter(ParameterPrefix, prefix)
}
