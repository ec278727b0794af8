package quota

import "fmt"

type Method string

const (
	MethodWalk Method = "walk"
	MethodDu   Method = "du"
)

var registry = map[Method]func() Estimator{}

// Register makes an estimator selectable by name; implementations call it from init.
func Register(m Method, f func() Estimator) {
	registry[m] = f
}

func New(m Method) (Estimator, error) {
	if m == "" {
		m = MethodWalk
	}
	f, ok := registry[m]
	if !ok {
		return nil, fmt.Errorf("unsupported size method: %s", m)
	}
	return f(), nil
}
