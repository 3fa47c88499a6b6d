package stage

import "context"

// Health summarizes the readiness of a pipeline stage.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Pinger verifies an external dependency such as the judgment service.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// CheckDependency reports name ready when dep cannot be pinged or answers
// its ping.
func CheckDependency(ctx context.Context, name string, dep any) Health {
	p, ok := dep.(Pinger)
	if !ok || p == nil {
		return Healthy(name)
	}
	if err := p.HealthCheck(ctx); err != nil {
		return Unhealthy(name, err.Error())
	}
	return Healthy(name)
}
