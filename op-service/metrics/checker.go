package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	gocl "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// MetricFamilyChecker looks up individual metrics of one gathered family in tests.
type MetricFamilyChecker struct {
	fam *gocl.MetricFamily
	t   require.TestingT
}

func hasAllLabels(m *gocl.Metric, labels map[string]string) bool {
	for k, v := range labels {
		found := false
		for _, lab := range m.Label {
			if lab.GetName() == k && lab.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// FindByLabels finds the single metric that matches the given labels.
// If there is none, or more than one, it fails the test.
func (f *MetricFamilyChecker) FindByLabels(labels map[string]string) *gocl.Metric {
	var found *gocl.Metric
	for _, m := range f.fam.Metric {
		if hasAllLabels(m, labels) {
			require.Nil(f.t, found, "must not have already found another metric with same labels")
			found = m
		}
	}
	require.NotNil(f.t, found, "cannot find metric with labels")
	return found
}

// CounterValue sums the counters of every metric matching the labels.
func (f *MetricFamilyChecker) CounterValue(labels map[string]string) float64 {
	var sum float64
	for _, m := range f.fam.Metric {
		if hasAllLabels(m, labels) {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

type MetricFamiliesChecker struct {
	families []*gocl.MetricFamily
	t        require.TestingT
}

// FindByName finds a metric family by name.
// If not found, it fails the test.
func (m *MetricFamiliesChecker) FindByName(name string) *MetricFamilyChecker {
	for _, f := range m.families {
		if f.GetName() == name {
			return &MetricFamilyChecker{fam: f, t: m.t}
		}
	}
	require.FailNow(m.t, "cannot find metric family", name)
	return nil
}

// NewMetricChecker gathers the registry so tests can search it.
func NewMetricChecker(t require.TestingT, reg *prometheus.Registry) *MetricFamiliesChecker {
	families, err := reg.Gather()
	require.NoError(t, err, "must gather metrics")
	return &MetricFamiliesChecker{families: families, t: t}
}
