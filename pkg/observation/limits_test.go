package observation

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	valid := Observation{Entity: "SalesPortal", Resource: "AWS Lambda", Cost: 12.5}

	tests := []struct {
		name   string
		mutate func(o *Observation)
		strict bool
		want   error
	}{
		{name: "valid", mutate: func(o *Observation) {}},
		{name: "empty entity", mutate: func(o *Observation) { o.Entity = "" }, want: ErrEntityEmpty},
		{name: "empty resource", mutate: func(o *Observation) { o.Resource = "" }, want: ErrResourceEmpty},
		{name: "long entity", mutate: func(o *Observation) { o.Entity = strings.Repeat("x", MaxNameLength+1) }, want: ErrNameTooLong},
		{name: "nul in resource", mutate: func(o *Observation) { o.Resource = "a\x00b" }, want: ErrInvalidName},
		{name: "nan cost", mutate: func(o *Observation) { o.Cost = math.NaN() }, want: ErrCostNotFinite},
		{name: "negative cost lenient", mutate: func(o *Observation) { o.Cost = -1 }},
		{name: "negative cost strict", mutate: func(o *Observation) { o.Cost = -1 }, strict: true, want: ErrNegativeCost},
		{name: "negative day", mutate: func(o *Observation) { o.Day = -3 }, want: ErrNegativeDay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)
			err := Validate(o, tt.strict)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEntitiesAndResources_FirstSeenOrder(t *testing.T) {
	obs := []Observation{
		{Entity: "b", Resource: "y"},
		{Entity: "a", Resource: "x"},
		{Entity: "b", Resource: "x"},
	}

	require.Equal(t, []string{"b", "a"}, Entities(obs))
	require.Equal(t, []string{"y", "x"}, Resources(obs))
	require.NotEqual(t, SeriesKey("ab", "c"), SeriesKey("a", "bc"))
}
