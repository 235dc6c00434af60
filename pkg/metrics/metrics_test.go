package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(plays.WithLabelValues("wheel", "rejected"))
	RecordPlay("wheel", "rejected")
	assert.Equal(t, before+1, testutil.ToFloat64(plays.WithLabelValues("wheel", "rejected")))

	RecordCredit("review", 0.25)
	RecordCredit("review", 0.75)
	assert.GreaterOrEqual(t, testutil.ToFloat64(loyaltyCredited.WithLabelValues("review")), 1.0)

	before = testutil.ToFloat64(referralRedemptions.WithLabelValues("true"))
	RecordRedemption(true)
	assert.Equal(t, before+1, testutil.ToFloat64(referralRedemptions.WithLabelValues("true")))
}
