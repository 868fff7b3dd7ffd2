package metrics

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestReserveMetrics(t *testing.T) {
	m := Reserve()
	m.SetSolvency(big.NewInt(500), big.NewInt(120))
	if got := testutil.ToFloat64(m.reserve); got != 500 {
		t.Fatalf("reserve gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.outstanding); got != 120 {
		t.Fatalf("outstanding gauge = %v", got)
	}

	m.ObserveCheck(3, big.NewInt(2), nil, time.Millisecond)
	m.ObserveCheck(3, nil, errors.New("broken"), time.Millisecond)
	if got := testutil.ToFloat64(m.checks.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok checks = %v", got)
	}
	if got := testutil.ToFloat64(m.checks.WithLabelValues("violated")); got != 1 {
		t.Fatalf("violated checks = %v", got)
	}
	if got := testutil.ToFloat64(m.roundingDust); got != 2 {
		t.Fatalf("dust gauge = %v", got)
	}

	var nilMetrics *ReserveMetrics
	nilMetrics.SetSolvency(big.NewInt(1), nil)
	nilMetrics.RecordWebhookFailure("x")
}
