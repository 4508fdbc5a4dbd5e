package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurn(t *testing.T) {
	before := testutil.ToFloat64(TurnsTotal.WithLabelValues("completed"))

	RecordTurn("completed", 1.5)

	after := testutil.ToFloat64(TurnsTotal.WithLabelValues("completed"))
	if after != before+1 {
		t.Errorf("expected turns_total to grow by 1, got %f -> %f", before, after)
	}
}

func TestRecordStoreError(t *testing.T) {
	before := testutil.ToFloat64(StoreErrorsTotal.WithLabelValues("write"))

	RecordStoreError("write")

	if got := testutil.ToFloat64(StoreErrorsTotal.WithLabelValues("write")); got != before+1 {
		t.Errorf("expected store_errors_total{write} = %f, got %f", before+1, got)
	}
}
