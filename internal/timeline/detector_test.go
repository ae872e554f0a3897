package timeline

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchantrisk/internal/model"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func txn(i int, ts time.Time, amount float64) model.Transaction {
	return model.Transaction{
		TransactionID: fmt.Sprintf("TXN%012d", i),
		MerchantID:    "M0000001",
		Timestamp:     ts,
		Amount:        amount,
		PaymentMethod: "UPI",
		CustomerID:    "C1",
		DeviceID:      "D1",
	}
}

func countType(events []model.TimelineEvent, et model.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.EventType == et {
			n++
		}
	}
	return n
}

func TestRoundAmountEvents(t *testing.T) {
	var txns []model.Transaction
	for i := 0; i < 10; i++ {
		txns = append(txns, txn(i, day.Add(10*time.Hour+time.Duration(i)*time.Hour), 500))
	}
	events := NewDetector(nil).Detect(txns)
	require.Len(t, events, 10)
	for i, ev := range events {
		assert.Equal(t, model.EventRoundAmount, ev.EventType)
		assert.Equal(t, model.SeverityLow, ev.Severity)
		assert.Equal(t, 500.0, ev.Details["amount"])
		assert.Equal(t, txns[i].TransactionID, ev.Details["transaction_id"])
		assert.Equal(t, "UPI", ev.Details["payment_method"])
	}
}

func TestRoundAmountSkipsMalformed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	txns := []model.Transaction{
		txn(1, day.Add(12*time.Hour), 1000),
		txn(2, day.Add(12*time.Hour), math.NaN()),
		txn(3, day.Add(12*time.Hour), 300),
	}
	txns[2].PaymentMethod = ""
	events := NewDetector(logger).Detect(txns)
	require.Len(t, events, 1)
	assert.Equal(t, "TXN000000000001", events[0].Details["transaction_id"])
	assert.Contains(t, buf.String(), "skipping malformed transaction")
}

func TestLateNightEvents(t *testing.T) {
	var txns []model.Transaction
	for i := 0; i < 18; i++ {
		txns = append(txns, txn(i, day.AddDate(0, 0, i).Add(2*time.Hour), 123.45))
	}
	txns = append(txns, txn(18, day.Add(14*time.Hour), 123.45), txn(19, day.Add(15*time.Hour), 123.45))

	events := NewDetector(nil).Detect(txns)
	assert.Equal(t, 18, countType(events, model.EventLateNight))
	for _, ev := range events {
		assert.Equal(t, model.SeverityMedium, ev.Severity)
		assert.Equal(t, 2, ev.Details["hour"])
	}
}

func TestLateNightBoundaries(t *testing.T) {
	hours := []int{5, 6, 21, 22}
	var txns []model.Transaction
	for i, h := range hours {
		txns = append(txns, txn(i, day.Add(time.Duration(h)*time.Hour), 12.5))
	}
	events := NewDetector(nil).Detect(txns)
	require.Len(t, events, 2)
	assert.Equal(t, 5, events[0].Details["hour"])
	assert.Equal(t, 22, events[1].Details["hour"])
}

func TestSpikeMediumSeverity(t *testing.T) {
	// Seven quiet hours and one hour with three transactions: z = sqrt(7).
	var txns []model.Transaction
	for i := 0; i < 7; i++ {
		txns = append(txns, txn(i, day.Add(time.Duration(8+i)*time.Hour), 12.5))
	}
	burst := day.Add(20 * time.Hour)
	for i := 0; i < 3; i++ {
		txns = append(txns, txn(10+i, burst.Add(time.Duration(10*i+5)*time.Minute), 12.5))
	}
	require.Len(t, txns, 10)

	events := NewDetector(nil).Detect(txns)
	spikes := Filter(events, []model.EventType{model.EventSuddenSpike})
	require.Len(t, spikes, 1)
	ev := spikes[0]
	assert.Equal(t, model.SeverityMedium, ev.Severity)
	assert.Equal(t, burst, ev.Timestamp)
	assert.Equal(t, "M0000001", ev.MerchantID)
	assert.Equal(t, 3, ev.Details["transaction_count"])
	assert.Equal(t, 1.25, ev.Details["normal_average"])
	assert.Equal(t, 2.65, ev.Details["z_score"])
	assert.Equal(t, 2.9, ev.Details["hourly_threshold"])
}

func TestSpikeHighSeverity(t *testing.T) {
	var txns []model.Transaction
	for i := 0; i < 10; i++ {
		txns = append(txns, txn(i, day.Add(time.Duration(i)*time.Hour), 7))
	}
	burst := day.Add(23 * time.Hour)
	for i := 0; i < 10; i++ {
		txns = append(txns, txn(20+i, burst.Add(time.Duration(i)*time.Minute), 7))
	}
	spikes := Filter(NewDetector(nil).Detect(txns), []model.EventType{model.EventSuddenSpike})
	require.Len(t, spikes, 1)
	assert.Equal(t, model.SeverityHigh, spikes[0].Severity)
	assert.Equal(t, 10, spikes[0].Details["transaction_count"])
}

func TestSpikeNeedsTenTransactions(t *testing.T) {
	var txns []model.Transaction
	for i := 0; i < 6; i++ {
		txns = append(txns, txn(i, day.Add(time.Duration(8+i)*time.Hour), 12.5))
	}
	for i := 0; i < 3; i++ {
		txns = append(txns, txn(10+i, day.Add(20*time.Hour+time.Duration(i)*time.Minute), 12.5))
	}
	require.Len(t, txns, 9)
	assert.Zero(t, countType(NewDetector(nil).Detect(txns), model.EventSuddenSpike))
}

func TestSpikeNoneWhenUniform(t *testing.T) {
	var txns []model.Transaction
	for i := 0; i < 12; i++ {
		txns = append(txns, txn(i, day.Add(time.Duration(i/2)*time.Hour), 12.5))
	}
	assert.Zero(t, countType(NewDetector(nil).Detect(txns), model.EventSuddenSpike))
}

func TestSpikeMerchantComesFromFirstRecord(t *testing.T) {
	var txns []model.Transaction
	for i := 0; i < 7; i++ {
		txns = append(txns, txn(i, day.Add(time.Duration(8+i)*time.Hour), 12.5))
	}
	for i := 0; i < 3; i++ {
		x := txn(10+i, day.Add(20*time.Hour+time.Duration(i)*time.Minute), 12.5)
		x.MerchantID = "M0000002"
		txns = append(txns, x)
	}
	spikes := Filter(NewDetector(nil).Detect(txns), []model.EventType{model.EventSuddenSpike})
	require.Len(t, spikes, 1)
	assert.Equal(t, "M0000001", spikes[0].MerchantID)
}

func TestOutputIsGroupedByScanner(t *testing.T) {
	var txns []model.Transaction
	for i := 0; i < 7; i++ {
		txns = append(txns, txn(i, day.Add(time.Duration(8+i)*time.Hour), 12.5))
	}
	for i := 0; i < 3; i++ {
		txns = append(txns, txn(10+i, day.Add(23*time.Hour+time.Duration(i)*time.Minute), 12.5))
	}
	// The earliest transaction is round; late-night events still follow it.
	txns[0].Amount = 100
	events := NewDetector(nil).Detect(txns)
	require.Len(t, events, 5)
	assert.Equal(t, model.EventRoundAmount, events[0].EventType)
	for _, ev := range events[1:4] {
		assert.Equal(t, model.EventLateNight, ev.EventType)
	}
	assert.Equal(t, model.EventSuddenSpike, events[4].EventType)
}

func TestDetectIsIdempotent(t *testing.T) {
	var txns []model.Transaction
	for i := 0; i < 12; i++ {
		txns = append(txns, txn(i, day.Add(time.Duration(i*2)*time.Hour), float64(100*(i%3)+50)))
	}
	before := append([]model.Transaction(nil), txns...)
	d := NewDetector(nil)
	assert.Equal(t, d.Detect(txns), d.Detect(txns))
	assert.Equal(t, before, txns)
	assert.Empty(t, d.Detect(nil))
}

func TestParseEventTypeAndFilter(t *testing.T) {
	et, err := ParseEventType("late_night")
	require.NoError(t, err)
	assert.Equal(t, model.EventLateNight, et)
	et, err = ParseEventType("Sudden Transaction Spike")
	require.NoError(t, err)
	assert.Equal(t, model.EventSuddenSpike, et)
	_, err = ParseEventType("chargeback")
	assert.Error(t, err)

	events := []model.TimelineEvent{{EventType: model.EventLateNight}, {EventType: model.EventRoundAmount}}
	assert.Len(t, Filter(events, nil), 2)
	assert.Len(t, Filter(events, []model.EventType{model.EventRoundAmount}), 1)
}
