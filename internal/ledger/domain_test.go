package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/balcao-erp/balcao-erp/internal/shared"
)

func TestCompetencyMonth(t *testing.T) {
	// The competency month is derived in UTC, whatever zone the instant
	// carries.
	saoPaulo := time.FixedZone("BRT", -3*60*60)
	lastOfMonth := time.Date(2025, time.March, 31, 22, 30, 0, 0, saoPaulo)
	require.Equal(t, "2025-04", CompetencyMonth(lastOfMonth))
	require.Equal(t, "2025-03", CompetencyMonth(time.Date(2025, time.March, 31, 22, 30, 0, 0, time.UTC)))
}

func TestValidMonth(t *testing.T) {
	for _, month := range []string{"2025-01", "1999-12", "2030-06"} {
		require.True(t, ValidMonth(month), month)
	}
	for _, month := range []string{"2025-13", "2025-00", "2025-1", "25-01", "2025/01", "", "2025-01-15"} {
		require.False(t, ValidMonth(month), month)
	}
}

func TestValidMethod(t *testing.T) {
	for _, m := range []PaymentMethod{MethodDinheiro, MethodDebito, MethodCredito, MethodPix} {
		require.True(t, ValidMethod(m))
	}
	require.False(t, ValidMethod("CHEQUE"))
	require.False(t, ValidMethod(""))
}

func TestMonthSummaryDerivedFigures(t *testing.T) {
	s := MonthSummary{
		Revenue:  decimal.RequireFromString("1000.00"),
		COGS:     decimal.RequireFromString("400.00"),
		Expenses: decimal.RequireFromString("150.00"),
	}
	require.True(t, s.GrossProfit().Equal(decimal.RequireFromString("600.00")))
	require.True(t, s.NetResult().Equal(decimal.RequireFromString("450.00")))
}

func TestRecordInputValidate(t *testing.T) {
	valid := RecordInput{
		Type:      MovementOperatingExpense,
		Direction: DirectionOut,
		Amount:    decimal.RequireFromString("35.00"),
	}
	require.NoError(t, valid.Validate())

	sale := valid
	sale.Type = MovementSaleRevenue
	require.Error(t, sale.Validate(), "engine-owned types cannot be posted manually")

	cogs := valid
	cogs.Type = MovementCOGS
	require.Error(t, cogs.Validate())

	badDir := valid
	badDir.Direction = "SIDEWAYS"
	require.Error(t, badDir.Validate())

	badAmount := valid
	badAmount.Amount = decimal.Zero
	require.ErrorIs(t, badAmount.Validate(), shared.ErrInvalidAmount)

	badMethod := valid
	badMethod.Method = "CHEQUE"
	require.Error(t, badMethod.Validate())

	withMethod := valid
	withMethod.Method = MethodPix
	require.NoError(t, withMethod.Validate())
}
