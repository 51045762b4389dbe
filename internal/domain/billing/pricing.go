package billing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/platform/apperr"
)

// Stored scales of money and tax rate columns.
const (
	MoneyScale = 2
	RateScale  = 4
)

// maxAmount bounds every stored amount to what NUMERIC(14,2) holds.
var maxAmount = decimal.New(1, 12)

// DefaultTaxRate applies when an invoice does not name its own rate.
var DefaultTaxRate = decimal.RequireFromString("0.07")

// DefaultUnitPrice is the flat rate for panels missing from the price list.
var DefaultUnitPrice = decimal.RequireFromString("500.00")

// PanelPrice is one entry of a price list.
type PanelPrice struct {
	Panel string
	Price decimal.Decimal
}

// PriceList prices a sample by its panel name. Entries are matched in
// order as case-insensitive substrings of the panel.
type PriceList struct {
	entries  []PanelPrice
	fallback decimal.Decimal
}

func NewPriceList(fallback decimal.Decimal, entries ...PanelPrice) *PriceList {
	return &PriceList{entries: entries, fallback: fallback}
}

// StandardPriceList is the lab's published price list.
func StandardPriceList(fallback decimal.Decimal) *PriceList {
	return NewPriceList(fallback,
		PanelPrice{"Blood Test", decimal.RequireFromString("350.00")},
		PanelPrice{"Urine Test", decimal.RequireFromString("200.00")},
		PanelPrice{"DNA Test", decimal.RequireFromString("1500.00")},
		PanelPrice{"Pathology", decimal.RequireFromString("800.00")},
		PanelPrice{"Microbiology", decimal.RequireFromString("600.00")},
		PanelPrice{"Chemistry", decimal.RequireFromString("450.00")},
	)
}

func (p *PriceList) PriceFor(panel string) decimal.Decimal {
	lower := strings.ToLower(panel)
	for _, e := range p.entries {
		if strings.Contains(lower, strings.ToLower(e.Panel)) {
			return e.Price
		}
	}
	return p.fallback
}

func (p *PriceList) Fallback() decimal.Decimal {
	return p.fallback
}

// Totals returns the tax rounded half away from zero to cents and the
// resulting net total.
func Totals(subTotal, taxRate decimal.Decimal) (taxAmount, netTotal decimal.Decimal) {
	taxAmount = subTotal.Mul(taxRate).Round(2)
	return taxAmount, subTotal.Add(taxAmount)
}

// LineTotal is quantity * unitPrice.
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// checkAmount rejects amounts the invoice tables would round or overflow.
func checkAmount(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return apperr.Validation("%s must not be negative", field)
	}
	if !d.Equal(d.Round(MoneyScale)) {
		return apperr.Validation("%s must have at most %d decimal places", field, MoneyScale)
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return apperr.Validation("%s must be below %s", field, maxAmount.String())
	}
	return nil
}
