package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentKind identifies the business document a set of lines belongs to.
type DocumentKind string

// Document kinds.
const (
	DocumentPurchaseOrder   DocumentKind = "PURCHASE_ORDER"
	DocumentVendorBill      DocumentKind = "VENDOR_BILL"
	DocumentSalesOrder      DocumentKind = "SALES_ORDER"
	DocumentCustomerInvoice DocumentKind = "CUSTOMER_INVOICE"
)

// Valid reports whether k is a known document kind.
func (k DocumentKind) Valid() bool {
	switch k {
	case DocumentPurchaseOrder, DocumentVendorBill, DocumentSalesOrder, DocumentCustomerInvoice:
		return true
	}
	return false
}

// LineType returns the budget line type the document's lines are checked against.
func (k DocumentKind) LineType() LineType {
	switch k {
	case DocumentSalesOrder, DocumentCustomerInvoice:
		return LineIncome
	default:
		return LineExpense
	}
}

// Document is a committed order or bill.
type Document struct {
	Date      time.Time
	CreatedAt time.Time
	ID        string
	Kind      DocumentKind
	Number    string
	Partner   string
	Lines     []DocumentLine
}

// DocumentLine is one line of a document. AccountID is nil while the line is uncategorized.
type DocumentLine struct {
	Amount      decimal.Decimal
	AccountID   *int64
	DocumentID  string
	ProductName string
	ID          int64
	Index       int
}
