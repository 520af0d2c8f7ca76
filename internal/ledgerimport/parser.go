// Package ledgerimport feeds posted ledger activity into budgetgate, either as
// entries pushed by an external accounting system or from OFX/QFX bank statements.
package ledgerimport

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/budgetgate/internal/model"
)

var (
	severityPattern = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	openTagPattern  = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Statement is the ledger activity read from one OFX file.
type Statement struct {
	Accounts []string
	Entries  []model.LedgerEntry
}

// preprocessOFX fixes common formatting issues in bank-exported OFX files.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	// Mixed-case SEVERITY values are rejected by the parser
	content = severityPattern.ReplaceAllStringFunc(content, strings.ToUpper)

	// SGML files sometimes drop the closing bracket of a bare opening tag
	return openTagPattern.ReplaceAllString(content, "$1>")
}

// ParseOFX reads bank and credit card statements and attributes every transaction to
// one analytical account. For EXPENSE, debits become positive spend and credits become
// reversals; for INCOME, amounts keep their sign.
func ParseOFX(r io.Reader, accountID int64, lineType model.LineType) (*Statement, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	statement := &Statement{}
	add := func(acctID string, list *ofxgo.TransactionList) error {
		statement.Accounts = append(statement.Accounts, acctID)
		if list == nil {
			return nil
		}
		for _, tx := range list.Transactions {
			entry, err := convertTransaction(tx, acctID, accountID, lineType)
			if err != nil {
				return err
			}
			statement.Entries = append(statement.Entries, entry)
		}
		return nil
	}

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			if err := add(string(stmt.BankAcctFrom.AcctID), stmt.BankTranList); err != nil {
				return nil, err
			}
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			if err := add(string(stmt.CCAcctFrom.AcctID), stmt.BankTranList); err != nil {
				return nil, err
			}
		}
	}

	slog.Info("Parsed OFX file",
		"statements", len(statement.Accounts),
		"entries", len(statement.Entries))
	return statement, nil
}

func convertTransaction(tx ofxgo.Transaction, statementAccount string, accountID int64, lineType model.LineType) (model.LedgerEntry, error) {
	amount, err := decimal.NewFromString(tx.TrnAmt.FloatString(2))
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("transaction %s: invalid amount: %w", tx.FiTID, err)
	}
	if lineType == model.LineExpense {
		amount = amount.Neg()
	}

	return model.LedgerEntry{
		AccountID:   accountID,
		Type:        lineType,
		Amount:      amount,
		PostingDate: model.TruncateDay(tx.DtPosted.Time),
		Reference:   fmt.Sprintf("ofx:%s:%s", statementAccount, tx.FiTID),
	}, nil
}
