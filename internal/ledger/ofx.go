package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// SourceOFX tags transactions imported from OFX/QFX files.
const SourceOFX = "ofx"

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	tagFixRegex   = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	datePrefix    = regexp.MustCompile(`^\d{2}/\d{2}\s+`)
)

var purchasePrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

// OFXParser converts OFX/QFX bank and credit card statements into candidates.
type OFXParser struct {
	logger *slog.Logger
}

// NewOFXParser creates a new OFX parser.
func NewOFXParser(logger *slog.Logger) *OFXParser {
	return &OFXParser{logger: common.ComponentLogger(logger, "ofx")}
}

// preprocess fixes common formatting issues in OFX files.
func (p *OFXParser) preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	// SGML-style files sometimes drop the closing bracket on bare tags.
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// Parse reads a statement. OFX reports debits as negative amounts; candidates
// carry purchases as positive and credits as negative, so every amount is negated.
func (p *OFXParser) Parse(ctx context.Context, reader io.Reader) ([]model.TransactionCandidate, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var candidates []model.TransactionCandidate
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			candidates = append(candidates, p.convertList(stmt.BankTranList, string(stmt.BankAcctFrom.AcctID))...)
		}
	}
	for _, msg := range resp.CreditCard {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			candidates = append(candidates, p.convertList(stmt.BankTranList, string(stmt.CCAcctFrom.AcctID))...)
		}
	}

	p.logger.Info("Parsed OFX file",
		"total_transactions", len(candidates),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return candidates, nil
}

func (p *OFXParser) convertList(list *ofxgo.TransactionList, accountID string) []model.TransactionCandidate {
	if list == nil {
		return nil
	}
	out := make([]model.TransactionCandidate, 0, len(list.Transactions))
	for _, tx := range list.Transactions {
		out = append(out, p.convert(tx, accountID))
	}
	return out
}

func (p *OFXParser) convert(tx ofxgo.Transaction, accountID string) model.TransactionCandidate {
	merchant := merchantName(tx)
	trnType := tx.TrnType.String()

	return model.TransactionCandidate{
		ID:          string(tx.FiTID),
		Date:        model.DateOf(tx.DtPosted.Time),
		Amount:      decimal.NewFromBigRat(&tx.TrnAmt.Rat, 2).Neg(),
		MerchantRaw: merchant,
		AccountID:   accountID,
		Source:      SourceOFX,
		Category:    InferCategory(merchant, trnType),
	}
}

// merchantName prefers PAYEE, then NAME, then MEMO when NAME is generic.
func merchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	upper := strings.ToUpper(name)
	for _, prefix := range purchasePrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(datePrefix.ReplaceAllString(name, ""))
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}

// Accounts lists the unique account IDs in a statement.
func (p *OFXParser) Accounts(reader io.Reader) ([]string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	seen := make(map[string]bool)
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankAcctFrom.AcctID != "" {
			seen[string(stmt.BankAcctFrom.AcctID)] = true
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.CCAcctFrom.AcctID != "" {
			seen[string(stmt.CCAcctFrom.AcctID)] = true
		}
	}

	accounts := make([]string, 0, len(seen))
	for acct := range seen {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)
	return accounts, nil
}

// ImportOFX parses a statement and saves it, returning parsed and inserted counts.
func ImportOFX(ctx context.Context, parser *OFXParser, reader io.Reader, importer Importer) (int, int, error) {
	candidates, err := parser.Parse(ctx, reader)
	if err != nil {
		return 0, 0, err
	}
	if len(candidates) == 0 {
		return 0, 0, nil
	}
	inserted, err := importer.SaveTransactions(ctx, candidates)
	if err != nil {
		return len(candidates), 0, fmt.Errorf("failed to save transactions: %w", err)
	}
	return len(candidates), inserted, nil
}
