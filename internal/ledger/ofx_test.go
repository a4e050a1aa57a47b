package ledger

import (
	"context"
	"strings"
	"testing"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// Sample OFX data for testing.
const sampleBankOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011501
<NAME>STARBUCKS STORE #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>-125.00
<FITID>2024012001
<NAME>Whole Foods Market
</STMTTRN>
<STMTTRN>
<TRNTYPE>CHECK
<DTPOSTED>20240125120000[0:GMT]
<TRNAMT>-500.00
<FITID>2024012501
<CHECKNUM>1234
<NAME>CHECK #1234
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

const sampleCreditCardOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>4111111111111111
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240110120000[0:GMT]
<TRNAMT>-45.99
<FITID>CC2024011001
<NAME>AMAZON.COM*RT4Y7HG2
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-15.00
<FITID>CC2024011501
<NAME>NETFLIX.COM
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-500.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

func TestOFXParser_Parse(t *testing.T) {
	tests := []struct {
		name          string
		ofxData       string
		expectedCount int
		expectedError bool
	}{
		{name: "valid bank statement", ofxData: sampleBankOFX, expectedCount: 3},
		{name: "valid credit card statement", ofxData: sampleCreditCardOFX, expectedCount: 2},
		{name: "invalid OFX data", ofxData: "not valid OFX", expectedError: true},
		{name: "empty OFX", ofxData: "", expectedError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewOFXParser(nil)
			candidates, err := parser.Parse(context.Background(), strings.NewReader(tt.ofxData))

			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, candidates, tt.expectedCount)
		})
	}
}

func TestOFXParser_BankTransactions(t *testing.T) {
	candidates, err := NewOFXParser(nil).Parse(context.Background(), strings.NewReader(sampleBankOFX))
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	starbucks := candidates[0]
	assert.Equal(t, "2024011501", starbucks.ID)
	assert.Equal(t, "STARBUCKS STORE #1234", starbucks.MerchantRaw)
	assert.True(t, starbucks.Amount.Equal(decimal.RequireFromString("25.50")), starbucks.Amount.String())
	assert.Equal(t, "1234567890", starbucks.AccountID)
	assert.Equal(t, model.NewDate(2024, 1, 15), starbucks.Date)
	assert.Equal(t, model.CategoryRestaurant, starbucks.Category)
	assert.Equal(t, SourceOFX, starbucks.Source)

	assert.Equal(t, model.CategoryRetail, candidates[1].Category)
	assert.True(t, candidates[2].Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, model.CategoryOther, candidates[2].Category)
}

func TestOFXParser_CreditCardTransactions(t *testing.T) {
	candidates, err := NewOFXParser(nil).Parse(context.Background(), strings.NewReader(sampleCreditCardOFX))
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "CC2024011001", candidates[0].ID)
	assert.True(t, candidates[0].Amount.Equal(decimal.RequireFromString("45.99")))
	assert.Equal(t, "4111111111111111", candidates[0].AccountID)
	assert.Equal(t, model.CategoryRetail, candidates[0].Category)
	assert.Equal(t, model.CategorySubscription, candidates[1].Category)
}

func TestOFXParser_CreditsBecomeNegative(t *testing.T) {
	refund := strings.Replace(sampleCreditCardOFX, "<TRNAMT>-15.00", "<TRNAMT>15.00", 1)
	candidates, err := NewOFXParser(nil).Parse(context.Background(), strings.NewReader(refund))
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.True(t, candidates[1].IsRefund())
	assert.True(t, candidates[1].Amount.Equal(decimal.NewFromInt(-15)))
}

func TestOFXParser_Accounts(t *testing.T) {
	accounts, err := NewOFXParser(nil).Accounts(strings.NewReader(sampleBankOFX))
	require.NoError(t, err)
	assert.Equal(t, []string{"1234567890"}, accounts)
}

func TestImportOFX(t *testing.T) {
	importer := &memoryImporter{}
	parsed, inserted, err := ImportOFX(context.Background(), NewOFXParser(nil), strings.NewReader(sampleBankOFX), importer)
	require.NoError(t, err)
	assert.Equal(t, 3, parsed)
	assert.Equal(t, 3, inserted)

	parsed, inserted, err = ImportOFX(context.Background(), NewOFXParser(nil), strings.NewReader(sampleBankOFX), importer)
	require.NoError(t, err)
	assert.Equal(t, 3, parsed)
	assert.Zero(t, inserted)
}

func TestMerchantName(t *testing.T) {
	tests := []struct {
		name     string
		tx       ofxgo.Transaction
		expected string
	}{
		{name: "plain", tx: ofxgo.Transaction{Name: "STARBUCKS STORE #1234"}, expected: "STARBUCKS STORE #1234"},
		{name: "pos prefix", tx: ofxgo.Transaction{Name: "POS PURCHASE WALMART"}, expected: "WALMART"},
		{name: "date prefix", tx: ofxgo.Transaction{Name: "PURCHASE AUTHORIZED ON 03/14 TARGET T-1234"}, expected: "TARGET T-1234"},
		{name: "bare date prefix", tx: ofxgo.Transaction{Name: "03/14 CHIPOTLE 0042"}, expected: "CHIPOTLE 0042"},
		{name: "generic name uses memo", tx: ofxgo.Transaction{Name: "PURCHASE", Memo: "TRADER JOE'S #552"}, expected: "TRADER JOE'S #552"},
		{name: "payee wins", tx: ofxgo.Transaction{Name: "DEBIT", Payee: &ofxgo.Payee{Name: "Corner Bakery"}}, expected: "Corner Bakery"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, merchantName(tt.tx))
		})
	}
}
