package executor

import (
	"strings"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// recoverableMarkers are exchange error fragments that a deposit or an
// approval can fix. Matching is case-insensitive.
var recoverableMarkers = []string{
	"not enough balance / allowance",
	"allowance",
	"approve",
}

// Classify decides the outcome of one submission. A result counts as success
// only when it carries no error, has a status, and names an order id or at
// least one transaction hash.
func Classify(res *domain.SubmitResult, err error) (domain.Classification, string) {
	if err != nil {
		return byMessage(err.Error())
	}
	if res == nil {
		return domain.ClassTerminal, "empty response from exchange"
	}
	if res.Error != "" {
		return byMessage(res.Error)
	}
	if res.Status == "" {
		return domain.ClassTerminal, "response has no status"
	}
	if res.OrderID == "" && len(res.TransactionHashes) == 0 {
		return domain.ClassTerminal, "response has neither order id nor transaction hashes"
	}
	return domain.ClassSuccess, res.Status
}

func byMessage(msg string) (domain.Classification, string) {
	lower := strings.ToLower(msg)
	for _, m := range recoverableMarkers {
		if strings.Contains(lower, m) {
			return domain.ClassRecoverable, msg
		}
	}
	return domain.ClassTerminal, msg
}
