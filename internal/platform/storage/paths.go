package storage

import (
	"fmt"
	"strings"
)

// ReceiptObjectPath returns the object key for an invoice receipt:
// receipts/orders/{orderID}/{invoiceID}.json
func ReceiptObjectPath(orderID, invoiceID string) (string, error) {
	order, err := validateSegment("orderID", orderID)
	if err != nil {
		return "", err
	}
	invoice, err := validateSegment("invoiceID", invoiceID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("receipts/orders/%s/%s.json", order, invoice), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if value == "." || value == ".." || strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid characters", name)
	}
	return value, nil
}
