package payout

import (
	"errors"
	"fmt"

	gw "github.com/frahmantamala/partner-payout/internal/core/datamodel/paymentgateway"
)

var ErrUnknownGatewayStatus = errors.New("unknown gateway transaction status")

// MapGatewayStatus is the single translation from gateway item status to
// ItemStatus. New gateway statuses must be added here explicitly.
func MapGatewayStatus(s gw.TransactionStatus) (ItemStatus, error) {
	switch s {
	case gw.TransactionStatusSuccess:
		return ItemStatusPaid, nil
	case gw.TransactionStatusPending,
		gw.TransactionStatusProcessing,
		gw.TransactionStatusUnclaimed,
		gw.TransactionStatusOnHold:
		return ItemStatusSubmitted, nil
	case gw.TransactionStatusReturned,
		gw.TransactionStatusRefunded,
		gw.TransactionStatusReversed:
		return ItemStatusReturned, nil
	case gw.TransactionStatusFailed,
		gw.TransactionStatusBlocked,
		gw.TransactionStatusDenied:
		return ItemStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGatewayStatus, string(s))
	}
}

// AggregateStatus derives a batch status from its items.
func AggregateStatus(statuses []ItemStatus) BatchStatus {
	if len(statuses) == 0 {
		return BatchStatusProcessing
	}
	allPaid := true
	for _, s := range statuses {
		switch s {
		case ItemStatusFailed, ItemStatusReturned:
			return BatchStatusFailed
		case ItemStatusPaid:
		default:
			allPaid = false
		}
	}
	if allPaid {
		return BatchStatusCompleted
	}
	return BatchStatusProcessing
}

// AllTerminal reports whether no item can still change.
func AllTerminal(statuses []ItemStatus) bool {
	for _, s := range statuses {
		if !s.IsTerminal() {
			return false
		}
	}
	return true
}
