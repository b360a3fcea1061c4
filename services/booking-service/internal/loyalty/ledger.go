// Package loyalty keeps a customer's point balance in step with their
// appointments. Balances never go below zero.
package loyalty

import (
	"context"
	"fmt"

	"github.com/groombook/groombook/services/booking-service/internal/model"
)

const (
	PointsPerBooking      = 10
	PointsPerCancellation = 10
)

// Accounts is the persistence seen by the ledger. Implementations are expected
// to be scoped to the transaction that writes the related appointment.
type Accounts interface {
	GetCustomer(ctx context.Context, id string) (model.Customer, error)
	SetLoyaltyPoints(ctx context.Context, customerID string, points int) error
}

// Credit adds points to the customer's balance and returns the new balance.
func Credit(ctx context.Context, accounts Accounts, customerID string, points int) (int, error) {
	if points < 0 {
		return 0, fmt.Errorf("credit %d points: negative amount", points)
	}
	return adjust(ctx, accounts, customerID, points)
}

// Debit removes points from the customer's balance. An insufficient balance
// clamps at zero instead of failing.
func Debit(ctx context.Context, accounts Accounts, customerID string, points int) (int, error) {
	if points < 0 {
		return 0, fmt.Errorf("debit %d points: negative amount", points)
	}
	return adjust(ctx, accounts, customerID, -points)
}

func adjust(ctx context.Context, accounts Accounts, customerID string, delta int) (int, error) {
	customer, err := accounts.GetCustomer(ctx, customerID)
	if err != nil {
		return 0, fmt.Errorf("load customer %s: %w", customerID, err)
	}
	balance := customer.LoyaltyPoints + delta
	if balance < 0 {
		balance = 0
	}
	if err := accounts.SetLoyaltyPoints(ctx, customerID, balance); err != nil {
		return 0, fmt.Errorf("store loyalty balance: %w", err)
	}
	return balance, nil
}
