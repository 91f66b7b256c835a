package onramp

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sendramp/ramp-service/internal/domain/entities"
)

// MatchClaim ranks pending transactions that could be claimed by a payment
// event that arrived without an explicit transaction id (lost-session path).
//
// A candidate matches when it is pending, its destination address equals the
// event's, its fiat amount equals the event amount exactly in minor units,
// and it was created at or before the event's payment time. Ranking prefers
// candidates not yet tied to any gateway reference, then the oldest created.
// The caller takes the first candidate whose reference is not already
// consumed by another completed transaction.
func MatchClaim(candidates []*entities.OnrampTransaction, event entities.PaymentEvent) []*entities.OnrampTransaction {
	eventAmount := decimal.New(event.AmountMinor, -2)

	var matched []*entities.OnrampTransaction
	for _, tx := range candidates {
		if tx.Status != entities.OnrampStatusPending {
			continue
		}
		if event.DestinationAddress != "" && tx.DestinationAddress != event.DestinationAddress {
			continue
		}
		if !tx.FiatAmount.Equal(eventAmount) {
			continue
		}
		if !event.PaidAt.IsZero() && tx.CreatedAt.After(event.PaidAt) {
			continue
		}
		matched = append(matched, tx)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		iUnbound := matched[i].PaymentReference == nil
		jUnbound := matched[j].PaymentReference == nil
		if iUnbound != jUnbound {
			return iUnbound
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	return matched
}
