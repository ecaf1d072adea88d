// Package render produces localized notification copy for market lifecycle
// topics. English is the fallback language; Spanish is fully translated.
package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Topic identifies one notification template.
type Topic string

const (
	TopicContractCreated  Topic = "notification.contract_created"
	TopicProposalReceived Topic = "notification.proposal_received"
	TopicProposalAccepted Topic = "notification.proposal_accepted"
	TopicProposalRejected Topic = "notification.proposal_rejected"
	TopicDepositConfirmed Topic = "notification.deposit_confirmed"
	TopicWorkDelivered    Topic = "notification.work_delivered"
	TopicFundsReleased    Topic = "notification.funds_released"
	TopicFundsRefunded    Topic = "notification.funds_refunded"
	TopicContractDisputed Topic = "notification.contract_disputed"
	TopicDisputeResolved  Topic = "notification.dispute_resolved"
	TopicAccountSuspended Topic = "notification.account_suspended"
)

var messages *catalog.Builder

var matcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Spanish,
})

func init() {
	messages = catalog.NewBuilder(catalog.Fallback(language.English))
	for _, entry := range []struct {
		topic Topic
		en    string
		es    string
	}{
		{
			TopicContractCreated,
			"Your contract %q is open for proposals.",
			"Tu contrato %q está abierto a propuestas.",
		},
		{
			TopicProposalReceived,
			"New proposal of %s on your contract %q.",
			"Nueva propuesta de %s en tu contrato %q.",
		},
		{
			TopicProposalAccepted,
			"Your proposal on %q was accepted. Awaiting the client deposit of %s.",
			"Tu propuesta en %q fue aceptada. Esperando el depósito del cliente de %s.",
		},
		{
			TopicProposalRejected,
			"Your proposal on %q was not selected.",
			"Tu propuesta en %q no fue seleccionada.",
		},
		{
			TopicDepositConfirmed,
			"Deposit of %s confirmed for %q. Work can begin.",
			"Depósito de %s confirmado para %q. El trabajo puede comenzar.",
		},
		{
			TopicWorkDelivered,
			"Work was delivered on %q and awaits your review.",
			"El trabajo fue entregado en %q y espera tu revisión.",
		},
		{
			TopicFundsReleased,
			"Payment of %s released for %q.",
			"Pago de %s liberado para %q.",
		},
		{
			TopicFundsRefunded,
			"Deposit of %s refunded for %q.",
			"Depósito de %s reembolsado para %q.",
		},
		{
			TopicContractDisputed,
			"Contract %q entered dispute. An administrator will review it.",
			"El contrato %q entró en disputa. Un administrador lo revisará.",
		},
		{
			TopicDisputeResolved,
			"The dispute on %q was resolved in favor of the %s.",
			"La disputa en %q fue resuelta a favor del %s.",
		},
		{
			TopicAccountSuspended,
			"Your account was suspended: %s.",
			"Tu cuenta fue suspendida: %s.",
		},
	} {
		if err := messages.SetString(language.English, string(entry.topic), entry.en); err != nil {
			panic(err)
		}
		if err := messages.SetString(language.Spanish, string(entry.topic), entry.es); err != nil {
			panic(err)
		}
	}
}

// Notification renders the topic in the closest supported language.
func Notification(tag language.Tag, topic Topic, args ...any) string {
	matched, _, _ := matcher.Match(tag)
	printer := message.NewPrinter(matched, message.Catalog(messages))
	return printer.Sprintf(string(topic), args...)
}
